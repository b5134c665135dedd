package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/teranos/reqsync/errors"
)

// maxBodyBytes bounds REST request bodies
const maxBodyBytes = 64 * 1024

// ErrorResponse is the body of every failed REST call
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Hint  string `json:"hint,omitempty"`
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		return errors.Wrap(err, "failed to encode JSON")
	}
	return nil
}

// writeError writes err with the status and code its sentinel maps to
func writeError(w http.ResponseWriter, err error) {
	_ = writeJSON(w, errors.HTTPStatus(err), errorResponse(err))
}

func errorResponse(err error) ErrorResponse {
	return ErrorResponse{Error: err.Error(), Code: errors.Code(err), Hint: errors.Hint(err)}
}

// readJSON decodes and validates a JSON request body into v, writing an
// InvalidRequest response on failure.
func readJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, errors.Mark(errors.Wrap(err, "read request body"), errors.ErrInvalidRequest))
		return false
	}
	if err := decodeRequest(body, v); err != nil {
		writeError(w, err)
		return false
	}
	return true
}
