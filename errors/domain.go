package errors

import "net/http"

// Requisition coordination failures. Every error returned by the
// coordinator wraps exactly one of these.
var (
	// ErrInvalidID: the identifier is empty after whitespace is stripped
	ErrInvalidID = New("invalid requisition id")

	// ErrDuplicateID: a requisition with the normalized id already exists
	ErrDuplicateID = New("duplicate requisition id")

	// ErrNotFound: no requisition with that id
	ErrNotFound = New("requisition not found")

	// ErrLocked: status or slots are frozen while recruiters are assigned
	ErrLocked = New("field locked by active assignment")

	// ErrNotWorkable: the requisition is not Open or has no slots
	ErrNotWorkable = New("requisition not workable")

	// ErrCapacityExceeded: the requisition already has two recruiters
	ErrCapacityExceeded = New("requisition at recruiter capacity")

	// ErrPersistence: the durable store failed or timed out
	ErrPersistence = New("persistence failure")

	// ErrLagged: a subscriber fell too far behind and was dropped
	ErrLagged = New("subscriber lagged")
)

// Wire codes. These are stable and shown to clients.
const (
	CodeInvalidID          = "InvalidId"
	CodeDuplicateID        = "DuplicateId"
	CodeNotFound           = "NotFound"
	CodeLocked             = "Locked"
	CodeNotWorkable        = "NotWorkable"
	CodeCapacityExceeded   = "CapacityExceeded"
	CodePersistenceFailure = "PersistenceFailure"
	CodeInvalidRequest     = "InvalidRequest"
	CodeRateLimited        = "RateLimited"
	CodeUnavailable        = "Unavailable"
	CodeInternal           = "Internal"
)

var codeTable = []struct {
	sentinel error
	code     string
	status   int
}{
	{ErrInvalidID, CodeInvalidID, http.StatusBadRequest},
	{ErrDuplicateID, CodeDuplicateID, http.StatusConflict},
	{ErrNotFound, CodeNotFound, http.StatusNotFound},
	{ErrLocked, CodeLocked, http.StatusConflict},
	{ErrNotWorkable, CodeNotWorkable, http.StatusUnprocessableEntity},
	{ErrCapacityExceeded, CodeCapacityExceeded, http.StatusConflict},
	{ErrPersistence, CodePersistenceFailure, http.StatusServiceUnavailable},
	{ErrInvalidRequest, CodeInvalidRequest, http.StatusBadRequest},
	{ErrRateLimited, CodeRateLimited, http.StatusTooManyRequests},
	{ErrUnavailable, CodeUnavailable, http.StatusServiceUnavailable},
}

// Code returns the wire code for err, or CodeInternal when err wraps none
// of the known sentinels. Code(nil) is "".
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, entry := range codeTable {
		if Is(err, entry.sentinel) {
			return entry.code
		}
	}
	return CodeInternal
}

// HTTPStatus maps err to the status code used by the REST surface.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	for _, entry := range codeTable {
		if Is(err, entry.sentinel) {
			return entry.status
		}
	}
	return http.StatusInternalServerError
}

// FromCode rebuilds a sentinel-wrapped error from a wire code and message,
// so API clients can use errors.Is on failures returned by a server.
func FromCode(code, message string) error {
	for _, entry := range codeTable {
		if entry.code == code {
			return Wrap(entry.sentinel, message)
		}
	}
	return Newf("%s: %s", code, message)
}

// Hint returns the first user-facing hint attached to err, if any.
func Hint(err error) string {
	if hints := GetAllHints(err); len(hints) > 0 {
		return hints[0]
	}
	return ""
}
