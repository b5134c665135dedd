package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/reqsync/am"
	"github.com/teranos/reqsync/coord"
	"github.com/teranos/reqsync/errors"
	"github.com/teranos/reqsync/requisition"
)

func (h *harness) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, h.ts.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func decodeError(t *testing.T, body []byte) ErrorResponse {
	t.Helper()
	var e ErrorResponse
	require.NoError(t, json.Unmarshal(body, &e), string(body))
	return e
}

func TestREST_RequisitionLifecycle(t *testing.T) {
	h := newHarness(t, am.ServerConfig{})

	resp, body := h.do(t, http.MethodPost, "/api/requisitions", `{"id":"REQ 7","title":" Backend ","client":"Acme","slots":2}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	var rec requisition.Record
	require.NoError(t, json.Unmarshal(body, &rec))
	assert.Equal(t, "REQ7", rec.ID)
	assert.Equal(t, "Backend", rec.Title)
	assert.Equal(t, uint64(1), rec.Version)

	resp, body = h.do(t, http.MethodPost, "/api/requisitions", `{"id":"REQ7","title":"Again"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, errors.CodeDuplicateID, decodeError(t, body).Code)

	resp, body = h.do(t, http.MethodGet, "/api/requisitions/REQ7", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = h.do(t, http.MethodPost, "/api/requisitions/REQ7/working", `{"recruiter":"Dana"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var toggled coord.ToggleResult
	require.NoError(t, json.Unmarshal(body, &toggled))
	assert.True(t, toggled.Working)

	resp, body = h.do(t, http.MethodPatch, "/api/requisitions/REQ7", `{"status":"on_hold"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	e := decodeError(t, body)
	assert.Equal(t, errors.CodeLocked, e.Code)
	assert.NotEmpty(t, e.Hint)

	resp, body = h.do(t, http.MethodPatch, "/api/requisitions/REQ7", `{"title":"Platform"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	require.NoError(t, json.Unmarshal(body, &rec))
	assert.Equal(t, "Platform", rec.Title)
	assert.Equal(t, []string{"Dana"}, rec.AssignedRecruiters)

	resp, body = h.do(t, http.MethodGet, "/api/requisitions", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []*requisition.Record
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Len(t, list, 1)

	resp, body = h.do(t, http.MethodDelete, "/api/requisitions/REQ7", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, body = h.do(t, http.MethodGet, "/api/requisitions/REQ7", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, errors.CodeNotFound, decodeError(t, body).Code)
}

func TestREST_RejectsMalformedInput(t *testing.T) {
	h := newHarness(t, am.ServerConfig{})

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		code   string
	}{
		{"broken json", http.MethodPost, "/api/requisitions", `{"id":`, http.StatusBadRequest, errors.CodeInvalidRequest},
		{"negative slots", http.MethodPost, "/api/requisitions", `{"id":"A","slots":-1}`, http.StatusBadRequest, errors.CodeInvalidRequest},
		{"unknown status", http.MethodPost, "/api/requisitions", `{"id":"A","status":"Sleeping"}`, http.StatusBadRequest, errors.CodeInvalidRequest},
		{"blank id", http.MethodPost, "/api/requisitions", `{"id":"  "}`, http.StatusBadRequest, errors.CodeInvalidID},
		{"empty patch", http.MethodPatch, "/api/requisitions/A", `{}`, http.StatusBadRequest, errors.CodeInvalidRequest},
		{"missing recruiter", http.MethodPost, "/api/requisitions/A/working", `{}`, http.StatusBadRequest, errors.CodeInvalidRequest},
		{"missing field", http.MethodPut, "/api/requisitions/A/editing", `{"recruiter":"Dana"}`, http.StatusBadRequest, errors.CodeInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := h.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode, string(body))
			assert.Equal(t, tt.code, decodeError(t, body).Code)
		})
	}
}

func TestREST_NotWorkableAndCapacity(t *testing.T) {
	h := newHarness(t, am.ServerConfig{})
	h.create(t, "ZERO", 0)
	h.create(t, "FULL", 3)

	resp, body := h.do(t, http.MethodPost, "/api/requisitions/ZERO/working", `{"recruiter":"Dana"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, errors.CodeNotWorkable, decodeError(t, body).Code)

	for _, name := range []string{"Ann", "Bob"} {
		resp, body = h.do(t, http.MethodPost, "/api/requisitions/FULL/working", `{"recruiter":"`+name+`"}`)
		require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	}
	resp, body = h.do(t, http.MethodPost, "/api/requisitions/FULL/working", `{"recruiter":"Cy"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, errors.CodeCapacityExceeded, decodeError(t, body).Code)
}

func TestREST_EditingMarkers(t *testing.T) {
	h := newHarness(t, am.ServerConfig{})
	h.create(t, "REQ-1", 1)

	resp, body := h.do(t, http.MethodPut, "/api/requisitions/REQ-1/editing", `{"field":"title","recruiter":"Dana"}`)
	require.Equal(t, http.StatusNoContent, resp.StatusCode, string(body))
	assert.Equal(t, 1, h.coord.Stats().Presence)

	resp, _ = h.do(t, http.MethodDelete, "/api/requisitions/REQ-1/editing", "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, 0, h.coord.Stats().Presence)

	// markers on unknown records are ignored
	resp, _ = h.do(t, http.MethodPut, "/api/requisitions/GHOST/editing", `{"field":"title","recruiter":"Dana"}`)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, 0, h.coord.Stats().Presence)
}

func TestREST_SaveClearsEditingMarker(t *testing.T) {
	h := newHarness(t, am.ServerConfig{})
	h.create(t, "REQ-1", 1)

	resp, body := h.do(t, http.MethodPut, "/api/requisitions/REQ-1/editing", `{"field":"title","recruiter":"Dana"}`)
	require.Equal(t, http.StatusNoContent, resp.StatusCode, string(body))
	require.Equal(t, 1, h.coord.Stats().Presence)

	resp, body = h.do(t, http.MethodPatch, "/api/requisitions/REQ-1", `{"title":"Platform Engineer"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, 0, h.coord.Stats().Presence)

	// abandoned markers age out
	resp, _ = h.do(t, http.MethodPut, "/api/requisitions/REQ-1/editing", `{"field":"client","recruiter":"Dana"}`)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, 1, h.coord.ExpireEditing(restConnectionPrefix, time.Now().Add(RESTEditingTTL)))
	assert.Equal(t, 0, h.coord.Stats().Presence)
}

func TestREST_RateLimitedPerHost(t *testing.T) {
	h := newHarness(t, am.ServerConfig{MessagesPerSecond: 0.001, Burst: 2})

	for i := 0; i < 2; i++ {
		resp, _ := h.do(t, http.MethodGet, "/api/requisitions", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp, body := h.do(t, http.MethodGet, "/api/requisitions", "")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, errors.CodeRateLimited, decodeError(t, body).Code)

	// health and metrics are not rate limited
	resp, _ = h.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	h := newHarness(t, am.ServerConfig{})
	h.create(t, "REQ-1", 1)

	resp, body := h.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var health HealthResponse
	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "running", health.State)
	assert.Equal(t, 1, health.Stats.Records)

	resp, body = h.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "reqsync_mutations_total")
}

func TestCORS(t *testing.T) {
	h := newHarness(t, am.ServerConfig{AllowedOrigins: []string{"https://ats.example.com"}})

	req, err := http.NewRequest(http.MethodOptions, h.ts.URL+"/api/requisitions", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://ats.example.com")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "https://ats.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "PATCH")

	req.Header.Set("Origin", "https://evil.example.com")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}
