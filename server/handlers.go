package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/teranos/reqsync/errors"
	"github.com/teranos/reqsync/logger"
	"github.com/teranos/reqsync/requisition"
	"github.com/teranos/reqsync/version"
)

// HandleHealth reports lifecycle state and coordinator counts
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	versionInfo := version.Get()
	state := s.getState()

	health := HealthResponse{
		Status:    "ok",
		State:     stateString(state),
		Version:   versionInfo.Version,
		Commit:    versionInfo.CommitHash,
		BuildTime: versionInfo.BuildTime,
		Clients:   s.ClientCount(),
		Stats:     s.coord.Stats(),
	}
	status := http.StatusOK
	if state != ServerStateRunning {
		health.Status = "unavailable"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

// HandleWebSocket upgrades the connection, sends hello and a snapshot,
// then streams events until either side hangs up.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.getState() != ServerStateRunning {
		writeError(w, errors.Wrap(errors.ErrUnavailable, "server is shutting down"))
		return
	}

	upgrader := s.upgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		s.logger.Warnw("WebSocket upgrade failed",
			logger.FieldRemoteAddr, r.RemoteAddr,
			logger.FieldError, err.Error(),
		)
		return
	}

	client := newClient(s, conn, uuid.NewString(), remoteHost(r))
	// Subscribe before the snapshot so nothing committed in between is lost
	client.sub = s.coord.Subscribe(client.id)

	select {
	case s.register <- client:
	case <-s.ctx.Done():
		client.admitted <- errors.ErrUnavailable
	}
	if err := <-client.admitted; err != nil {
		client.sub.Close()
		code, text := websocket.ClosePolicyViolation, "too many clients"
		if s.getState() != ServerStateRunning {
			code, text = websocket.CloseGoingAway, "server shutting down"
		}
		client.closeWith(code, text)
		conn.Close()
		return
	}

	// Send hello and snapshot BEFORE starting writePump (avoid concurrent writes)
	versionInfo := version.Get()
	snapshot := s.coord.Snapshot()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(HelloMessage{
		Type:         MessageHello,
		ConnectionID: client.id,
		Version:      versionInfo.Version,
		Commit:       versionInfo.Short(),
	}); err == nil {
		err = conn.WriteJSON(SnapshotMessage{Type: MessageSnapshot, Snapshot: snapshot})
	}
	if err != nil {
		s.logger.Debugw("Failed to send initial state",
			logger.FieldConnectionID, client.id,
			logger.FieldError, err.Error(),
		)
		s.unregisterClient(client)
		conn.Close()
		return
	}

	s.logger.Debugw("Sent snapshot",
		logger.FieldConnectionID, client.id,
		logger.FieldSeq, snapshot.Seq,
		logger.FieldCount, len(snapshot.Records),
	)

	// Start goroutines for reading, writing and event forwarding
	s.wg.Add(3)
	go func() {
		defer s.wg.Done()
		client.readPump()
	}()
	go func() {
		defer s.wg.Done()
		client.writePump()
	}()
	go func() {
		defer s.wg.Done()
		client.forwardEvents()
	}()
}

// HandleList returns every requisition
func (s *Server) HandleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.coord.List())
}

// HandleGet returns one requisition
func (s *Server) HandleGet(w http.ResponseWriter, r *http.Request) {
	rec, err := s.coord.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// HandleCreate creates a requisition
func (s *Server) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var body CreateRequest
	if !readJSON(w, r, &body) {
		return
	}
	rec, err := s.coord.Create(r.Context(), body.ID, body.Fields(), "")
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// HandlePatch applies a sparse field update. The body is the patch itself.
func (s *Server) HandlePatch(w http.ResponseWriter, r *http.Request) {
	var patch requisition.Patch
	if !readJSON(w, r, &patch) {
		return
	}
	rec, err := s.coord.Patch(r.Context(), r.PathValue("id"), patch, restConnection(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// HandleDelete removes a requisition
func (s *Server) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := s.coord.Delete(r.Context(), r.PathValue("id"), "")
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, DeleteResult{ID: id})
}

// HandleToggleWorking starts or stops a recruiter working a requisition
func (s *Server) HandleToggleWorking(w http.ResponseWriter, r *http.Request) {
	var body ToggleRequest
	if !readJSON(w, r, &body) {
		return
	}
	res, err := s.coord.ToggleWorking(r.Context(), body.Recruiter, r.PathValue("id"), "")
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleSetEditing sets a presence marker. REST callers own their markers
// under a per-host connection id.
func (s *Server) HandleSetEditing(w http.ResponseWriter, r *http.Request) {
	var body EditingRequest
	if !readJSON(w, r, &body) {
		return
	}
	if err := s.coord.SetEditing(restConnection(r), r.PathValue("id"), body.Field, body.Recruiter); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleClearEditing removes the presence marker on a requisition
func (s *Server) HandleClearEditing(w http.ResponseWriter, r *http.Request) {
	if err := s.coord.ClearEditing(restConnection(r), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

const restConnectionPrefix = "http:"

func restConnection(r *http.Request) string {
	return restConnectionPrefix + remoteHost(r)
}
