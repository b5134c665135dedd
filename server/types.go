package server

import (
	"encoding/json"
	"time"

	"github.com/teranos/reqsync/broadcast"
	"github.com/teranos/reqsync/coord"
)

const (
	// ShutdownTimeout is how long Stop waits for connection goroutines
	ShutdownTimeout = 10 * time.Second

	// CloseLagged is sent when a client's event queue overflowed. The
	// client should reconnect and resynchronise from a fresh snapshot.
	CloseLagged = 4000

	// RESTEditingTTL bounds how long a marker set over REST stays up
	// without being refreshed. REST callers never disconnect, so their
	// markers cannot be cleared that way.
	RESTEditingTTL = 2 * time.Minute
)

// ServerState represents the server lifecycle state
type ServerState int

const (
	ServerStateRunning  ServerState = iota // Normal operation
	ServerStateDraining                    // Graceful shutdown in progress
	ServerStateStopped                     // Shutdown complete
)

// Request types a websocket client may send
const (
	RequestList          = "list"
	RequestGet           = "get"
	RequestCreate        = "create"
	RequestPatch         = "patch"
	RequestDelete        = "delete"
	RequestToggleWorking = "toggle_working"
	RequestSetEditing    = "set_editing"
	RequestClearEditing  = "clear_editing"
	RequestPing          = "ping"
)

// Message types the server pushes
const (
	MessageHello    = "hello"
	MessageSnapshot = "snapshot"
	MessageEvent    = "event"
	MessageResult   = "result"
	MessageError    = "error"
	MessagePong     = "pong"
)

// Request is a client message. Data holds the request-specific payload
// and is decoded according to Type.
type Request struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// HelloMessage is the first message on every connection
type HelloMessage struct {
	Type         string `json:"type"` // "hello"
	ConnectionID string `json:"connection_id"`
	Version      string `json:"version"`
	Commit       string `json:"commit"`
}

// SnapshotMessage carries the full state a client starts from
type SnapshotMessage struct {
	Type string `json:"type"` // "snapshot"
	coord.Snapshot
}

// EventMessage wraps one broadcast event
type EventMessage struct {
	Type  string          `json:"type"` // "event"
	Event broadcast.Event `json:"event"`
}

// ResultMessage answers a request
type ResultMessage struct {
	Type      string      `json:"type"` // "result"
	RequestID string      `json:"request_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

// ErrorMessage reports a failed request. Code is one of the stable codes
// from the errors package.
type ErrorMessage struct {
	Type      string `json:"type"` // "error"
	RequestID string `json:"request_id,omitempty"`
	Error     string `json:"error"`
	Code      string `json:"code"`
	Hint      string `json:"hint,omitempty"`
}

// PongMessage answers a ping
type PongMessage struct {
	Type      string `json:"type"` // "pong"
	RequestID string `json:"request_id,omitempty"`
	Time      int64  `json:"time"`
}

// DeleteResult is the payload of a successful delete
type DeleteResult struct {
	ID string `json:"id"`
}

// HealthResponse is returned by GET /health
type HealthResponse struct {
	Status    string      `json:"status"`
	State     string      `json:"state"`
	Version   string      `json:"version"`
	Commit    string      `json:"commit"`
	BuildTime string      `json:"build_time"`
	Clients   int         `json:"clients"`
	Stats     coord.Stats `json:"stats"`
}
