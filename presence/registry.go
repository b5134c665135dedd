// Package presence tracks which recruiter is editing which requisition.
//
// Markers are advisory. A new marker for a record replaces the previous one
// even when it names a different field; nothing here prevents two
// recruiters from editing the same field. Markers live only in memory and
// are owned by the connection that set them.
package presence

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Marker is the editing indicator for one record
type Marker struct {
	RecordID   string    `json:"record_id"`
	Field      string    `json:"field"`
	Recruiter  string    `json:"recruiter"`
	Connection string    `json:"-"`
	Since      time.Time `json:"since"`
}

// Registry holds at most one marker per record
type Registry struct {
	mu      sync.Mutex
	markers map[string]Marker          // record id -> marker
	byConn  map[string]map[string]bool // connection -> record ids it owns
	now     func() time.Time
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		markers: make(map[string]Marker),
		byConn:  make(map[string]map[string]bool),
		now:     time.Now,
	}
}

// Set places a marker, replacing any marker on the same record. It reports
// whether the visible state changed (same recruiter re-focusing the same
// field from the same connection is not a change, but refreshes Since).
func (r *Registry) Set(conn, recordID, field, recruiter string) (Marker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.markers[recordID]; ok {
		if prev.Field == field && prev.Recruiter == recruiter && prev.Connection == conn {
			prev.Since = r.now()
			r.markers[recordID] = prev
			return prev, false
		}
		r.release(prev)
	}

	m := Marker{
		RecordID:   recordID,
		Field:      field,
		Recruiter:  recruiter,
		Connection: conn,
		Since:      r.now(),
	}
	r.markers[recordID] = m
	owned := r.byConn[conn]
	if owned == nil {
		owned = make(map[string]bool)
		r.byConn[conn] = owned
	}
	owned[recordID] = true
	return m, true
}

// Clear removes the marker on recordID, whoever owns it. It reports whether
// a marker was present.
func (r *Registry) Clear(recordID string) (Marker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.markers[recordID]
	if !ok {
		return Marker{}, false
	}
	delete(r.markers, recordID)
	r.release(m)
	return m, true
}

// ClearOwned removes the marker on recordID only if conn owns it
func (r *Registry) ClearOwned(conn, recordID string) (Marker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.markers[recordID]
	if !ok || m.Connection != conn {
		return Marker{}, false
	}
	delete(r.markers, recordID)
	r.release(m)
	return m, true
}

// Expire removes markers set before cutoff by connections whose id starts
// with prefix, and returns them sorted by record id.
func (r *Registry) Expire(prefix string, cutoff time.Time) []Marker {
	r.mu.Lock()
	defer r.mu.Unlock()

	var expired []Marker
	for recordID, m := range r.markers {
		if strings.HasPrefix(m.Connection, prefix) && m.Since.Before(cutoff) {
			delete(r.markers, recordID)
			r.release(m)
			expired = append(expired, m)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].RecordID < expired[j].RecordID })
	return expired
}

// ClearAllFor removes every marker owned by conn and returns them sorted
// by record id.
func (r *Registry) ClearAllFor(conn string) []Marker {
	r.mu.Lock()
	defer r.mu.Unlock()

	owned := r.byConn[conn]
	delete(r.byConn, conn)

	cleared := make([]Marker, 0, len(owned))
	for recordID := range owned {
		if m, ok := r.markers[recordID]; ok && m.Connection == conn {
			delete(r.markers, recordID)
			cleared = append(cleared, m)
		}
	}
	sort.Slice(cleared, func(i, j int) bool { return cleared[i].RecordID < cleared[j].RecordID })
	return cleared
}

// Get returns the marker on recordID, if any
func (r *Registry) Get(recordID string) (Marker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.markers[recordID]
	return m, ok
}

// Snapshot returns every marker sorted by record id
func (r *Registry) Snapshot() []Marker {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Marker, 0, len(r.markers))
	for _, m := range r.markers {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecordID < out[j].RecordID })
	return out
}

// Len returns the number of markers
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.markers)
}

// release drops m from its owner's index. Caller holds mu.
func (r *Registry) release(m Marker) {
	owned := r.byConn[m.Connection]
	if owned == nil {
		return
	}
	delete(owned, m.RecordID)
	if len(owned) == 0 {
		delete(r.byConn, m.Connection)
	}
}
