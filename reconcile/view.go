// Package reconcile keeps a client's local copy of the requisition list in
// step with the server's broadcast stream.
//
// Server records always win. An incoming record replaces the local one when
// its version is newer and discards any optimistic edit pending for it.
// Duplicates and stale records (same or older version) are ignored, which
// makes at-least-once delivery safe.
package reconcile

import (
	"encoding/json"
	"sort"
	"sync"

	jsonpatch "github.com/evanphx/json-patch/v5"

	"github.com/teranos/reqsync/broadcast"
	"github.com/teranos/reqsync/errors"
	"github.com/teranos/reqsync/presence"
	"github.com/teranos/reqsync/requisition"
)

// View is one client's reconciled state. Safe for concurrent use.
type View struct {
	mu       sync.RWMutex
	records  map[string]*requisition.Record
	presence map[string]presence.Marker
	pending  map[string][]byte // JSON merge patch of unconfirmed local edits
	seen     map[string]uint64 // id -> seq of the last record event applied, deletes included
	baseSeq  uint64            // events at or below this are already in the snapshot
	lastSeq  uint64
}

// NewView creates an empty view
func NewView() *View {
	return &View{
		records:  make(map[string]*requisition.Record),
		presence: make(map[string]presence.Marker),
		pending:  make(map[string][]byte),
		seen:     make(map[string]uint64),
	}
}

// Resync replaces the whole view with a server snapshot taken at seq.
// Pending edits are dropped.
func (v *View) Resync(seq uint64, records []*requisition.Record, markers []presence.Marker) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.records = make(map[string]*requisition.Record, len(records))
	for _, rec := range records {
		v.records[rec.ID] = rec.Clone()
	}
	v.presence = make(map[string]presence.Marker, len(markers))
	for _, m := range markers {
		v.presence[m.RecordID] = m
	}
	v.pending = make(map[string][]byte)
	v.seen = make(map[string]uint64)
	v.baseSeq = seq
	v.lastSeq = seq
}

// Apply merges one event and reports whether the view changed
func (v *View) Apply(ev broadcast.Event) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if ev.Seq != 0 && ev.Seq <= v.baseSeq {
		return false
	}
	if ev.Seq > v.lastSeq {
		v.lastSeq = ev.Seq
	}

	switch ev.Type {
	case broadcast.EventRecordCreated, broadcast.EventRecordPatched:
		return v.upsert(ev)
	case broadcast.EventRecordDeleted:
		_, existed := v.records[ev.ID]
		delete(v.records, ev.ID)
		delete(v.pending, ev.ID)
		delete(v.presence, ev.ID)
		if ev.Seq > v.seen[ev.ID] {
			v.seen[ev.ID] = ev.Seq
		}
		return existed
	case broadcast.EventPresenceChanged:
		return v.applyPresence(ev)
	default:
		return false
	}
}

func (v *View) upsert(ev broadcast.Event) bool {
	if ev.Record == nil {
		return false
	}
	// Versions restart when an id is re-created, so an older seq is stale
	// even when its version is higher.
	if ev.Seq != 0 && ev.Seq < v.seen[ev.ID] {
		return false
	}
	if cur, ok := v.records[ev.ID]; ok && ev.Record.Version <= cur.Version {
		return false
	}
	v.records[ev.ID] = ev.Record.Clone()
	delete(v.pending, ev.ID)
	if ev.Seq > v.seen[ev.ID] {
		v.seen[ev.ID] = ev.Seq
	}
	return true
}

func (v *View) applyPresence(ev broadcast.Event) bool {
	p := ev.Presence
	if p == nil {
		return false
	}
	if p.Cleared() {
		_, had := v.presence[p.RecordID]
		delete(v.presence, p.RecordID)
		return had
	}
	if _, ok := v.records[p.RecordID]; !ok {
		return false
	}
	m := presence.Marker{RecordID: p.RecordID, Recruiter: *p.Recruiter, Since: ev.At}
	if p.Field != nil {
		m.Field = *p.Field
	}
	v.presence[p.RecordID] = m
	return true
}

// LocalEdit records an optimistic edit that has been sent but not yet
// confirmed. It is shown on top of the server record until a newer server
// version of that record arrives.
func (v *View) LocalEdit(id string, patch requisition.Patch) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, ok := v.records[id]; !ok {
		return errors.Wrapf(errors.ErrNotFound, "requisition %s", id)
	}
	doc, err := json.Marshal(patch)
	if err != nil {
		return errors.Wrap(err, "encode local edit")
	}
	if prev, ok := v.pending[id]; ok {
		doc, err = jsonpatch.MergeMergePatches(prev, doc)
		if err != nil {
			return errors.Wrap(err, "merge local edits")
		}
	}
	v.pending[id] = doc
	return nil
}

// Pending reports whether id has unconfirmed local edits
func (v *View) Pending(id string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.pending[id]
	return ok
}

// Record returns id as the user sees it, pending edits applied
func (v *View) Record(id string) (*requisition.Record, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	rec, ok := v.records[id]
	if !ok {
		return nil, false
	}
	return v.overlay(rec), true
}

// Records returns every record sorted by id, pending edits applied
func (v *View) Records() []*requisition.Record {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]*requisition.Record, 0, len(v.records))
	for _, rec := range v.records {
		out = append(out, v.overlay(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Presence returns the marker on id, if any
func (v *View) Presence(id string) (presence.Marker, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	m, ok := v.presence[id]
	return m, ok
}

// LastSeq is the highest event sequence number seen
func (v *View) LastSeq() uint64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.lastSeq
}

// overlay returns a copy of rec with its pending patch merged in. A patch
// that cannot be applied is ignored; the server copy is shown instead.
// Caller holds mu.
func (v *View) overlay(rec *requisition.Record) *requisition.Record {
	patch, ok := v.pending[rec.ID]
	if !ok {
		return rec.Clone()
	}
	doc, err := json.Marshal(rec)
	if err != nil {
		return rec.Clone()
	}
	merged, err := jsonpatch.MergePatch(doc, patch)
	if err != nil {
		return rec.Clone()
	}
	var out requisition.Record
	if err := json.Unmarshal(merged, &out); err != nil {
		return rec.Clone()
	}
	return out.Clone()
}
