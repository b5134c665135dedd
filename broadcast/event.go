package broadcast

import (
	"time"

	"github.com/teranos/reqsync/requisition"
)

// EventType names one of the four broadcast events
type EventType string

const (
	EventRecordCreated   EventType = "record_created"
	EventRecordPatched   EventType = "record_patched"
	EventRecordDeleted   EventType = "record_deleted"
	EventPresenceChanged EventType = "presence_changed"
)

// Presence is the payload of a presence_changed event. Recruiter and Field
// are null when the marker was cleared.
type Presence struct {
	RecordID  string  `json:"record_id"`
	Recruiter *string `json:"recruiter"`
	Field     *string `json:"field"`
}

// Cleared reports whether the event removes the marker
func (p Presence) Cleared() bool {
	return p.Recruiter == nil
}

// Event is the envelope delivered to subscribers. Record events carry the
// full resulting record, never a diff.
type Event struct {
	Seq      uint64              `json:"seq"`
	Type     EventType           `json:"type"`
	ID       string              `json:"id"`
	Record   *requisition.Record `json:"record,omitempty"`
	Presence *Presence           `json:"presence,omitempty"`
	Origin   string              `json:"origin,omitempty"`
	At       time.Time           `json:"at"`
}

// RecordCreated builds a record_created event
func RecordCreated(rec *requisition.Record, origin string) Event {
	return Event{Type: EventRecordCreated, ID: rec.ID, Record: rec, Origin: origin}
}

// RecordPatched builds a record_patched event
func RecordPatched(rec *requisition.Record, origin string) Event {
	return Event{Type: EventRecordPatched, ID: rec.ID, Record: rec, Origin: origin}
}

// RecordDeleted builds a record_deleted event
func RecordDeleted(id, origin string) Event {
	return Event{Type: EventRecordDeleted, ID: id, Origin: origin}
}

// PresenceSet builds a presence_changed event for a new marker
func PresenceSet(recordID, recruiter, field, origin string) Event {
	return Event{
		Type:     EventPresenceChanged,
		ID:       recordID,
		Presence: &Presence{RecordID: recordID, Recruiter: &recruiter, Field: &field},
		Origin:   origin,
	}
}

// PresenceCleared builds a presence_changed event removing a marker
func PresenceCleared(recordID, origin string) Event {
	return Event{
		Type:     EventPresenceChanged,
		ID:       recordID,
		Presence: &Presence{RecordID: recordID},
		Origin:   origin,
	}
}
