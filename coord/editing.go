package coord

import (
	"strings"
	"time"

	"github.com/teranos/reqsync/broadcast"
	"github.com/teranos/reqsync/errors"
	"github.com/teranos/reqsync/logger"
	"github.com/teranos/reqsync/requisition"
)

// SetEditing marks recruiter as editing field of id on behalf of
// connection conn, replacing any marker on that record. Markers on unknown
// records are ignored. Only malformed input is an error; presence never
// fails for reasons of state.
func (c *Coordinator) SetEditing(conn, id, field, recruiter string) error {
	id, err := requisition.NormalizeID(id)
	if err != nil {
		return err
	}
	recruiter, err = requisition.NormalizeRecruiter(recruiter)
	if err != nil {
		return err
	}
	field = strings.TrimSpace(field)
	if field == "" {
		return errors.NewInvalidRequestError("field is required")
	}

	if _, ok := c.cache.get(id); !ok {
		c.log.Debugw("Ignoring presence for unknown requisition",
			logger.FieldRecordID, id,
			logger.FieldConnectionID, conn,
		)
		return nil
	}

	if _, changed := c.presence.Set(conn, id, field, recruiter); !changed {
		return nil
	}

	// A delete that ran between the lookup above and Set has already
	// cleared presence for id; drop the marker instead of leaking it.
	if _, ok := c.cache.get(id); !ok {
		c.presence.Clear(id)
		return nil
	}

	c.bus.Publish(broadcast.PresenceSet(id, recruiter, field, conn))
	return nil
}

// ClearEditing removes the marker on id, whoever set it
func (c *Coordinator) ClearEditing(conn, id string) error {
	id, err := requisition.NormalizeID(id)
	if err != nil {
		return err
	}
	if _, ok := c.presence.Clear(id); ok {
		c.bus.Publish(broadcast.PresenceCleared(id, conn))
	}
	return nil
}

// clearSaved drops the marker conn holds on id once conn has saved it
func (c *Coordinator) clearSaved(conn, id string) {
	if conn == "" {
		return
	}
	if _, ok := c.presence.ClearOwned(conn, id); ok {
		c.bus.Publish(broadcast.PresenceCleared(id, conn))
	}
}

// ExpireEditing clears markers older than cutoff whose owning connection id
// starts with prefix. Used for owners that never disconnect, such as REST
// callers. It returns the number of markers cleared.
func (c *Coordinator) ExpireEditing(prefix string, cutoff time.Time) int {
	expired := c.presence.Expire(prefix, cutoff)
	for _, m := range expired {
		c.bus.Publish(broadcast.PresenceCleared(m.RecordID, m.Connection))
	}
	if len(expired) > 0 {
		c.log.Debugw("Expired editing markers",
			"prefix", prefix,
			logger.FieldCount, len(expired),
		)
	}
	return len(expired)
}

// Disconnect clears every marker conn owns and broadcasts each clearing
func (c *Coordinator) Disconnect(conn string) {
	cleared := c.presence.ClearAllFor(conn)
	for _, m := range cleared {
		c.bus.Publish(broadcast.PresenceCleared(m.RecordID, conn))
	}
	if len(cleared) > 0 {
		c.log.Debugw("Cleared presence of disconnected client",
			logger.FieldConnectionID, conn,
			logger.FieldCount, len(cleared),
		)
	}
}
