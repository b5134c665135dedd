package coord

import (
	"context"

	"github.com/teranos/reqsync/broadcast"
	"github.com/teranos/reqsync/errors"
	"github.com/teranos/reqsync/logger"
	"github.com/teranos/reqsync/requisition"
	"github.com/teranos/reqsync/requisition/storage"
)

// ToggleResult is the outcome of ToggleWorking. Released is set when the
// recruiter was moved off another record.
type ToggleResult struct {
	Record   *requisition.Record `json:"record"`
	Released *requisition.Record `json:"released,omitempty"`
	Working  bool                `json:"working"`
}

// ToggleWorking starts or stops recruiter working id.
//
// A recruiter already working another record is moved: the release and the
// assignment are written in one transaction, so storage never shows the
// recruiter on two records or, durably, on none. If the target cannot take
// the recruiter, nothing changes and the recruiter stays where they were.
func (c *Coordinator) ToggleWorking(ctx context.Context, recruiter, id, origin string) (res ToggleResult, err error) {
	operation := opToggle
	defer func() { observeMutation(operation, err) }()

	recruiter, err = requisition.NormalizeRecruiter(recruiter)
	if err != nil {
		return ToggleResult{}, err
	}
	id, err = requisition.NormalizeID(id)
	if err != nil {
		return ToggleResult{}, err
	}

	// The recruiter lock serializes this recruiter's toggles, which keeps
	// the index entry stable except for a delete of the record it names.
	unlockRecruiter := c.recruiterLocks.Lock(recruiter)
	defer unlockRecruiter()

	for {
		source := c.index.get(recruiter)
		keys := []string{id}
		if source != "" {
			keys = append(keys, source)
		}
		unlockRecords := c.recordLocks.Lock(keys...)
		if c.index.get(recruiter) != source {
			// the source record was deleted while we waited
			unlockRecords()
			continue
		}

		if source != "" && source != id {
			operation = opMove
		}
		res, err = c.toggleLocked(ctx, recruiter, id, source, origin)
		unlockRecords()
		return res, err
	}
}

// toggleLocked runs with the recruiter's lock and the locks of id and
// source held.
func (c *Coordinator) toggleLocked(ctx context.Context, recruiter, id, source, origin string) (ToggleResult, error) {
	cur, ok := c.cache.get(id)
	if !ok {
		return ToggleResult{}, errors.Wrapf(errors.ErrNotFound, "requisition %s", id)
	}

	if cur.IsAssigned(recruiter) {
		return c.release(ctx, recruiter, cur, origin)
	}

	if !cur.Workable() {
		err := errors.WithHint(
			errors.Wrapf(errors.ErrNotWorkable, "requisition %s is %s with %d slots", id, cur.Status, cur.Slots),
			"only Open requisitions with free slots can be worked",
		)
		c.logRejected(opToggle, id, err)
		return ToggleResult{}, err
	}

	next := cur.Clone()
	if err := next.Assign(recruiter, c.now().UTC()); err != nil {
		c.logRejected(opToggle, id, err)
		return ToggleResult{}, err
	}
	c.bump(next, cur)
	changes := []storage.Change{{Record: next, PrevVersion: cur.Version, Columns: requisition.ColAssignment}}

	var from *requisition.Record
	if source != "" && source != id {
		if prev, ok := c.cache.get(source); ok && prev.IsAssigned(recruiter) {
			from = prev.Clone()
			from.Unassign(recruiter)
			c.bump(from, prev)
			// source first so it is also published first
			changes = append([]storage.Change{{Record: from, PrevVersion: prev.Version, Columns: requisition.ColAssignment}}, changes...)
		}
	}

	operation := opToggle
	if from != nil {
		operation = opMove
	}
	stored, err := c.persist(ctx, operation, changes...)
	if err != nil {
		c.logRejected(operation, id, err)
		return ToggleResult{}, err
	}

	res := ToggleResult{Working: true}
	for _, rec := range stored {
		c.cache.put(rec)
	}
	c.index.set(recruiter, id)
	for _, rec := range stored {
		c.bus.Publish(broadcast.RecordPatched(rec.Clone(), origin))
	}

	res.Record = stored[len(stored)-1].Clone()
	if from != nil {
		res.Released = stored[0].Clone()
		logger.LoggerFromContext(ctx, c.log).Infow("Recruiter moved",
			logger.FieldRecruiter, recruiter,
			logger.FieldFromRecord, source,
			logger.FieldRecordID, id,
		)
	} else {
		logger.LoggerFromContext(ctx, c.log).Infow("Recruiter started working",
			logger.FieldRecruiter, recruiter,
			logger.FieldRecordID, id,
			logger.FieldAssigned, len(res.Record.AssignedRecruiters),
		)
	}
	return res, nil
}

func (c *Coordinator) release(ctx context.Context, recruiter string, cur *requisition.Record, origin string) (ToggleResult, error) {
	next := cur.Clone()
	next.Unassign(recruiter)
	c.bump(next, cur)

	stored, err := c.persist(ctx, opToggle, storage.Change{Record: next, PrevVersion: cur.Version, Columns: requisition.ColAssignment})
	if err != nil {
		c.logRejected(opToggle, cur.ID, err)
		return ToggleResult{}, err
	}

	c.cache.put(stored[0])
	c.index.clearIf(recruiter, cur.ID)
	c.bus.Publish(broadcast.RecordPatched(stored[0].Clone(), origin))
	logger.LoggerFromContext(ctx, c.log).Infow("Recruiter stopped working",
		logger.FieldRecruiter, recruiter,
		logger.FieldRecordID, cur.ID,
	)
	return ToggleResult{Record: stored[0].Clone()}, nil
}
