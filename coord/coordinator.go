// Package coord is the authoritative record store and update coordinator.
//
// Every mutation of a record runs inside that record's critical section:
// validate, persist, commit to memory, publish. A mutation that fails at
// any step leaves memory, storage and subscribers untouched. Mutations of
// different records never wait on each other, except a toggle that moves a
// recruiter, which holds both records.
package coord

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/reqsync/broadcast"
	"github.com/teranos/reqsync/errors"
	"github.com/teranos/reqsync/logger"
	"github.com/teranos/reqsync/presence"
	"github.com/teranos/reqsync/requisition"
	"github.com/teranos/reqsync/requisition/storage"
)

// DefaultPersistTimeout bounds one durable write when Options leave it unset
const DefaultPersistTimeout = 5 * time.Second

// Store is the durable storage the coordinator writes through
type Store interface {
	LoadAll(ctx context.Context) ([]*requisition.Record, error)
	Insert(ctx context.Context, rec *requisition.Record) (*requisition.Record, error)
	Apply(ctx context.Context, changes ...storage.Change) ([]*requisition.Record, error)
	Delete(ctx context.Context, id string) error
}

// Options configures a Coordinator
type Options struct {
	PersistTimeout   time.Duration
	SubscriberBuffer int
	Logger           *zap.SugaredLogger
	Clock            func() time.Time
}

// Coordinator owns the record cache, the recruiter assignment index, the
// presence registry and the broadcast bus.
type Coordinator struct {
	store          Store
	cache          *recordCache
	index          *recruiterIndex
	recordLocks    *keyedLocks
	recruiterLocks *keyedLocks
	presence       *presence.Registry
	bus            *broadcast.Bus
	persistTimeout time.Duration
	now            func() time.Time
	log            *zap.SugaredLogger
}

// New creates a Coordinator. Call Load before serving requests.
func New(store Store, opts Options) *Coordinator {
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = DefaultPersistTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logger.ComponentLogger("coord")
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Coordinator{
		store:          store,
		cache:          newRecordCache(),
		index:          newRecruiterIndex(),
		recordLocks:    newKeyedLocks(),
		recruiterLocks: newKeyedLocks(),
		presence:       presence.NewRegistry(),
		bus:            broadcast.NewBus(opts.SubscriberBuffer, opts.Logger.Named("broadcast")),
		persistTimeout: opts.PersistTimeout,
		now:            opts.Clock,
		log:            opts.Logger,
	}
}

// Load hydrates the cache from storage and rebuilds the assignment index.
// Rows that break the assignment invariants are loaded as-is and logged.
func (c *Coordinator) Load(ctx context.Context) error {
	records, err := c.store.LoadAll(ctx)
	if err != nil {
		return errors.Wrap(err, "hydrate record store")
	}

	for _, rec := range records {
		if err := rec.CheckInvariants(); err != nil {
			logger.LoggerFromContext(ctx, c.log).Errorw("Stored requisition violates assignment invariants",
				logger.FieldRecordID, rec.ID,
				logger.FieldError, err,
			)
		}
		c.cache.put(rec)
		for _, name := range rec.AssignedRecruiters {
			if other := c.index.get(name); other != "" {
				logger.LoggerFromContext(ctx, c.log).Errorw("Recruiter stored as working two requisitions",
					logger.FieldRecruiter, name,
					logger.FieldRecordID, rec.ID,
					logger.FieldFromRecord, other,
				)
				continue
			}
			c.index.set(name, rec.ID)
		}
	}

	logger.LoggerFromContext(ctx, c.log).Infow("Record store hydrated",
		logger.FieldCount, len(records),
		logger.FieldAssigned, c.index.len(),
	)
	return nil
}

// List returns copies of every record sorted by id
func (c *Coordinator) List() []*requisition.Record {
	return c.cache.list()
}

// Get returns a copy of one record
func (c *Coordinator) Get(id string) (*requisition.Record, error) {
	id, err := requisition.NormalizeID(id)
	if err != nil {
		return nil, err
	}
	rec, ok := c.cache.get(id)
	if !ok {
		return nil, errors.Wrapf(errors.ErrNotFound, "requisition %s", id)
	}
	return rec.Clone(), nil
}

// Create stores a new record. The id is normalized by stripping all
// whitespace; an id already present, in memory or in storage, is
// ErrDuplicateID.
func (c *Coordinator) Create(ctx context.Context, id string, fields requisition.Fields, origin string) (rec *requisition.Record, err error) {
	defer func() { observeMutation(opCreate, err) }()

	id, err = requisition.NormalizeID(id)
	if err != nil {
		return nil, err
	}
	if err = fields.Validate(); err != nil {
		return nil, err
	}

	unlock := c.recordLocks.Lock(id)
	defer unlock()

	if _, exists := c.cache.get(id); exists {
		return nil, errors.WithHint(
			errors.Wrapf(errors.ErrDuplicateID, "requisition %s already exists", id),
			"ids are compared after removing all whitespace",
		)
	}

	now := c.now().UTC()
	next := &requisition.Record{
		ID:                 id,
		Title:              fields.Title,
		Client:             fields.Client,
		Slots:              fields.Slots,
		Status:             fields.Status,
		AssignedRecruiters: []string{},
		WorkingTimes:       map[string]time.Time{},
		CreatedAt:          now,
		UpdatedAt:          now,
		Version:            1,
	}

	pctx, cancel := context.WithTimeout(ctx, c.persistTimeout)
	defer cancel()
	start := time.Now()
	stored, err := c.store.Insert(pctx, next)
	observePersist(opCreate, start)
	if err != nil {
		c.logRejected(opCreate, id, err)
		return nil, err
	}

	c.cache.put(stored)
	c.bus.Publish(broadcast.RecordCreated(stored.Clone(), origin))
	logger.LoggerFromContext(ctx, c.log).Infow("Requisition created",
		logger.FieldRecordID, id,
		logger.FieldConnectionID, origin,
	)
	return stored.Clone(), nil
}

// Patch overwrites only the fields the patch names. Status and slots are
// frozen while recruiters are assigned (ErrLocked), even when the new value
// equals the old one. A committed patch is a save: the editing marker origin
// holds on the record is cleared.
func (c *Coordinator) Patch(ctx context.Context, id string, patch requisition.Patch, origin string) (rec *requisition.Record, err error) {
	defer func() { observeMutation(opPatch, err) }()

	id, err = requisition.NormalizeID(id)
	if err != nil {
		return nil, err
	}
	if err = patch.Validate(); err != nil {
		return nil, err
	}

	unlock := c.recordLocks.Lock(id)
	defer unlock()

	cur, ok := c.cache.get(id)
	if !ok {
		return nil, errors.Wrapf(errors.ErrNotFound, "requisition %s", id)
	}

	next := cur.Clone()
	if err = next.Apply(patch); err != nil {
		c.logRejected(opPatch, id, err)
		return nil, err
	}
	c.bump(next, cur)

	stored, err := c.persist(ctx, opPatch, storage.Change{Record: next, PrevVersion: cur.Version, Columns: patch.Columns()})
	if err != nil {
		c.logRejected(opPatch, id, err)
		return nil, err
	}

	c.cache.put(stored[0])
	c.bus.Publish(broadcast.RecordPatched(stored[0].Clone(), origin))
	c.clearSaved(origin, id)
	logger.LoggerFromContext(ctx, c.log).Debugw("Requisition patched",
		logger.FieldRecordID, id,
		logger.FieldVersion, stored[0].Version,
	)
	return stored[0].Clone(), nil
}

// Delete removes a record. Recruiters working it stop working, and its
// presence marker is dropped; only the deletion is broadcast.
func (c *Coordinator) Delete(ctx context.Context, id string, origin string) (deleted string, err error) {
	defer func() { observeMutation(opDelete, err) }()

	id, err = requisition.NormalizeID(id)
	if err != nil {
		return "", err
	}

	unlock := c.recordLocks.Lock(id)
	defer unlock()

	cur, ok := c.cache.get(id)
	if !ok {
		return "", errors.Wrapf(errors.ErrNotFound, "requisition %s", id)
	}

	pctx, cancel := context.WithTimeout(ctx, c.persistTimeout)
	defer cancel()
	start := time.Now()
	err = c.store.Delete(pctx, id)
	observePersist(opDelete, start)
	if err != nil {
		c.logRejected(opDelete, id, err)
		return "", err
	}

	c.cache.remove(id)
	for _, name := range cur.AssignedRecruiters {
		c.index.clearIf(name, id)
	}
	c.presence.Clear(id)
	c.bus.Publish(broadcast.RecordDeleted(id, origin))
	logger.LoggerFromContext(ctx, c.log).Infow("Requisition deleted",
		logger.FieldRecordID, id,
		logger.FieldAssigned, len(cur.AssignedRecruiters),
	)
	return id, nil
}

// Subscribe registers a listener for every broadcast event. Subscribe
// before calling Snapshot so nothing committed in between is missed.
func (c *Coordinator) Subscribe(origin string) *broadcast.Subscription {
	return c.bus.Subscribe(origin)
}

// Snapshot is the full state a new client starts from
type Snapshot struct {
	Seq      uint64                `json:"seq"`
	Records  []*requisition.Record `json:"records"`
	Presence []presence.Marker     `json:"presence"`
}

// Snapshot returns every record and presence marker. Seq is the last event
// sequence number published before the snapshot was taken.
func (c *Coordinator) Snapshot() Snapshot {
	seq := c.bus.Seq()
	return Snapshot{
		Seq:      seq,
		Records:  c.cache.list(),
		Presence: c.presence.Snapshot(),
	}
}

// Stats summarizes coordinator state for health checks
type Stats struct {
	Records     int `json:"records"`
	Assignments int `json:"assignments"`
	Presence    int `json:"presence"`
	Subscribers int `json:"subscribers"`
}

// Stats returns current counts
func (c *Coordinator) Stats() Stats {
	return Stats{
		Records:     c.cache.len(),
		Assignments: c.index.len(),
		Presence:    c.presence.Len(),
		Subscribers: c.bus.Subscribers(),
	}
}

// Close ends every subscription
func (c *Coordinator) Close() {
	c.bus.Close()
}

// bump advances version and a strictly increasing updatedAt
func (c *Coordinator) bump(next, prev *requisition.Record) {
	next.Version = prev.Version + 1
	now := c.now().UTC()
	if !now.After(prev.UpdatedAt) {
		now = prev.UpdatedAt.Add(time.Nanosecond)
	}
	next.UpdatedAt = now
}

// persist writes changes in one transaction under the persist timeout
func (c *Coordinator) persist(ctx context.Context, operation string, changes ...storage.Change) ([]*requisition.Record, error) {
	pctx, cancel := context.WithTimeout(ctx, c.persistTimeout)
	defer cancel()

	start := time.Now()
	stored, err := c.store.Apply(pctx, changes...)
	observePersist(operation, start)
	if err != nil {
		return nil, err
	}
	if len(stored) != len(changes) {
		return nil, errors.AssertionFailedf("store returned %d rows for %d changes", len(stored), len(changes))
	}
	return stored, nil
}

func (c *Coordinator) logRejected(operation, id string, err error) {
	log := c.log.Debugw
	if errors.Is(err, errors.ErrPersistence) {
		log = c.log.Errorw
	}
	log("Mutation rejected",
		logger.FieldOperation, operation,
		logger.FieldRecordID, id,
		logger.FieldErrorCode, errors.Code(err),
		logger.FieldError, err,
	)
}
