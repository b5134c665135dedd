package coord

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teranos/reqsync/broadcast"
	"github.com/teranos/reqsync/db"
	"github.com/teranos/reqsync/errors"
	dbtest "github.com/teranos/reqsync/internal/testing"
	"github.com/teranos/reqsync/internal/util"
	"github.com/teranos/reqsync/requisition"
	"github.com/teranos/reqsync/requisition/storage"
)

// flakyStore fails writes on demand
type flakyStore struct {
	Store
	fail atomic.Bool
}

var errDiskGone = errors.Mark(errors.New("disk gone"), errors.ErrPersistence)

func (f *flakyStore) Apply(ctx context.Context, changes ...storage.Change) ([]*requisition.Record, error) {
	if f.fail.Load() {
		return nil, errDiskGone
	}
	return f.Store.Apply(ctx, changes...)
}

func (f *flakyStore) Delete(ctx context.Context, id string) error {
	if f.fail.Load() {
		return errDiskGone
	}
	return f.Store.Delete(ctx, id)
}

type fixture struct {
	coord *Coordinator
	store *storage.SQLStore
	flaky *flakyStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := storage.NewSQLStore(dbtest.CreateTestDB(t), db.DialectSQLite)
	flaky := &flakyStore{Store: store}
	c := New(flaky, Options{Logger: zap.NewNop().Sugar(), SubscriberBuffer: 1024})
	require.NoError(t, c.Load(context.Background()))
	t.Cleanup(c.Close)
	return &fixture{coord: c, store: store, flaky: flaky}
}

func (f *fixture) create(t *testing.T, id string, slots int) *requisition.Record {
	t.Helper()
	rec, err := f.coord.Create(context.Background(), id, requisition.Fields{Title: "Engineer", Client: "Acme", Slots: slots}, "")
	require.NoError(t, err)
	return rec
}

func (f *fixture) toggle(t *testing.T, recruiter, id string) ToggleResult {
	t.Helper()
	res, err := f.coord.ToggleWorking(context.Background(), recruiter, id, "")
	require.NoError(t, err)
	return res
}

// stored re-reads a record from the database
func (f *fixture) stored(t *testing.T, id string) *requisition.Record {
	t.Helper()
	rec, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	return rec
}

func nextEvent(t *testing.T, sub *broadcast.Subscription) broadcast.Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		require.True(t, ok, "subscription closed: %v", sub.Err())
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event")
		return broadcast.Event{}
	}
}

func assertNoEvent(t *testing.T, sub *broadcast.Subscription) {
	t.Helper()
	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected event %s for %s", ev.Type, ev.ID)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestCreate(t *testing.T) {
	f := newFixture(t)
	sub := f.coord.Subscribe("")

	rec := f.create(t, " REQ 1 ", 2)
	assert.Equal(t, "REQ1", rec.ID)
	assert.Equal(t, requisition.StatusOpen, rec.Status)
	assert.Equal(t, uint64(1), rec.Version)

	ev := nextEvent(t, sub)
	assert.Equal(t, broadcast.EventRecordCreated, ev.Type)
	assert.Equal(t, "REQ1", ev.Record.ID)

	assert.Equal(t, "Engineer", f.stored(t, "REQ1").Title)
}

func TestCreate_Rejections(t *testing.T) {
	f := newFixture(t)
	f.create(t, "REQ1", 1)
	sub := f.coord.Subscribe("")

	_, err := f.coord.Create(context.Background(), "REQ 1", requisition.Fields{}, "")
	assert.True(t, errors.Is(err, errors.ErrDuplicateID), "whitespace-only difference is a duplicate")

	_, err = f.coord.Create(context.Background(), " \t ", requisition.Fields{}, "")
	assert.True(t, errors.Is(err, errors.ErrInvalidID))

	_, err = f.coord.Create(context.Background(), "REQ2", requisition.Fields{Slots: -1}, "")
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))

	assertNoEvent(t, sub)
}

func TestCreate_DuplicateInStorageOnly(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()
	_, err := f.store.Insert(context.Background(), &requisition.Record{
		ID: "GHOST", Status: requisition.StatusOpen, CreatedAt: now, UpdatedAt: now, Version: 1,
	})
	require.NoError(t, err)

	_, err = f.coord.Create(context.Background(), "GHOST", requisition.Fields{}, "")
	assert.True(t, errors.Is(err, errors.ErrDuplicateID))
	_, err = f.coord.Get("GHOST")
	assert.True(t, errors.Is(err, errors.ErrNotFound), "failed create leaves memory untouched")
}

func TestGetReturnsCopy(t *testing.T) {
	f := newFixture(t)
	f.create(t, "REQ1", 1)

	rec, err := f.coord.Get("REQ1")
	require.NoError(t, err)
	rec.Title = "mutated"
	rec.AssignedRecruiters = append(rec.AssignedRecruiters, "mallory")

	again, err := f.coord.Get("REQ1")
	require.NoError(t, err)
	assert.Equal(t, "Engineer", again.Title)
	assert.Empty(t, again.AssignedRecruiters)
}

func TestPatch_FieldLevel(t *testing.T) {
	f := newFixture(t)
	f.create(t, "REQ1", 2)

	rec, err := f.coord.Patch(context.Background(), "REQ1", requisition.Patch{Slots: util.Ptr(5)}, "")
	require.NoError(t, err)
	assert.Equal(t, 5, rec.Slots)
	assert.Equal(t, "Engineer", rec.Title)
	assert.Equal(t, "Acme", rec.Client)
	assert.Equal(t, requisition.StatusOpen, rec.Status)
	assert.Equal(t, uint64(2), rec.Version)

	stored := f.stored(t, "REQ1")
	assert.Equal(t, 5, stored.Slots)
	assert.Equal(t, "Engineer", stored.Title)
}

func TestPatch_Rejections(t *testing.T) {
	f := newFixture(t)
	f.create(t, "REQ1", 2)

	_, err := f.coord.Patch(context.Background(), "REQ1", requisition.Patch{}, "")
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest), "empty patch")

	_, err = f.coord.Patch(context.Background(), "nope", requisition.Patch{Title: util.Ptr("x")}, "")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestPatch_IdenticalValueStillCommits(t *testing.T) {
	f := newFixture(t)
	f.create(t, "REQ1", 2)
	sub := f.coord.Subscribe("")

	rec, err := f.coord.Patch(context.Background(), "REQ1", requisition.Patch{Title: util.Ptr("Engineer")}, "")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), rec.Version)
	assert.Equal(t, broadcast.EventRecordPatched, nextEvent(t, sub).Type)
}

func TestLockedScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t, "REQ-100", 2)

	res := f.toggle(t, "A", "REQ-100")
	assert.True(t, res.Working)
	assert.Equal(t, []string{"A"}, res.Record.AssignedRecruiters)

	sub := f.coord.Subscribe("")
	_, err := f.coord.Patch(ctx, "REQ-100", requisition.Patch{Status: util.Ptr(requisition.StatusClosed)}, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrLocked))
	assert.NotEmpty(t, errors.Hint(err))
	assertNoEvent(t, sub)

	// same value is still frozen
	_, err = f.coord.Patch(ctx, "REQ-100", requisition.Patch{Slots: util.Ptr(2)}, "")
	assert.True(t, errors.Is(err, errors.ErrLocked))

	// title stays editable
	_, err = f.coord.Patch(ctx, "REQ-100", requisition.Patch{Title: util.Ptr("Senior Engineer")}, "")
	require.NoError(t, err)

	res = f.toggle(t, "A", "REQ-100")
	assert.False(t, res.Working)
	assert.Empty(t, res.Record.AssignedRecruiters)
	assert.Empty(t, res.Record.WorkingTimes)

	rec, err := f.coord.Patch(ctx, "REQ-100", requisition.Patch{Status: util.Ptr(requisition.StatusClosed)}, "")
	require.NoError(t, err)
	assert.Equal(t, requisition.StatusClosed, rec.Status)
	assert.Equal(t, requisition.StatusClosed, f.stored(t, "REQ-100").Status)
}

func TestToggle_NotWorkable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t, "ZERO", 0)
	f.create(t, "HOLD", 1)
	_, err := f.coord.Patch(ctx, "HOLD", requisition.Patch{Status: util.Ptr(requisition.StatusOnHold)}, "")
	require.NoError(t, err)

	_, err = f.coord.ToggleWorking(ctx, "A", "ZERO", "")
	assert.True(t, errors.Is(err, errors.ErrNotWorkable))
	_, err = f.coord.ToggleWorking(ctx, "A", "HOLD", "")
	assert.True(t, errors.Is(err, errors.ErrNotWorkable))
	_, err = f.coord.ToggleWorking(ctx, "A", "missing", "")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
	_, err = f.coord.ToggleWorking(ctx, "   ", "ZERO", "")
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestToggle_Capacity(t *testing.T) {
	f := newFixture(t)
	f.create(t, "REQ1", 5)
	f.toggle(t, "A", "REQ1")
	f.toggle(t, "B", "REQ1")

	_, err := f.coord.ToggleWorking(context.Background(), "C", "REQ1", "")
	assert.True(t, errors.Is(err, errors.ErrCapacityExceeded))

	stored := f.stored(t, "REQ1")
	assert.Equal(t, []string{"A", "B"}, stored.AssignedRecruiters)
	assert.Len(t, stored.WorkingTimes, 2)
}

func TestToggle_Move(t *testing.T) {
	f := newFixture(t)
	f.create(t, "REQ-1", 1)
	f.create(t, "REQ-2", 1)
	f.toggle(t, "A", "REQ-1")

	sub := f.coord.Subscribe("")
	res := f.toggle(t, "A", "REQ-2")
	require.NotNil(t, res.Released)
	assert.Equal(t, "REQ-1", res.Released.ID)
	assert.Empty(t, res.Released.AssignedRecruiters)
	assert.Equal(t, []string{"A"}, res.Record.AssignedRecruiters)

	first, second := nextEvent(t, sub), nextEvent(t, sub)
	assert.Equal(t, "REQ-1", first.ID, "source published first")
	assert.Equal(t, "REQ-2", second.ID)
	assert.Less(t, first.Seq, second.Seq)

	assert.Empty(t, f.stored(t, "REQ-1").AssignedRecruiters)
	assert.Equal(t, []string{"A"}, f.stored(t, "REQ-2").AssignedRecruiters)
}

func TestToggle_MoveRejectedKeepsSource(t *testing.T) {
	f := newFixture(t)
	f.create(t, "REQ-1", 1)
	f.create(t, "REQ-2", 3)
	f.toggle(t, "A", "REQ-1")
	f.toggle(t, "B", "REQ-2")
	f.toggle(t, "C", "REQ-2")

	_, err := f.coord.ToggleWorking(context.Background(), "A", "REQ-2", "")
	assert.True(t, errors.Is(err, errors.ErrCapacityExceeded))
	assert.Equal(t, []string{"A"}, f.stored(t, "REQ-1").AssignedRecruiters)
	assert.Equal(t, "REQ-1", f.coord.index.get("A"))
}

func TestToggle_MovePersistenceFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	f.create(t, "REQ-1", 1)
	f.create(t, "REQ-2", 1)
	f.toggle(t, "A", "REQ-1")
	sub := f.coord.Subscribe("")

	f.flaky.fail.Store(true)
	_, err := f.coord.ToggleWorking(context.Background(), "A", "REQ-2", "")
	require.Error(t, err)
	assert.Equal(t, errors.CodePersistenceFailure, errors.Code(err))
	assertNoEvent(t, sub)

	f.flaky.fail.Store(false)
	rec, err := f.coord.Get("REQ-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, rec.AssignedRecruiters)
	assert.Equal(t, []string{"A"}, f.stored(t, "REQ-1").AssignedRecruiters)
	assert.Empty(t, f.stored(t, "REQ-2").AssignedRecruiters)
}

func TestPatch_PersistenceFailureLeavesRecord(t *testing.T) {
	f := newFixture(t)
	f.create(t, "REQ1", 1)
	f.flaky.fail.Store(true)

	_, err := f.coord.Patch(context.Background(), "REQ1", requisition.Patch{Title: util.Ptr("x")}, "")
	assert.True(t, errors.Is(err, errors.ErrPersistence))

	rec, err := f.coord.Get("REQ1")
	require.NoError(t, err)
	assert.Equal(t, "Engineer", rec.Title)
	assert.Equal(t, uint64(1), rec.Version)
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t, "REQ1", 2)
	f.create(t, "REQ2", 2)
	f.toggle(t, "A", "REQ1")
	require.NoError(t, f.coord.SetEditing("c1", "REQ1", "title", "A"))

	sub := f.coord.Subscribe("")
	id, err := f.coord.Delete(ctx, "REQ 1", "")
	require.NoError(t, err)
	assert.Equal(t, "REQ1", id)

	ev := nextEvent(t, sub)
	assert.Equal(t, broadcast.EventRecordDeleted, ev.Type)
	assertNoEvent(t, sub)

	assert.Empty(t, f.coord.Snapshot().Presence)
	assert.Equal(t, "", f.coord.index.get("A"))

	// A is free again: working REQ2 is a plain assignment, not a move
	res := f.toggle(t, "A", "REQ2")
	assert.Nil(t, res.Released)

	_, err = f.coord.Delete(ctx, "REQ1", "")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestUpdatedAtStrictlyIncreases(t *testing.T) {
	store := storage.NewSQLStore(dbtest.CreateTestDB(t), db.DialectSQLite)
	frozen := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	c := New(store, Options{Logger: zap.NewNop().Sugar(), Clock: func() time.Time { return frozen }})
	ctx := context.Background()

	rec, err := c.Create(ctx, "REQ1", requisition.Fields{Slots: 1}, "")
	require.NoError(t, err)
	prev := rec.UpdatedAt
	for i := 0; i < 3; i++ {
		rec, err = c.Patch(ctx, "REQ1", requisition.Patch{Title: util.Ptr("t")}, "")
		require.NoError(t, err)
		assert.True(t, rec.UpdatedAt.After(prev))
		prev = rec.UpdatedAt
	}
	assert.True(t, rec.CreatedAt.Equal(frozen))
	assert.Equal(t, uint64(4), rec.Version)
}

func TestLoad_RebuildsIndex(t *testing.T) {
	conn := dbtest.CreateTestDB(t)
	store := storage.NewSQLStore(conn, db.DialectSQLite)
	ctx := context.Background()

	first := New(store, Options{Logger: zap.NewNop().Sugar()})
	_, err := first.Create(ctx, "REQ1", requisition.Fields{Slots: 1}, "")
	require.NoError(t, err)
	_, err = first.Create(ctx, "REQ2", requisition.Fields{Slots: 1}, "")
	require.NoError(t, err)
	_, err = first.ToggleWorking(ctx, "A", "REQ1", "")
	require.NoError(t, err)

	second := New(store, Options{Logger: zap.NewNop().Sugar()})
	require.NoError(t, second.Load(ctx))
	assert.Len(t, second.List(), 2)
	assert.Equal(t, 1, second.Stats().Assignments)

	res, err := second.ToggleWorking(ctx, "A", "REQ2", "")
	require.NoError(t, err)
	require.NotNil(t, res.Released, "hydrated index makes this a move")
	assert.Equal(t, "REQ1", res.Released.ID)
}

func TestPresence(t *testing.T) {
	f := newFixture(t)
	f.create(t, "REQ1", 1)
	other := f.coord.Subscribe("c2")
	own := f.coord.Subscribe("c1")

	require.NoError(t, f.coord.SetEditing("c1", "REQ1", "title", " alice "))
	ev := nextEvent(t, other)
	assert.Equal(t, broadcast.EventPresenceChanged, ev.Type)
	assert.Equal(t, "alice", *ev.Presence.Recruiter)
	assertNoEvent(t, own)

	// unknown record is ignored
	require.NoError(t, f.coord.SetEditing("c1", "NOPE", "title", "alice"))
	assertNoEvent(t, other)

	assert.True(t, errors.Is(f.coord.SetEditing("c1", "REQ1", "", "alice"), errors.ErrInvalidRequest))

	f.coord.Disconnect("c1")
	ev = nextEvent(t, other)
	assert.True(t, ev.Presence.Cleared())
	assert.Empty(t, f.coord.Snapshot().Presence)
}

func TestClearEditing(t *testing.T) {
	f := newFixture(t)
	f.create(t, "REQ1", 1)
	require.NoError(t, f.coord.SetEditing("c1", "REQ1", "title", "alice"))
	sub := f.coord.Subscribe("c3")

	require.NoError(t, f.coord.ClearEditing("c2", "REQ1"))
	assert.True(t, nextEvent(t, sub).Presence.Cleared())

	require.NoError(t, f.coord.ClearEditing("c2", "REQ1"))
	assertNoEvent(t, sub)
}

func TestPatch_ClearsSaversMarker(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t, "REQ1", 1)
	f.create(t, "REQ2", 1)
	require.NoError(t, f.coord.SetEditing("c1", "REQ1", "title", "alice"))
	require.NoError(t, f.coord.SetEditing("c2", "REQ2", "title", "bob"))
	sub := f.coord.Subscribe("")

	// a save by someone else leaves alice's marker up
	_, err := f.coord.Patch(ctx, "REQ1", requisition.Patch{Title: util.Ptr("x")}, "c2")
	require.NoError(t, err)
	assert.Equal(t, broadcast.EventRecordPatched, nextEvent(t, sub).Type)
	assertNoEvent(t, sub)

	_, err = f.coord.Patch(ctx, "REQ1", requisition.Patch{Title: util.Ptr("y")}, "c1")
	require.NoError(t, err)
	assert.Equal(t, broadcast.EventRecordPatched, nextEvent(t, sub).Type)
	ev := nextEvent(t, sub)
	assert.Equal(t, "REQ1", ev.ID)
	assert.True(t, ev.Presence.Cleared())

	markers := f.coord.Snapshot().Presence
	require.Len(t, markers, 1)
	assert.Equal(t, "REQ2", markers[0].RecordID)
}

func TestExpireEditing(t *testing.T) {
	f := newFixture(t)
	f.create(t, "REQ1", 1)
	f.create(t, "REQ2", 1)
	require.NoError(t, f.coord.SetEditing("http:10.0.0.1", "REQ1", "title", "alice"))
	require.NoError(t, f.coord.SetEditing("ws-1", "REQ2", "title", "bob"))
	sub := f.coord.Subscribe("")

	assert.Equal(t, 0, f.coord.ExpireEditing("http:", time.Now().Add(-time.Hour)))
	assertNoEvent(t, sub)

	assert.Equal(t, 1, f.coord.ExpireEditing("http:", time.Now().Add(time.Second)))
	ev := nextEvent(t, sub)
	assert.Equal(t, "REQ1", ev.ID)
	assert.True(t, ev.Presence.Cleared())
	assert.Equal(t, 1, f.coord.Stats().Presence)
}

func TestConcurrentTogglesSameRecord(t *testing.T) {
	f := newFixture(t)
	f.create(t, "HOT", 10)

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.coord.ToggleWorking(context.Background(), string(rune('a'+i)), "HOT", "")
			if err == nil {
				succeeded.Add(1)
				return
			}
			assert.True(t, errors.Is(err, errors.ErrCapacityExceeded), "unexpected %v", err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(2), succeeded.Load())
	stored := f.stored(t, "HOT")
	assert.Len(t, stored.AssignedRecruiters, 2)
	require.NoError(t, stored.CheckInvariants())
}

func TestConcurrentTogglesInvariants(t *testing.T) {
	f := newFixture(t)
	ids := []string{"A", "B", "C", "D"}
	for _, id := range ids {
		f.create(t, id, 3)
	}
	recruiters := []string{"r1", "r2", "r3", "r4", "r5", "r6"}

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 40; i++ {
				r := recruiters[(w*7+i)%len(recruiters)]
				id := ids[(w+i*3)%len(ids)]
				switch i % 5 {
				case 4:
					f.coord.Patch(context.Background(), id, requisition.Patch{Title: util.Ptr(r)}, "")
				default:
					f.coord.ToggleWorking(context.Background(), r, id, "")
				}
			}
		}(w)
	}
	wg.Wait()

	records, err := f.store.LoadAll(context.Background())
	require.NoError(t, err)

	seen := map[string]string{}
	for _, rec := range records {
		require.NoError(t, rec.CheckInvariants())
		for _, r := range rec.AssignedRecruiters {
			prev, dup := seen[r]
			assert.False(t, dup, "%s works %s and %s", r, prev, rec.ID)
			seen[r] = rec.ID
		}
		cached, err := f.coord.Get(rec.ID)
		require.NoError(t, err)
		assert.Equal(t, rec.Version, cached.Version, "memory matches storage")
	}
	for r, id := range seen {
		assert.Equal(t, id, f.coord.index.get(r))
	}
	assert.Equal(t, len(seen), f.coord.Stats().Assignments)
}

func TestConcurrentMovesAndDeletes(t *testing.T) {
	f := newFixture(t)
	for _, id := range []string{"A", "B", "C"} {
		f.create(t, id, 2)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 30; i++ {
			f.coord.ToggleWorking(context.Background(), "mover", []string{"A", "B", "C"}[i%3], "")
		}
	}()
	go func() {
		defer wg.Done()
		f.coord.Delete(context.Background(), "B", "")
	}()
	wg.Wait()

	records, err := f.store.LoadAll(context.Background())
	require.NoError(t, err)
	working := 0
	for _, rec := range records {
		if rec.IsAssigned("mover") {
			working++
			assert.Equal(t, rec.ID, f.coord.index.get("mover"))
		}
	}
	assert.LessOrEqual(t, working, 1)
	if working == 0 {
		assert.Equal(t, "", f.coord.index.get("mover"))
	}
}

func TestKeyedLocksReleaseEntries(t *testing.T) {
	k := newKeyedLocks()
	unlock := k.Lock("b", "a", "b")
	assert.Equal(t, 2, k.size())
	unlock()
	assert.Equal(t, 0, k.size())
}
