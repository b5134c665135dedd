package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/reqsync/broadcast"
	"github.com/teranos/reqsync/errors"
	"github.com/teranos/reqsync/internal/util"
	"github.com/teranos/reqsync/presence"
	"github.com/teranos/reqsync/requisition"
)

func rec(id string, version uint64, title string) *requisition.Record {
	return &requisition.Record{
		ID:      id,
		Title:   title,
		Client:  "Acme",
		Slots:   2,
		Status:  requisition.StatusOpen,
		Version: version,
	}
}

func patched(seq uint64, r *requisition.Record) broadcast.Event {
	ev := broadcast.RecordPatched(r, "")
	ev.Seq = seq
	return ev
}

func TestApply_UpsertAndStale(t *testing.T) {
	v := NewView()

	created := broadcast.RecordCreated(rec("A", 1, "one"), "")
	created.Seq = 1
	assert.True(t, v.Apply(created))
	assert.False(t, v.Apply(created), "duplicate delivery ignored")

	assert.True(t, v.Apply(patched(3, rec("A", 3, "three"))))
	assert.False(t, v.Apply(patched(2, rec("A", 2, "two"))), "older version ignored")

	got, ok := v.Record("A")
	require.True(t, ok)
	assert.Equal(t, "three", got.Title)
	assert.Equal(t, uint64(3), v.LastSeq())
}

func TestApply_SnapshotWinsOverPendingEdit(t *testing.T) {
	v := NewView()
	v.Resync(10, []*requisition.Record{rec("A", 1, "server")}, nil)

	require.NoError(t, v.LocalEdit("A", requisition.Patch{Title: util.Ptr("mine")}))
	require.NoError(t, v.LocalEdit("A", requisition.Patch{Slots: util.Ptr(7)}))
	got, _ := v.Record("A")
	assert.Equal(t, "mine", got.Title)
	assert.Equal(t, 7, got.Slots, "pending edits accumulate")
	assert.Equal(t, "Acme", got.Client)
	assert.True(t, v.Pending("A"))

	assert.True(t, v.Apply(patched(11, rec("A", 2, "theirs"))))
	got, _ = v.Record("A")
	assert.Equal(t, "theirs", got.Title)
	assert.Equal(t, 2, got.Slots, "pending edit is not reapplied")
	assert.False(t, v.Pending("A"))
}

func TestApply_StaleDoesNotDropPending(t *testing.T) {
	v := NewView()
	v.Resync(5, []*requisition.Record{rec("A", 4, "server")}, nil)
	require.NoError(t, v.LocalEdit("A", requisition.Patch{Title: util.Ptr("mine")}))

	assert.False(t, v.Apply(patched(6, rec("A", 4, "server"))))
	assert.True(t, v.Pending("A"))
}

func TestApply_EventsCoveredBySnapshotIgnored(t *testing.T) {
	v := NewView()
	v.Resync(20, []*requisition.Record{rec("A", 5, "snap")}, nil)

	deleted := broadcast.RecordDeleted("A", "")
	deleted.Seq = 19
	assert.False(t, v.Apply(deleted))
	_, ok := v.Record("A")
	assert.True(t, ok)
}

func TestApply_DeleteIsNotResurrected(t *testing.T) {
	v := NewView()
	v.Resync(0, []*requisition.Record{rec("A", 2, "x")}, nil)

	deleted := broadcast.RecordDeleted("A", "")
	deleted.Seq = 9
	assert.True(t, v.Apply(deleted))

	// duplicate of an event published before the delete
	assert.False(t, v.Apply(patched(8, rec("A", 3, "late"))))
	_, ok := v.Record("A")
	assert.False(t, ok)

	// recreated afterwards
	again := broadcast.RecordCreated(rec("A", 1, "new"), "")
	again.Seq = 12
	assert.True(t, v.Apply(again))
}

func TestApply_RedeliveryAfterRecreateIsStale(t *testing.T) {
	v := NewView()

	created := broadcast.RecordCreated(rec("A", 1, "old"), "")
	created.Seq = 1
	require.True(t, v.Apply(created))
	require.True(t, v.Apply(patched(2, rec("A", 2, "old-patched"))))

	deleted := broadcast.RecordDeleted("A", "")
	deleted.Seq = 3
	require.True(t, v.Apply(deleted))

	recreated := broadcast.RecordCreated(rec("A", 1, "new"), "")
	recreated.Seq = 4
	require.True(t, v.Apply(recreated))

	// higher version than the new record, but published before the delete
	assert.False(t, v.Apply(patched(2, rec("A", 2, "old-patched"))))
	assert.False(t, v.Apply(created))

	got, ok := v.Record("A")
	require.True(t, ok)
	assert.Equal(t, "new", got.Title)
	assert.Equal(t, uint64(1), got.Version)

	assert.True(t, v.Apply(patched(5, rec("A", 2, "new-patched"))))
	got, _ = v.Record("A")
	assert.Equal(t, "new-patched", got.Title)
}

func TestApply_Presence(t *testing.T) {
	v := NewView()
	v.Resync(0, []*requisition.Record{rec("A", 1, "x")}, []presence.Marker{{RecordID: "A", Field: "title", Recruiter: "bob"}})

	m, ok := v.Presence("A")
	require.True(t, ok)
	assert.Equal(t, "bob", m.Recruiter)

	set := broadcast.PresenceSet("A", "alice", "client", "c1")
	set.Seq = 1
	set.At = time.Now()
	assert.True(t, v.Apply(set))
	m, _ = v.Presence("A")
	assert.Equal(t, "client", m.Field)

	unknown := broadcast.PresenceSet("Z", "alice", "title", "c1")
	unknown.Seq = 2
	assert.False(t, v.Apply(unknown))

	cleared := broadcast.PresenceCleared("A", "c1")
	cleared.Seq = 3
	assert.True(t, v.Apply(cleared))
	_, ok = v.Presence("A")
	assert.False(t, ok)
}

func TestLocalEdit_UnknownRecord(t *testing.T) {
	v := NewView()
	err := v.LocalEdit("nope", requisition.Patch{Title: util.Ptr("x")})
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestRecordsSortedAndCopied(t *testing.T) {
	v := NewView()
	v.Resync(0, []*requisition.Record{rec("B", 1, "b"), rec("A", 1, "a")}, nil)

	list := v.Records()
	require.Len(t, list, 2)
	assert.Equal(t, "A", list[0].ID)

	list[0].Title = "changed"
	got, _ := v.Record("A")
	assert.Equal(t, "a", got.Title)
}
