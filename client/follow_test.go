package client

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teranos/reqsync/am"
	"github.com/teranos/reqsync/broadcast"
	"github.com/teranos/reqsync/coord"
	"github.com/teranos/reqsync/db"
	dbtest "github.com/teranos/reqsync/internal/testing"
	"github.com/teranos/reqsync/reconcile"
	"github.com/teranos/reqsync/requisition"
	"github.com/teranos/reqsync/requisition/storage"
	"github.com/teranos/reqsync/server"
)

func waitFor(t *testing.T, updates <-chan Update, match func(Update) bool) Update {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case u := <-updates:
			if match(u) {
				return u
			}
		case <-deadline:
			t.Fatal("timed out waiting for update")
			return Update{}
		}
	}
}

func TestFollow_SnapshotEventsAndShutdown(t *testing.T) {
	store := storage.NewSQLStore(dbtest.CreateTestDB(t), db.DialectSQLite)
	c := coord.New(store, coord.Options{Logger: zap.NewNop().Sugar()})
	require.NoError(t, c.Load(context.Background()))
	_, err := c.Create(context.Background(), "REQ-1", requisition.Fields{Title: "Engineer", Slots: 1}, "")
	require.NoError(t, err)

	srv, err := server.New(c, am.ServerConfig{})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	cl, err := New(ts.URL, time.Second)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	view := reconcile.NewView()
	updates := make(chan Update, 64)
	done := make(chan error, 1)
	go func() {
		done <- cl.Follow(ctx, view, func(u Update) { updates <- u })
	}()

	snap := waitFor(t, updates, func(u Update) bool { return u.Kind == UpdateSnapshot })
	assert.NotEmpty(t, snap.ConnectionID)
	_, ok := view.Record("REQ-1")
	assert.True(t, ok)

	_, err = cl.ToggleWorking(ctx, "Dana", "REQ-1")
	require.NoError(t, err)
	ev := waitFor(t, updates, func(u Update) bool { return u.Kind == UpdateEvent })
	assert.Equal(t, broadcast.EventRecordPatched, ev.Event.Type)
	rec, _ := view.Record("REQ-1")
	assert.Equal(t, []string{"Dana"}, rec.AssignedRecruiters)

	require.NoError(t, srv.Stop())
	gone := waitFor(t, updates, func(u Update) bool { return u.Kind == UpdateDisconnected })
	assert.Error(t, gone.Err)
	assert.Positive(t, gone.Retry)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Follow did not return after cancel")
	}
}
