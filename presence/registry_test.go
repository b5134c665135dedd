package presence

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry() *Registry {
	r := NewRegistry()
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r.now = func() time.Time { return fixed }
	return r
}

func TestSet_ReplacesAcrossFields(t *testing.T) {
	r := newTestRegistry()

	m, changed := r.Set("c1", "REQ1", "title", "alice")
	require.True(t, changed)
	assert.Equal(t, "alice", m.Recruiter)

	m, changed = r.Set("c2", "REQ1", "client", "bob")
	require.True(t, changed, "last caller wins even on another field")
	assert.Equal(t, "client", m.Field)

	got, ok := r.Get("REQ1")
	require.True(t, ok)
	assert.Equal(t, "bob", got.Recruiter)
	assert.Equal(t, 1, r.Len())

	// alice's connection no longer owns anything
	assert.Empty(t, r.ClearAllFor("c1"))
	_, ok = r.Get("REQ1")
	assert.True(t, ok)
}

func TestSet_SameMarkerIsNoChange(t *testing.T) {
	r := newTestRegistry()
	r.Set("c1", "REQ1", "title", "alice")
	_, changed := r.Set("c1", "REQ1", "title", "alice")
	assert.False(t, changed)
}

func TestClear(t *testing.T) {
	r := newTestRegistry()
	r.Set("c1", "REQ1", "title", "alice")

	m, ok := r.Clear("REQ1")
	require.True(t, ok)
	assert.Equal(t, "title", m.Field)

	_, ok = r.Clear("REQ1")
	assert.False(t, ok)
	assert.Empty(t, r.ClearAllFor("c1"))
}

func TestClearAllFor(t *testing.T) {
	r := newTestRegistry()
	r.Set("c1", "B", "title", "alice")
	r.Set("c1", "A", "slots", "alice")
	r.Set("c2", "C", "title", "bob")

	cleared := r.ClearAllFor("c1")
	require.Len(t, cleared, 2)
	assert.Equal(t, "A", cleared[0].RecordID)
	assert.Equal(t, "B", cleared[1].RecordID)

	snap := r.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "C", snap[0].RecordID)
}

func TestConcurrentUse(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn := fmt.Sprintf("c%d", i%5)
			rec := fmt.Sprintf("R%d", i%7)
			r.Set(conn, rec, "title", conn)
			if i%3 == 0 {
				r.Clear(rec)
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < 5; i++ {
		r.ClearAllFor(fmt.Sprintf("c%d", i))
	}
	assert.Equal(t, 0, r.Len(), "no marker outlives its connection")
}

func TestClearOwned(t *testing.T) {
	r := newTestRegistry()
	r.Set("c1", "REQ1", "title", "alice")

	_, ok := r.ClearOwned("c2", "REQ1")
	assert.False(t, ok, "another connection's marker stays")
	assert.Equal(t, 1, r.Len())

	m, ok := r.ClearOwned("c1", "REQ1")
	require.True(t, ok)
	assert.Equal(t, "alice", m.Recruiter)
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.ClearAllFor("c1"))
}

func TestExpire(t *testing.T) {
	r := NewRegistry()
	now := time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	r.Set("http:10.0.0.1", "REQ1", "title", "alice")
	r.Set("ws-1", "REQ2", "title", "bob")
	now = now.Add(time.Minute)
	r.Set("http:10.0.0.2", "REQ3", "client", "cy")

	expired := r.Expire("http:", now)
	require.Len(t, expired, 1)
	assert.Equal(t, "REQ1", expired[0].RecordID)

	_, ok := r.Get("REQ2")
	assert.True(t, ok, "markers of other owners are not expired")
	_, ok = r.Get("REQ3")
	assert.True(t, ok, "fresh marker kept")

	// refreshing keeps a marker alive
	now = now.Add(time.Minute)
	_, changed := r.Set("http:10.0.0.2", "REQ3", "client", "cy")
	assert.False(t, changed)
	assert.Empty(t, r.Expire("http:", now.Add(-time.Second)))
}
