package coord

import (
	"sort"
	"sync"

	"github.com/teranos/reqsync/requisition"
)

// recordCache is the in-memory authoritative copy of every record.
// Committed records are never mutated in place: a commit swaps in a new
// value, so readers holding an old pointer see a consistent record.
type recordCache struct {
	mu      sync.RWMutex
	records map[string]*requisition.Record
}

func newRecordCache() *recordCache {
	return &recordCache{records: make(map[string]*requisition.Record)}
}

// get returns the committed record. Callers must not modify it.
func (c *recordCache) get(id string) (*requisition.Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.records[id]
	return rec, ok
}

func (c *recordCache) put(rec *requisition.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records[rec.ID] = rec
}

func (c *recordCache) remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.records, id)
}

// list returns copies sorted by id
func (c *recordCache) list() []*requisition.Record {
	c.mu.RLock()
	out := make([]*requisition.Record, 0, len(c.records))
	for _, rec := range c.records {
		out = append(out, rec.Clone())
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (c *recordCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

// recruiterIndex maps each working recruiter to the one record they work.
// Toggles update it while holding the recruiter's lock; deletes clear it
// while holding the deleted record's lock.
type recruiterIndex struct {
	mu      sync.Mutex
	working map[string]string
}

func newRecruiterIndex() *recruiterIndex {
	return &recruiterIndex{working: make(map[string]string)}
}

func (x *recruiterIndex) get(recruiter string) string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.working[recruiter]
}

func (x *recruiterIndex) set(recruiter, recordID string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.working[recruiter] = recordID
	getMetrics().assignments.Set(float64(len(x.working)))
}

// clearIf removes recruiter only while it still points at recordID
func (x *recruiterIndex) clearIf(recruiter, recordID string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.working[recruiter] == recordID {
		delete(x.working, recruiter)
	}
	getMetrics().assignments.Set(float64(len(x.working)))
}

func (x *recruiterIndex) len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.working)
}
