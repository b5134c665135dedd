// Package requisition defines the requisition record and the pure rules that
// govern it: id normalization, workability, field-level patches and the
// assignment invariants. It holds no locks and does no I/O.
package requisition

import (
	"encoding/json"
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/teranos/reqsync/errors"
)

// MaxRecruiters is the number of recruiters that may work one requisition.
const MaxRecruiters = 2

// Status is the lifecycle state of a requisition.
type Status string

const (
	StatusOpen      Status = "Open"
	StatusClosed    Status = "Closed"
	StatusOnHold    Status = "OnHold"
	StatusFilled    Status = "Filled"
	StatusCancelled Status = "Cancelled"
)

// Statuses lists every valid status in display order.
var Statuses = []Status{StatusOpen, StatusClosed, StatusOnHold, StatusFilled, StatusCancelled}

// ParseStatus accepts any casing plus on_hold / on-hold spellings.
func ParseStatus(s string) (Status, error) {
	key := strings.ToLower(strings.NewReplacer("_", "", "-", "", " ", "").Replace(s))
	for _, st := range Statuses {
		if strings.ToLower(string(st)) == key {
			return st, nil
		}
	}
	return "", errors.NewInvalidRequestError("unknown status %q", s)
}

// Valid reports whether s is one of Statuses.
func (s Status) Valid() bool {
	return slices.Contains(Statuses, s)
}

// UnmarshalJSON parses leniently through ParseStatus.
func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	st, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// Record is one requisition. Values handed out by the coordinator are
// copies; mutating them has no effect on the authoritative store.
type Record struct {
	ID                 string               `json:"id" yaml:"id"`
	Title              string               `json:"title" yaml:"title"`
	Client             string               `json:"client" yaml:"client"`
	Slots              int                  `json:"slots" yaml:"slots"`
	Status             Status               `json:"status" yaml:"status"`
	AssignedRecruiters []string             `json:"assigned_recruiters" yaml:"-"`
	WorkingTimes       map[string]time.Time `json:"working_times" yaml:"-"`
	CreatedAt          time.Time            `json:"created_at" yaml:"-"`
	UpdatedAt          time.Time            `json:"updated_at" yaml:"-"`
	Version            uint64               `json:"version" yaml:"-"`
}

// NormalizeID strips every whitespace rune, not only the ends, so "REQ 1"
// and "REQ1" name the same record.
func NormalizeID(id string) (string, error) {
	normalized := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, id)
	if normalized == "" {
		return "", errors.Wrapf(errors.ErrInvalidID, "id %q is empty after removing whitespace", id)
	}
	return normalized, nil
}

// NormalizeRecruiter trims a display name. Names are self-asserted and not
// unique; only emptiness is rejected.
func NormalizeRecruiter(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", errors.NewInvalidRequestError("recruiter name is required")
	}
	return trimmed, nil
}

// Workable reports whether recruiters may start working the record.
func (r *Record) Workable() bool {
	return r.Status == StatusOpen && r.Slots > 0
}

// IsAssigned reports whether recruiter is working the record.
func (r *Record) IsAssigned(recruiter string) bool {
	return slices.Contains(r.AssignedRecruiters, recruiter)
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.AssignedRecruiters = slices.Clone(r.AssignedRecruiters)
	if c.AssignedRecruiters == nil {
		c.AssignedRecruiters = []string{}
	}
	c.WorkingTimes = make(map[string]time.Time, len(r.WorkingTimes))
	for k, v := range r.WorkingTimes {
		c.WorkingTimes[k] = v
	}
	return &c
}

// Assign appends recruiter and stamps its start time. Callers check
// workability and capacity first; Assign only guards the hard invariants.
func (r *Record) Assign(recruiter string, at time.Time) error {
	if r.IsAssigned(recruiter) {
		return errors.AssertionFailedf("recruiter %q already assigned to %s", recruiter, r.ID)
	}
	if len(r.AssignedRecruiters) >= MaxRecruiters {
		return errors.WithHint(
			errors.Wrapf(errors.ErrCapacityExceeded, "requisition %s already has %d recruiters", r.ID, MaxRecruiters),
			"wait for a recruiter to stop working it",
		)
	}
	if r.WorkingTimes == nil {
		r.WorkingTimes = make(map[string]time.Time)
	}
	r.AssignedRecruiters = append(r.AssignedRecruiters, recruiter)
	r.WorkingTimes[recruiter] = at
	return nil
}

// Unassign removes recruiter and its working time. It reports whether the
// recruiter was assigned.
func (r *Record) Unassign(recruiter string) bool {
	i := slices.Index(r.AssignedRecruiters, recruiter)
	if i < 0 {
		return false
	}
	r.AssignedRecruiters = slices.Delete(r.AssignedRecruiters, i, i+1)
	delete(r.WorkingTimes, recruiter)
	return true
}

// CheckInvariants verifies the assignment invariants that must hold in every
// committed state.
func (r *Record) CheckInvariants() error {
	if len(r.AssignedRecruiters) > MaxRecruiters {
		return errors.AssertionFailedf("%s has %d recruiters", r.ID, len(r.AssignedRecruiters))
	}
	if len(r.AssignedRecruiters) != len(r.WorkingTimes) {
		return errors.AssertionFailedf("%s: %d recruiters but %d working times", r.ID, len(r.AssignedRecruiters), len(r.WorkingTimes))
	}
	for _, name := range r.AssignedRecruiters {
		if _, ok := r.WorkingTimes[name]; !ok {
			return errors.AssertionFailedf("%s: recruiter %q has no working time", r.ID, name)
		}
	}
	if !r.Workable() && len(r.AssignedRecruiters) > 0 {
		return errors.AssertionFailedf("%s is not workable but has recruiters", r.ID)
	}
	return nil
}
