package requisition

import (
	"strings"

	"github.com/teranos/reqsync/errors"
)

// Fields are the caller-supplied attributes of a new requisition.
type Fields struct {
	Title  string `json:"title" yaml:"title"`
	Client string `json:"client" yaml:"client"`
	Slots  int    `json:"slots" yaml:"slots"`
	Status Status `json:"status,omitempty" yaml:"status"`
}

// Validate rejects negative slots and unknown statuses. An empty status
// defaults to Open.
func (f *Fields) Validate() error {
	if f.Slots < 0 {
		return errors.NewInvalidRequestError("slots must be >= 0, got %d", f.Slots)
	}
	if f.Status == "" {
		f.Status = StatusOpen
	}
	if !f.Status.Valid() {
		return errors.NewInvalidRequestError("unknown status %q", f.Status)
	}
	f.Title = strings.TrimSpace(f.Title)
	f.Client = strings.TrimSpace(f.Client)
	return nil
}

// Patch is a sparse field-level update; nil fields are left untouched.
type Patch struct {
	Title  *string `json:"title,omitempty"`
	Client *string `json:"client,omitempty"`
	Slots  *int    `json:"slots,omitempty"`
	Status *Status `json:"status,omitempty"`
}

// Column flags name which persisted columns a change touches.
type Column uint8

const (
	ColTitle Column = 1 << iota
	ColClient
	ColSlots
	ColStatus
	ColAssignment
)

// Empty reports whether the patch names no field.
func (p Patch) Empty() bool {
	return p.Title == nil && p.Client == nil && p.Slots == nil && p.Status == nil
}

// TouchesFrozen reports whether the patch names status or slots.
func (p Patch) TouchesFrozen() bool {
	return p.Slots != nil || p.Status != nil
}

// Columns returns the column set the patch writes.
func (p Patch) Columns() Column {
	var cols Column
	if p.Title != nil {
		cols |= ColTitle
	}
	if p.Client != nil {
		cols |= ColClient
	}
	if p.Slots != nil {
		cols |= ColSlots
	}
	if p.Status != nil {
		cols |= ColStatus
	}
	return cols
}

// Validate checks the values the patch carries.
func (p Patch) Validate() error {
	if p.Empty() {
		return errors.NewInvalidRequestError("patch names no fields")
	}
	if p.Slots != nil && *p.Slots < 0 {
		return errors.NewInvalidRequestError("slots must be >= 0, got %d", *p.Slots)
	}
	if p.Status != nil && !p.Status.Valid() {
		return errors.NewInvalidRequestError("unknown status %q", *p.Status)
	}
	return nil
}

// Apply writes the patch onto r. Status and slots are frozen while anyone is
// assigned; such a patch fails with ErrLocked and leaves r unchanged. This is
// also the only way a record can become non-workable, so a transition away
// from workable is always rejected while recruiters are assigned.
func (r *Record) Apply(p Patch) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.TouchesFrozen() && len(r.AssignedRecruiters) > 0 {
		return errors.WithHint(
			errors.Wrapf(errors.ErrLocked, "status and slots of %s are frozen while %s working it",
				r.ID, strings.Join(r.AssignedRecruiters, ", ")),
			"all recruiters must stop working the requisition first",
		)
	}
	if p.Title != nil {
		r.Title = strings.TrimSpace(*p.Title)
	}
	if p.Client != nil {
		r.Client = strings.TrimSpace(*p.Client)
	}
	if p.Slots != nil {
		r.Slots = *p.Slots
	}
	if p.Status != nil {
		r.Status = *p.Status
	}
	return nil
}

// Diff returns the patch that turns r's editable fields into f. Used by seed
// import to send only what changed.
func (r *Record) Diff(f Fields) Patch {
	var p Patch
	if title := strings.TrimSpace(f.Title); title != r.Title {
		p.Title = &title
	}
	if client := strings.TrimSpace(f.Client); client != r.Client {
		p.Client = &client
	}
	if f.Slots != r.Slots {
		slots := f.Slots
		p.Slots = &slots
	}
	if f.Status != "" && f.Status != r.Status {
		status := f.Status
		p.Status = &status
	}
	return p
}
