package requisition

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/reqsync/errors"
	"github.com/teranos/reqsync/internal/util"
)

func TestFieldsValidate(t *testing.T) {
	f := Fields{Title: "  Engineer ", Client: "Acme", Slots: 2}
	require.NoError(t, f.Validate())
	assert.Equal(t, StatusOpen, f.Status)
	assert.Equal(t, "Engineer", f.Title)

	bad := Fields{Slots: -1}
	assert.True(t, errors.Is(bad.Validate(), errors.ErrInvalidRequest))

	unknown := Fields{Status: "Archived"}
	assert.True(t, errors.Is(unknown.Validate(), errors.ErrInvalidRequest))
}

func TestApplyIsFieldLevel(t *testing.T) {
	r := openRecord("REQ-1", 2)

	require.NoError(t, r.Apply(Patch{Slots: util.Ptr(5)}))
	assert.Equal(t, 5, r.Slots)
	assert.Equal(t, "Engineer", r.Title)
	assert.Equal(t, "Acme", r.Client)
	assert.Equal(t, StatusOpen, r.Status)

	require.NoError(t, r.Apply(Patch{Title: util.Ptr("Staff Engineer")}))
	assert.Equal(t, "Staff Engineer", r.Title)
	assert.Equal(t, 5, r.Slots)
}

func TestApplyRejectsFrozenFieldsWhileAssigned(t *testing.T) {
	r := openRecord("REQ-100", 2)
	require.NoError(t, r.Assign("A", time.Now()))
	before := r.Clone()

	for name, p := range map[string]Patch{
		"status":     {Status: util.Ptr(StatusClosed)},
		"slots":      {Slots: util.Ptr(0)},
		"same slots": {Slots: util.Ptr(2)},
		"mixed":      {Title: util.Ptr("x"), Status: util.Ptr(StatusOnHold)},
	} {
		err := r.Apply(p)
		assert.True(t, errors.Is(err, errors.ErrLocked), name)
		assert.NotEmpty(t, errors.GetAllHints(err), name)
		assert.Equal(t, before, r, "%s must leave the record unchanged", name)
	}

	require.NoError(t, r.Apply(Patch{Title: util.Ptr("Senior Engineer")}))
	assert.Equal(t, "Senior Engineer", r.Title)
}

func TestApplyValidation(t *testing.T) {
	r := openRecord("REQ-1", 2)

	assert.True(t, errors.Is(r.Apply(Patch{}), errors.ErrInvalidRequest))
	assert.True(t, errors.Is(r.Apply(Patch{Slots: util.Ptr(-3)}), errors.ErrInvalidRequest))
	bogus := Status("Archived")
	assert.True(t, errors.Is(r.Apply(Patch{Status: &bogus}), errors.ErrInvalidRequest))
	assert.Equal(t, 2, r.Slots)
}

func TestPatchColumns(t *testing.T) {
	p := Patch{Title: util.Ptr("x"), Status: util.Ptr(StatusClosed)}
	assert.Equal(t, ColTitle|ColStatus, p.Columns())
	assert.True(t, p.TouchesFrozen())
	assert.False(t, Patch{Client: util.Ptr("y")}.TouchesFrozen())
}

func TestDiff(t *testing.T) {
	r := openRecord("REQ-1", 2)

	p := r.Diff(Fields{Title: "Engineer", Client: "Globex", Slots: 2})
	assert.Nil(t, p.Title)
	assert.Nil(t, p.Slots)
	assert.Nil(t, p.Status)
	require.NotNil(t, p.Client)
	assert.Equal(t, "Globex", *p.Client)

	assert.True(t, r.Diff(Fields{Title: "Engineer", Client: "Acme", Slots: 2}).Empty())
}
