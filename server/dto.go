package server

import (
	"encoding/json"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/teranos/reqsync/errors"
	"github.com/teranos/reqsync/requisition"
)

// validate checks request DTOs. Identifier rules (InvalidId) stay with the
// coordinator; tags here only catch malformed payloads.
var validate = validator.New(validator.WithRequiredStructEnabled())

// IDRequest addresses one requisition (get, delete, clear_editing)
type IDRequest struct {
	ID string `json:"id"`
}

// CreateRequest creates a requisition
type CreateRequest struct {
	ID     string             `json:"id"`
	Title  string             `json:"title" validate:"max=200"`
	Client string             `json:"client" validate:"max=200"`
	Slots  int                `json:"slots" validate:"gte=0"`
	Status requisition.Status `json:"status,omitempty"`
}

// Fields returns the requisition fields the request carries
func (r CreateRequest) Fields() requisition.Fields {
	return requisition.Fields{Title: r.Title, Client: r.Client, Slots: r.Slots, Status: r.Status}
}

// PatchRequest updates fields of one requisition
type PatchRequest struct {
	ID    string            `json:"id"`
	Patch requisition.Patch `json:"patch"`
}

// ToggleRequest starts or stops a recruiter working a requisition
type ToggleRequest struct {
	ID        string `json:"id"`
	Recruiter string `json:"recruiter" validate:"required,max=100"`
}

// EditingRequest marks a field of a requisition as being edited
type EditingRequest struct {
	ID        string `json:"id"`
	Field     string `json:"field" validate:"required,max=64"`
	Recruiter string `json:"recruiter" validate:"required,max=100"`
}

// decodeRequest unmarshals raw into v and validates it. Both failures are
// InvalidRequest.
func decodeRequest(raw []byte, v interface{}) error {
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		if errors.Is(err, errors.ErrInvalidRequest) {
			return err
		}
		return errors.Mark(errors.Wrap(err, "malformed request body"), errors.ErrInvalidRequest)
	}
	return validateRequest(v)
}

func validateRequest(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return errors.Mark(err, errors.ErrInvalidRequest)
	}
	problems := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			problems = append(problems, strings.ToLower(fe.Field())+" fails "+fe.Tag()+"="+fe.Param())
		} else {
			problems = append(problems, strings.ToLower(fe.Field())+" is "+fe.Tag())
		}
	}
	return errors.NewInvalidRequestError("%s", strings.Join(problems, "; "))
}
