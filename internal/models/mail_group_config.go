package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/districtscouts/roster/pkg/validator"
)

// UnitKind discriminates the variants of UnitRef.
type UnitKind string

const (
	UnitKindDistrict UnitKind = "district"
	UnitKindGroup    UnitKind = "group"
	UnitKindSection  UnitKind = "section"
)

// UnitRef points at a district, group or section. The interface is sealed; the only
// implementations are DistrictRef, GroupRef and SectionRef.
type UnitRef interface {
	Kind() UnitKind
	UnitID() string
	isUnitRef()
}

// DistrictRef references a district by id.
type DistrictRef struct{ ID string }

// GroupRef references a group by id.
type GroupRef struct{ ID string }

// SectionRef references a section by id.
type SectionRef struct{ ID string }

func (DistrictRef) Kind() UnitKind { return UnitKindDistrict }
func (GroupRef) Kind() UnitKind    { return UnitKindGroup }
func (SectionRef) Kind() UnitKind  { return UnitKindSection }

func (r DistrictRef) UnitID() string { return r.ID }
func (r GroupRef) UnitID() string    { return r.ID }
func (r SectionRef) UnitID() string  { return r.ID }

func (DistrictRef) isUnitRef() {}
func (GroupRef) isUnitRef()    {}
func (SectionRef) isUnitRef()  {}

// NewUnitRef builds the variant for kind.
func NewUnitRef(kind UnitKind, id string) (UnitRef, error) {
	switch kind {
	case UnitKindDistrict:
		return DistrictRef{ID: id}, nil
	case UnitKindGroup:
		return GroupRef{ID: id}, nil
	case UnitKindSection:
		return SectionRef{ID: id}, nil
	default:
		return nil, fmt.Errorf("unit ref: unknown type %q", kind)
	}
}

// SameUnit reports whether two refs point at the same unit.
func SameUnit(a, b UnitRef) bool {
	if a == nil || b == nil {
		return false
	}
	return a.Kind() == b.Kind() && a.UnitID() == b.UnitID()
}

// MailGroupConfig declares which roles make up a mailing group. The zero value selects
// every role in the system.
type MailGroupConfig struct {
	RoleTypeID       *string
	TeamTypeID       *string
	IncludeSubTeams  bool
	IsAllMembersList bool
	Units            []UnitRef
}

type mailGroupConfigJSON struct {
	RoleTypeID       *string       `json:"role_type_id,omitempty"`
	TeamTypeID       *string       `json:"team_type_id,omitempty"`
	IncludeSubTeams  bool          `json:"include_sub_teams"`
	IsAllMembersList bool          `json:"is_all_members_list"`
	Units            []unitRefJSON `json:"units,omitempty"`
}

type unitRefJSON struct {
	Type   UnitKind `json:"type" validate:"required,oneof=district group section"`
	UnitID string   `json:"unit_id" validate:"required"`
}

// MarshalJSON renders the persisted payload shape.
func (c MailGroupConfig) MarshalJSON() ([]byte, error) {
	payload := mailGroupConfigJSON{
		RoleTypeID:       c.RoleTypeID,
		TeamTypeID:       c.TeamTypeID,
		IncludeSubTeams:  c.IncludeSubTeams,
		IsAllMembersList: c.IsAllMembersList,
	}
	for _, unit := range c.Units {
		if unit == nil {
			return nil, errors.New("mail group config: nil unit ref")
		}
		payload.Units = append(payload.Units, unitRefJSON{Type: unit.Kind(), UnitID: unit.UnitID()})
	}
	return json.Marshal(payload)
}

// UnmarshalJSON decodes the persisted payload, rejecting unknown unit types.
func (c *MailGroupConfig) UnmarshalJSON(data []byte) error {
	var payload mailGroupConfigJSON
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&payload); err != nil {
		return fmt.Errorf("mail group config: decode: %w", err)
	}

	cfg := MailGroupConfig{
		RoleTypeID:       normaliseOptionalID(payload.RoleTypeID),
		TeamTypeID:       normaliseOptionalID(payload.TeamTypeID),
		IncludeSubTeams:  payload.IncludeSubTeams,
		IsAllMembersList: payload.IsAllMembersList,
	}
	for _, raw := range payload.Units {
		if err := validator.ValidateStruct(raw); err != nil {
			return fmt.Errorf("mail group config: unit: %w", err)
		}
		ref, err := NewUnitRef(raw.Type, raw.UnitID)
		if err != nil {
			return fmt.Errorf("mail group config: %w", err)
		}
		cfg.Units = append(cfg.Units, ref)
	}

	*c = cfg
	return nil
}

// Validate checks ids are non-blank and unit refs are complete.
func (c MailGroupConfig) Validate() error {
	if c.RoleTypeID != nil && strings.TrimSpace(*c.RoleTypeID) == "" {
		return errors.New("mail group config: role_type_id is blank")
	}
	if c.TeamTypeID != nil && strings.TrimSpace(*c.TeamTypeID) == "" {
		return errors.New("mail group config: team_type_id is blank")
	}
	for i, unit := range c.Units {
		if unit == nil {
			return fmt.Errorf("mail group config: units[%d] is nil", i)
		}
		if err := validator.ValidateStruct(unitRefJSON{Type: unit.Kind(), UnitID: unit.UnitID()}); err != nil {
			return fmt.Errorf("mail group config: units[%d]: %w", i, err)
		}
	}
	return nil
}

// Equal compares two configs by their persisted form.
func (c MailGroupConfig) Equal(other MailGroupConfig) bool {
	a, errA := json.Marshal(c)
	b, errB := json.Marshal(other)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(a, b)
}

func normaliseOptionalID(id *string) *string {
	if id == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*id)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

// StringPtr returns a pointer to value.
func StringPtr(value string) *string {
	return &value
}
