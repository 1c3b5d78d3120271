package models

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// SectionType enumerates the TSA section categories.
type SectionType string

const (
	SectionTypeSquirrels    SectionType = "squirrels"
	SectionTypeBeavers      SectionType = "beavers"
	SectionTypeCubs         SectionType = "cubs"
	SectionTypeScouts       SectionType = "scouts"
	SectionTypeExplorers    SectionType = "explorers"
	SectionTypeNetwork      SectionType = "network"
	SectionTypeYoungLeaders SectionType = "young_leaders"
)

// GroupSectionTypes lists the section types that sit under a group, in age order.
var GroupSectionTypes = []SectionType{
	SectionTypeSquirrels,
	SectionTypeBeavers,
	SectionTypeCubs,
	SectionTypeScouts,
}

// DistrictSectionTypes lists the section types run directly by the district.
var DistrictSectionTypes = []SectionType{
	SectionTypeExplorers,
	SectionTypeNetwork,
	SectionTypeYoungLeaders,
}

var sectionTypeLabels = map[SectionType]string{
	SectionTypeSquirrels:    "Squirrels",
	SectionTypeBeavers:      "Beavers",
	SectionTypeCubs:         "Cubs",
	SectionTypeScouts:       "Scouts",
	SectionTypeExplorers:    "Explorers",
	SectionTypeNetwork:      "Network",
	SectionTypeYoungLeaders: "Young Leaders",
}

// Valid reports whether the section type is known.
func (t SectionType) Valid() bool {
	_, ok := sectionTypeLabels[t]
	return ok
}

// IsDistrictLevel reports whether sections of this type belong to a district rather than a group.
func (t SectionType) IsDistrictLevel() bool {
	switch t {
	case SectionTypeExplorers, SectionTypeNetwork, SectionTypeYoungLeaders:
		return true
	default:
		return false
	}
}

// Label returns the human readable name of the section type.
func (t SectionType) Label() string {
	if label, ok := sectionTypeLabels[t]; ok {
		return label
	}
	return string(t)
}

// Slug returns the section type in a form usable inside an email local-part.
func (t SectionType) Slug() string {
	return strings.ReplaceAll(string(t), "_", "-")
}

// District is the root of the organisational hierarchy.
type District struct {
	BaseModel

	TSAID       string `gorm:"uniqueIndex;not null" json:"tsa_id"`
	Name        string `gorm:"not null" json:"name"`
	MailingSlug string `json:"mailing_slug"`

	Groups   []Group   `gorm:"foreignKey:DistrictID" json:"groups,omitempty"`
	Sections []Section `gorm:"foreignKey:DistrictID" json:"sections,omitempty"`
}

// Group is a scout group inside a district.
type Group struct {
	BaseModel

	TSAID       string `gorm:"uniqueIndex;not null" json:"tsa_id"`
	Name        string `gorm:"not null" json:"name"`
	MailingSlug string `json:"mailing_slug"`
	DistrictID  string `gorm:"size:36;not null;index" json:"district_id"`

	District *District `gorm:"foreignKey:DistrictID" json:"district,omitempty"`
	Sections []Section `gorm:"foreignKey:GroupID" json:"sections,omitempty"`
}

// Section is a single age section, owned either by a group or directly by the district.
type Section struct {
	BaseModel

	TSAID       string      `gorm:"uniqueIndex;not null" json:"tsa_id"`
	Name        string      `gorm:"not null" json:"name"`
	MailingSlug string      `json:"mailing_slug"`
	SectionType SectionType `gorm:"type:varchar(32);not null;index" json:"section_type"`
	DistrictID  *string     `gorm:"size:36;index" json:"district_id"`
	GroupID     *string     `gorm:"size:36;index" json:"group_id"`
}

// BeforeSave enforces the parent/section type pairing.
func (s *Section) BeforeSave(tx *gorm.DB) error {
	return s.Validate()
}

// Validate checks that exactly one parent is set and that it matches the section type.
func (s *Section) Validate() error {
	if !s.SectionType.Valid() {
		return fmt.Errorf("section: invalid section type %q", s.SectionType)
	}

	hasDistrict := s.DistrictID != nil && strings.TrimSpace(*s.DistrictID) != ""
	hasGroup := s.GroupID != nil && strings.TrimSpace(*s.GroupID) != ""

	switch {
	case hasDistrict == hasGroup:
		return errors.New("section: exactly one of district_id or group_id is required")
	case s.SectionType.IsDistrictLevel() && !hasDistrict:
		return fmt.Errorf("section: %s sections must belong to a district", s.SectionType)
	case !s.SectionType.IsDistrictLevel() && !hasGroup:
		return fmt.Errorf("section: %s sections must belong to a group", s.SectionType)
	}
	return nil
}
