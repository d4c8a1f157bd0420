package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Form is the dosage form of a medication.
type Form string

const (
	FormTablet Form = "tablet"
	FormDrop   Form = "drop"
	FormSpray  Form = "spray"
	FormOther  Form = "other"
)

func (f Form) Valid() bool {
	switch f {
	case FormTablet, FormDrop, FormSpray, FormOther:
		return true
	}
	return false
}

// Label is the human readable form used in reminder bodies.
func (f Form) Label() string {
	switch f {
	case FormTablet:
		return "Tablet"
	case FormDrop:
		return "Drops"
	case FormSpray:
		return "Spray"
	default:
		return "Dose"
	}
}

// Medication is a locally stored medication with its dosing schedule.
// ServerID is set for records the sync service knows about (either pushed
// from here or pulled from a linked patient).
type Medication struct {
	ID           uint                        `gorm:"primaryKey" json:"id"`
	ServerID     *int64                      `gorm:"index" json:"server_id,omitempty"`
	Name         string                      `gorm:"not null" json:"name"`
	Form         Form                        `gorm:"not null;default:tablet" json:"form"`
	Instructions string                      `json:"instructions,omitempty"`
	StartDate    Date                        `gorm:"not null" json:"start_date"`
	EndDate      *Date                       `json:"end_date,omitempty"`
	Rule         Rule                        `gorm:"not null" json:"rule"`
	Times        datatypes.JSONSlice[string] `gorm:"not null" json:"times"`
	Synced       bool                        `gorm:"not null;default:false" json:"synced"`
	CreatedAt    time.Time                   `json:"created_at"`
	UpdatedAt    time.Time                   `json:"updated_at"`
}

// Validate enforces the invariants every stored medication must satisfy.
// It is called at the create/edit boundary only; the scheduling code
// tolerates bad persisted data instead of re-validating.
func (m *Medication) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if !m.Form.Valid() {
		return fmt.Errorf("%w: unknown form %q", ErrInvalid, m.Form)
	}
	if m.StartDate.IsZero() {
		return fmt.Errorf("%w: start date is required", ErrInvalid)
	}
	if m.EndDate != nil && m.EndDate.Before(m.StartDate) {
		return fmt.Errorf("%w: end date %s is before start date %s", ErrInvalid, m.EndDate, m.StartDate)
	}
	if len(m.Times) == 0 {
		return fmt.Errorf("%w: at least one time of day is required", ErrInvalid)
	}
	seen := make(map[string]bool, len(m.Times))
	for _, t := range m.Times {
		if _, _, err := ParseTimeOfDay(t); err != nil {
			return err
		}
		if seen[t] {
			return fmt.Errorf("%w: duplicate time %q", ErrInvalid, t)
		}
		seen[t] = true
	}
	return m.Rule.Validate()
}

// ParseTimeOfDay parses a strict 24-hour "HH:MM" string.
func ParseTimeOfDay(s string) (hour, minute int, err error) {
	if len(s) != 5 || s[2] != ':' {
		return 0, 0, fmt.Errorf("%w: time %q is not HH:MM", ErrInvalid, s)
	}
	for _, i := range []int{0, 1, 3, 4} {
		if s[i] < '0' || s[i] > '9' {
			return 0, 0, fmt.Errorf("%w: time %q is not HH:MM", ErrInvalid, s)
		}
	}
	hour, _ = strconv.Atoi(s[:2])
	minute, _ = strconv.Atoi(s[3:])
	if hour > 23 || minute > 59 {
		return 0, 0, fmt.Errorf("%w: time %q out of range", ErrInvalid, s)
	}
	return hour, minute, nil
}
