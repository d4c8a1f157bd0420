package model

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// Decision is the user's answer to an occurrence.
type Decision string

const (
	DecisionTaken   Decision = "taken"
	DecisionSkipped Decision = "skipped"
)

func (d Decision) Valid() bool {
	return d == DecisionTaken || d == DecisionSkipped
}

// IntakeKind distinguishes plain decisions from the two halves of a
// reschedule.
type IntakeKind string

const (
	// KindDecision is a taken/skipped answer.
	KindDecision IntakeKind = "decision"
	// KindMoved marks the original slot of a rescheduled occurrence.
	KindMoved IntakeKind = "moved"
	// KindRescheduled is the pending event at the new slot.
	KindRescheduled IntakeKind = "rescheduled"
)

// IntakeEvent records what happened to one occurrence. Events are
// append-only; only Synced and ServerID change after creation.
type IntakeEvent struct {
	ID                 uint       `gorm:"primaryKey" json:"id"`
	ServerID           *int64     `json:"server_id,omitempty"`
	MedicationID       uint       `gorm:"index;not null" json:"medication_id"`
	MedicationServerID *int64     `json:"medication_server_id,omitempty"`
	Kind               IntakeKind `gorm:"not null;default:decision" json:"kind"`
	PlannedTime        string     `gorm:"not null" json:"planned_time"`
	RecordedAt         time.Time  `gorm:"index;not null" json:"recorded_at"`
	Taken              bool       `gorm:"not null;default:false" json:"taken"`
	Skipped            bool       `gorm:"not null;default:false" json:"skipped"`
	Dose               *float64   `json:"dose,omitempty"`
	Note               string     `json:"note,omitempty"`
	Synced             bool       `gorm:"not null;default:false" json:"synced"`
	CreatedAt          time.Time  `json:"created_at"`
}

var errTakenAndSkipped = errors.New("intake event cannot be both taken and skipped")

// BeforeSave rejects contradictory events and keeps instants in UTC so
// that stored values compare consistently across dialects.
func (e *IntakeEvent) BeforeSave(_ *gorm.DB) error {
	if e.Taken && e.Skipped {
		return errTakenAndSkipped
	}
	e.RecordedAt = e.RecordedAt.UTC()
	return nil
}

// Decision reports the event's decision, if it has one.
func (e IntakeEvent) Decision() (Decision, bool) {
	switch {
	case e.Taken:
		return DecisionTaken, true
	case e.Skipped:
		return DecisionSkipped, true
	}
	return "", false
}

// Occurrence is one derived dose slot. It is never stored.
type Occurrence struct {
	MedicationID uint
	Date         Date
	Time         string
}
