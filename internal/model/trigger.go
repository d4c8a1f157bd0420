package model

import (
	"strconv"
	"time"
)

// Correlation is embedded in every scheduled trigger so that a delivered or
// opened notification can be matched back to its occurrence.
type Correlation struct {
	MedicationID uint   `json:"medication_id"`
	Time         string `json:"time"`
	Date         Date   `json:"date"`
}

// Map flattens the correlation into string key/values, the shape push
// payloads accept.
func (c Correlation) Map() map[string]string {
	return map[string]string{
		"medication_id": strconv.FormatUint(uint64(c.MedicationID), 10),
		"time":          c.Time,
		"date":          c.Date.String(),
	}
}

// CorrelationFromMap is the inverse of Map.
func CorrelationFromMap(m map[string]string) (Correlation, error) {
	id, err := strconv.ParseUint(m["medication_id"], 10, 64)
	if err != nil {
		return Correlation{}, err
	}
	d, err := ParseDate(m["date"])
	if err != nil {
		return Correlation{}, err
	}
	return Correlation{MedicationID: uint(id), Time: m["time"], Date: d}, nil
}

// Trigger is a reminder currently held by the notification service.
type Trigger struct {
	Handle      string      `json:"handle"`
	Title       string      `json:"title"`
	Body        string      `json:"body"`
	FireAt      time.Time   `json:"fire_at"`
	Correlation Correlation `json:"correlation"`
}

// Status is the display state of a medication on a day.
type Status string

const (
	StatusPending Status = "pending"
	StatusTaken   Status = "taken"
	StatusSkipped Status = "skipped"
)

// DayStatus is the resolved state plus the local HH:MM of the deciding
// event. Time is empty when nothing was decided.
type DayStatus struct {
	Status Status `json:"status"`
	Time   string `json:"time,omitempty"`
}
