package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"medremind/internal/model"
)

// triggerRecord is the stored form of a scheduled trigger.
type triggerRecord struct {
	Handle       string     `gorm:"primaryKey"`
	Title        string     `gorm:"not null"`
	Body         string     `gorm:"not null"`
	FireAt       time.Time  `gorm:"index;not null"`
	MedicationID uint       `gorm:"index;not null"`
	Time         string     `gorm:"not null"`
	Date         model.Date `gorm:"not null"`
	CreatedAt    time.Time
}

func (triggerRecord) TableName() string { return "scheduled_triggers" }

func (r triggerRecord) trigger() model.Trigger {
	return model.Trigger{
		Handle: r.Handle,
		Title:  r.Title,
		Body:   r.Body,
		FireAt: r.FireAt.UTC(),
		Correlation: model.Correlation{
			MedicationID: r.MedicationID,
			Time:         r.Time,
			Date:         r.Date,
		},
	}
}

// Persistent keeps triggers in the local database so they survive a
// restart of the agent. A Dispatcher delivers them when due.
type Persistent struct {
	db *gorm.DB
}

// NewPersistent migrates the trigger table and returns the service.
func NewPersistent(db *gorm.DB) (*Persistent, error) {
	if err := db.AutoMigrate(&triggerRecord{}); err != nil {
		return nil, fmt.Errorf("migrating scheduled_triggers: %w", err)
	}
	return &Persistent{db: db}, nil
}

func (p *Persistent) ScheduleAt(ctx context.Context, at time.Time, title, body string, data model.Correlation) (string, error) {
	rec := triggerRecord{
		Handle:       uuid.NewString(),
		Title:        title,
		Body:         body,
		FireAt:       at.UTC(),
		MedicationID: data.MedicationID,
		Time:         data.Time,
		Date:         data.Date,
	}
	if err := p.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return "", fmt.Errorf("scheduling trigger: %w", err)
	}
	return rec.Handle, nil
}

func (p *Persistent) CancelAll(ctx context.Context) error {
	if err := p.db.WithContext(ctx).Where("1 = 1").Delete(&triggerRecord{}).Error; err != nil {
		return fmt.Errorf("cancelling triggers: %w", err)
	}
	return nil
}

func (p *Persistent) ListScheduled(ctx context.Context) ([]model.Trigger, error) {
	var recs []triggerRecord
	if err := p.db.WithContext(ctx).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("listing triggers: %w", err)
	}
	out := make([]model.Trigger, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.trigger())
	}
	sortTriggers(out)
	return out, nil
}

// remove drops a single trigger once it has been handled.
func (p *Persistent) remove(ctx context.Context, handle string) error {
	return p.db.WithContext(ctx).Delete(&triggerRecord{}, "handle = ?", handle).Error
}
