// Package store is the local record store: medications and their intake
// events.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"medremind/internal/model"
)

var ErrNotFound = errors.New("store: not found")

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) CreateMedication(ctx context.Context, m *model.Medication) error {
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("creating medication: %w", err)
	}
	return nil
}

func (s *Store) GetMedication(ctx context.Context, id uint) (*model.Medication, error) {
	var m model.Medication
	err := s.db.WithContext(ctx).First(&m, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting medication %d: %w", id, err)
	}
	return &m, nil
}

func (s *Store) ListMedications(ctx context.Context) ([]model.Medication, error) {
	var meds []model.Medication
	if err := s.db.WithContext(ctx).Order("id").Find(&meds).Error; err != nil {
		return nil, fmt.Errorf("listing medications: %w", err)
	}
	return meds, nil
}

func (s *Store) UpdateMedication(ctx context.Context, m *model.Medication) error {
	res := s.db.WithContext(ctx).Model(&model.Medication{}).Where("id = ?", m.ID).Select("*").Omit("id", "created_at").Updates(m)
	if res.Error != nil {
		return fmt.Errorf("updating medication %d: %w", m.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteMedication removes the medication and, in the same transaction,
// every intake event that references it.
func (s *Store) DeleteMedication(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("medication_id = ?", id).Delete(&model.IntakeEvent{}).Error; err != nil {
			return fmt.Errorf("deleting intake events of medication %d: %w", id, err)
		}
		res := tx.Delete(&model.Medication{}, id)
		if res.Error != nil {
			return fmt.Errorf("deleting medication %d: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// CreateIntakes writes all events atomically.
func (s *Store) CreateIntakes(ctx context.Context, events ...*model.IntakeEvent) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, e := range events {
			if err := tx.Create(e).Error; err != nil {
				return fmt.Errorf("creating intake event: %w", err)
			}
		}
		return nil
	})
}

// ListIntakes returns the events of one medication ordered by recorded
// instant, then id.
func (s *Store) ListIntakes(ctx context.Context, medicationID uint) ([]model.IntakeEvent, error) {
	var events []model.IntakeEvent
	err := s.db.WithContext(ctx).Where("medication_id = ?", medicationID).
		Order("recorded_at, id").Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("listing intake events of medication %d: %w", medicationID, err)
	}
	return events, nil
}

func (s *Store) MarkIntakeSynced(ctx context.Context, id uint, serverID *int64) error {
	updates := map[string]any{"synced": true}
	if serverID != nil {
		updates["server_id"] = *serverID
	}
	if err := s.db.WithContext(ctx).Model(&model.IntakeEvent{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return fmt.Errorf("marking intake %d synced: %w", id, err)
	}
	return nil
}

// DeleteFutureIntakes removes the events of a medication recorded after
// now (pending reschedules). It returns how many were removed.
func (s *Store) DeleteFutureIntakes(ctx context.Context, medicationID uint, now time.Time) (int, error) {
	events, err := s.ListIntakes(ctx, medicationID)
	if err != nil {
		return 0, err
	}

	var ids []uint
	for _, e := range events {
		if e.RecordedAt.After(now) {
			ids = append(ids, e.ID)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if err := s.db.WithContext(ctx).Delete(&model.IntakeEvent{}, ids).Error; err != nil {
		return 0, fmt.Errorf("deleting future intake events of medication %d: %w", medicationID, err)
	}
	return len(ids), nil
}

// PendingReschedules returns reschedule targets that have not happened yet.
func (s *Store) PendingReschedules(ctx context.Context, now time.Time) ([]model.IntakeEvent, error) {
	var events []model.IntakeEvent
	err := s.db.WithContext(ctx).Where("kind = ?", model.KindRescheduled).
		Order("recorded_at, id").Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("listing reschedules: %w", err)
	}

	out := events[:0]
	for _, e := range events {
		if e.RecordedAt.After(now) {
			out = append(out, e)
		}
	}
	return out, nil
}

// UnsyncedIntakes returns decisions not yet pushed to the sync service.
func (s *Store) UnsyncedIntakes(ctx context.Context) ([]model.IntakeEvent, error) {
	var events []model.IntakeEvent
	err := s.db.WithContext(ctx).Where("synced = ? AND kind = ?", false, model.KindDecision).
		Order("id").Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("listing unsynced intake events: %w", err)
	}
	return events, nil
}
