// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file stores registration dialogue sessions keyed by
// channel identity.
//
// Step advances are conditional on the current step so two answers racing
// for the same identity cannot both apply.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-dispatch-backend/internal/domain"
)

// StartSession opens (or restarts) the dialogue for identity at StepName.
// Any previous partial answers are discarded.
func StartSession(ctx context.Context, db *gorm.DB, identity string, ttl time.Duration) (*domain.DialogueSession, error) {
	now := time.Now().UTC()
	s := &domain.DialogueSession{
		Identity:  identity,
		Step:      domain.StepName,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	err := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "identity"}},
			UpdateAll: true,
		}).
		Create(s).Error
	if err != nil {
		return nil, err
	}
	return s, nil
}

// GetSession returns the live session for identity. Missing and expired
// sessions both yield ErrNotFound.
func GetSession(ctx context.Context, db *gorm.DB, identity string, now time.Time) (*domain.DialogueSession, error) {
	var s domain.DialogueSession
	err := db.WithContext(ctx).
		Where("identity = ? AND expires_at > ?", identity, now.UTC()).
		First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// AdvanceSession applies next to the session for identity only if it is
// still at step from. It returns false when another answer got there first
// (or the session vanished).
func AdvanceSession(ctx context.Context, db *gorm.DB, identity string, from domain.DialogueStep, next *domain.DialogueSession, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	res := db.WithContext(ctx).
		Model(&domain.DialogueSession{}).
		Where("identity = ? AND step = ?", identity, from).
		Select("step", "name", "specialization", "districts", "updated_at", "expires_at").
		Updates(&domain.DialogueSession{
			Step:           next.Step,
			Name:           next.Name,
			Specialization: next.Specialization,
			Districts:      next.Districts,
			UpdatedAt:      now,
			ExpiresAt:      now.Add(ttl),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// DeleteSession removes the dialogue state for identity. Deleting a missing
// session is not an error.
func DeleteSession(ctx context.Context, db *gorm.DB, identity string) error {
	return db.WithContext(ctx).
		Where("identity = ?", identity).
		Delete(&domain.DialogueSession{}).Error
}

// PurgeExpiredSessions deletes sessions whose ExpiresAt is at or before now
// and returns how many were removed.
func PurgeExpiredSessions(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("expires_at <= ?", now.UTC()).
		Delete(&domain.DialogueSession{})
	return res.RowsAffected, res.Error
}
