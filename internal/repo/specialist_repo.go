// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// Specialist model.
//
// Error semantics:
//   - Duplicate identities are rejected by the unique index
//     ux_specialist_identity and returned as ErrDuplicate.
//   - Missing specialists are returned as ErrNotFound.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-dispatch-backend/internal/domain"
)

// CreateSpecialist inserts sp with a fresh UUID. A second record for the
// same identity yields ErrDuplicate and leaves the first record untouched.
func CreateSpecialist(ctx context.Context, db *gorm.DB, sp *domain.Specialist) error {
	if sp.ID == "" {
		sp.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	sp.CreatedAt = now
	sp.UpdatedAt = now
	if err := db.WithContext(ctx).Create(sp).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetSpecialistByIdentity returns the specialist registered under identity.
func GetSpecialistByIdentity(ctx context.Context, db *gorm.DB, identity string) (*domain.Specialist, error) {
	var sp domain.Specialist
	if err := db.WithContext(ctx).Where("identity = ?", identity).First(&sp).Error; err != nil {
		return nil, err
	}
	return &sp, nil
}

// GetSpecialist returns the specialist with primary key id.
func GetSpecialist(ctx context.Context, db *gorm.DB, id string) (*domain.Specialist, error) {
	var sp domain.Specialist
	if err := db.WithContext(ctx).Where("id = ?", id).First(&sp).Error; err != nil {
		return nil, err
	}
	return &sp, nil
}

// ListActiveSpecialists returns every active specialist whose specialization
// equals spec. When excludeIdentity is non-empty that identity is left out.
// Order is not significant to callers; rows come back by creation time.
func ListActiveSpecialists(ctx context.Context, db *gorm.DB, spec domain.ServiceType, excludeIdentity string) ([]domain.Specialist, error) {
	q := db.WithContext(ctx).
		Where("active = ? AND specialization = ?", true, spec)
	if excludeIdentity != "" {
		q = q.Where("identity <> ?", excludeIdentity)
	}
	var out []domain.Specialist
	err := q.Order("created_at asc").Find(&out).Error
	return out, err
}

// CountSpecialists returns the number of specialists per specialization,
// active ones only.
func CountSpecialists(ctx context.Context, db *gorm.DB) (map[domain.ServiceType]int64, error) {
	var rows []struct {
		Specialization domain.ServiceType
		N              int64
	}
	err := db.WithContext(ctx).
		Model(&domain.Specialist{}).
		Select("specialization, COUNT(*) AS n").
		Where("active = ?", true).
		Group("specialization").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[domain.ServiceType]int64, len(rows))
	for _, r := range rows {
		out[r.Specialization] = r.N
	}
	return out, nil
}
