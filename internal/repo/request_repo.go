// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Request
// model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations. They
// follow the "thin repository" approach: no business logic, only persistence
// and query composition.
//
// Error semantics:
//   - When a request is not found, functions return ErrNotFound
//     (gorm.ErrRecordNotFound).
//   - On DB errors the raw gorm error is propagated.
//
// Functions:
//
//   - CreateRequest(ctx, db, r) -> error
//     Inserts a new Request with a UUID primary key and status "new".
//
//   - GetRequest(ctx, db, id) -> *domain.Request, error
//
//   - ClaimRequest(ctx, db, id, specialistID, at) -> (bool, error)
//     The conditional "new -> accepted" update. The boolean is the only
//     signal of who won; callers must not read the row first to decide.
//
//   - CountRequests / ListRequestsPage
//     Filtered, paginated listing ordered by creation time descending.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-dispatch-backend/internal/domain"
)

// CreateRequest inserts r as a new request. ID, Status and CreatedAt are
// assigned here; any specialist reference on r is cleared so the
// "specialist iff accepted" invariant holds from the first write.
func CreateRequest(ctx context.Context, db *gorm.DB, r *domain.Request) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	r.Status = domain.StatusNew
	r.SpecialistID = nil
	r.AcceptedAt = nil
	r.CreatedAt = now
	r.UpdatedAt = now
	return db.WithContext(ctx).Create(r).Error
}

// GetRequest fetches a single request by ID, or ErrNotFound if missing.
func GetRequest(ctx context.Context, db *gorm.DB, id string) (*domain.Request, error) {
	var r domain.Request
	if err := db.WithContext(ctx).Where("id = ?", id).First(&r).Error; err != nil {
		return nil, err
	}
	return &r, nil
}

// ClaimRequest atomically moves request id from "new" to "accepted" and
// records specialistID as its owner. It is a single UPDATE guarded by
// "status = 'new'"; the database serializes concurrent writers so at most
// one caller observes RowsAffected == 1.
//
// It returns true when this call performed the transition and false when the
// request is unknown or was already accepted.
func ClaimRequest(ctx context.Context, db *gorm.DB, id, specialistID string, at time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.Request{}).
		Where("id = ? AND status = ?", id, domain.StatusNew).
		Updates(map[string]any{
			"status":        domain.StatusAccepted,
			"specialist_id": specialistID,
			"accepted_at":   at.UTC(),
			"updated_at":    at.UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// scopeRequests applies f to a query over requests.
func scopeRequests(q *gorm.DB, f domain.RequestFilter) *gorm.DB {
	q = q.Model(&domain.Request{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.ServiceType != "" {
		q = q.Where("service_type = ?", f.ServiceType)
	}
	return q
}

// CountRequests returns the number of requests matching f.
func CountRequests(ctx context.Context, db *gorm.DB, f domain.RequestFilter) (int64, error) {
	var total int64
	err := scopeRequests(db.WithContext(ctx), f).Count(&total).Error
	return total, err
}

// ListRequestsPage returns a page of requests matching f, newest first.
// The caller computes offset and limit (e.g. (page-1)*pageSize).
func ListRequestsPage(ctx context.Context, db *gorm.DB, f domain.RequestFilter, offset, limit int) ([]domain.Request, error) {
	var out []domain.Request
	err := scopeRequests(db.WithContext(ctx), f).
		Order("created_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}
