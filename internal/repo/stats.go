// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate queries used for the
// stats endpoint and for conditional responses (ETag generation) in the HTTP
// layer.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-dispatch-backend/internal/domain"
)

// RequestsStats returns the number of requests matching f and the greatest
// UpdatedAt among them. With no rows, count is 0 and maxUpdatedAt is nil.
// Any claim bumps updated_at, so the pair changes whenever a listing would.
func RequestsStats(ctx context.Context, db *gorm.DB, f domain.RequestFilter) (count int64, maxUpdatedAt *time.Time, err error) {
	q := scopeRequests(db.WithContext(ctx), f)

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest updated_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		UpdatedAt time.Time
	}
	if err = scopeRequests(db.WithContext(ctx), f).Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}

// CountRequestsByStatus returns how many requests sit in each status.
// Statuses with no rows are reported as 0.
func CountRequestsByStatus(ctx context.Context, db *gorm.DB) (map[domain.RequestStatus]int64, error) {
	var rows []struct {
		Status domain.RequestStatus
		N      int64
	}
	err := db.WithContext(ctx).
		Model(&domain.Request{}).
		Select("status, COUNT(*) AS n").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := map[domain.RequestStatus]int64{
		domain.StatusNew:      0,
		domain.StatusAccepted: 0,
	}
	for _, r := range rows {
		out[r.Status] = r.N
	}
	return out, nil
}
