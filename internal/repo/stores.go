// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file adapts the repository free functions to the
// store contracts consumed by the services package, so services stay
// decoupled from the concrete backend while reusing the functions above.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-dispatch-backend/internal/domain"
)

// RequestStore is the SQLite-backed request store.
type RequestStore struct {
	DB *gorm.DB
}

// Create proxies CreateRequest.
func (s RequestStore) Create(ctx context.Context, r *domain.Request) error {
	return CreateRequest(ctx, s.DB, r)
}

// Get proxies GetRequest.
func (s RequestStore) Get(ctx context.Context, id string) (*domain.Request, error) {
	return GetRequest(ctx, s.DB, id)
}

// ClaimIfNew proxies ClaimRequest.
func (s RequestStore) ClaimIfNew(ctx context.Context, id, specialistID string, at time.Time) (bool, error) {
	return ClaimRequest(ctx, s.DB, id, specialistID, at)
}

// List returns one page of requests matching f plus the total match count.
func (s RequestStore) List(ctx context.Context, f domain.RequestFilter, offset, limit int) ([]domain.Request, int64, error) {
	total, err := CountRequests(ctx, s.DB, f)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Request{}, 0, nil
	}
	items, err := ListRequestsPage(ctx, s.DB, f, offset, limit)
	return items, total, err
}

// CountByStatus proxies CountRequestsByStatus.
func (s RequestStore) CountByStatus(ctx context.Context) (map[domain.RequestStatus]int64, error) {
	return CountRequestsByStatus(ctx, s.DB)
}

// SpecialistDirectory is the SQLite-backed specialist directory.
type SpecialistDirectory struct {
	DB *gorm.DB
}

// Create proxies CreateSpecialist.
func (d SpecialistDirectory) Create(ctx context.Context, sp *domain.Specialist) error {
	return CreateSpecialist(ctx, d.DB, sp)
}

// FindByIdentity proxies GetSpecialistByIdentity.
func (d SpecialistDirectory) FindByIdentity(ctx context.Context, identity string) (*domain.Specialist, error) {
	return GetSpecialistByIdentity(ctx, d.DB, identity)
}

// FindActiveBySpecialization proxies ListActiveSpecialists.
func (d SpecialistDirectory) FindActiveBySpecialization(ctx context.Context, spec domain.ServiceType, excludeIdentity string) ([]domain.Specialist, error) {
	return ListActiveSpecialists(ctx, d.DB, spec, excludeIdentity)
}

// CountActive proxies CountSpecialists.
func (d SpecialistDirectory) CountActive(ctx context.Context) (map[domain.ServiceType]int64, error) {
	return CountSpecialists(ctx, d.DB)
}

// SessionStore is the SQLite-backed registration dialogue session table.
type SessionStore struct {
	DB *gorm.DB
}

// Start proxies StartSession.
func (s SessionStore) Start(ctx context.Context, identity string, ttl time.Duration) (*domain.DialogueSession, error) {
	return StartSession(ctx, s.DB, identity, ttl)
}

// Get proxies GetSession.
func (s SessionStore) Get(ctx context.Context, identity string, now time.Time) (*domain.DialogueSession, error) {
	return GetSession(ctx, s.DB, identity, now)
}

// Advance proxies AdvanceSession.
func (s SessionStore) Advance(ctx context.Context, identity string, from domain.DialogueStep, next *domain.DialogueSession, ttl time.Duration) (bool, error) {
	return AdvanceSession(ctx, s.DB, identity, from, next, ttl)
}

// Delete proxies DeleteSession.
func (s SessionStore) Delete(ctx context.Context, identity string) error {
	return DeleteSession(ctx, s.DB, identity)
}

// IdempotencyStore records which request a submission key produced so a
// retried submission can be answered without creating a second request.
type IdempotencyStore struct {
	DB  *gorm.DB
	TTL time.Duration
}

// Lookup returns the request id stored for (scope, key) if the record is
// still live.
func (s IdempotencyStore) Lookup(ctx context.Context, scope, key string, now time.Time) (string, bool, error) {
	rec, err := GetIdempotency(ctx, s.DB, scope, key, now)
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return rec.RequestID, true, nil
}

// Save stores the outcome of a submission. A concurrent duplicate yields
// ErrDuplicate.
func (s IdempotencyStore) Save(ctx context.Context, scope, key, requestID string, status int) error {
	_, err := CreateIdempotency(ctx, s.DB, scope, key, requestID, status, s.TTL)
	return err
}
