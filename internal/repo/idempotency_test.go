package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tbourn/go-dispatch-backend/internal/domain"
)

func TestGetIdempotency_Success(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t, &domain.Idempotency{})

	rec, err := CreateIdempotency(ctx, db, "10.0.0.1", "k1", "req-1", 201, time.Hour)
	if err != nil {
		t.Fatalf("CreateIdempotency: %v", err)
	}
	got, err := GetIdempotency(ctx, db, "10.0.0.1", "k1", time.Now())
	if err != nil {
		t.Fatalf("GetIdempotency: %v", err)
	}
	if got.ID != rec.ID || got.RequestID != "req-1" || got.Status != 201 {
		t.Fatalf("unexpected record %+v", got)
	}

	// Same key, other scope.
	if _, err := GetIdempotency(ctx, db, "10.0.0.2", "k1", time.Now()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for other scope, got %v", err)
	}
	// Blank key never matches.
	if _, err := GetIdempotency(ctx, db, "10.0.0.1", "  ", time.Now()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for blank key, got %v", err)
	}
	// Expired.
	if _, err := GetIdempotency(ctx, db, "10.0.0.1", "k1", time.Now().Add(2*time.Hour)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for expired, got %v", err)
	}
}

func TestCreateIdempotency_SuccessAndDuplicate(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t, &domain.Idempotency{})

	if _, err := CreateIdempotency(ctx, db, "s", "dup", "req-1", 201, time.Hour); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := CreateIdempotency(ctx, db, "s", "dup", "req-2", 201, time.Hour); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestCreateIdempotency_Error_NoTable(t *testing.T) {
	db := newTestDB(t)
	if _, err := CreateIdempotency(context.Background(), db, "s", "k", "r", 201, time.Hour); err == nil {
		t.Fatalf("expected error without table")
	}
}

func TestPurgeExpiredIdempotency(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t, &domain.Idempotency{})
	if _, err := CreateIdempotency(ctx, db, "s", "a", "r1", 201, time.Minute); err != nil {
		t.Fatal(err)
	}
	if _, err := CreateIdempotency(ctx, db, "s", "b", "r2", 201, time.Hour); err != nil {
		t.Fatal(err)
	}
	n, err := PurgeExpiredIdempotency(ctx, db, time.Now().Add(10*time.Minute))
	if err != nil || n != 1 {
		t.Fatalf("purge: n=%d err=%v", n, err)
	}
}

func TestIdempotencyStore_LookupAndSave(t *testing.T) {
	ctx := context.Background()
	st := IdempotencyStore{DB: newTestDB(t, &domain.Idempotency{}), TTL: time.Hour}

	if id, ok, err := st.Lookup(ctx, "ip:1.2.3.4", "k1", time.Now()); err != nil || ok || id != "" {
		t.Fatalf("miss expected, got id=%q ok=%v err=%v", id, ok, err)
	}
	if err := st.Save(ctx, "ip:1.2.3.4", "k1", "req-1", 201); err != nil {
		t.Fatalf("Save: %v", err)
	}
	id, ok, err := st.Lookup(ctx, "ip:1.2.3.4", "k1", time.Now())
	if err != nil || !ok || id != "req-1" {
		t.Fatalf("hit expected, got id=%q ok=%v err=%v", id, ok, err)
	}

	// Same key in another scope is independent.
	if _, ok, _ := st.Lookup(ctx, "client:abc", "k1", time.Now()); ok {
		t.Fatalf("scopes must not share keys")
	}
	// Expired records are misses.
	if _, ok, _ := st.Lookup(ctx, "ip:1.2.3.4", "k1", time.Now().Add(2*time.Hour)); ok {
		t.Fatalf("expired record should miss")
	}
	if err := st.Save(ctx, "ip:1.2.3.4", "k1", "req-2", 201); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestIdempotencyStore_LookupError(t *testing.T) {
	st := IdempotencyStore{DB: newTestDB(t), TTL: time.Hour}
	if _, _, err := st.Lookup(context.Background(), "s", "k", time.Now()); err == nil {
		t.Fatalf("expected error without table")
	}
}
