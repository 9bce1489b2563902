package services

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-dispatch-backend/internal/domain"
	"github.com/tbourn/go-dispatch-backend/internal/notify"
	"github.com/tbourn/go-dispatch-backend/internal/repo"
)

// ---------- test helpers ----------

// newSvcDB opens a migrated on-disk SQLite database. A file (rather than a
// shared in-memory cache) lets concurrent writers queue on the busy timeout.
func newSvcDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "svc.db"), repo.OpenOptions{Silent: true})
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	sqlDB, _ := db.DB()
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	return db
}

// recorder is a notify.Gateway that records every message per recipient.
type recorder struct {
	mu   sync.Mutex
	msgs []notify.Message
	fail map[string]bool
}

func newRecorder() *recorder { return &recorder{fail: map[string]bool{}} }

func (r *recorder) Send(_ context.Context, m notify.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail[m.To] {
		return errors.New("recipient unreachable")
	}
	r.msgs = append(r.msgs, m)
	return nil
}

func (r *recorder) to(identity string) []notify.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.Message
	for _, m := range r.msgs {
		if m.To == identity {
			out = append(out, m)
		}
	}
	return out
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.msgs = nil
	r.mu.Unlock()
}

// countContaining returns how many messages to identity contain sub.
func (r *recorder) countContaining(identity, sub string) int {
	n := 0
	for _, m := range r.to(identity) {
		if strings.Contains(m.Text, sub) {
			n++
		}
	}
	return n
}

type fixture struct {
	db    *gorm.DB
	gw    *recorder
	coord *Coordinator
	reqs  repo.RequestStore
	dir   repo.SpecialistDirectory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := newSvcDB(t)
	gw := newRecorder()
	f := &fixture{
		db:   db,
		gw:   gw,
		reqs: repo.RequestStore{DB: db},
		dir:  repo.SpecialistDirectory{DB: db},
	}
	f.coord = NewCoordinator(f.reqs, f.dir, notify.NewFanout(gw, 4, time.Second))
	return f
}

func (f *fixture) specialist(t *testing.T, identity string, spec domain.ServiceType, active bool) *domain.Specialist {
	t.Helper()
	sp := &domain.Specialist{
		Identity:       identity,
		Name:           "Specialist " + identity,
		Specialization: spec,
		Districts:      []string{"Centre"},
		Phone:          "+1555000" + identity,
		Active:         active,
	}
	if err := f.dir.Create(context.Background(), sp); err != nil {
		t.Fatalf("create specialist %s: %v", identity, err)
	}
	return sp
}

func (f *fixture) request(t *testing.T, spec domain.ServiceType, address string) *domain.Request {
	t.Helper()
	r := &domain.Request{
		ServiceType: spec,
		Address:     address,
		Description: "Water everywhere",
		Phone:       "+15559876",
	}
	if err := f.reqs.Create(context.Background(), r); err != nil {
		t.Fatalf("create request: %v", err)
	}
	return r
}
