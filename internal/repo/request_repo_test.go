package repo

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tbourn/go-dispatch-backend/internal/domain"
)

func seedRequest(t *testing.T, ctx context.Context, st RequestStore, typ domain.ServiceType, addr string) *domain.Request {
	t.Helper()
	r := &domain.Request{
		ServiceType: typ,
		Address:     addr,
		Description: "leaking pipe under the sink",
		Phone:       "+15550001",
	}
	if err := st.Create(ctx, r); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return r
}

func TestCreateRequest_AssignsIDAndNewStatus(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t, &domain.Request{})
	st := RequestStore{DB: db}

	sid := "leftover"
	r := &domain.Request{
		ServiceType:  domain.ServicePlumbing,
		Address:      "12 Main St",
		Description:  "leak",
		Phone:        "+1",
		Status:       domain.StatusAccepted,
		SpecialistID: &sid,
	}
	if err := st.Create(ctx, r); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if r.ID == "" || len(r.ID) != 36 {
		t.Fatalf("expected uuid id, got %q", r.ID)
	}

	got, err := st.Get(ctx, r.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != domain.StatusNew || got.SpecialistID != nil || got.AcceptedAt != nil {
		t.Fatalf("unexpected stored request: %+v", got)
	}
	if got.HasPhoto() {
		t.Fatalf("no photo expected")
	}
}

func TestGetRequest_NotFound(t *testing.T) {
	db := newTestDB(t, &domain.Request{})
	_, err := GetRequest(context.Background(), db, "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestClaimRequest_FirstWinsSecondLoses(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t, &domain.Request{})
	st := RequestStore{DB: db}
	r := seedRequest(t, ctx, st, domain.ServicePlumbing, "12 Main St")

	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	ok, err := st.ClaimIfNew(ctx, r.ID, "spec-a", at)
	if err != nil || !ok {
		t.Fatalf("first claim: ok=%v err=%v", ok, err)
	}
	ok, err = st.ClaimIfNew(ctx, r.ID, "spec-b", at.Add(time.Second))
	if err != nil || ok {
		t.Fatalf("second claim: ok=%v err=%v", ok, err)
	}

	got, _ := st.Get(ctx, r.ID)
	if got.Status != domain.StatusAccepted {
		t.Fatalf("status=%q", got.Status)
	}
	if got.SpecialistID == nil || *got.SpecialistID != "spec-a" {
		t.Fatalf("owner=%v", got.SpecialistID)
	}
	if got.AcceptedAt == nil || !got.AcceptedAt.Equal(at) {
		t.Fatalf("accepted_at=%v", got.AcceptedAt)
	}
}

func TestClaimRequest_UnknownID(t *testing.T) {
	db := newTestDB(t, &domain.Request{})
	ok, err := ClaimRequest(context.Background(), db, "nope", "spec-a", time.Now())
	if err != nil || ok {
		t.Fatalf("expected (false,nil), got (%v,%v)", ok, err)
	}
}

func TestClaimRequest_Concurrent_ExactlyOneWinner(t *testing.T) {
	ctx := context.Background()
	db := newFileDB(t)
	st := RequestStore{DB: db}

	for round := 0; round < 5; round++ {
		r := seedRequest(t, ctx, st, domain.ServiceElectrical, "1 Volt Ave")

		const n = 8
		var wins int32
		var wg sync.WaitGroup
		start := make(chan struct{})
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-start
				ok, err := st.ClaimIfNew(ctx, r.ID, "spec-"+string(rune('a'+i)), time.Now())
				if err != nil {
					errs <- err
					return
				}
				if ok {
					atomic.AddInt32(&wins, 1)
				}
			}(i)
		}
		close(start)
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Fatalf("round %d: claim error: %v", round, err)
		}
		if wins != 1 {
			t.Fatalf("round %d: expected exactly one winner, got %d", round, wins)
		}
		got, _ := st.Get(ctx, r.ID)
		if got.Status != domain.StatusAccepted || got.SpecialistID == nil {
			t.Fatalf("round %d: unexpected final row %+v", round, got)
		}
	}
}

func TestList_FilterAndPaging(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t, &domain.Request{})
	st := RequestStore{DB: db}

	var ids []string
	for i := 0; i < 3; i++ {
		r := seedRequest(t, ctx, st, domain.ServicePlumbing, "p")
		ids = append(ids, r.ID)
		time.Sleep(2 * time.Millisecond)
	}
	seedRequest(t, ctx, st, domain.ServiceLocksmith, "l")
	if ok, _ := st.ClaimIfNew(ctx, ids[0], "x", time.Now()); !ok {
		t.Fatalf("claim failed")
	}

	items, total, err := st.List(ctx, domain.RequestFilter{ServiceType: domain.ServicePlumbing}, 0, 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 3 || len(items) != 2 {
		t.Fatalf("total=%d len=%d", total, len(items))
	}
	if items[0].ID != ids[2] {
		t.Fatalf("expected newest first, got %s", items[0].ID)
	}

	items, total, err = st.List(ctx, domain.RequestFilter{Status: domain.StatusAccepted}, 0, 10)
	if err != nil || total != 1 || items[0].ID != ids[0] {
		t.Fatalf("accepted filter: total=%d err=%v", total, err)
	}

	items, total, err = st.List(ctx, domain.RequestFilter{ServiceType: domain.ServiceCarpenter}, 0, 10)
	if err != nil || total != 0 || items == nil || len(items) != 0 {
		t.Fatalf("empty filter: items=%v total=%d err=%v", items, total, err)
	}
}
