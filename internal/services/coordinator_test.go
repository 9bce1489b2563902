package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tbourn/go-dispatch-backend/internal/domain"
)

// ---------- Broadcast ----------

func TestBroadcast_ZeroRecipients_NoSends(t *testing.T) {
	f := newFixture(t)
	f.specialist(t, "1", domain.ServiceElectrical, true)
	r := f.request(t, domain.ServiceCarpenter, "1 Oak Rd")

	rep, err := f.coord.Broadcast(context.Background(), r)
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if rep.Sent != 0 || rep.Failed != 0 || f.gw.count() != 0 {
		t.Fatalf("expected zero sends, got %+v (%d recorded)", rep, f.gw.count())
	}
	got, _ := f.reqs.Get(context.Background(), r.ID)
	if got.Status != domain.StatusNew {
		t.Fatalf("broadcast must not mutate the request, status=%q", got.Status)
	}
}

func TestBroadcast_ReachesExactlyActiveMatching(t *testing.T) {
	f := newFixture(t)
	f.specialist(t, "1", domain.ServicePlumbing, true)
	f.specialist(t, "2", domain.ServicePlumbing, true)
	f.specialist(t, "3", domain.ServicePlumbing, false)
	f.specialist(t, "4", domain.ServiceElectrical, true)

	photo := "uploads/leak.jpg"
	r := f.request(t, domain.ServicePlumbing, "12 Main St")
	r.Photo = &photo
	r.CommonProblem = "Leaking tap"

	rep, err := f.coord.Broadcast(context.Background(), r)
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if rep.Sent != 2 || rep.Failed != 0 {
		t.Fatalf("unexpected report %+v", rep)
	}
	for _, id := range []string{"1", "2"} {
		msgs := f.gw.to(id)
		if len(msgs) != 1 {
			t.Fatalf("specialist %s: expected 1 message, got %d", id, len(msgs))
		}
		m := msgs[0]
		for _, want := range []string{"Plumbing", "12 Main St", "Water everywhere", "Leaking tap"} {
			if !strings.Contains(m.Text, want) {
				t.Fatalf("message to %s missing %q: %q", id, want, m.Text)
			}
		}
		if len(m.Actions) != 1 || m.Actions[0].Data != AcceptToken(r.ID) {
			t.Fatalf("missing accept action: %+v", m.Actions)
		}
		if m.PhotoPath != photo {
			t.Fatalf("photo not attached: %q", m.PhotoPath)
		}
	}
	for _, id := range []string{"3", "4"} {
		if n := len(f.gw.to(id)); n != 0 {
			t.Fatalf("specialist %s must receive nothing, got %d", id, n)
		}
	}
}

func TestBroadcast_IsolatesRecipientFailures(t *testing.T) {
	f := newFixture(t)
	f.specialist(t, "1", domain.ServiceLocksmith, true)
	f.specialist(t, "2", domain.ServiceLocksmith, true)
	f.specialist(t, "3", domain.ServiceLocksmith, true)
	f.gw.fail["2"] = true

	rep, err := f.coord.Broadcast(context.Background(), f.request(t, domain.ServiceLocksmith, "5 Key St"))
	if err != nil {
		t.Fatalf("gateway failures must not surface: %v", err)
	}
	if rep.Sent != 2 || rep.Failed != 1 {
		t.Fatalf("unexpected report %+v", rep)
	}
	if len(f.gw.to("1")) != 1 || len(f.gw.to("3")) != 1 {
		t.Fatalf("healthy recipients must still be notified")
	}
}

// ---------- Claim ----------

func TestClaim_WinnerGetsPhoneOnce_OthersGetTakenOnce(t *testing.T) {
	f := newFixture(t)
	winner := f.specialist(t, "1", domain.ServicePlumbing, true)
	f.specialist(t, "2", domain.ServicePlumbing, true)
	f.specialist(t, "3", domain.ServicePlumbing, true)
	f.specialist(t, "4", domain.ServicePlumbing, false)
	f.specialist(t, "5", domain.ServiceElectrical, true)
	r := f.request(t, domain.ServicePlumbing, "7 Pipe Ln")

	wonBefore := testutil.ToFloat64(claimsTotal.WithLabelValues(outcomeWon))

	res, err := f.coord.Claim(context.Background(), r.ID, "1")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if res.Specialist.ID != winner.ID || res.Request.Status != domain.StatusAccepted {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Request.SpecialistID == nil || *res.Request.SpecialistID != winner.ID || res.Request.AcceptedAt == nil {
		t.Fatalf("owner not recorded: %+v", res.Request)
	}
	if d := testutil.ToFloat64(claimsTotal.WithLabelValues(outcomeWon)) - wonBefore; d != 1 {
		t.Fatalf("won counter delta=%v", d)
	}

	if n := f.gw.countContaining("1", r.Phone); n != 1 {
		t.Fatalf("winner must receive the phone exactly once, got %d", n)
	}
	if n := len(f.gw.to("1")); n != 1 {
		t.Fatalf("winner must receive exactly one message, got %d", n)
	}
	for _, id := range []string{"2", "3"} {
		msgs := f.gw.to(id)
		if len(msgs) != 1 || !strings.Contains(msgs[0].Text, "7 Pipe Ln") {
			t.Fatalf("specialist %s: expected one taken notice, got %+v", id, msgs)
		}
		if strings.Contains(msgs[0].Text, r.Phone) || strings.Contains(msgs[0].Text, r.Description) {
			t.Fatalf("taken notice must carry the address only: %q", msgs[0].Text)
		}
	}
	for _, id := range []string{"4", "5"} {
		if n := len(f.gw.to(id)); n != 0 {
			t.Fatalf("specialist %s must not be notified, got %d", id, n)
		}
	}
	if res.Taken.Sent != 2 {
		t.Fatalf("taken report %+v", res.Taken)
	}
}

func TestClaim_OnAcceptedAlwaysFails(t *testing.T) {
	f := newFixture(t)
	f.specialist(t, "1", domain.ServicePlumbing, true)
	f.specialist(t, "2", domain.ServicePlumbing, true)
	r := f.request(t, domain.ServicePlumbing, "9 Elm St")

	if _, err := f.coord.Claim(context.Background(), r.ID, "1"); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	f.gw.reset()

	for _, id := range []string{"2", "1"} {
		if _, err := f.coord.Claim(context.Background(), r.ID, id); !errors.Is(err, ErrAlreadyClaimed) {
			t.Fatalf("caller %s: expected ErrAlreadyClaimed, got %v", id, err)
		}
		msgs := f.gw.to(id)
		if len(msgs) != 1 || !strings.Contains(msgs[0].Text, "no longer available") {
			t.Fatalf("caller %s: expected a no-longer-available reply, got %+v", id, msgs)
		}
	}
	if f.gw.count() != 2 {
		t.Fatalf("losing claims must have no other side effects, got %d messages", f.gw.count())
	}

	got, _ := f.reqs.Get(context.Background(), r.ID)
	sp, _ := f.dir.FindByIdentity(context.Background(), "1")
	if got.Status != domain.StatusAccepted || *got.SpecialistID != sp.ID {
		t.Fatalf("owner changed: %+v", got)
	}
}

func TestClaim_UnknownRequest(t *testing.T) {
	f := newFixture(t)
	f.specialist(t, "1", domain.ServicePlumbing, true)
	_, err := f.coord.Claim(context.Background(), "no-such-request", "1")
	if !errors.Is(err, ErrRequestNotFound) {
		t.Fatalf("expected ErrRequestNotFound, got %v", err)
	}
	if n := f.gw.countContaining("1", "no longer available"); n != 1 {
		t.Fatalf("caller should be told the order is gone, got %d", n)
	}
}

func TestClaim_UnknownSpecialist(t *testing.T) {
	f := newFixture(t)
	r := f.request(t, domain.ServicePlumbing, "1 Nowhere")
	_, err := f.coord.Claim(context.Background(), r.ID, "999")
	if !errors.Is(err, ErrUnknownSpecialist) {
		t.Fatalf("expected ErrUnknownSpecialist, got %v", err)
	}
	if len(f.gw.to("999")) != 1 {
		t.Fatalf("unknown caller should get a notice")
	}
	got, _ := f.reqs.Get(context.Background(), r.ID)
	if got.Status != domain.StatusNew || got.SpecialistID != nil {
		t.Fatalf("request must stay new: %+v", got)
	}
}

func TestClaim_Concurrent_ExactlyOneWinner_Repeated(t *testing.T) {
	f := newFixture(t)
	const n = 6
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		ids[i] = fmt.Sprintf("%d", 100+i)
		f.specialist(t, ids[i], domain.ServiceElectrical, true)
	}

	for round := 0; round < 10; round++ {
		r := f.request(t, domain.ServiceElectrical, fmt.Sprintf("%d Volt Ave", round))

		var wg sync.WaitGroup
		start := make(chan struct{})
		results := make([]error, n)
		winners := make([]*ClaimResult, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-start
				winners[i], results[i] = f.coord.Claim(context.Background(), r.ID, ids[i])
			}(i)
		}
		close(start)
		wg.Wait()

		wins, lost := 0, 0
		var owner string
		for i, err := range results {
			switch {
			case err == nil:
				wins++
				owner = winners[i].Specialist.ID
			case errors.Is(err, ErrAlreadyClaimed):
				lost++
			default:
				t.Fatalf("round %d: unexpected error %v", round, err)
			}
		}
		if wins != 1 || lost != n-1 {
			t.Fatalf("round %d: wins=%d lost=%d", round, wins, lost)
		}
		got, _ := f.reqs.Get(context.Background(), r.ID)
		if got.Status != domain.StatusAccepted || got.SpecialistID == nil || *got.SpecialistID != owner {
			t.Fatalf("round %d: stored owner mismatch %+v (winner %s)", round, got, owner)
		}
	}
}

func TestClaim_TwelveMainStreetScenario(t *testing.T) {
	f := newFixture(t)
	a := f.specialist(t, "A1", domain.ServicePlumbing, true)
	b := f.specialist(t, "B1", domain.ServicePlumbing, true)

	r := f.request(t, domain.ServicePlumbing, "12 Main St")
	if rep, _ := f.coord.Broadcast(context.Background(), r); rep.Sent != 2 {
		t.Fatalf("both plumbers should be notified, got %+v", rep)
	}
	f.gw.reset()

	var wg sync.WaitGroup
	errs := map[string]error{}
	var mu sync.Mutex
	for _, id := range []string{"A1", "B1"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := f.coord.Claim(context.Background(), r.ID, id)
			mu.Lock()
			errs[id] = err
			mu.Unlock()
		}(id)
	}
	wg.Wait()

	var winner, loser *domain.Specialist
	switch {
	case errs["A1"] == nil && errors.Is(errs["B1"], ErrAlreadyClaimed):
		winner, loser = a, b
	case errs["B1"] == nil && errors.Is(errs["A1"], ErrAlreadyClaimed):
		winner, loser = b, a
	default:
		t.Fatalf("expected exactly one winner, got %v", errs)
	}

	got, _ := f.reqs.Get(context.Background(), r.ID)
	if got.Status != domain.StatusAccepted || *got.SpecialistID != winner.ID {
		t.Fatalf("final state %+v, winner %s", got, winner.ID)
	}
	if f.gw.countContaining(winner.Identity, r.Phone) != 1 {
		t.Fatalf("winner should get the phone once")
	}
	if f.gw.countContaining(loser.Identity, "no longer available") != 1 {
		t.Fatalf("loser should be told the order is no longer available")
	}
	if f.gw.countContaining(loser.Identity, r.Phone) != 0 {
		t.Fatalf("loser must never see the client phone")
	}
}

func TestAcceptToken_RoundTrip(t *testing.T) {
	id, ok := ParseAcceptToken(AcceptToken("abc-123"))
	if !ok || id != "abc-123" {
		t.Fatalf("round trip failed: %q %v", id, ok)
	}
	for _, bad := range []string{"", "accept_", "reject_abc"} {
		if _, ok := ParseAcceptToken(bad); ok {
			t.Fatalf("ParseAcceptToken(%q) should fail", bad)
		}
	}
}

// cancelAfterClaim commits the claim and then cancels the caller's context,
// as an HTTP client disconnecting right after the update would.
type cancelAfterClaim struct {
	RequestStore
	cancel context.CancelFunc
}

func (s cancelAfterClaim) ClaimIfNew(ctx context.Context, id, specialistID string, at time.Time) (bool, error) {
	won, err := s.RequestStore.ClaimIfNew(ctx, id, specialistID, at)
	s.cancel()
	return won, err
}

func TestClaim_CallerCancelledAfterCommit_StillNotifies(t *testing.T) {
	f := newFixture(t)
	f.specialist(t, "1", domain.ServicePlumbing, true)
	f.specialist(t, "2", domain.ServicePlumbing, true)
	r := f.request(t, domain.ServicePlumbing, "3 Brook Rd")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := NewCoordinator(cancelAfterClaim{RequestStore: f.reqs, cancel: cancel}, f.dir, f.coord.Notifier)

	res, err := c.Claim(ctx, r.ID, "1")
	if err != nil {
		t.Fatalf("a committed claim must not fail: %v", err)
	}
	if res == nil || res.Request.Status != domain.StatusAccepted {
		t.Fatalf("unexpected result %+v", res)
	}
	if n := f.gw.countContaining("1", r.Phone); n != 1 {
		t.Fatalf("winner must receive the phone once, got %d", n)
	}
	if msgs := f.gw.to("2"); len(msgs) != 1 || !strings.Contains(msgs[0].Text, "3 Brook Rd") {
		t.Fatalf("other specialist must get one taken notice, got %+v", msgs)
	}
}

// brokenGet commits claims but can never read a request back.
type brokenGet struct{ RequestStore }

func (brokenGet) Get(context.Context, string) (*domain.Request, error) {
	return nil, errors.New("store unavailable")
}

func TestClaim_ReloadFailure_KeepsWin(t *testing.T) {
	f := newFixture(t)
	winner := f.specialist(t, "1", domain.ServicePlumbing, true)
	f.specialist(t, "2", domain.ServicePlumbing, true)
	r := f.request(t, domain.ServicePlumbing, "4 Brook Rd")

	prev := reloadBackoff
	reloadBackoff = time.Millisecond
	t.Cleanup(func() { reloadBackoff = prev })

	c := NewCoordinator(brokenGet{f.reqs}, f.dir, f.coord.Notifier)
	res, err := c.Claim(context.Background(), r.ID, "1")
	if err != nil {
		t.Fatalf("a committed claim must not fail: %v", err)
	}
	if res.Request.ID != r.ID || res.Request.Status != domain.StatusAccepted ||
		res.Request.SpecialistID == nil || *res.Request.SpecialistID != winner.ID {
		t.Fatalf("unexpected result %+v", res.Request)
	}
	got, _ := f.reqs.Get(context.Background(), r.ID)
	if got.Status != domain.StatusAccepted {
		t.Fatalf("stored status=%q", got.Status)
	}
	if _, err := c.Claim(context.Background(), r.ID, "2"); !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("second claim err=%v, want ErrAlreadyClaimed", err)
	}
}
