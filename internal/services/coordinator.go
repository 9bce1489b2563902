// Package services – Coordinator
//
// This file implements the assignment coordinator: it fans a new request out
// to every eligible specialist and arbitrates concurrent accept actions so
// that exactly one specialist wins each request.
//
// Exclusivity rests entirely on RequestStore.ClaimIfNew, a single conditional
// update "new -> accepted" whose boolean result is the only signal of who
// won. The coordinator never reads a request to decide a claim and holds no
// locks; it may run with full parallelism.
//
// Delivery failures are contained: they are logged and counted by the
// notifier and never fail the triggering broadcast or claim.
//
// Observability: Broadcast and Claim are OpenTelemetry-instrumented and the
// outcome of every claim is counted in dispatch_claims_total.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-dispatch-backend/internal/catalog"
	"github.com/tbourn/go-dispatch-backend/internal/domain"
	"github.com/tbourn/go-dispatch-backend/internal/notify"
	"github.com/tbourn/go-dispatch-backend/internal/repo"
)

// acceptPrefix prefixes the opaque accept token carried by inline buttons.
const acceptPrefix = "accept_"

// Reload policy for a request whose claim has already been committed.
var (
	reloadAttempts = 3
	reloadBackoff  = 50 * time.Millisecond
)

// Claim outcomes, used as the "outcome" metric label.
const (
	outcomeWon               = "won"
	outcomeAlreadyClaimed    = "already_claimed"
	outcomeNotFound          = "not_found"
	outcomeUnknownSpecialist = "unknown_specialist"
	outcomeError             = "error"
)

var claimsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "dispatch_claims_total",
		Help: "Accept attempts by outcome.",
	},
	[]string{"outcome"},
)

func init() {
	prometheus.MustRegister(claimsTotal)
}

// RequestStore is the persistence contract for requests. ClaimIfNew must be
// a single indivisible conditional update under concurrent callers.
type RequestStore interface {
	Create(ctx context.Context, r *domain.Request) error
	Get(ctx context.Context, id string) (*domain.Request, error)
	ClaimIfNew(ctx context.Context, id, specialistID string, at time.Time) (bool, error)
	List(ctx context.Context, f domain.RequestFilter, offset, limit int) ([]domain.Request, int64, error)
	CountByStatus(ctx context.Context) (map[domain.RequestStatus]int64, error)
}

// SpecialistDirectory is the lookup contract for specialists. Create rejects
// a second record for the same identity with repo.ErrDuplicate.
type SpecialistDirectory interface {
	Create(ctx context.Context, sp *domain.Specialist) error
	FindByIdentity(ctx context.Context, identity string) (*domain.Specialist, error)
	FindActiveBySpecialization(ctx context.Context, spec domain.ServiceType, excludeIdentity string) ([]domain.Specialist, error)
}

// Notifier delivers messages with per-recipient isolation.
// *notify.Fanout implements it.
type Notifier interface {
	Deliver(ctx context.Context, kind string, msgs []notify.Message) notify.Report
	One(ctx context.Context, kind string, m notify.Message) error
}

// ClaimResult describes a won claim.
type ClaimResult struct {
	Request    *domain.Request
	Specialist *domain.Specialist
	// Taken reports delivery of the "taken" notices to the other specialists.
	Taken notify.Report
}

// Coordinator orchestrates broadcast and claim.
type Coordinator struct {
	Requests    RequestStore
	Specialists SpecialistDirectory
	Notifier    Notifier
	// Now is the clock used for AcceptedAt. Defaults to time.Now.
	Now func() time.Time
}

// NewCoordinator wires a Coordinator.
func NewCoordinator(rs RequestStore, sd SpecialistDirectory, n Notifier) *Coordinator {
	return &Coordinator{Requests: rs, Specialists: sd, Notifier: n, Now: time.Now}
}

// AcceptToken returns the opaque accept token bound to requestID.
func AcceptToken(requestID string) string { return acceptPrefix + requestID }

// ParseAcceptToken extracts the request id from an accept token.
func ParseAcceptToken(data string) (string, bool) {
	if !strings.HasPrefix(data, acceptPrefix) {
		return "", false
	}
	id := strings.TrimPrefix(data, acceptPrefix)
	if id == "" {
		return "", false
	}
	return id, true
}

// Broadcast notifies every active specialist whose specialization equals the
// request's service type. The request is not mutated. Zero recipients is not
// an error and performs zero sends. Only a directory failure is returned;
// delivery failures are reflected in the report.
func (c *Coordinator) Broadcast(ctx context.Context, r *domain.Request) (notify.Report, error) {
	tr := otel.Tracer("services/Coordinator")
	ctx, span := tr.Start(ctx, "Broadcast",
		trace.WithAttributes(
			attribute.String("request.id", r.ID),
			attribute.String("request.service_type", string(r.ServiceType)),
		),
	)
	defer span.End()

	recipients, err := c.Specialists.FindActiveBySpecialization(ctx, r.ServiceType, "")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list specialists")
		return notify.Report{}, fmt.Errorf("list specialists: %w", err)
	}
	span.SetAttributes(attribute.Int("recipients", len(recipients)))
	if len(recipients) == 0 {
		return notify.Report{}, nil
	}

	text := newRequestText(r)
	photo := ""
	if r.HasPhoto() {
		photo = *r.Photo
	}
	msgs := make([]notify.Message, 0, len(recipients))
	for _, sp := range recipients {
		msgs = append(msgs, notify.Message{
			To:        sp.Identity,
			Text:      text,
			Actions:   []notify.Action{{Text: "Accept order", Data: AcceptToken(r.ID)}},
			PhotoPath: photo,
		})
	}

	rep := c.Notifier.Deliver(ctx, notify.KindNewRequest, msgs)
	span.SetAttributes(attribute.Int("sent", rep.Sent), attribute.Int("failed", rep.Failed))
	return rep, nil
}

// Claim lets the specialist behind identity try to accept requestID.
//
// The specialist is resolved first because its id is written by the same
// conditional update that flips the status. Exactly one concurrent caller
// per request observes success. On success the winner receives the client's
// phone and every other active specialist of the same service type receives
// an address-only "taken" notice. On failure the caller is told the order is
// no longer available and ErrAlreadyClaimed or ErrRequestNotFound is
// returned; there are no other side effects.
func (c *Coordinator) Claim(ctx context.Context, requestID, identity string) (*ClaimResult, error) {
	tr := otel.Tracer("services/Coordinator")
	ctx, span := tr.Start(ctx, "Claim",
		trace.WithAttributes(
			attribute.String("request.id", requestID),
			attribute.String("specialist.identity", identity),
		),
	)
	defer span.End()

	sp, err := c.Specialists.FindByIdentity(ctx, identity)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			claimsTotal.WithLabelValues(outcomeUnknownSpecialist).Inc()
			_ = c.Notifier.One(ctx, notify.KindNotice, notify.Message{
				To:   identity,
				Text: "You are not registered as a specialist.",
			})
			return nil, ErrUnknownSpecialist
		}
		claimsTotal.WithLabelValues(outcomeError).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "find specialist")
		return nil, fmt.Errorf("find specialist: %w", err)
	}

	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	at := now().UTC()
	won, err := c.Requests.ClaimIfNew(ctx, requestID, sp.ID, at)
	if err != nil {
		claimsTotal.WithLabelValues(outcomeError).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "claim")
		return nil, fmt.Errorf("claim request: %w", err)
	}
	span.SetAttributes(attribute.Bool("claim.won", won))

	if !won {
		return nil, c.lost(ctx, requestID, identity)
	}

	claimsTotal.WithLabelValues(outcomeWon).Inc()

	// The claim is committed. Follow-ups must survive the caller going away
	// and never turn the win into an error.
	fctx := context.WithoutCancel(ctx)
	res := &ClaimResult{Specialist: sp}
	r, err := c.reload(fctx, requestID)
	if err != nil {
		span.RecordError(err)
		logFrom(ctx).Error().Err(err).
			Str("request_id", requestID).
			Str("specialist_id", sp.ID).
			Msg("claim won but request could not be reloaded; notices skipped")
		res.Request = &domain.Request{ID: requestID, Status: domain.StatusAccepted, SpecialistID: &sp.ID, AcceptedAt: &at}
		return res, nil
	}
	res.Request = r

	_ = c.Notifier.One(fctx, notify.KindWinner, notify.Message{
		To:   identity,
		Text: fmt.Sprintf("You accepted the order! Client contact phone: %s", r.Phone),
	})

	others, err := c.Specialists.FindActiveBySpecialization(fctx, r.ServiceType, identity)
	if err != nil {
		logFrom(ctx).Warn().Err(err).
			Str("request_id", r.ID).
			Msg("taken notices skipped: list specialists failed")
		return res, nil
	}
	msgs := make([]notify.Message, 0, len(others))
	taken := takenText(r)
	for _, o := range others {
		msgs = append(msgs, notify.Message{To: o.Identity, Text: taken})
	}
	res.Taken = c.Notifier.Deliver(fctx, notify.KindTaken, msgs)
	return res, nil
}

// reload reads a request after a won claim, retrying transient failures.
func (c *Coordinator) reload(ctx context.Context, id string) (*domain.Request, error) {
	var err error
	for attempt := 0; attempt < reloadAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * reloadBackoff)
		}
		var r *domain.Request
		if r, err = c.Requests.Get(ctx, id); err == nil {
			return r, nil
		}
	}
	return nil, fmt.Errorf("load claimed request: %w", err)
}

// lost classifies a claim whose conditional update matched nothing and
// tells the caller the order is gone. The classification read happens only
// after the update has decided the outcome.
func (c *Coordinator) lost(ctx context.Context, requestID, identity string) error {
	outErr := ErrAlreadyClaimed
	if _, err := c.Requests.Get(ctx, requestID); errors.Is(err, repo.ErrNotFound) {
		outErr = ErrRequestNotFound
	}
	if errors.Is(outErr, ErrRequestNotFound) {
		claimsTotal.WithLabelValues(outcomeNotFound).Inc()
	} else {
		claimsTotal.WithLabelValues(outcomeAlreadyClaimed).Inc()
	}

	_ = c.Notifier.One(ctx, notify.KindLoser, notify.Message{
		To:   identity,
		Text: "This order is no longer available: it has been taken by another specialist.",
	})
	return outErr
}

func newRequestText(r *domain.Request) string {
	var b strings.Builder
	b.WriteString("New request!\n")
	fmt.Fprintf(&b, "Service: %s\n", catalog.Label(r.ServiceType))
	fmt.Fprintf(&b, "Address: %s\n", r.Address)
	fmt.Fprintf(&b, "Description: %s\n", r.Description)
	problem := r.CommonProblem
	if problem == "" {
		problem = "-"
	}
	fmt.Fprintf(&b, "Common problem: %s", problem)
	return b.String()
}

func takenText(r *domain.Request) string {
	return fmt.Sprintf("The order at %s has already been taken by another specialist.", r.Address)
}
