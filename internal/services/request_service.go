// Package services – RequestService
//
// This file implements RequestService, the boundary use case behind the
// submit-request form. It normalizes and validates the submission, fills in
// a common problem from the description when none was picked, persists the
// request with status "new" and hands it to the Coordinator for broadcast.
//
// Broadcast runs detached from the caller's context when Async is set, so a
// client hanging up after the 201 does not cancel delivery. Wait blocks until
// detached broadcasts finish (used on shutdown).
package services

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-dispatch-backend/internal/catalog"
	"github.com/tbourn/go-dispatch-backend/internal/domain"
	"github.com/tbourn/go-dispatch-backend/internal/repo"
)

var submittedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "dispatch_requests_submitted_total",
		Help: "Service requests accepted from the form, by service type.",
	},
	[]string{"service_type"},
)

func init() {
	prometheus.MustRegister(submittedTotal)
}

// SubmitInput is one form submission.
type SubmitInput struct {
	ServiceType   domain.ServiceType `validate:"required,servicetype"`
	Address       string             `validate:"required,max=512"`
	Description   string             `validate:"required,max=4000"`
	CommonProblem string             `validate:"max=255"`
	Phone         string             `validate:"required,phone"`
	// PhotoPath is where the upload was stored, if any.
	PhotoPath string
}

// RequestStats is the aggregate view served by the stats endpoint.
type RequestStats struct {
	Total       int64                          `json:"total"`
	ByStatus    map[domain.RequestStatus]int64 `json:"by_status"`
	Specialists map[domain.ServiceType]int64   `json:"specialists,omitempty"`
}

// SpecialistCounter reports active specialists per specialization.
type SpecialistCounter interface {
	CountActive(ctx context.Context) (map[domain.ServiceType]int64, error)
}

// RequestService coordinates submission and read access to requests.
type RequestService struct {
	Store       RequestStore
	Coordinator *Coordinator
	// Async detaches broadcast from the submitting request.
	Async bool
	// Specialists, when set, adds per-specialization headcounts to Stats.
	Specialists SpecialistCounter

	wg sync.WaitGroup
}

// NewRequestService constructs a RequestService.
func NewRequestService(store RequestStore, coord *Coordinator, async bool) *RequestService {
	return &RequestService{Store: store, Coordinator: coord, Async: async}
}

// Submit validates in, stores a new request and triggers its broadcast.
// Broadcast failures are logged and never fail the submission.
func (s *RequestService) Submit(ctx context.Context, in SubmitInput) (*domain.Request, error) {
	tr := otel.Tracer("services/RequestService")
	ctx, span := tr.Start(ctx, "Submit",
		trace.WithAttributes(attribute.String("request.service_type", string(in.ServiceType))),
	)
	defer span.End()

	in.ServiceType = domain.ServiceType(strings.ToLower(strings.TrimSpace(string(in.ServiceType))))
	in.Address = collapse(in.Address)
	in.Description = strings.TrimSpace(in.Description)
	in.CommonProblem = collapse(in.CommonProblem)
	in.Phone = strings.TrimSpace(in.Phone)

	if err := validateStruct(in); err != nil {
		return nil, err
	}
	if in.CommonProblem == "" {
		if sug := catalog.Suggest(in.ServiceType, in.Description, 1); len(sug) > 0 {
			in.CommonProblem = sug[0].Problem
		}
	}

	r := &domain.Request{
		ServiceType:   in.ServiceType,
		Address:       in.Address,
		Description:   in.Description,
		CommonProblem: in.CommonProblem,
		Phone:         in.Phone,
	}
	if in.PhotoPath != "" {
		p := in.PhotoPath
		r.Photo = &p
	}
	if err := s.Store.Create(ctx, r); err != nil {
		span.RecordError(err)
		return nil, err
	}
	submittedTotal.WithLabelValues(string(r.ServiceType)).Inc()
	span.SetAttributes(attribute.String("request.id", r.ID))

	if s.Coordinator == nil {
		return r, nil
	}
	snapshot := *r
	if s.Async {
		bctx := context.WithoutCancel(ctx)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.broadcast(bctx, &snapshot)
		}()
	} else {
		s.broadcast(ctx, &snapshot)
	}
	return r, nil
}

func (s *RequestService) broadcast(ctx context.Context, r *domain.Request) {
	rep, err := s.Coordinator.Broadcast(ctx, r)
	if err != nil {
		logFrom(ctx).Error().Err(err).Str("request_id", r.ID).Msg("broadcast failed")
		return
	}
	logFrom(ctx).Info().
		Str("request_id", r.ID).
		Str("service_type", string(r.ServiceType)).
		Int("sent", rep.Sent).
		Int("failed", rep.Failed).
		Msg("request broadcast")
}

// Wait blocks until every detached broadcast has finished.
func (s *RequestService) Wait() { s.wg.Wait() }

// Get returns the request with id, or ErrRequestNotFound.
func (s *RequestService) Get(ctx context.Context, id string) (*domain.Request, error) {
	r, err := s.Store.Get(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrRequestNotFound
	}
	return r, err
}

// ListPage returns a page of requests matching f, newest first, and the
// total match count. Invalid page/pageSize fall back to 1 and 20.
func (s *RequestService) ListPage(ctx context.Context, f domain.RequestFilter, page, pageSize int) ([]domain.Request, int64, error) {
	tr := otel.Tracer("services/RequestService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("filter.status", string(f.Status)),
			attribute.String("filter.service_type", string(f.ServiceType)),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	return s.Store.List(ctx, f, (page-1)*pageSize, pageSize)
}

// Stats returns request counts per status.
func (s *RequestService) Stats(ctx context.Context) (*RequestStats, error) {
	by, err := s.Store.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	st := &RequestStats{ByStatus: by}
	for _, n := range by {
		st.Total += n
	}
	if s.Specialists != nil {
		if st.Specialists, err = s.Specialists.CountActive(ctx); err != nil {
			return nil, err
		}
	}
	return st, nil
}

// collapse trims s and collapses internal whitespace runs to one space.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
