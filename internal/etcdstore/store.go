// Package etcdstore implements the request store on etcd.
//
// Each request is kept under its own key prefix:
//
//	/dispatch/requests/<id>/doc          JSON of the immutable fields
//	/dispatch/requests/<id>/status       "new" | "accepted"
//	/dispatch/requests/<id>/specialist   owning specialist id (accepted only)
//	/dispatch/requests/<id>/accepted_at  RFC 3339 timestamp (accepted only)
//
// The claim is one etcd transaction comparing the status key with "new" and,
// only if it matches, writing status, specialist and accepted_at together.
// etcd serializes transactions, so at most one concurrent caller sees
// TxnResponse.Succeeded for a given request.
//
// Listings scan the whole prefix and page in memory; the store is meant for
// deployments that already run etcd, not for very large archives.
package etcdstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-dispatch-backend/internal/domain"
	"github.com/tbourn/go-dispatch-backend/internal/repo"
)

// DefaultPrefix is the key prefix under which requests are stored.
const DefaultPrefix = "/dispatch/requests"

const (
	keyDoc        = "doc"
	keyStatus     = "status"
	keySpecialist = "specialist"
	keyAcceptedAt = "accepted_at"
)

// NewClient dials etcd.
func NewClient(endpoints []string, timeout time.Duration) (*clientv3.Client, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: timeout,
	})
	if err != nil {
		return nil, err
	}
	return cli, nil
}

// Store is a request store backed by an etcd key space.
type Store struct {
	kv     clientv3.KV
	prefix string
	tracer trace.Tracer
}

// New returns a Store over kv (usually a *clientv3.Client) using
// DefaultPrefix.
func New(kv clientv3.KV) *Store {
	return &Store{kv: kv, prefix: DefaultPrefix, tracer: otel.Tracer("etcdstore")}
}

// doc holds the fields of a request that never change after creation.
type doc struct {
	ID            string             `json:"id"`
	ServiceType   domain.ServiceType `json:"service_type"`
	Address       string             `json:"address"`
	Description   string             `json:"description"`
	CommonProblem string             `json:"common_problem"`
	Phone         string             `json:"phone"`
	Photo         *string            `json:"photo,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
}

// WithPrefix returns a copy of s rooted at prefix. An empty prefix keeps
// the current one.
func (s *Store) WithPrefix(prefix string) *Store {
	out := *s
	if p := strings.TrimRight(strings.TrimSpace(prefix), "/"); p != "" {
		out.prefix = p
	}
	return &out
}

// ErrInvalidID is returned by Create for an id that is not a canonical UUID.
var ErrInvalidID = errors.New("etcdstore: request id must be a canonical UUID")

// validID guards key construction: ids become path segments, and
// path.Join would resolve "..", "/" or "" against the prefix.
func validID(id string) bool {
	u, err := uuid.Parse(id)
	return err == nil && u.String() == id
}

func (s *Store) dir(id string) string { return path.Join(s.prefix, id) + "/" }
func (s *Store) key(id, field string) string { return path.Join(s.prefix, id, field) }

// Create stores r with status "new". ID and timestamps are assigned here.
// A second Create with the same id fails with repo.ErrDuplicate.
func (s *Store) Create(ctx context.Context, r *domain.Request) error {
	ctx, span := s.tracer.Start(ctx, "repo.etcd.Create")
	defer span.End()

	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if !validID(r.ID) {
		return ErrInvalidID
	}
	now := time.Now().UTC()
	r.Status = domain.StatusNew
	r.SpecialistID = nil
	r.AcceptedAt = nil
	r.CreatedAt = now
	r.UpdatedAt = now
	span.SetAttributes(attribute.String("request.id", r.ID))

	b, err := json.Marshal(doc{
		ID:            r.ID,
		ServiceType:   r.ServiceType,
		Address:       r.Address,
		Description:   r.Description,
		CommonProblem: r.CommonProblem,
		Phone:         r.Phone,
		Photo:         r.Photo,
		CreatedAt:     r.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	docKey := s.key(r.ID, keyDoc)
	resp, err := s.kv.Txn(ctx).
		If(clientv3.Compare(clientv3.Version(docKey), "=", 0)).
		Then(
			clientv3.OpPut(docKey, string(b)),
			clientv3.OpPut(s.key(r.ID, keyStatus), string(domain.StatusNew)),
		).
		Commit()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create request in etcd")
		return fmt.Errorf("failed to create request %s in etcd: %w", r.ID, err)
	}
	if !resp.Succeeded {
		return repo.ErrDuplicate
	}
	return nil
}

// Get returns the request with id, or repo.ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*domain.Request, error) {
	ctx, span := s.tracer.Start(ctx, "repo.etcd.Get")
	defer span.End()
	span.SetAttributes(attribute.String("request.id", id))
	if !validID(id) {
		return nil, repo.ErrNotFound
	}

	resp, err := s.kv.Get(ctx, s.dir(id), clientv3.WithPrefix())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get request from etcd")
		return nil, fmt.Errorf("failed to get request %s from etcd: %w", id, err)
	}
	fields := make(map[string][]byte, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		fields[path.Base(string(kv.Key))] = kv.Value
	}
	return assemble(fields)
}

// ClaimIfNew moves request id from "new" to "accepted" owned by
// specialistID in one transaction. It reports whether this call performed
// the transition; an unknown id simply does not match.
func (s *Store) ClaimIfNew(ctx context.Context, id, specialistID string, at time.Time) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "repo.etcd.ClaimIfNew")
	defer span.End()
	span.SetAttributes(
		attribute.String("request.id", id),
		attribute.String("specialist.id", specialistID),
	)
	if !validID(id) {
		return false, nil
	}

	statusKey := s.key(id, keyStatus)
	resp, err := s.kv.Txn(ctx).
		If(clientv3.Compare(clientv3.Value(statusKey), "=", string(domain.StatusNew))).
		Then(
			clientv3.OpPut(statusKey, string(domain.StatusAccepted)),
			clientv3.OpPut(s.key(id, keySpecialist), specialistID),
			clientv3.OpPut(s.key(id, keyAcceptedAt), at.UTC().Format(time.RFC3339Nano)),
		).
		Commit()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "claim transaction failed")
		return false, fmt.Errorf("failed to claim request %s in etcd: %w", id, err)
	}
	span.SetAttributes(attribute.Bool("claim.succeeded", resp.Succeeded))
	return resp.Succeeded, nil
}

// List returns a page of requests matching f, newest first, and the total
// match count.
func (s *Store) List(ctx context.Context, f domain.RequestFilter, offset, limit int) ([]domain.Request, int64, error) {
	ctx, span := s.tracer.Start(ctx, "repo.etcd.List")
	defer span.End()

	all, err := s.scan(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list requests from etcd")
		return nil, 0, err
	}

	matched := make([]domain.Request, 0, len(all))
	for _, r := range all {
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		if f.ServiceType != "" && r.ServiceType != f.ServiceType {
			continue
		}
		matched = append(matched, r)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	total := int64(len(matched))
	if offset < 0 {
		offset = 0
	}
	if offset >= len(matched) {
		return []domain.Request{}, total, nil
	}
	end := len(matched)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return matched[offset:end], total, nil
}

// CountByStatus returns how many requests sit in each status.
func (s *Store) CountByStatus(ctx context.Context) (map[domain.RequestStatus]int64, error) {
	ctx, span := s.tracer.Start(ctx, "repo.etcd.CountByStatus")
	defer span.End()

	all, err := s.scan(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	out := map[domain.RequestStatus]int64{
		domain.StatusNew:      0,
		domain.StatusAccepted: 0,
	}
	for _, r := range all {
		out[r.Status]++
	}
	return out, nil
}

// scan loads every request under the prefix. Malformed entries are skipped.
func (s *Store) scan(ctx context.Context) ([]domain.Request, error) {
	resp, err := s.kv.Get(ctx, s.prefix+"/", clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to scan requests from etcd: %w", err)
	}
	byID := make(map[string]map[string][]byte)
	for _, kv := range resp.Kvs {
		rest := strings.TrimPrefix(string(kv.Key), s.prefix+"/")
		id, field, ok := strings.Cut(rest, "/")
		if !ok {
			continue
		}
		if byID[id] == nil {
			byID[id] = make(map[string][]byte, 4)
		}
		byID[id][field] = kv.Value
	}
	out := make([]domain.Request, 0, len(byID))
	for _, fields := range byID {
		r, err := assemble(fields)
		if err != nil {
			continue
		}
		out = append(out, *r)
	}
	return out, nil
}

// assemble builds a Request from its per-field values.
func assemble(fields map[string][]byte) (*domain.Request, error) {
	raw, ok := fields[keyDoc]
	if !ok {
		return nil, repo.ErrNotFound
	}
	var d doc
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("failed to unmarshal request: %w", err)
	}
	r := &domain.Request{
		ID:            d.ID,
		ServiceType:   d.ServiceType,
		Address:       d.Address,
		Description:   d.Description,
		CommonProblem: d.CommonProblem,
		Phone:         d.Phone,
		Photo:         d.Photo,
		Status:        domain.RequestStatus(fields[keyStatus]),
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.CreatedAt,
	}
	if r.Status == domain.StatusAccepted {
		if v, ok := fields[keySpecialist]; ok {
			sid := string(v)
			r.SpecialistID = &sid
		}
		if v, ok := fields[keyAcceptedAt]; ok {
			if at, err := time.Parse(time.RFC3339Nano, string(v)); err == nil {
				r.AcceptedAt = &at
				r.UpdatedAt = at
			}
		}
	}
	return r, nil
}
