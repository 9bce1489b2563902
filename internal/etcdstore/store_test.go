package etcdstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	pb "go.etcd.io/etcd/api/v3/etcdserverpb"
	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/tbourn/go-dispatch-backend/internal/domain"
	"github.com/tbourn/go-dispatch-backend/internal/repo"
)

// ---------- in-memory clientv3.KV ----------
//
// memKV supports what the store uses: Get (single key or prefix), Put and
// Txn with EQUAL comparisons on Value and Version. Transactions run under
// one mutex, which mirrors etcd's serializable transaction semantics.

type memKV struct {
	mu      sync.Mutex
	data    map[string]string
	version map[string]int64
	failGet bool
}

func newMemKV() *memKV {
	return &memKV{data: map[string]string{}, version: map[string]int64{}}
}

func (m *memKV) Put(_ context.Context, key, val string, _ ...clientv3.OpOption) (*clientv3.PutResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(key, val)
	return &clientv3.PutResponse{}, nil
}

func (m *memKV) put(key, val string) {
	m.data[key] = val
	m.version[key]++
}

func (m *memKV) Get(_ context.Context, key string, opts ...clientv3.OpOption) (*clientv3.GetResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet {
		return nil, errors.New("etcd unavailable")
	}
	op := clientv3.OpGet(key, opts...)
	end := string(op.RangeBytes())

	keys := make([]string, 0)
	for k := range m.data {
		switch {
		case end == "" && k == key:
			keys = append(keys, k)
		case end != "" && k >= key && k < end:
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	resp := &clientv3.GetResponse{}
	for _, k := range keys {
		resp.Kvs = append(resp.Kvs, &mvccpb.KeyValue{Key: []byte(k), Value: []byte(m.data[k]), Version: m.version[k]})
	}
	resp.Count = int64(len(resp.Kvs))
	return resp, nil
}

func (m *memKV) Delete(_ context.Context, key string, _ ...clientv3.OpOption) (*clientv3.DeleteResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	delete(m.version, key)
	return &clientv3.DeleteResponse{}, nil
}

func (m *memKV) Compact(context.Context, int64, ...clientv3.CompactOption) (*clientv3.CompactResponse, error) {
	return &clientv3.CompactResponse{}, nil
}

func (m *memKV) Do(context.Context, clientv3.Op) (clientv3.OpResponse, error) {
	return clientv3.OpResponse{}, errors.New("memKV: Do not supported")
}

func (m *memKV) Txn(context.Context) clientv3.Txn { return &memTxn{kv: m} }

type memTxn struct {
	kv   *memKV
	cmps []clientv3.Cmp
	then []clientv3.Op
	els  []clientv3.Op
}

func (t *memTxn) If(cs ...clientv3.Cmp) clientv3.Txn {
	t.cmps = append(t.cmps, cs...)
	return t
}

func (t *memTxn) Then(ops ...clientv3.Op) clientv3.Txn {
	t.then = append(t.then, ops...)
	return t
}

func (t *memTxn) Else(ops ...clientv3.Op) clientv3.Txn {
	t.els = append(t.els, ops...)
	return t
}

func (t *memTxn) Commit() (*clientv3.TxnResponse, error) {
	t.kv.mu.Lock()
	defer t.kv.mu.Unlock()

	ok := true
	for i := range t.cmps {
		c := t.cmps[i]
		if c.Result != pb.Compare_EQUAL {
			return nil, fmt.Errorf("memKV: unsupported compare result %v", c.Result)
		}
		key := string(c.KeyBytes())
		switch tu := c.TargetUnion.(type) {
		case *pb.Compare_Value:
			v, exists := t.kv.data[key]
			ok = ok && exists && v == string(tu.Value)
		case *pb.Compare_Version:
			ok = ok && t.kv.version[key] == tu.Version
		default:
			return nil, fmt.Errorf("memKV: unsupported compare target %T", tu)
		}
	}
	ops := t.els
	if ok {
		ops = t.then
	}
	for _, op := range ops {
		if !op.IsPut() {
			return nil, errors.New("memKV: only put ops are supported in txns")
		}
		t.kv.put(string(op.KeyBytes()), string(op.ValueBytes()))
	}
	return &clientv3.TxnResponse{Succeeded: ok}, nil
}

// ---------- tests ----------

func newRequest(typ domain.ServiceType, addr string) *domain.Request {
	return &domain.Request{ServiceType: typ, Address: addr, Description: "d", Phone: "+15550000"}
}

func TestKeys(t *testing.T) {
	s := New(newMemKV())
	if got := s.key("abc", keyStatus); got != "/dispatch/requests/abc/status" {
		t.Fatalf("unexpected key %q", got)
	}
	if got := s.dir("abc"); got != "/dispatch/requests/abc/" {
		t.Fatalf("unexpected dir %q", got)
	}

	scoped := s.WithPrefix("/tenant-a/requests/")
	if got := scoped.key("abc", keyDoc); got != "/tenant-a/requests/abc/doc" {
		t.Fatalf("unexpected scoped key %q", got)
	}
	if got := s.key("abc", keyDoc); got != "/dispatch/requests/abc/doc" {
		t.Fatalf("WithPrefix must not mutate the original, got %q", got)
	}
	if got := s.WithPrefix("  ").key("abc", keyDoc); got != "/dispatch/requests/abc/doc" {
		t.Fatalf("blank prefix should keep the default, got %q", got)
	}
}

func TestCreateGet_RoundTrip(t *testing.T) {
	ctx := context.Background()
	kv := newMemKV()
	s := New(kv)

	photo := "uploads/p.jpg"
	r := newRequest(domain.ServicePlumbing, "12 Main St")
	r.Photo = &photo
	if err := s.Create(ctx, r); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if kv.data[s.key(r.ID, keyStatus)] != "new" {
		t.Fatalf("status key not written: %v", kv.data)
	}

	got, err := s.Get(ctx, r.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Address != "12 Main St" || got.Status != domain.StatusNew || got.SpecialistID != nil || !got.HasPhoto() {
		t.Fatalf("unexpected request %+v", got)
	}

	dup := newRequest(domain.ServicePlumbing, "x")
	dup.ID = r.ID
	if err := s.Create(ctx, dup); !errors.Is(err, repo.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGet_PrefixDoesNotLeakAcrossIDs(t *testing.T) {
	ctx := context.Background()
	s := New(newMemKV())
	a := newRequest(domain.ServicePlumbing, "a")
	b := newRequest(domain.ServicePlumbing, "b")
	if err := s.Create(ctx, a); err != nil {
		t.Fatal(err)
	}
	if err := s.Create(ctx, b); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(ctx, a.ID)
	if err != nil || got.Address != "a" {
		t.Fatalf("Get(a) = %+v, %v", got, err)
	}
}

func TestInvalidIDs_NeverReachTheKeySpace(t *testing.T) {
	ctx := context.Background()
	kv := newMemKV()
	s := New(kv)
	r := newRequest(domain.ServicePlumbing, "12 Main St")
	if err := s.Create(ctx, r); err != nil {
		t.Fatal(err)
	}

	for _, id := range []string{"..", "../requests", "", "/", "ab", r.ID + "/..", strings.ToUpper(r.ID)} {
		if got, err := s.Get(ctx, id); !errors.Is(err, repo.ErrNotFound) {
			t.Fatalf("Get(%q) = %+v, %v; want ErrNotFound", id, got, err)
		}
		if ok, err := s.ClaimIfNew(ctx, id, "spec-a", time.Now()); ok || err != nil {
			t.Fatalf("ClaimIfNew(%q) = %v, %v", id, ok, err)
		}
	}
	bad := newRequest(domain.ServicePlumbing, "x")
	bad.ID = "../escape"
	if err := s.Create(ctx, bad); !errors.Is(err, ErrInvalidID) {
		t.Fatalf("Create with bad id err=%v", err)
	}
	if got, _ := s.Get(ctx, r.ID); got.Status != domain.StatusNew {
		t.Fatalf("stored request touched: %+v", got)
	}
}

func TestClaimIfNew_Semantics(t *testing.T) {
	ctx := context.Background()
	s := New(newMemKV())
	r := newRequest(domain.ServiceLocksmith, "5 Key St")
	if err := s.Create(ctx, r); err != nil {
		t.Fatal(err)
	}

	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	ok, err := s.ClaimIfNew(ctx, r.ID, "spec-a", at)
	if err != nil || !ok {
		t.Fatalf("first claim: %v %v", ok, err)
	}
	ok, err = s.ClaimIfNew(ctx, r.ID, "spec-b", at)
	if err != nil || ok {
		t.Fatalf("second claim must fail: %v %v", ok, err)
	}
	ok, err = s.ClaimIfNew(ctx, "unknown", "spec-a", at)
	if err != nil || ok {
		t.Fatalf("unknown id must not match: %v %v", ok, err)
	}

	got, _ := s.Get(ctx, r.ID)
	if got.Status != domain.StatusAccepted || got.SpecialistID == nil || *got.SpecialistID != "spec-a" {
		t.Fatalf("unexpected owner %+v", got)
	}
	if got.AcceptedAt == nil || !got.AcceptedAt.Equal(at) || !got.UpdatedAt.Equal(at) {
		t.Fatalf("accepted_at not recorded: %+v", got)
	}
}

func TestClaimIfNew_Concurrent_ExactlyOne(t *testing.T) {
	ctx := context.Background()
	s := New(newMemKV())
	for round := 0; round < 20; round++ {
		r := newRequest(domain.ServiceElectrical, "x")
		if err := s.Create(ctx, r); err != nil {
			t.Fatal(err)
		}
		var wins int32
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ok, err := s.ClaimIfNew(ctx, r.ID, fmt.Sprintf("spec-%d", i), time.Now())
				if err == nil && ok {
					atomic.AddInt32(&wins, 1)
				}
			}(i)
		}
		wg.Wait()
		if wins != 1 {
			t.Fatalf("round %d: expected one winner, got %d", round, wins)
		}
	}
}

func TestListAndCount(t *testing.T) {
	ctx := context.Background()
	s := New(newMemKV())

	var ids []string
	for i := 0; i < 3; i++ {
		r := newRequest(domain.ServicePlumbing, fmt.Sprintf("p%d", i))
		if err := s.Create(ctx, r); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, r.ID)
		time.Sleep(2 * time.Millisecond)
	}
	if err := s.Create(ctx, newRequest(domain.ServiceCarpenter, "c")); err != nil {
		t.Fatal(err)
	}
	if ok, _ := s.ClaimIfNew(ctx, ids[0], "s", time.Now()); !ok {
		t.Fatal("claim failed")
	}

	items, total, err := s.List(ctx, domain.RequestFilter{ServiceType: domain.ServicePlumbing}, 0, 2)
	if err != nil || total != 3 || len(items) != 2 {
		t.Fatalf("list: len=%d total=%d err=%v", len(items), total, err)
	}
	if items[0].Address != "p2" {
		t.Fatalf("expected newest first, got %s", items[0].Address)
	}
	items, total, _ = s.List(ctx, domain.RequestFilter{Status: domain.StatusAccepted}, 0, 10)
	if total != 1 || items[0].ID != ids[0] {
		t.Fatalf("accepted filter: %+v", items)
	}
	items, total, _ = s.List(ctx, domain.RequestFilter{}, 10, 10)
	if total != 4 || len(items) != 0 {
		t.Fatalf("offset past end: len=%d total=%d", len(items), total)
	}

	counts, err := s.CountByStatus(ctx)
	if err != nil || counts[domain.StatusNew] != 3 || counts[domain.StatusAccepted] != 1 {
		t.Fatalf("counts: %v %v", counts, err)
	}
}

func TestScan_SkipsMalformed_AndPropagatesErrors(t *testing.T) {
	ctx := context.Background()
	kv := newMemKV()
	s := New(kv)
	if err := s.Create(ctx, newRequest(domain.ServicePlumbing, "ok")); err != nil {
		t.Fatal(err)
	}
	kv.data[DefaultPrefix+"/broken/doc"] = "{not json"
	kv.data[DefaultPrefix+"/orphan/status"] = "new"
	kv.data[DefaultPrefix+"/stray"] = "x"

	items, total, err := s.List(ctx, domain.RequestFilter{}, 0, 10)
	if err != nil || total != 1 || len(items) != 1 {
		t.Fatalf("malformed entries should be skipped: len=%d total=%d err=%v", len(items), total, err)
	}

	kv.failGet = true
	if _, _, err := s.List(ctx, domain.RequestFilter{}, 0, 10); err == nil || !strings.Contains(err.Error(), "etcd") {
		t.Fatalf("expected scan error, got %v", err)
	}
	if _, err := s.Get(ctx, "6f1c2a3b-4d5e-4f60-8a7b-9c0d1e2f3a4b"); err == nil || errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected get error, got %v", err)
	}
}
