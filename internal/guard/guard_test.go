package guard

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"querygate/internal/cache"
)

type fakeProbe struct {
	counter uint64
	err     error
	calls   int
}

func (p *fakeProbe) Progress(ctx context.Context) (uint64, error) {
	p.calls++
	if p.err != nil {
		return 0, p.err
	}
	return p.counter, nil
}

type failingStore struct {
	inner  cache.Store
	getErr error
	setErr error
}

func (s *failingStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if s.getErr != nil {
		return nil, false, s.getErr
	}
	return s.inner.Get(ctx, key)
}

func (s *failingStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if s.setErr != nil {
		return s.setErr
	}
	return s.inner.Set(ctx, key, value, ttl)
}

func newStore(t *testing.T) *cache.MemoryStore {
	t.Helper()
	s := cache.NewMemoryStore(time.Minute)
	t.Cleanup(func() { s.Close() })
	return s
}

func recordedCounter(t *testing.T, store cache.Store, key string) (uint64, bool) {
	t.Helper()
	raw, ok, err := store.Get(context.Background(), "meta:"+key)
	if err != nil {
		t.Fatalf("read record: %v", err)
	}
	if !ok {
		return 0, false
	}
	var rec struct {
		Counter uint64 `json:"counter"`
	}
	if err := json.Unmarshal(raw, &rec); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	return rec.Counter, true
}

func TestFirstWriteProceeds(t *testing.T) {
	store := newStore(t)
	g := New(&fakeProbe{counter: 100}, store)

	if !g.ShouldWriteThrough(context.Background(), "k") {
		t.Fatalf("first write should proceed")
	}
	if counter, ok := recordedCounter(t, store, "k"); !ok || counter != 100 {
		t.Fatalf("record = (%d, %v), want (100, true)", counter, ok)
	}
}

func TestMonotonicProgression(t *testing.T) {
	store := newStore(t)
	probe := &fakeProbe{counter: 100}
	g := New(probe, store)

	if !g.ShouldWriteThrough(context.Background(), "k") {
		t.Fatalf("first write should proceed")
	}

	// Equal counter is not a regression.
	if !g.ShouldWriteThrough(context.Background(), "k") {
		t.Fatalf("equal counter should proceed")
	}

	probe.counter = 150
	if !g.ShouldWriteThrough(context.Background(), "k") {
		t.Fatalf("advanced counter should proceed")
	}
	if counter, _ := recordedCounter(t, store, "k"); counter != 150 {
		t.Fatalf("record not advanced: %d", counter)
	}
}

func TestRegressionRefusedAndRecordUntouched(t *testing.T) {
	store := newStore(t)
	probe := &fakeProbe{counter: 200}
	g := New(probe, store)

	if !g.ShouldWriteThrough(context.Background(), "k") {
		t.Fatalf("seed write should proceed")
	}

	probe.counter = 120
	if g.ShouldWriteThrough(context.Background(), "k") {
		t.Fatalf("regressed counter must be refused")
	}
	if counter, _ := recordedCounter(t, store, "k"); counter != 200 {
		t.Fatalf("refusal must leave the record untouched, got %d", counter)
	}
}

func TestProbeFailureFailsClosed(t *testing.T) {
	store := newStore(t)
	g := New(&fakeProbe{err: errors.New("probe down")}, store)

	if g.ShouldWriteThrough(context.Background(), "k") {
		t.Fatalf("probe failure must refuse the write")
	}
	if _, ok := recordedCounter(t, store, "k"); ok {
		t.Fatalf("no record should be written on probe failure")
	}
}

func TestUnreadableRecordIsFirstWrite(t *testing.T) {
	mem := newStore(t)
	store := &failingStore{inner: mem, getErr: errors.New("store flaky")}
	g := New(&fakeProbe{counter: 50}, store)

	if !g.ShouldWriteThrough(context.Background(), "k") {
		t.Fatalf("unreadable record should be treated as a first write")
	}
}

func TestCorruptRecordIsFirstWrite(t *testing.T) {
	store := newStore(t)
	if err := store.Set(context.Background(), "meta:k", []byte("}{"), time.Minute); err != nil {
		t.Fatalf("seed corrupt record: %v", err)
	}

	g := New(&fakeProbe{counter: 50}, store)
	if !g.ShouldWriteThrough(context.Background(), "k") {
		t.Fatalf("corrupt record should be treated as a first write")
	}
	if counter, _ := recordedCounter(t, store, "k"); counter != 50 {
		t.Fatalf("record not repaired: %d", counter)
	}
}

func TestRecordWriteFailureFailsClosed(t *testing.T) {
	mem := newStore(t)
	store := &failingStore{inner: mem, setErr: errors.New("store read-only")}
	g := New(&fakeProbe{counter: 50}, store)

	if g.ShouldWriteThrough(context.Background(), "k") {
		t.Fatalf("record persist failure must refuse the write")
	}
}

func TestKeysAreIndependent(t *testing.T) {
	store := newStore(t)
	probe := &fakeProbe{counter: 300}
	g := New(probe, store)

	if !g.ShouldWriteThrough(context.Background(), "a") {
		t.Fatalf("seed a")
	}

	// A regression for key a is not a regression for key b.
	probe.counter = 250
	if g.ShouldWriteThrough(context.Background(), "a") {
		t.Fatalf("key a should refuse")
	}
	if !g.ShouldWriteThrough(context.Background(), "b") {
		t.Fatalf("key b has no record and should proceed")
	}
}
