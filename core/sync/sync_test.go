package sync_test

import (
	"context"
	"errors"
	"fmt"
	stdsync "sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"example.com/netclock/core/assoc"
	"example.com/netclock/core/event"
	"example.com/netclock/core/sync"
)

type fakeAssoc struct {
	address string

	mu         stdsync.Mutex
	active     bool
	trusty     bool
	offset     float64
	dispersion float64
	delegate   assoc.Delegate
}

var _ assoc.Association = (*fakeAssoc)(nil)

func (a *fakeAssoc) Address() string { return a.address }

func (a *fakeAssoc) Active() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}

func (a *fakeAssoc) Trusty() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.trusty
}

func (a *fakeAssoc) Offset() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.offset
}

func (a *fakeAssoc) Dispersion() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dispersion
}

func (a *fakeAssoc) Enable(d assoc.Delegate) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.delegate = d
	a.active = true
}

func (a *fakeAssoc) Finish() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.active = false
	a.delegate = nil
}

// report simulates an asynchronous measurement result.
func (a *fakeAssoc) report(trusty bool, offset, dispersion float64) {
	a.mu.Lock()
	a.trusty = trusty
	a.offset = offset
	a.dispersion = dispersion
	d := a.delegate
	a.mu.Unlock()
	if d != nil {
		d.OnAssociationResult(a)
	}
}

func addr(i int) string {
	return fmt.Sprintf("10.0.0.%d", i+1)
}

type memStore struct {
	mu     stdsync.Mutex
	offset float64
	sets   int
}

func (s *memStore) Offset() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offset
}

func (s *memStore) SetOffset(v float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offset = v
	s.sets++
	return nil
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time        { return c.now }
func (c *fakeClock) Sleep(_ time.Duration) {}

type testEngine struct {
	s     *sync.Synchronizer
	pool  *assoc.Pool
	store *memStore
	bus   event.Bus
	clk   *fakeClock
}

func newTestEngine(t *testing.T, hosts map[string][]string,
	opts sync.Options) *testEngine {
	t.Helper()
	pool := &assoc.Pool{
		Log: zap.NewNop(),
		NewAssociation: func(address string) assoc.Association {
			return &fakeAssoc{address: address}
		},
		LookupHost: func(_ context.Context, host string) ([]string, error) {
			as, ok := hosts[host]
			if !ok {
				return nil, errors.New("no such host")
			}
			return as, nil
		},
	}
	store := &memStore{}
	bus := event.NewBus()
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0).UTC()}
	var hostNames []string
	for h := range hosts {
		hostNames = append(hostNames, h)
	}
	s := sync.NewSynchronizer(zap.NewNop(), clk, pool, store, bus, hostNames, opts)
	t.Cleanup(s.Shutdown)
	return &testEngine{s: s, pool: pool, store: store, bus: bus, clk: clk}
}

func waitFor(t *testing.T, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func TestSynchronizeSpawnsResolvedPeers(t *testing.T) {
	e := newTestEngine(t, map[string][]string{
		"a.test": {"10.0.0.1", "10.0.0.2"},
		"b.test": {"10.0.0.2", "10.0.0.3"},
	}, sync.Options{})

	if e.s.Synchronized() {
		t.Error("Synchronized() = true before any cycle")
	}
	e.s.Synchronize()
	waitFor(t, "pool to spawn", func() bool { return e.pool.Size() == 3 })
	for _, a := range e.pool.Snapshot() {
		if !a.Active() {
			t.Errorf("association %s not active after spawn", a.Address())
		}
	}
}

func TestFirstTrustedCallbackCompletesCycle(t *testing.T) {
	e := newTestEngine(t, map[string][]string{
		"a.test": {"10.0.0.1", "10.0.0.2"},
	}, sync.Options{})
	completed, cancel := e.bus.Subscribe(event.TopicSyncCompleted)
	defer cancel()

	e.s.Synchronize()
	waitFor(t, "pool to spawn", func() bool { return e.pool.Size() == 2 })

	as := e.pool.Snapshot()
	as[0].(*fakeAssoc).report(true, 1.25, 0.01)

	if !e.s.Synchronized() {
		t.Error("Synchronized() = false after trusted result")
	}
	if got := e.store.Offset(); got != 1.25 {
		t.Errorf("persisted offset = %v, want 1.25", got)
	}
	select {
	case <-completed:
	default:
		t.Fatal("no completion event after first trusted result")
	}

	// A second trusted result refreshes the persisted offset but does
	// not re-emit the completion event.
	as[1].(*fakeAssoc).report(true, 1.5, 0.02)
	if got := e.store.Offset(); got != 1.5 {
		t.Errorf("persisted offset = %v after second result, want 1.5", got)
	}
	select {
	case <-completed:
		t.Fatal("completion event emitted twice in one cycle")
	default:
	}
	if e.store.sets != 2 {
		t.Errorf("store writes = %d, want 2", e.store.sets)
	}
}

func TestUntrustedCallbackDoesNotComplete(t *testing.T) {
	e := newTestEngine(t, map[string][]string{
		"a.test": {"10.0.0.1"},
	}, sync.Options{})

	e.s.Synchronize()
	waitFor(t, "pool to spawn", func() bool { return e.pool.Size() == 1 })

	e.pool.Snapshot()[0].(*fakeAssoc).report(false, 0, 0)
	if e.s.Synchronized() {
		t.Error("Synchronized() = true after untrusted result")
	}
	if e.store.sets != 0 {
		t.Errorf("store writes = %d after untrusted result, want 0", e.store.sets)
	}
}

func TestResyncStopsPreviousPeers(t *testing.T) {
	e := newTestEngine(t, map[string][]string{
		"a.test": {"10.0.0.1", "10.0.0.2"},
	}, sync.Options{})

	e.s.Synchronize()
	waitFor(t, "first pool to spawn", func() bool { return e.pool.Size() == 2 })
	prev := e.pool.Snapshot()
	prev[0].(*fakeAssoc).report(true, 0.5, 0.01)
	if !e.s.Synchronized() {
		t.Fatal("Synchronized() = false after trusted result")
	}

	e.s.Synchronize()
	for _, a := range prev {
		if a.Active() {
			t.Errorf("previous association %s still active after resync",
				a.Address())
		}
	}
	if e.s.Synchronized() {
		t.Error("Synchronized() = true right after resync")
	}

	waitFor(t, "second pool to spawn", func() bool {
		as := e.pool.Snapshot()
		if len(as) != 2 {
			return false
		}
		for _, a := range as {
			for _, p := range prev {
				if a == p {
					return false
				}
			}
		}
		return true
	})

	// A late result from a finished peer of the old cycle is a no-op.
	prev[1].(*fakeAssoc).report(true, 9.0, 0.01)
	if e.s.Synchronized() {
		t.Error("stale peer result completed the new cycle")
	}
}

func TestStaleCallbackAfterResyncIsIgnored(t *testing.T) {
	e := newTestEngine(t, map[string][]string{
		"a.test": {"10.0.0.1"},
	}, sync.Options{})
	completed, cancel := e.bus.Subscribe(event.TopicSyncCompleted)
	defer cancel()

	e.s.Synchronize()
	waitFor(t, "first pool to spawn", func() bool { return e.pool.Size() == 1 })
	stale := e.pool.Snapshot()[0].(*fakeAssoc)

	// The peer has a trusted measurement, but its delivery is still in
	// flight when the cycle is torn down underneath it.
	stale.mu.Lock()
	stale.trusty = true
	stale.offset = 9.9
	stale.dispersion = 0.01
	stale.mu.Unlock()

	e.s.Synchronize()
	waitFor(t, "second pool to spawn", func() bool {
		as := e.pool.Snapshot()
		return len(as) == 1 && as[0] != assoc.Association(stale)
	})

	e.s.OnAssociationResult(stale)
	if e.s.Synchronized() {
		t.Error("finished peer of a discarded cycle marked the new cycle synchronized")
	}
	if e.store.sets != 0 {
		t.Errorf("store writes = %d after discarded result, want 0", e.store.sets)
	}
	select {
	case <-completed:
		t.Fatal("completion event published in a cycle with no trusted sample")
	default:
	}

	// The new cycle's own peer still completes it.
	e.pool.Snapshot()[0].(*fakeAssoc).report(true, 0.25, 0.01)
	if !e.s.Synchronized() {
		t.Error("Synchronized() = false after trusted result of the new cycle")
	}
	if got := e.store.Offset(); got != 0.25 {
		t.Errorf("persisted offset = %v, want 0.25", got)
	}
	select {
	case <-completed:
	default:
		t.Fatal("no completion event after trusted result of the new cycle")
	}
}

func TestShutdownDiscardsInFlightResolution(t *testing.T) {
	gate := make(chan struct{})
	pool := &assoc.Pool{
		Log: zap.NewNop(),
		NewAssociation: func(address string) assoc.Association {
			return &fakeAssoc{address: address}
		},
		LookupHost: func(_ context.Context, host string) ([]string, error) {
			<-gate
			return []string{"10.0.0.1"}, nil
		},
	}
	store := &memStore{}
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0).UTC()}
	s := sync.NewSynchronizer(zap.NewNop(), clk, pool, store, event.NewBus(),
		[]string{"a.test"}, sync.Options{})

	s.Synchronize()
	s.Shutdown()
	close(gate)

	// The superseded resolution must not spawn peers.
	time.Sleep(50 * time.Millisecond)
	if pool.Size() != 0 {
		t.Errorf("pool size = %d after shutdown, want 0", pool.Size())
	}
}

func TestClockChangeTriggersResync(t *testing.T) {
	e := newTestEngine(t, map[string][]string{
		"a.test": {"10.0.0.1"},
	}, sync.Options{ResyncOnClockChange: true})

	e.s.Synchronize()
	waitFor(t, "first pool to spawn", func() bool { return e.pool.Size() == 1 })
	prev := e.pool.Snapshot()[0]

	e.bus.Publish(event.TopicClockChanged)
	waitFor(t, "previous peer to be stopped", func() bool {
		return !prev.Active()
	})
}

func TestCurrentOffsetEvictsOversizedPool(t *testing.T) {
	addrs := make([]string, 10)
	for i := range addrs {
		addrs[i] = addr(i)
	}
	e := newTestEngine(t, map[string][]string{"a.test": addrs}, sync.Options{})

	e.s.Synchronize()
	waitFor(t, "pool to spawn", func() bool { return e.pool.Size() == 10 })

	as := e.pool.Snapshot()
	for i := 0; i < 6; i++ {
		as[i].(*fakeAssoc).report(true, 1.0, 0.01*float64(i+1))
	}

	if got := e.s.CurrentOffset(); got != 1.0 {
		t.Errorf("CurrentOffset() = %v, want 1.0", got)
	}
	if e.pool.Size() != 6 {
		t.Errorf("pool size = %d after estimate, want 6", e.pool.Size())
	}
}

func TestCurrentOffsetKeepsSmallPool(t *testing.T) {
	e := newTestEngine(t, map[string][]string{
		"a.test": {"10.0.0.1", "10.0.0.2", "10.0.0.3"},
	}, sync.Options{UseSavedOffsetOnNoTrust: true})

	e.s.Synchronize()
	waitFor(t, "pool to spawn", func() bool { return e.pool.Size() == 3 })

	_ = e.store.SetOffset(0.375)
	if got := e.s.CurrentOffset(); got != 0.375 {
		t.Errorf("CurrentOffset() = %v with saved fallback, want 0.375", got)
	}
	if e.pool.Size() != 3 {
		t.Errorf("pool size = %d, untrusted peers must survive below the limit",
			e.pool.Size())
	}
}

func TestNetworkNow(t *testing.T) {
	e := newTestEngine(t, map[string][]string{
		"a.test": {"10.0.0.1"},
	}, sync.Options{})

	e.s.Synchronize()
	waitFor(t, "pool to spawn", func() bool { return e.pool.Size() == 1 })
	e.pool.Snapshot()[0].(*fakeAssoc).report(true, 1.5, 0.01)

	want := e.clk.now.Add(-1500 * time.Millisecond)
	if got := e.s.NetworkNow(); !got.Equal(want) {
		t.Errorf("NetworkNow() = %v, want %v", got, want)
	}
}
