// Package sync coordinates the synchronization lifecycle: it spawns and
// resets the association pool, tracks whether a trusted sample has arrived
// in the current cycle, and serves offset estimates to consumers.
package sync

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"example.com/netclock/base/timebase"
	"example.com/netclock/base/timemath"
	"example.com/netclock/core/assoc"
	"example.com/netclock/core/event"
	"example.com/netclock/core/fallback"
)

const resolveTimeout = 30 * time.Second

type Options struct {
	// UseSavedOffsetOnNoTrust lets estimates fall back to the persisted
	// offset while no trusted association is available.
	UseSavedOffsetOnNoTrust bool
	// ResyncOnClockChange triggers Synchronize when the event bus reports
	// a discontinuous local clock adjustment.
	ResyncOnClockChange bool
}

// A Synchronizer owns one association pool and runs synchronization
// cycles against it. All methods are safe for concurrent use; estimates
// never block on peer I/O.
type Synchronizer struct {
	log   *zap.Logger
	clk   timebase.LocalClock
	pool  *assoc.Pool
	store fallback.Store
	bus   event.Bus
	hosts []string
	opts  Options

	mu           sync.Mutex
	cycle        uint64
	synchronized bool

	done         chan struct{}
	stopOnce     sync.Once
	cancelResync func()
}

var _ assoc.Delegate = (*Synchronizer)(nil)

func NewSynchronizer(log *zap.Logger, clk timebase.LocalClock, pool *assoc.Pool,
	store fallback.Store, bus event.Bus, hosts []string, opts Options) *Synchronizer {
	s := &Synchronizer{
		log:   log,
		clk:   clk,
		pool:  pool,
		store: store,
		bus:   bus,
		hosts: hosts,
		opts:  opts,
		done:  make(chan struct{}),
	}
	if opts.ResyncOnClockChange {
		ch, cancel := bus.Subscribe(event.TopicClockChanged)
		s.cancelResync = cancel
		go func() {
			for {
				select {
				case <-s.done:
					return
				case <-ch:
					s.log.Info("local clock changed, resynchronizing")
					s.Synchronize()
				}
			}
		}()
	}
	return s
}

// Synchronize starts a new cycle: the current pool is stopped and
// discarded, the synchronized flag is cleared, and host resolution with
// peer spawning runs on a background goroutine so the caller never blocks
// on the network. A cycle superseded before its resolution completes
// spawns no peers.
func (s *Synchronizer) Synchronize() {
	s.mu.Lock()
	s.pool.StopAll()
	s.synchronized = false
	s.cycle++
	cycle := s.cycle
	s.mu.Unlock()

	mtrcs := syncMtrcs.Load()
	mtrcs.cyclesStarted.Inc()
	mtrcs.synchronized.Set(0)
	s.log.Info("synchronizing", zap.Uint64("cycle", cycle))

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), resolveTimeout)
		defer cancel()
		addrs := s.pool.Resolve(ctx, s.hosts)
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.cycle != cycle {
			return
		}
		s.pool.Start(addrs, s)
	}()
}

// OnAssociationResult implements assoc.Delegate. The result is evaluated
// under the synchronizer lock: Synchronize and Shutdown finish superseded
// peers while holding it, so a callback still in flight when its cycle is
// discarded observes an inactive association here and is dropped without
// touching the store or the cycle state. The first trusted result of a
// cycle persists the offset, marks the cycle synchronized and publishes
// event.TopicSyncCompleted; later trusted results only refresh the
// persisted offset.
func (s *Synchronizer) OnAssociationResult(a assoc.Association) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !a.Active() || !a.Trusty() {
		return
	}
	err := s.store.SetOffset(a.Offset())
	if err != nil {
		s.log.Info("failed to persist fallback offset", zap.Error(err))
	}
	if s.synchronized {
		return
	}
	s.synchronized = true
	mtrcs := syncMtrcs.Load()
	mtrcs.completions.Inc()
	mtrcs.synchronized.Set(1)
	s.log.Info("synchronization complete",
		zap.String("address", a.Address()),
		zap.Float64("offset [s]", a.Offset()),
	)
	s.bus.Publish(event.TopicSyncCompleted)
}

// CurrentOffset estimates the clock offset in seconds over the live pool.
// Oversized pools are pruned of untrusted associations first.
func (s *Synchronizer) CurrentOffset() float64 {
	mtrcs := syncMtrcs.Load()
	evicted := s.pool.EvictUntrusted(maxAssociations)
	if evicted != 0 {
		mtrcs.evicted.Add(float64(evicted))
	}
	as := s.pool.Snapshot()
	offset, useful := Estimate(as, s.store.Offset(), s.opts.UseSavedOffsetOnNoTrust)
	mtrcs.assocTotal.Set(float64(len(as)))
	mtrcs.assocTrusted.Set(float64(useful))
	mtrcs.offset.Set(offset)
	return offset
}

// NetworkNow returns the local time adjusted by the current offset
// estimate.
func (s *Synchronizer) NetworkNow() time.Time {
	return s.clk.Now().Add(-timemath.Duration(s.CurrentOffset()))
}

// Synchronized reports whether a trusted sample has arrived in the
// current cycle.
func (s *Synchronizer) Synchronized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.synchronized
}

// Shutdown stops all associations and event listeners. In-flight
// resolutions spawn no peers afterwards.
func (s *Synchronizer) Shutdown() {
	s.mu.Lock()
	s.cycle++
	s.pool.StopAll()
	s.synchronized = false
	s.mu.Unlock()
	s.stopOnce.Do(func() {
		if s.cancelResync != nil {
			s.cancelResync()
		}
		close(s.done)
	})
}
