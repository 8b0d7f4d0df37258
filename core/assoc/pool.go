package assoc

import (
	"context"
	"net"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// A Pool owns the current set of associations. The set is replaced
// wholesale under the pool mutex and never mutated in place, so Snapshot
// is safe to call from any goroutine without blocking on peer I/O.
type Pool struct {
	Log *zap.Logger

	// NewAssociation creates the association for a resolved address.
	NewAssociation func(address string) Association

	// LookupHost resolves a host name; net.DefaultResolver is used when nil.
	LookupHost func(ctx context.Context, host string) ([]string, error)

	mu  sync.Mutex
	set atomic.Pointer[[]Association]
}

// Resolve maps host names to a deduplicated list of addresses, preserving
// first-seen order. A host that fails to resolve contributes no addresses
// and never aborts the overall resolution.
func (p *Pool) Resolve(ctx context.Context, hosts []string) []string {
	lookup := p.LookupHost
	if lookup == nil {
		lookup = net.DefaultResolver.LookupHost
	}
	seen := make(map[string]bool)
	var addrs []string
	for _, h := range hosts {
		as, err := lookup(ctx, h)
		if err != nil {
			p.Log.Info("failed to resolve host",
				zap.String("host", h), zap.Error(err))
			continue
		}
		for _, a := range as {
			if seen[a] {
				continue
			}
			seen[a] = true
			addrs = append(addrs, a)
		}
	}
	return addrs
}

// Start creates and enables one association per address and installs them
// as the pool's set. The previous set must already have been stopped.
func (p *Pool) Start(addrs []string, d Delegate) {
	p.mu.Lock()
	defer p.mu.Unlock()
	as := make([]Association, 0, len(addrs))
	for _, addr := range addrs {
		a := p.NewAssociation(addr)
		a.Enable(d)
		as = append(as, a)
	}
	p.set.Store(&as)
	p.Log.Debug("association pool started", zap.Int("associations", len(as)))
}

// ResolveAndStart resolves hosts and spawns the resulting associations in
// one step.
func (p *Pool) ResolveAndStart(ctx context.Context, hosts []string, d Delegate) {
	p.Start(p.Resolve(ctx, hosts), d)
}

// StopAll finishes every association and empties the set.
func (p *Pool) StopAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, a := range p.snapshot() {
		a.Finish()
	}
	empty := []Association{}
	p.set.Store(&empty)
}

// EvictUntrusted finishes and removes every untrusted active association,
// but only when the pool holds more than limit associations in total.
// It returns the number of associations evicted.
func (p *Pool) EvictUntrusted(limit int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	as := p.snapshot()
	if len(as) <= limit {
		return 0
	}
	kept := make([]Association, 0, len(as))
	n := 0
	for _, a := range as {
		if a.Active() && !a.Trusty() {
			a.Finish()
			n++
			continue
		}
		kept = append(kept, a)
	}
	if n != 0 {
		p.set.Store(&kept)
		p.Log.Debug("evicted untrusted associations", zap.Int("evicted", n))
	}
	return n
}

// Snapshot returns the current association set. The returned slice is
// immutable and must not be modified.
func (p *Pool) Snapshot() []Association {
	return p.snapshot()
}

// Size returns the total number of associations currently in the pool.
func (p *Pool) Size() int {
	return len(p.snapshot())
}

func (p *Pool) snapshot() []Association {
	as := p.set.Load()
	if as == nil {
		return nil
	}
	return *as
}
