package clock

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"example.com/netclock/base/timemath"
	"example.com/netclock/core/event"
)

const (
	defaultWatchInterval = 10 * time.Second

	// defaultJumpThreshold separates scheduling noise between two clock
	// readings from a genuine discontinuous adjustment of the wall clock.
	defaultJumpThreshold = 500 * time.Millisecond
)

// WallMonoDiff reports how much the wall clock reading of t diverges from
// its monotonic reading, both relative to ref. Go samples the two clocks
// together in time.Now, so under normal conditions the difference stays
// within microseconds; a larger value means the wall clock was stepped
// between ref and t.
func WallMonoDiff(ref, t time.Time) time.Duration {
	return t.Round(0).Sub(ref) - t.Sub(ref)
}

// A Watch samples the wall and monotonic clocks periodically and
// publishes event.TopicClockChanged when the wall clock jumps by more
// than the threshold between two samples.
type Watch struct {
	Log *zap.Logger
	Bus event.Bus

	// Interval between samples, defaultWatchInterval when zero.
	Interval time.Duration
	// Threshold above which a divergence counts as a jump,
	// defaultJumpThreshold when zero.
	Threshold time.Duration

	done     chan struct{}
	stopOnce sync.Once
}

// StartWatch begins publishing clock-change events on bus.
func StartWatch(log *zap.Logger, bus event.Bus) *Watch {
	w := &Watch{
		Log:  log,
		Bus:  bus,
		done: make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *Watch) run() {
	interval := w.Interval
	if interval == 0 {
		interval = defaultWatchInterval
	}
	threshold := w.Threshold
	if threshold == 0 {
		threshold = defaultJumpThreshold
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	ref := time.Now()
	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
		}
		t := time.Now()
		d := WallMonoDiff(ref, t)
		if timemath.Abs(d) > threshold {
			w.Log.Info("local clock jumped", zap.Duration("by", d))
			w.Bus.Publish(event.TopicClockChanged)
		}
		ref = t
	}
}

// Stop ends sampling. It is idempotent.
func (w *Watch) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}
