// Package ntp implements a time-source association that measures the
// clock offset to a remote NTP server.
package ntp

import (
	"math/rand"
	"sync"
	"time"

	"github.com/beevik/ntp"

	"go.uber.org/zap"

	"example.com/netclock/base/timemath"
	"example.com/netclock/core/assoc"
)

const (
	defaultInterval = 64 * time.Second
	defaultTimeout  = 5 * time.Second
	minStagger      = 1 * time.Second
	maxStagger      = 5 * time.Second
)

// A Client polls one NTP server. The first query is delayed by a random
// stagger so that a freshly spawned pool does not emit a synchronized
// burst of requests.
type Client struct {
	Log *zap.Logger

	// Interval between queries, defaultInterval when zero.
	Interval time.Duration
	// Timeout per query, defaultTimeout when zero.
	Timeout time.Duration

	address string

	mu         sync.Mutex
	delegate   assoc.Delegate
	active     bool
	trusty     bool
	offset     float64
	dispersion float64
	finished   bool
	done       chan struct{}
}

var _ assoc.Association = (*Client)(nil)

func NewClient(log *zap.Logger, address string) *Client {
	return &Client{
		Log:     log,
		address: address,
		done:    make(chan struct{}),
	}
}

func (c *Client) Address() string { return c.address }

func (c *Client) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *Client) Trusty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.trusty
}

func (c *Client) Offset() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offset
}

func (c *Client) Dispersion() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dispersion
}

func (c *Client) Enable(d assoc.Delegate) {
	c.mu.Lock()
	if c.finished || c.active {
		c.mu.Unlock()
		return
	}
	c.delegate = d
	c.active = true
	c.mu.Unlock()
	go c.run()
}

func (c *Client) run() {
	interval := c.Interval
	if interval == 0 {
		interval = defaultInterval
	}
	stagger := minStagger + time.Duration(rand.Int63n(int64(maxStagger-minStagger)))
	timer := time.NewTimer(stagger)
	defer timer.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-timer.C:
		}
		c.measure()
		timer.Reset(interval)
	}
}

func (c *Client) measure() {
	timeout := c.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	trusty := false
	var offset, dispersion float64
	resp, err := ntp.QueryWithOptions(c.address, ntp.QueryOptions{
		Timeout: timeout,
	})
	if err != nil {
		c.Log.Info("failed to query time server",
			zap.String("address", c.address), zap.Error(err))
	} else if err := resp.Validate(); err != nil {
		c.Log.Info("untrusted response from time server",
			zap.String("address", c.address), zap.Error(err))
	} else {
		trusty = true
		// The server measures the offset as remote minus local;
		// associations report local minus remote.
		offset = -timemath.Seconds(resp.ClockOffset)
		dispersion = timemath.Seconds(resp.RootDispersion + resp.RTT/2)
		c.Log.Debug("measured clock offset",
			zap.String("address", c.address),
			zap.Float64("offset [s]", offset),
			zap.Float64("dispersion [s]", dispersion),
			zap.Duration("rtt", resp.RTT),
		)
	}

	c.mu.Lock()
	if c.finished {
		c.mu.Unlock()
		return
	}
	c.trusty = trusty
	if trusty {
		c.offset = offset
		c.dispersion = dispersion
	}
	d := c.delegate
	c.mu.Unlock()
	if d != nil {
		d.OnAssociationResult(c)
	}
}

func (c *Client) Finish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finished {
		return
	}
	c.finished = true
	c.active = false
	c.delegate = nil
	close(c.done)
}

// MeasureOffset performs a single query against address and returns the
// local-minus-remote clock offset and its dispersion, both in seconds.
func MeasureOffset(log *zap.Logger, address string, timeout time.Duration) (
	offset, dispersion float64, err error) {
	if timeout == 0 {
		timeout = defaultTimeout
	}
	resp, err := ntp.QueryWithOptions(address, ntp.QueryOptions{
		Timeout: timeout,
	})
	if err != nil {
		return 0, 0, err
	}
	err = resp.Validate()
	if err != nil {
		return 0, 0, err
	}
	offset = -timemath.Seconds(resp.ClockOffset)
	dispersion = timemath.Seconds(resp.RootDispersion + resp.RTT/2)
	log.Debug("measured clock offset",
		zap.String("address", address),
		zap.Float64("offset [s]", offset),
		zap.Float64("dispersion [s]", dispersion),
	)
	return offset, dispersion, nil
}
