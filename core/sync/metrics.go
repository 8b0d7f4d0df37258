package sync

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"example.com/netclock/base/metrics"
)

type syncMetrics struct {
	cyclesStarted prometheus.Counter
	completions   prometheus.Counter
	evicted       prometheus.Counter
	synchronized  prometheus.Gauge
	offset        prometheus.Gauge
	assocTotal    prometheus.Gauge
	assocTrusted  prometheus.Gauge
}

var syncMtrcs atomic.Pointer[syncMetrics]

func init() {
	syncMtrcs.Store(newSyncMetrics())
}

func newSyncMetrics() *syncMetrics {
	return &syncMetrics{
		cyclesStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: metrics.SyncCyclesStartedN,
			Help: metrics.SyncCyclesStartedH,
		}),
		completions: promauto.NewCounter(prometheus.CounterOpts{
			Name: metrics.SyncCompletionsN,
			Help: metrics.SyncCompletionsH,
		}),
		evicted: promauto.NewCounter(prometheus.CounterOpts{
			Name: metrics.AssocEvictedN,
			Help: metrics.AssocEvictedH,
		}),
		synchronized: promauto.NewGauge(prometheus.GaugeOpts{
			Name: metrics.SyncSynchronizedN,
			Help: metrics.SyncSynchronizedH,
		}),
		offset: promauto.NewGauge(prometheus.GaugeOpts{
			Name: metrics.SyncOffsetN,
			Help: metrics.SyncOffsetH,
		}),
		assocTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Name: metrics.AssocTotalN,
			Help: metrics.AssocTotalH,
		}),
		assocTrusted: promauto.NewGauge(prometheus.GaugeOpts{
			Name: metrics.AssocTrustedN,
			Help: metrics.AssocTrustedH,
		}),
	}
}
