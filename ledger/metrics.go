package ledger

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics of a Ledger.
type Metrics struct {
	RefreshRequests    prometheus.Counter
	CoalescedRefreshes prometheus.Counter
	Fetches            *prometheus.CounterVec
	MalformedRecords   prometheus.Counter
	FetchDuration      prometheus.Histogram
	Entries            prometheus.Gauge
}

// NewMetrics creates ledger metrics registered on reg.
// Pass prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "batch_clearing"
	}
	factory := promauto.With(reg)

	return &Metrics{
		RefreshRequests: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "refresh_requests_total",
			Help:      "Total number of refresh calls, including calls coalesced onto an in-flight fetch",
		}),
		CoalescedRefreshes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "coalesced_refreshes_total",
			Help:      "Total number of refresh calls answered by a fetch shared with other callers",
		}),
		Fetches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "fetches_total",
			Help:      "Total number of external bid fetches by outcome",
		}, []string{"outcome"}),
		MalformedRecords: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "malformed_records_total",
			Help:      "Total number of raw bid records skipped during ingestion",
		}),
		FetchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of external bid fetches",
			Buckets:   prometheus.DefBuckets,
		}),
		Entries: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "entries",
			Help:      "Number of auctions with a cached bid snapshot",
		}),
	}
}

// The helpers below are nil-safe so a Ledger works without metrics.

func (m *Metrics) refreshRequested() {
	if m != nil {
		m.RefreshRequests.Inc()
	}
}

func (m *Metrics) refreshAnswered(shared bool) {
	if m != nil && shared {
		m.CoalescedRefreshes.Inc()
	}
}

func (m *Metrics) fetched(outcome string, d time.Duration) {
	if m != nil {
		m.Fetches.WithLabelValues(outcome).Inc()
		m.FetchDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) malformed(n int) {
	if m != nil {
		m.MalformedRecords.Add(float64(n))
	}
}

func (m *Metrics) entries(n int) {
	if m != nil {
		m.Entries.Set(float64(n))
	}
}
