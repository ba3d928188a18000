package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ctfboard"

// Cache lookup outcomes.
const (
	LookupLocalHit  = "local_hit"
	LookupRemoteHit = "remote_hit"
	LookupMiss      = "miss"
)

// Metrics holds the service collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	submissions     *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
	rebuilds        *prometheus.CounterVec
	rebuildDuration prometheus.Histogram
	recomputes      *prometheus.CounterVec
	queueDepth      prometheus.Gauge
	schedulerTicks  *prometheus.CounterVec
	broadcasts      *prometheus.CounterVec
}

// New registers all collectors on registry.
func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: registry,
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Answers processed by intake, by terminal status.",
		}, []string{"status"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scoreboard_cache_lookups_total",
			Help:      "Scoreboard reads by cache tier outcome.",
		}, []string{"result"}),
		rebuilds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scoreboard_rebuilds_total",
			Help:      "Scoreboard rebuilds from the store.",
		}, []string{"result"}),
		rebuildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scoreboard_rebuild_seconds",
			Help:      "Time spent rebuilding a scoreboard.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		recomputes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recompute_requests_total",
			Help:      "Recompute requests by outcome.",
		}, []string{"result"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "recompute_queue_depth",
			Help:      "Recompute requests waiting for a worker.",
		}),
		schedulerTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_ticks_total",
			Help:      "Lifecycle scheduler ticks, run or skipped.",
		}, []string{"result"}),
		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_events_total",
			Help:      "Live events published, by outcome.",
		}, []string{"result"}),
	}
	registry.MustRegister(
		m.submissions,
		m.cacheLookups,
		m.rebuilds,
		m.rebuildDuration,
		m.recomputes,
		m.queueDepth,
		m.schedulerTicks,
		m.broadcasts,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SubmissionProcessed(status string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(status).Inc()
}

func (m *Metrics) CacheLookup(result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) Rebuild(err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.rebuilds.WithLabelValues(outcome(err)).Inc()
	m.rebuildDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) Recompute(err error) {
	if m == nil {
		return
	}
	m.recomputes.WithLabelValues(outcome(err)).Inc()
}

func (m *Metrics) QueueDepth(delta float64) {
	if m == nil {
		return
	}
	m.queueDepth.Add(delta)
}

func (m *Metrics) SchedulerTick(ran bool) {
	if m == nil {
		return
	}
	if ran {
		m.schedulerTicks.WithLabelValues("run").Inc()
		return
	}
	m.schedulerTicks.WithLabelValues("skipped").Inc()
}

func (m *Metrics) Broadcast(err error) {
	if m == nil {
		return
	}
	m.broadcasts.WithLabelValues(outcome(err)).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
