package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/you/chatminder/internal/core"
)

// Metrics bundles the Prometheus collectors for the whole pipeline. All
// methods are nil-safe so tests can pass a nil *Metrics and skip collection.
type Metrics struct {
	registry *prometheus.Registry

	eventsIngested *prometheus.CounterVec
	eventsDropped  *prometheus.CounterVec
	gateDiscards   prometheus.Counter

	queueDepth     prometheus.Gauge
	queueEvictions prometheus.Counter
	queueExpired   prometheus.Counter
	queueStale     prometheus.Counter
	rateSkips      *prometheus.CounterVec

	dispatches    *prometheus.CounterVec
	sendErrors    *prometheus.CounterVec
	acks          *prometheus.CounterVec
	duplicates    prometheus.Counter
	genFailures   prometheus.Counter
	genSeconds    prometheus.Histogram
	viewerWrites  prometheus.Counter
	viewerErrors  prometheus.Counter
	reconnects    *prometheus.CounterVec
	terminalDowns *prometheus.CounterVec
	connState     *prometheus.GaugeVec
	polls         prometheus.Counter
	pollSuspends  prometheus.Counter
	httpLimited   prometheus.Counter
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		eventsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatminder",
			Name:      "events_ingested_total",
			Help:      "Normalized events received from adapters",
		}, []string{"platform", "kind"}),
		eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatminder",
			Name:      "events_dropped_total",
			Help:      "Frames or events discarded before triage",
		}, []string{"component", "reason"}),
		gateDiscards: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatminder",
			Name:      "gate_discards_total",
			Help:      "Events discarded by the cost-control gate",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chatminder",
			Name:      "queue_depth",
			Help:      "Prioritized messages currently queued",
		}),
		queueEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatminder",
			Name:      "queue_evictions_total",
			Help:      "Messages evicted on queue overflow",
		}),
		queueExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatminder",
			Name:      "queue_expired_total",
			Help:      "Messages purged for exceeding the age bound",
		}),
		queueStale: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatminder",
			Name:      "queue_stale_total",
			Help:      "Unselected messages marked processed by age",
		}),
		rateSkips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatminder",
			Name:      "rate_limit_skips_total",
			Help:      "Selection ticks skipped by the response rate limiter",
		}, []string{"reason"}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatminder",
			Name:      "dispatches_total",
			Help:      "Replies dispatched per platform",
		}, []string{"platform"}),
		sendErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatminder",
			Name:      "send_errors_total",
			Help:      "Outbound sends that failed per platform",
		}, []string{"platform"}),
		acks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatminder",
			Name:      "notification_acks_total",
			Help:      "Subscription, bits, and raid acknowledgements",
		}, []string{"kind"}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatminder",
			Name:      "duplicate_notifications_total",
			Help:      "Cross-source duplicate notifications suppressed",
		}),
		genFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatminder",
			Name:      "generation_failures_total",
			Help:      "Reply generations that errored or returned empty",
		}),
		genSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "chatminder",
			Name:      "generation_duration_seconds",
			Help:      "Latency of reply generation calls",
			Buckets:   prometheus.DefBuckets,
		}),
		viewerWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatminder",
			Name:      "viewer_store_writes_total",
			Help:      "Viewer records flushed to the store",
		}),
		viewerErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatminder",
			Name:      "viewer_store_errors_total",
			Help:      "Viewer store writes that failed",
		}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatminder",
			Name:      "reconnect_attempts_total",
			Help:      "Socket reconnect attempts per component",
		}, []string{"component"}),
		terminalDowns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatminder",
			Name:      "terminal_disconnects_total",
			Help:      "Components that exhausted their reconnect budget",
		}, []string{"component"}),
		connState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "chatminder",
			Name:      "connection_state",
			Help:      "Connection state per component (0 connecting, 1 connected, 2 reconnecting, 3 disconnected)",
		}, []string{"component"}),
		polls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatminder",
			Name:      "mention_polls_total",
			Help:      "Mention poll cycles executed",
		}),
		pollSuspends: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatminder",
			Name:      "mention_poll_suspensions_total",
			Help:      "Poll suspensions forced by platform rate limiting",
		}),
		httpLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatminder",
			Name:      "http_rate_limited_total",
			Help:      "Ops requests rejected by the per-IP limiter",
		}),
	}

	registry.MustRegister(
		m.eventsIngested,
		m.eventsDropped,
		m.gateDiscards,
		m.queueDepth,
		m.queueEvictions,
		m.queueExpired,
		m.queueStale,
		m.rateSkips,
		m.dispatches,
		m.sendErrors,
		m.acks,
		m.duplicates,
		m.genFailures,
		m.genSeconds,
		m.viewerWrites,
		m.viewerErrors,
		m.reconnects,
		m.terminalDowns,
		m.connState,
		m.polls,
		m.pollSuspends,
		m.httpLimited,
	)
	return m
}

// Handler exposes the registry for the ops mux.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) IncIngested(platform core.Platform, kind core.Kind) {
	if m == nil {
		return
	}
	m.eventsIngested.WithLabelValues(string(platform), string(kind)).Inc()
}

func (m *Metrics) IncDropped(component, reason string) {
	if m == nil {
		return
	}
	m.eventsDropped.WithLabelValues(component, reason).Inc()
}

func (m *Metrics) IncGateDiscard() {
	if m == nil {
		return
	}
	m.gateDiscards.Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) AddEvicted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.queueEvictions.Add(float64(n))
}

func (m *Metrics) AddExpired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.queueExpired.Add(float64(n))
}

func (m *Metrics) AddStale(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.queueStale.Add(float64(n))
}

func (m *Metrics) IncRateSkip(reason string) {
	if m == nil {
		return
	}
	m.rateSkips.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncDispatched(platform core.Platform) {
	if m == nil {
		return
	}
	m.dispatches.WithLabelValues(string(platform)).Inc()
}

func (m *Metrics) IncSendError(platform core.Platform) {
	if m == nil {
		return
	}
	m.sendErrors.WithLabelValues(string(platform)).Inc()
}

func (m *Metrics) IncAck(kind core.Kind) {
	if m == nil {
		return
	}
	m.acks.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) IncDuplicate() {
	if m == nil {
		return
	}
	m.duplicates.Inc()
}

func (m *Metrics) IncGenerationFailure() {
	if m == nil {
		return
	}
	m.genFailures.Inc()
}

func (m *Metrics) ObserveGeneration(d time.Duration) {
	if m == nil {
		return
	}
	m.genSeconds.Observe(d.Seconds())
}

func (m *Metrics) IncViewerWrite() {
	if m == nil {
		return
	}
	m.viewerWrites.Inc()
}

func (m *Metrics) IncViewerWriteError() {
	if m == nil {
		return
	}
	m.viewerErrors.Inc()
}

func (m *Metrics) IncReconnect(component string) {
	if m == nil {
		return
	}
	m.reconnects.WithLabelValues(component).Inc()
}

func (m *Metrics) IncTerminal(component string) {
	if m == nil {
		return
	}
	m.terminalDowns.WithLabelValues(component).Inc()
}

func (m *Metrics) SetConnState(component string, s core.ConnState) {
	if m == nil {
		return
	}
	m.connState.WithLabelValues(component).Set(float64(s))
}

func (m *Metrics) IncPoll() {
	if m == nil {
		return
	}
	m.polls.Inc()
}

func (m *Metrics) IncPollSuspended() {
	if m == nil {
		return
	}
	m.pollSuspends.Inc()
}

func (m *Metrics) IncHTTPRateLimited() {
	if m == nil {
		return
	}
	m.httpLimited.Inc()
}
