package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name:        "uibridge_build_info",
			Help:        "Build information for the uibridge host",
			ConstLabels: prometheus.Labels{"component": "host"},
		},
		[]string{"date", "sha", "version"},
	)

	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "uibridge_sessions_active",
			Help: "Number of currently attached bridge sessions",
		},
	)

	sessionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "uibridge_sessions_total",
			Help: "Total number of bridge sessions ever attached",
		},
	)

	callsInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "uibridge_calls_inflight",
			Help: "Number of outstanding guest calls awaiting settlement",
		},
	)

	callsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uibridge_calls_total",
			Help: "Total settled guest calls by outcome",
		},
		[]string{"outcome"},
	)

	routedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uibridge_routed_requests_total",
			Help: "Total inbound requests by routing disposition",
		},
		[]string{"disposition"},
	)

	droppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uibridge_dropped_envelopes_total",
			Help: "Total inbound envelopes silently discarded, by reason",
		},
		[]string{"reason"},
	)
)

// Register registers all bridge metrics with the given registerer.
func Register(r prometheus.Registerer) {
	r.MustRegister(buildInfo, sessionsActive, sessionsTotal, callsInflight, callsTotal, routedTotal, droppedTotal)
}

// SetBuildInfo sets the build info metric for the host binary.
func SetBuildInfo(version, sha, date string) {
	buildInfo.WithLabelValues(date, sha, version).Set(1)
}

// SessionAttached increments the active and total session counters.
func SessionAttached() {
	sessionsActive.Inc()
	sessionsTotal.Inc()
}

// SessionDetached decrements the active session gauge.
func SessionDetached() { sessionsActive.Dec() }

// CallStart increments the in-flight call gauge.
func CallStart() { callsInflight.Inc() }

// CallEnd decrements in-flight and counts the settlement outcome
// (ok, timeout, aborted, teardown, no_counterpart, error).
func CallEnd(outcome string) {
	callsInflight.Dec()
	callsTotal.WithLabelValues(outcome).Inc()
}

// Routed counts an inbound request by disposition (builtin, fallback, not_found).
func Routed(disposition string) { routedTotal.WithLabelValues(disposition).Inc() }

// Dropped counts a silently discarded envelope (untrusted, unmatched).
func Dropped(reason string) { droppedTotal.WithLabelValues(reason).Inc() }
