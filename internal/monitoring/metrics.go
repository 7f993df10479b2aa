package monitoring

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

var IssuesDetected = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "identity_issues_detected_total",
		Help: "Audit issues raised or refreshed by detectors",
	},
	[]string{"type", "new"},
)

var IssuesAutoResolved = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "identity_issues_auto_resolved_total",
		Help: "Audit issues closed by the integrity sweep",
	},
	[]string{"type"},
)

var Mitigations = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "identity_mitigations_total",
		Help: "Mitigation handler invocations",
	},
	[]string{"type", "outcome"}, // outcome: "resolved", "open", "failed"
)

var MatchingLinks = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "identity_matching_links_total",
		Help: "Entities created or linked by matching rules",
	},
	[]string{"rule", "kind"}, // kind: "player", "character", "chat", "stub"
)

var MatchingPasses = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "identity_matching_passes",
		Help:    "Passes needed by the matching runner to converge",
		Buckets: []float64{1, 2, 3, 4, 5, 8, 10},
	},
)

var collectors = []prometheus.Collector{
	IssuesDetected,
	IssuesAutoResolved,
	Mitigations,
	MatchingLinks,
	MatchingPasses,
}

// RegisterMetrics registers the engine metrics on the default registry.
func RegisterMetrics() {
	for _, c := range collectors {
		prometheus.MustRegister(c)
	}
}

// Push sends the engine metrics to a Pushgateway under job.
func Push(url, job string) error {
	pusher := push.New(url, job)
	for _, c := range collectors {
		pusher = pusher.Collector(c)
	}
	if err := pusher.Push(); err != nil {
		return fmt.Errorf("failed to push metrics: %w", err)
	}
	return nil
}
