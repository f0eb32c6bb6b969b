package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// providerAvailable is a gauge of the current availability decision per
// provider (1 = available, 0 = rate-limited), set by IsAvailable and
// RecordRateLimit so a dashboard reflects the router's view without polling.
// RecordSuccess clears a rate limit without updating the gauge.
var providerAvailable = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "ragcore",
	Subsystem: "ratelimit",
	Name:      "provider_available",
	Help:      "Whether a provider is currently available (1) or rate-limited (0).",
}, []string{"provider"})

// outcomesTotal counts RecordRateLimit calls per provider, under the outcome
// "rate_limited". RecordSuccess and RecordFailure are not counted.
var outcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ragcore",
	Subsystem: "ratelimit",
	Name:      "outcomes_total",
	Help:      "Total provider call outcomes recorded, partitioned by provider and outcome.",
}, []string{"provider", "outcome"})

func recordAvailable(provider string, available bool) {
	v := 0.0
	if available {
		v = 1.0
	}
	providerAvailable.WithLabelValues(provider).Set(v)
}

func recordOutcome(provider, outcome string) {
	outcomesTotal.WithLabelValues(provider, outcome).Inc()
}
