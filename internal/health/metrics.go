package health

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// checksTotal counts every Probe/VerifyCollections outcome, partitioned by
// the probed service name and result. Registered against the default
// registry since the monitor has no injected registerer of its own — the
// ambient observability counterpart to internal/server's per-request
// metrics, for dependencies the HTTP layer never directly touches.
var checksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ragcore",
	Subsystem: "health",
	Name:      "checks_total",
	Help:      "Total number of health probes run, partitioned by service and outcome.",
}, []string{"service", "outcome"})

func recordCheck(service string, healthy bool) {
	outcome := "healthy"
	if !healthy {
		outcome = "unhealthy"
	}
	checksTotal.WithLabelValues(service, outcome).Inc()
}
