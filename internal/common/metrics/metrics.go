package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	namespace = "shiftengine"

	ClaimsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "claims",
			Name:      "created_total",
			Help:      "Total number of shift claims created",
		},
	)

	ClaimsApproved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "claims",
			Name:      "approved_total",
			Help:      "Total number of shift claims approved",
		},
		[]string{"auto"},
	)

	ClaimsRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "claims",
			Name:      "rejected_total",
			Help:      "Total number of shift claims rejected, siblings included",
		},
	)

	ClaimsWithdrawn = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "claims",
			Name:      "withdrawn_total",
			Help:      "Total number of shift claims withdrawn by the worker",
		},
	)

	SwapsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "swaps",
			Name:      "created_total",
			Help:      "Total number of swap requests created",
		},
		[]string{"kind"},
	)

	SwapsExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "swaps",
			Name:      "executed_total",
			Help:      "Total number of swaps whose reassignment was applied",
		},
		[]string{"kind"},
	)

	ConflictsDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conflicts",
			Name:      "detected_total",
			Help:      "Total number of scheduling conflicts detected",
		},
		[]string{"type"},
	)

	CacheInvalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "invalidations_total",
			Help:      "Total number of open-shift cache invalidations",
		},
		[]string{"origin"},
	)
)

// Handler exposes the default registry.
func Handler() http.Handler { return promhttp.Handler() }
