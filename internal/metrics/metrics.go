package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Run queue metrics
	RunQueueWeight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "wrr_runqueue_weight",
			Help: "Total weight of the entities enqueued on a unit",
		},
		[]string{"unit"},
	)

	RunQueueEntities = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "wrr_runqueue_entities",
			Help: "Number of entities enqueued on a unit",
		},
		[]string{"unit"},
	)

	ContextSwitchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wrr_context_switches_total",
			Help: "Number of times a unit switched to a different entity",
		},
		[]string{"unit"},
	)

	MigrationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wrr_migrations_total",
			Help: "Entities migrated by the load balancer, by destination unit",
		},
		[]string{"unit"},
	)

	// Scheduler metrics
	EntitiesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "wrr_entities_total",
			Help: "Registered entities by policy",
		},
		[]string{"policy"},
	)

	TicksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wrr_ticks_total",
			Help: "Host ticks simulated",
		},
	)

	EventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wrr_events_dropped_total",
			Help: "Status events lost to a full event channel",
		},
	)

	BalanceDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wrr_balance_duration_seconds",
			Help:    "Time spent in one load balancing pass",
			Buckets: prometheus.ExponentialBuckets(1e-6, 4, 10),
		},
	)
)

func init() {
	prometheus.MustRegister(RunQueueWeight)
	prometheus.MustRegister(RunQueueEntities)
	prometheus.MustRegister(ContextSwitchesTotal)
	prometheus.MustRegister(MigrationsTotal)
	prometheus.MustRegister(EntitiesTotal)
	prometheus.MustRegister(TicksTotal)
	prometheus.MustRegister(EventsDropped)
	prometheus.MustRegister(BalanceDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
