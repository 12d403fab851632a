// Package metrics exposes the router's Prometheus collectors and the
// /metrics HTTP handler.
//
// Grounded on ws/metrics.go's counter/gauge/histogram naming scheme
// (package-level prometheus.New*Vec variables, /metrics promhttp
// handler), renamed from ws_* connection metrics to clasp_* router
// metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SessionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "clasp_sessions_total",
		Help: "Total number of sessions established since startup",
	})

	SessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "clasp_sessions_active",
		Help: "Current number of active sessions",
	})

	SessionsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "clasp_sessions_rejected_total",
		Help: "Sessions rejected at admission, by reason",
	}, []string{"reason"})

	ParamsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "clasp_params_total",
		Help: "Current number of live addresses in the state store",
	})

	SetsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "clasp_sets_total",
		Help: "Total SET operations, by outcome",
	}, []string{"outcome"})

	PublishesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "clasp_publishes_total",
		Help: "Total PUBLISH operations, by signal type",
	}, []string{"signal"})

	SubscriptionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "clasp_subscriptions_active",
		Help: "Current number of live subscriptions",
	})

	FanoutDropsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "clasp_fanout_drops_total",
		Help: "Total deliveries dropped because a subscriber's outbound queue was full",
	})

	EvictionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "clasp_evictions_total",
		Help: "Total state store evictions, by cause",
	}, []string{"cause"})

	DispatchLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "clasp_dispatch_latency_seconds",
		Help:    "Time spent in Dispatcher.Dispatch, by message type",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})

	PersistenceQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "clasp_persistence_queue_depth",
		Help: "Current depth of the persistence writer's bounded queue",
	})

	CPUPercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "clasp_cpu_percent",
		Help: "Last-sampled system CPU usage percentage",
	})
)

func init() {
	prometheus.MustRegister(
		SessionsTotal, SessionsActive, SessionsRejected,
		ParamsTotal, SetsTotal, PublishesTotal,
		SubscriptionsActive, FanoutDropsTotal, EvictionsTotal,
		DispatchLatency, PersistenceQueueDepth, CPUPercent,
	)
}

// Handler returns the HTTP handler to mount at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
