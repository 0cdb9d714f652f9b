package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	// wco-api metrics
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wco_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"route", "method", "code"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wco_http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method"})

	ActiveRequests = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wco_active_requests",
		Help: "Current in-flight requests",
	})

	// outbound compute-API metrics
	OutboundRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wco_outbound_requests_total",
		Help: "Completed outbound compute-API requests",
	}, []string{"method", "code"})

	OutboundRetryTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wco_outbound_retry_total",
		Help: "Outbound attempts that failed transiently",
	})

	OutboundExhaustedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wco_outbound_exhausted_total",
		Help: "Outbound requests that exhausted their retry budget",
	})

	// provisioning metrics
	ProvisionTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wco_provision_total",
		Help: "Provisioning task completions",
	}, []string{"provider", "result"})

	ProvisionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wco_provision_duration_seconds",
		Help:    "End-to-end provisioning task duration",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 180, 300},
	}, []string{"provider"})

	ActiveProvisions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wco_active_provisions",
		Help: "Provisioning tasks currently in flight",
	})

	StageTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wco_provision_stage_total",
		Help: "Provisioning stage transitions",
	}, []string{"stage"})

	// scaling metrics
	ScaleDecisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wco_scale_decisions_total",
		Help: "Auto-scale decisions",
	}, []string{"result"})

	// snapshot metrics
	SnapshotCreateTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wco_snapshot_create_total",
		Help: "On-demand snapshot creations",
	}, []string{"result"})

	// fleet update metrics
	UpdateResultTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wco_update_result_total",
		Help: "Per-workspace graceful update results",
	}, []string{"result"})

	FleetUpdateDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "wco_fleet_update_duration_seconds",
		Help:    "Fleet-wide update rollout duration",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	})
)

func RegisterAll(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, ActiveRequests,
		OutboundRequestsTotal, OutboundRetryTotal, OutboundExhaustedTotal,
		ProvisionTotal, ProvisionDuration, ActiveProvisions, StageTransitions,
		ScaleDecisionsTotal, SnapshotCreateTotal,
		UpdateResultTotal, FleetUpdateDuration,
	)
}
