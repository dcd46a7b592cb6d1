package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

var (
	ensureTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_bootstrap_ensure_total",
			Help: "Total number of certificate ensure calls by outcome.",
		},
		[]string{"result"},
	)

	leafExpiryTimestamp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "webhook_bootstrap_leaf_expiry_timestamp_seconds",
			Help: "Unix time at which the current leaf certificate expires.",
		},
		[]string{"namespace", "name"},
	)

	caBundlePatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_bootstrap_cabundle_patches_total",
			Help: "Total number of resources whose caBundle was applied.",
		},
		[]string{"kind"},
	)

	webhookRequestTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_bootstrap_webhook_request_total",
			Help: "Total number of webhook requests served.",
		},
		[]string{"path", "result"},
	)

	webhookRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "webhook_bootstrap_webhook_request_duration_seconds",
			Help:    "Latency of webhook request handling in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path"},
	)
)

func init() {
	metrics.Registry.MustRegister(Collectors()...)
}

// Collectors returns all metric collectors owned by this package.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		ensureTotal,
		leafExpiryTimestamp,
		caBundlePatchesTotal,
		webhookRequestTotal,
		webhookRequestDuration,
	}
}
