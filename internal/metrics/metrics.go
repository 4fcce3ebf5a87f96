package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	AdmissionRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ads_admission_rejected_total",
			Help: "Reservations and creatives rejected because a capacity cap was reached",
		},
		[]string{"reason"},
	)

	InventoryChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ads_inventory_changes_total",
			Help: "Committed inventory mutations",
		},
		[]string{"kind"},
	)

	ServingCacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ads_serving_cache_lookups_total",
			Help: "Serving snapshot lookups by result",
		},
		[]string{"result"},
	)

	ServingCacheInvalidationFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ads_serving_cache_invalidation_failures_total",
			Help: "Serving snapshot invalidations that failed after retries",
		},
	)

	AssetReleases = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ads_asset_releases_total",
			Help: "Creative asset release jobs by result",
		},
		[]string{"result"},
	)

	ResponseTime = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status_code"},
	)

	QueueSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ads_queue_size",
			Help: "Current length of the background job queues",
		},
		[]string{"queue"},
	)
)

func init() {
	prometheus.MustRegister(AdmissionRejected)
	prometheus.MustRegister(InventoryChanges)
	prometheus.MustRegister(ServingCacheLookups)
	prometheus.MustRegister(ServingCacheInvalidationFailures)
	prometheus.MustRegister(AssetReleases)
	prometheus.MustRegister(ResponseTime)
	prometheus.MustRegister(QueueSize)
}
