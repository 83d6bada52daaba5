package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	MetricBlocksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "threatguard", Name: "blocks_total", Help: "Number of IP blocks created"},
		[]string{"source"},
	)
	MetricUnblocksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "threatguard", Name: "unblocks_total", Help: "Number of IP unblocks"},
	)
	MetricBlockChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "threatguard", Name: "block_checks_total", Help: "Blocked-IP checks by verdict"},
		[]string{"verdict"},
	)
	MetricCacheResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "threatguard", Name: "verdict_cache_results_total", Help: "Verdict cache lookups by result"},
		[]string{"result"},
	)
	MetricStoreDegraded = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "threatguard", Name: "store_degraded_total", Help: "Block checks answered fail-open because the store was unreachable"},
	)
	MetricThreatEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "threatguard", Name: "threat_events_total", Help: "Threat events recorded by type"},
		[]string{"type"},
	)
	MetricExpiredBlocksRemoved = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "threatguard", Name: "expired_blocks_removed_total", Help: "Temporary blocks removed by cleanup"},
	)
	MetricHttpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "threatguard",
			Name:      "http_duration_seconds",
			Help:      "Latency of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"path", "method", "status"},
	)
	MetricRedisDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "threatguard",
			Name:      "redis_op_duration_seconds",
			Help:      "Latency of Redis operations in seconds",
			Buckets:   []float64{.001, .002, .005, .01, .02, .05, .1},
		},
		[]string{"operation"},
	)
)

func init() {
	prometheus.MustRegister(MetricBlocksTotal)
	prometheus.MustRegister(MetricUnblocksTotal)
	prometheus.MustRegister(MetricBlockChecksTotal)
	prometheus.MustRegister(MetricCacheResults)
	prometheus.MustRegister(MetricStoreDegraded)
	prometheus.MustRegister(MetricThreatEvents)
	prometheus.MustRegister(MetricExpiredBlocksRemoved)
	prometheus.MustRegister(MetricHttpDuration)
	prometheus.MustRegister(MetricRedisDuration)
}
