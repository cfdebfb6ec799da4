package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cillow_requests_total",
			Help: "Total number of client requests by kind",
		},
		[]string{"kind"},
	)
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cillow_request_duration_seconds",
			Help:    "Request duration in seconds, accepted to END frame",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"kind"},
	)
	RequestsRefusedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cillow_requests_refused_total",
			Help: "Requests refused before dispatch (quota, backpressure, malformed)",
		},
		[]string{"reason"},
	)

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cillow_queue_depth",
			Help: "Jobs currently waiting in the request queue",
		},
	)
	PoolWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cillow_pool_workers",
			Help: "Live interpreter workers in the pool",
		},
	)

	WorkerSpawnsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cillow_worker_spawns_total",
			Help: "Interpreter worker subprocesses spawned",
		},
	)
	WorkerDeathsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cillow_worker_deaths_total",
			Help: "Interpreter workers reaped, by cause",
		},
		[]string{"cause"},
	)

	FramesRelayedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cillow_frames_relayed_total",
			Help: "Response frames relayed to clients, by frame kind",
		},
		[]string{"kind"},
	)
)

var registerOnce sync.Once

// InitMetrics registers all collectors with the default registry. Safe to
// call from both mains; registration happens once per process.
func InitMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			RequestsTotal,
			RequestDuration,
			RequestsRefusedTotal,
			QueueDepth,
			PoolWorkers,
			WorkerSpawnsTotal,
			WorkerDeathsTotal,
			FramesRelayedTotal,
		)
	})
}
