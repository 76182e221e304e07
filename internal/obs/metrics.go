// Copyright 2025 James Ross
package obs

import (
	"fmt"
	"net/http"

	"github.com/copperd/copper/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	JobsEnqueued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "copper_jobs_enqueued_total",
		Help: "Total number of jobs enqueued",
	})
	JobsClaimed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "copper_jobs_claimed_total",
		Help: "Total number of jobs claimed by a pipelined worker",
	})
	JobsSucceeded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "copper_jobs_succeeded_total",
		Help: "Total number of jobs that ran to completion",
	})
	JobsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "copper_jobs_failed_total",
		Help: "Total number of jobs that ended Failed",
	})
	JobsBuildError = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "copper_jobs_build_error_total",
		Help: "Total number of jobs that never ran due to a pipeline build error",
	})
	JobsStuck = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "copper_jobs_stuck_total",
		Help: "Total number of jobs reaped for an expired heartbeat",
	})
	JobRunDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "copper_job_run_duration_seconds",
		Help:    "Histogram of runtime.Run durations from claim to terminal state",
		Buckets: prometheus.DefBuckets,
	})
	NodeRunDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "copper_node_run_duration_seconds",
		Help:    "Histogram of individual node Run durations",
		Buckets: prometheus.DefBuckets,
	}, []string{"node_type"})
	QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "copper_queue_depth",
		Help: "Current job count per state, per owner",
	}, []string{"owner", "state"})
	CircuitBreakerState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "copper_blobstore_breaker_state",
		Help: "0 Closed, 1 HalfOpen, 2 Open",
	})
	CircuitBreakerTrips = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "copper_blobstore_breaker_trips_total",
		Help: "Count of times the blobstore S3 circuit breaker transitioned to Open",
	})
	UploadPartsThrottled = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "copper_blobstore_upload_parts_throttled_total",
		Help: "Total number of UploadPart calls rejected by the Redis-backed rate limiter",
	})
)

func init() {
	prometheus.MustRegister(JobsEnqueued, JobsClaimed, JobsSucceeded, JobsFailed, JobsBuildError,
		JobsStuck, JobRunDuration, NodeRunDuration, QueueDepth, CircuitBreakerState,
		CircuitBreakerTrips, UploadPartsThrottled)
}

// StartMetricsServer exposes /metrics and returns a server for controlled
// shutdown. Retained for compatibility but consider StartHTTPServer, which
// also registers health endpoints.
func StartMetricsServer(cfg *config.Config) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Observability.MetricsPort), Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
