// Package metrics exposes Prometheus instrumentation for the backup engine
// on a dedicated registry, independent of the default global one.
package metrics

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "zfsbackup"

var (
	// Registry is a dedicated Prometheus registry for all backup metrics.
	Registry = prometheus.NewRegistry()

	// StepDuration measures time spent in each resumable driver step.
	StepDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Duration of a single backup pipeline step",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 16),
		},
		[]string{"step"}, // diff | upload | update_hot_metadata
	)

	// PartsUploadedTotal counts object parts successfully PUT, including
	// those recovered via the if-none-match precondition.
	PartsUploadedTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parts_uploaded_total",
			Help:      "Total number of snapshot part objects uploaded",
		},
		[]string{"outcome"}, // put | precondition_ok
	)

	// BytesUploadedTotal accumulates the bytes placed in part object bodies.
	BytesUploadedTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_uploaded_total",
			Help:      "Cumulative bytes uploaded across all snapshot parts",
		},
	)

	// CipherChunksTotal counts chunks produced by the chunked cipher adapter.
	CipherChunksTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cipher_chunks_total",
			Help:      "Total authenticated chunks emitted by the stream cipher",
		},
	)

	// DiffEntriesTotal reports the size of the optimized diff for the most
	// recent run, by change kind.
	DiffEntriesTotal = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "diff_entries",
			Help:      "Number of diff entries in the most recent optimized diff",
		},
		[]string{"change"}, // removed | created | modified | renamed
	)

	// LastSuccessTimestamp records the unix time of the last committed backup.
	LastSuccessTimestamp = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix timestamp of the last snapshot committed to hot metadata",
		},
	)

	// Up is a liveness gauge, toggled by SetUp.
	Up = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "up",
			Help:      "1 if the backup process is running and healthy",
		},
	)
)

func init() {
	Registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	Registry.MustRegister(prometheus.NewGoCollector())
}

// ObserveStep records how long a driver step took.
func ObserveStep(step string, seconds float64) {
	StepDuration.WithLabelValues(step).Observe(seconds)
}

// ObservePartUpload records a completed part upload and its body size.
// outcome is "put" for a fresh write or "precondition_ok" when the part
// already existed from a previous, interrupted run.
func ObservePartUpload(outcome string, bodyBytes int64) {
	PartsUploadedTotal.WithLabelValues(outcome).Inc()
	if bodyBytes > 0 {
		BytesUploadedTotal.Add(float64(bodyBytes))
	}
}

// ObserveCipherChunk increments the cipher chunk counter.
func ObserveCipherChunk() {
	CipherChunksTotal.Inc()
}

// SetDiffEntryCounts reports the optimized diff's composition.
func SetDiffEntryCounts(removed, created, modified, renamed int) {
	DiffEntriesTotal.WithLabelValues("removed").Set(float64(removed))
	DiffEntriesTotal.WithLabelValues("created").Set(float64(created))
	DiffEntriesTotal.WithLabelValues("modified").Set(float64(modified))
	DiffEntriesTotal.WithLabelValues("renamed").Set(float64(renamed))
}

// SetLastSuccess records the commit time of a snapshot, in unix seconds.
func SetLastSuccess(unixSeconds int64) {
	LastSuccessTimestamp.Set(float64(unixSeconds))
}

// SetUp toggles the liveness gauge.
func SetUp(healthy bool) {
	if healthy {
		Up.Set(1)
		return
	}
	Up.Set(0)
}

// Serve starts the /metrics HTTP endpoint on the provided address, shutting
// down gracefully when ctx is cancelled.
func Serve(ctx context.Context, addr string, logger *log.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = log.Default()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(Registry, promhttp.HandlerOpts{EnableOpenMetrics: true}))

	srv := &http.Server{Addr: addr, Handler: mux}

	idleClosed := make(chan struct{})
	go func() {
		defer close(idleClosed)
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()

	logger.Printf("[metrics] Prometheus endpoint listening on %s", addr)
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		<-idleClosed
		return nil
	}

	return err
}
