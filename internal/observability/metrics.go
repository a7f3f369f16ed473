package observability

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	sessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "murmur_sessions_total",
		Help: "Dictation sessions by outcome",
	}, []string{"outcome"})

	recordingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "murmur_recording_duration_seconds",
		Help:    "Length of captured recordings",
		Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
	})

	backendAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "murmur_backend_attempts_total",
		Help: "Transcription attempts by backend and outcome",
	}, []string{"backend", "outcome"})

	backendLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "murmur_backend_latency_seconds",
		Help:    "Wall time of a transcription call including retries",
		Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"backend"})

	modelDownloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "murmur_model_downloads_total",
		Help: "Model download attempts by outcome",
	}, []string{"outcome"})

	deliveryFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "murmur_delivery_failures_total",
		Help: "Clipboard and paste failures",
	}, []string{"kind"})
)

// RecordSession counts a finished session by its closing reason.
func RecordSession(outcome string) {
	sessionsTotal.WithLabelValues(outcome).Inc()
}

func ObserveRecording(d time.Duration) {
	recordingDuration.Observe(d.Seconds())
}

func RecordBackendAttempt(backend, outcome string) {
	backendAttempts.WithLabelValues(backend, outcome).Inc()
}

func ObserveBackendLatency(backend string, d time.Duration) {
	backendLatency.WithLabelValues(backend).Observe(d.Seconds())
}

func RecordModelDownload(outcome string) {
	modelDownloads.WithLabelValues(outcome).Inc()
}

func RecordDeliveryFailure(kind string) {
	deliveryFailures.WithLabelValues(kind).Inc()
}

// ServeMetrics exposes /metrics on addr until ctx is cancelled. An empty addr
// disables the endpoint.
func ServeMetrics(ctx context.Context, addr string, logger zerolog.Logger) error {
	if addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	logger.Info().Str("addr", ln.Addr().String()).Msg("prometheus metrics enabled at /metrics")

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
