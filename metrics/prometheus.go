package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/kennyrkun/dispatcher/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all Prometheus metrics for the dispatcher. Every Record
// method is safe on a nil receiver so components can run without metrics.
type Metrics struct {
	registry *prometheus.Registry

	// Capture and detection
	FramesProcessed prometheus.Counter
	InputLevel      prometheus.Gauge
	Utterances      *prometheus.CounterVec
	UtteranceLength prometheus.Histogram

	// Turns
	Turns         *prometheus.CounterVec
	Transmissions *prometheus.CounterVec
	IdleExchanges prometheus.Counter

	// External engines
	EngineDuration *prometheus.HistogramVec
	EngineErrors   *prometheus.CounterVec

	// Supervisor
	Restarts prometheus.Counter
}

// NewMetrics creates all metrics on a private registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,

		FramesProcessed: f.NewCounter(prometheus.CounterOpts{
			Name: "dispatcher_frames_processed_total",
			Help: "Total number of capture frames fed to the detector",
		}),
		InputLevel: f.NewGauge(prometheus.GaugeOpts{
			Name: "dispatcher_input_level",
			Help: "RMS level of the most recent capture frame",
		}),
		Utterances: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatcher_utterances_total",
			Help: "Finished recordings by outcome (sealed or discarded)",
		}, []string{"outcome"}),
		UtteranceLength: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "dispatcher_utterance_duration_seconds",
			Help:    "Speech duration of sealed utterances",
			Buckets: prometheus.LinearBuckets(1, 2, 15), // 1s to 29s
		}),

		Turns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatcher_turns_total",
			Help: "Completed turns by the rule that answered them",
		}, []string{"rule"}),
		Transmissions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatcher_transmissions_total",
			Help: "Transmissions played by kind (speech or cue)",
		}, []string{"kind"}),
		IdleExchanges: f.NewCounter(prometheus.CounterOpts{
			Name: "dispatcher_idle_exchanges_total",
			Help: "Total number of idle chat exchanges",
		}),

		EngineDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dispatcher_engine_duration_seconds",
			Help:    "Duration of external engine calls",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}, []string{"engine"}),
		EngineErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatcher_engine_errors_total",
			Help: "Failed external engine calls",
		}, []string{"engine"}),

		Restarts: f.NewCounter(prometheus.CounterOpts{
			Name: "dispatcher_restarts_total",
			Help: "Times the supervisor restarted the capture cycle after a failure",
		}),
	}
}

// Registry exposes the private registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordFrame counts a frame and publishes its level
func (m *Metrics) RecordFrame(level int) {
	if m == nil {
		return
	}
	m.FramesProcessed.Inc()
	m.InputLevel.Set(float64(level))
}

// RecordUtterance counts a finished recording
func (m *Metrics) RecordUtterance(sealed bool, duration time.Duration) {
	if m == nil {
		return
	}
	if !sealed {
		m.Utterances.WithLabelValues("discarded").Inc()
		return
	}
	m.Utterances.WithLabelValues("sealed").Inc()
	m.UtteranceLength.Observe(duration.Seconds())
}

// RecordTurn counts a completed turn
func (m *Metrics) RecordTurn(rule string) {
	if m == nil {
		return
	}
	m.Turns.WithLabelValues(rule).Inc()
}

// RecordTransmission counts a played transmission
func (m *Metrics) RecordTransmission(kind string) {
	if m == nil {
		return
	}
	m.Transmissions.WithLabelValues(kind).Inc()
}

// RecordIdleExchange counts an idle chat exchange
func (m *Metrics) RecordIdleExchange() {
	if m == nil {
		return
	}
	m.IdleExchanges.Inc()
}

// RecordEngineCall records the duration and outcome of an engine call
func (m *Metrics) RecordEngineCall(engine string, started time.Time, err error) {
	if m == nil {
		return
	}
	m.EngineDuration.WithLabelValues(engine).Observe(time.Since(started).Seconds())
	if err != nil {
		m.EngineErrors.WithLabelValues(engine).Inc()
	}
}

// RecordRestart counts a supervisor restart
func (m *Metrics) RecordRestart() {
	if m == nil {
		return
	}
	m.Restarts.Inc()
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, m *Metrics, logger *core.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.OrDefault().Info("metrics listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
