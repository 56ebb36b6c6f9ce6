// Package metrics exports self-play counters to Prometheus.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/brensch/cubezero/executor/inference"
)

const namespace = "cubezero"

// Metrics is one registry worth of collectors. Use New rather than the
// default registry so tests can build as many as they like.
type Metrics struct {
	Registry *prometheus.Registry

	Games         *prometheus.CounterVec
	Moves         prometheus.Counter
	Simulations   prometheus.Counter
	OracleCalls   prometheus.Counter
	OracleErrors  prometheus.Counter
	OracleLatency prometheus.Histogram
	RowsWritten   prometheus.Counter
	FlushErrors   prometheus.Counter
	Distance      prometheus.Gauge
	TableSize     prometheus.Histogram
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		Games: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "games_total",
			Help:      "Self-play games finished, by result.",
		}, []string{"result"}),
		Moves: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "moves_total",
			Help:      "Moves played across all games.",
		}),
		Simulations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "simulations_total",
			Help:      "Search simulations run.",
		}),
		OracleCalls: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oracle_calls_total",
			Help:      "Policy/value evaluations requested by the search.",
		}),
		OracleErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oracle_errors_total",
			Help:      "Policy/value evaluations that failed.",
		}),
		OracleLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "oracle_latency_seconds",
			Help:      "Latency of one policy/value evaluation.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10),
		}),
		RowsWritten: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_written_total",
			Help:      "Training rows flushed to parquet.",
		}),
		FlushErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flush_errors_total",
			Help:      "Parquet flushes that failed.",
		}),
		Distance: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scramble_distance",
			Help:      "Current curriculum scramble distance.",
		}),
		TableSize: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "table_nodes",
			Help:      "Transposition table size at the end of a game.",
			Buckets:   prometheus.ExponentialBuckets(16, 4, 10),
		}),
	}
}

// RegisterCache exposes the hit and miss counters of an oracle cache.
func (m *Metrics) RegisterCache(c *inference.Cache) {
	f := promauto.With(m.Registry)
	f.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_hits_total",
		Help:      "Oracle cache hits.",
	}, func() float64 { return float64(c.Stats().Hits) })
	f.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_misses_total",
		Help:      "Oracle cache misses.",
	}, func() float64 { return float64(c.Stats().Misses) })
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("metrics shutdown: %w", err)
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	}
}

// Predictor counts and times every evaluation of the wrapped predictor.
type Predictor struct {
	inner   inference.Predictor
	metrics *Metrics
}

func InstrumentPredictor(inner inference.Predictor, m *Metrics) *Predictor {
	return &Predictor{inner: inner, metrics: m}
}

func (p *Predictor) Predict(features []float32) ([]float32, float32, error) {
	start := time.Now()
	policy, value, err := p.inner.Predict(features)
	p.metrics.OracleLatency.Observe(time.Since(start).Seconds())
	p.metrics.OracleCalls.Inc()
	if err != nil {
		p.metrics.OracleErrors.Inc()
	}
	return policy, value, err
}
