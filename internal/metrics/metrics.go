// Package metrics exports cycle latencies and worker gauges to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"crudstress/internal/target"
)

const namespace = "crudstress"

// 10us to 5s
var buckets = prometheus.ExponentialBucketsRange(0.00001, 5, 40)

// Metrics implements runner.Observer.
type Metrics struct {
	reg     *prometheus.Registry
	latency *prometheus.HistogramVec
	cycles  *prometheus.CounterVec
	errors   *prometheus.CounterVec
	searches *prometheus.CounterVec
	clients  *prometheus.GaugeVec
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "crud_latency_seconds",
			Help:      "Latency of CRUD steps in seconds.",
			Buckets:   buckets,
		}, []string{"db", "op"}),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "CRUD cycles completed, by result.",
		}, []string{"db", "result"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_errors_total",
			Help:      "Failed CRUD steps.",
		}, []string{"db", "op"}),
		searches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_total",
			Help:      "Full-text searches run between cycles, by result.",
		}, []string{"db", "result"}),
		clients: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected_clients",
			Help:      "Number of workers holding an open session.",
		}, []string{"db"}),
	}
	m.reg.MustRegister(
		m.latency, m.cycles, m.errors, m.searches, m.clients,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) ObserveOutcome(db string, o target.Outcome) {
	result := "ok"
	if !o.OK {
		result = "error"
		m.errors.WithLabelValues(db, string(o.Step)).Inc()
	}
	m.cycles.WithLabelValues(db, result).Inc()

	last := len(target.Steps) - 1
	if !o.OK {
		last = o.Step.Index()
	}
	for i := 0; i <= last; i++ {
		m.latency.WithLabelValues(db, string(target.Steps[i])).Observe(o.Steps[i].Seconds())
	}
}

// ObserveSearch records a search under op="search_fts". Failures count in
// step_errors_total and carry no latency.
func (m *Metrics) ObserveSearch(db string, d time.Duration, err error) {
	op := string(target.StepSearch)
	if err != nil {
		m.errors.WithLabelValues(db, op).Inc()
		m.searches.WithLabelValues(db, "error").Inc()
		return
	}
	m.searches.WithLabelValues(db, "ok").Inc()
	m.latency.WithLabelValues(db, op).Observe(d.Seconds())
}

func (m *Metrics) WorkerStarted(db string) { m.clients.WithLabelValues(db).Inc() }
func (m *Metrics) WorkerStopped(db string) { m.clients.WithLabelValues(db).Dec() }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, log *zap.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return m.serve(ctx, ln, log)
}

func (m *Metrics) serve(ctx context.Context, ln net.Listener, log *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("metrics server listening", zap.String("addr", ln.Addr().String()))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
