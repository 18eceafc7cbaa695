package telemetry

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var registry *prometheus.Registry

type Counter interface {
	Inc()
	Add(float64)
}

type Gauge interface {
	Set(float64)
	Inc()
	Dec()
}

type CounterVec interface {
	With(labels ...string) Counter
}

// NoopStat is the stand-in used before InitializeTelemetry runs, so tests
// and keeperctl never need a Prometheus registry.
type NoopStat struct{}

func (NoopStat) Inc()        {}
func (NoopStat) Add(float64) {}
func (NoopStat) Set(float64) {}
func (NoopStat) Dec()        {}

type noopCounterVec struct{}

func (noopCounterVec) With(labels ...string) Counter { return NoopStat{} }

type prometheusCounterVec struct {
	vec *prometheus.CounterVec
}

func (p *prometheusCounterVec) With(labelValues ...string) Counter {
	return p.vec.WithLabelValues(labelValues...)
}

func NewCounter(name, help string, constLabels map[string]string) Counter {
	if registry == nil {
		return NoopStat{}
	}

	ret := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   "pgkeeper",
		Name:        name,
		Help:        help,
		ConstLabels: constLabels,
	})

	registry.MustRegister(ret)
	return ret
}

func NewGauge(name, help string, constLabels map[string]string) Gauge {
	if registry == nil {
		return NoopStat{}
	}

	ret := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   "pgkeeper",
		Name:        name,
		Help:        help,
		ConstLabels: constLabels,
	})

	registry.MustRegister(ret)
	return ret
}

func NewCounterVec(name, help string, constLabels map[string]string, labels []string) CounterVec {
	if registry == nil {
		return noopCounterVec{}
	}

	ret := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   "pgkeeper",
		Name:        name,
		Help:        help,
		ConstLabels: constLabels,
	}, labels)

	registry.MustRegister(ret)
	return &prometheusCounterVec{vec: ret}
}

// InitializeTelemetry swaps the package's noop metrics for real Prometheus
// collectors. Call once at daemon startup, before the supervisor runs.
func InitializeTelemetry(nodeName string) {
	registry = prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	initializeMetrics(map[string]string{"node": nodeName})
}

// Handler returns the /metrics handler, or nil when telemetry is disabled.
func Handler() http.Handler {
	if registry == nil {
		return nil
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// Serve starts the metrics endpoint on its own listener.
func Serve(bind string, port int) {
	h := Handler()
	if h == nil {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", h)

	addr := fmt.Sprintf("%s:%d", bind, port)
	go func() {
		log.Info().Str("addr", addr).Msg("Serving Prometheus metrics")
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Error().Err(err).Msg("Metrics endpoint stopped")
		}
	}()
}
