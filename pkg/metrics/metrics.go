package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "conduit"

// Registry owns the runtime metrics and the prometheus registry they live in.
type Registry struct {
	registry *prometheus.Registry

	exchangesTotal   *prometheus.CounterVec
	exchangeDuration *prometheus.HistogramVec
	inflight         *prometheus.GaugeVec
	producerCalls    *prometheus.CounterVec
	redeliveries     *prometheus.CounterVec
}

// NewRegistry creates a registry with the exchange metrics plus Go runtime
// and process collectors.
func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),
		exchangesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exchanges_total",
			Help:      "Exchanges completed by a route, by outcome",
		}, []string{"route", "status"}),
		exchangeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "exchange_duration_seconds",
			Help:      "Time spent routing an exchange",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		inflight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "exchanges_inflight",
			Help:      "Exchanges currently being routed",
		}, []string{"route"}),
		producerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "producer_calls_total",
			Help:      "Producer invocations by component scheme and outcome",
		}, []string{"scheme", "status"}),
		redeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redeliveries_total",
			Help:      "Redelivery attempts by route",
		}, []string{"route"}),
	}

	r.registry.MustRegister(
		r.exchangesTotal,
		r.exchangeDuration,
		r.inflight,
		r.producerCalls,
		r.redeliveries,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// PrometheusRegistry returns the underlying Prometheus registry
func (r *Registry) PrometheusRegistry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the prometheus text format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// ExchangeStarted marks an exchange in flight and returns the function that completes it.
func (r *Registry) ExchangeStarted(route string) func(err error) {
	start := time.Now()
	r.inflight.WithLabelValues(route).Inc()
	return func(err error) {
		r.inflight.WithLabelValues(route).Dec()
		r.exchangeDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		r.exchangesTotal.WithLabelValues(route, status(err)).Inc()
	}
}

func (r *Registry) ProducerCall(scheme string, err error) {
	r.producerCalls.WithLabelValues(scheme, status(err)).Inc()
}

func (r *Registry) Redelivery(route string) {
	r.redeliveries.WithLabelValues(route).Inc()
}

func status(err error) string {
	if err != nil {
		return "failed"
	}
	return "completed"
}
