package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	mutations       *prometheus.CounterVec
	subscribers     prometheus.Gauge
	eventsSent      *prometheus.CounterVec
	driftFound      prometheus.Gauge
	driftRepaired   prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_http_requests_total",
			Help: "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledger_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_mutations_total",
			Help: "Ledger mutations by operation and outcome.",
		}, []string{"op", "result"}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ledger_change_subscribers",
			Help: "Open change feed connections.",
		}),
		eventsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_change_events_total",
			Help: "Change events fanned out to subscribers.",
		}, []string{"table", "delivery"}),
		driftFound: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ledger_balance_drift_parties",
			Help: "Parties whose cached balance disagreed with the log in the last reconcile pass.",
		}),
		driftRepaired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_balance_repairs_total",
			Help: "Party balances rewritten by the reconciler.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests, m.requestDuration, m.mutations, m.subscribers, m.eventsSent, m.driftFound, m.driftRepaired,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware records request counts and latency keyed by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.requests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.requestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

func (m *Metrics) Mutation(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.mutations.WithLabelValues(op, result).Inc()
}

func (m *Metrics) SubscriberAdded() {
	m.subscribers.Inc()
}

func (m *Metrics) SubscriberRemoved() {
	m.subscribers.Dec()
}

func (m *Metrics) EventSent(table string, delivered bool) {
	delivery := "sent"
	if !delivered {
		delivery = "dropped"
	}
	m.eventsSent.WithLabelValues(table, delivery).Inc()
}

func (m *Metrics) Drift(found, repaired int) {
	m.driftFound.Set(float64(found))
	m.driftRepaired.Add(float64(repaired))
}
