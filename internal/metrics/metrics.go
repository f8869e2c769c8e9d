package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns a private registry so tests can build isolated instances.
type Collector struct {
	registry *prometheus.Registry

	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	webhookEvents  *prometheus.CounterVec
	recStarted     prometheus.Counter
	recFailed      prometheus.Counter
	gcSweeps       *prometheus.CounterVec
	lockContention prometheus.Counter
}

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meet",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "meet",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meet",
			Name:      "webhook_events_total",
			Help:      "Media-server webhook deliveries by event and outcome.",
		}, []string{"event", "outcome"}),
		recStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "meet",
			Name:      "recordings_started_total",
			Help:      "Recordings successfully confirmed active.",
		}),
		recFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "meet",
			Name:      "recordings_failed_total",
			Help:      "Recordings that ended failed or aborted.",
		}),
		gcSweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meet",
			Name:      "gc_sweeps_total",
			Help:      "Garbage-collector firings by task.",
		}, []string{"task"}),
		lockContention: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "meet",
			Name:      "lock_contention_total",
			Help:      "Lock acquisitions lost to another holder.",
		}),
	}
	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.httpRequests, c.httpDuration, c.webhookEvents,
		c.recStarted, c.recFailed, c.gcSweeps, c.lockContention,
	)
	return c
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) ObserveHTTP(route, method string, status int, elapsed time.Duration) {
	c.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

func (c *Collector) WebhookProcessed(event, outcome string) {
	c.webhookEvents.WithLabelValues(event, outcome).Inc()
}

func (c *Collector) RecordingStarted() { c.recStarted.Inc() }
func (c *Collector) RecordingFailed()  { c.recFailed.Inc() }

func (c *Collector) GCSweep(task string) {
	c.gcSweeps.WithLabelValues(task).Inc()
}

func (c *Collector) LockContended() { c.lockContention.Inc() }
