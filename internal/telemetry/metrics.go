package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	EmailsScheduled = prometheus.NewCounter(prometheus.CounterOpts{Name: "emails_scheduled_total", Help: "Jobs accepted by the submission API"})
	EmailsSent      = prometheus.NewCounter(prometheus.CounterOpts{Name: "emails_sent_total", Help: "Emails delivered to the transport"})
	EmailsFailed    = prometheus.NewCounter(prometheus.CounterOpts{Name: "emails_failed_total", Help: "Jobs that exhausted their retry budget"})
	EmailsRetried   = prometheus.NewCounter(prometheus.CounterOpts{Name: "emails_retried_total", Help: "Send attempts rescheduled after a transport failure"})
	RateLimitDefers = prometheus.NewCounter(prometheus.CounterOpts{Name: "emails_rate_limited_total", Help: "Jobs deferred to the next hour window by the rate limiter"})
	JobsRecovered   = prometheus.NewCounter(prometheus.CounterOpts{Name: "emails_recovered_total", Help: "Jobs restored into the queue at startup"})
	QueueDepthGauge = prometheus.NewGauge(prometheus.GaugeOpts{Name: "emails_queue_depth", Help: "Ready queue depth"})
	InFlightGauge   = prometheus.NewGauge(prometheus.GaugeOpts{Name: "emails_inflight", Help: "Jobs currently leased by workers"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			EmailsScheduled,
			EmailsSent,
			EmailsFailed,
			EmailsRetried,
			RateLimitDefers,
			JobsRecovered,
			QueueDepthGauge,
			InFlightGauge,
		)
	})
	return promhttp.Handler()
}
