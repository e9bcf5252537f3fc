package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TimersActive    = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "shuttle_bot", Name: "timers_active", Help: "Live countdown timers"})
	TimersStarted   = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: "shuttle_bot", Name: "timers_started_total", Help: "Countdown timers started"}, []string{"kind"})
	TimersExpired   = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: "shuttle_bot", Name: "timers_expired_total", Help: "Countdown timers that ran to expiry"}, []string{"kind"})
	TimersCancelled = promauto.NewCounter(prometheus.CounterOpts{Namespace: "shuttle_bot", Name: "timers_cancelled_total", Help: "Countdown timers stopped before expiry"})
	TimersRestored  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "shuttle_bot", Name: "timers_restored_total", Help: "Timers recreated from the durable registry at startup"})

	ArrivalsTotal   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "shuttle_bot", Name: "arrivals_total", Help: "Stop arrivals processed"})
	StopsFinalized  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "shuttle_bot", Name: "stops_finalized_total", Help: "Stops finalized after a grace window"})
	DebounceDropped = promauto.NewCounter(prometheus.CounterOpts{Namespace: "shuttle_bot", Name: "gps_debounced_total", Help: "Driver location updates dropped by the debounce window"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "shuttle_bot", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "shuttle_bot",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
