package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RidesCreated   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "rides_created_total", Help: "Total ride requests accepted into the registry"})
	RidesRejected  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "rides_rejected_total", Help: "Ride requests rejected at creation (no drivers online)"})
	RidesCompleted = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "rides_completed_total", Help: "Rides that reached the completed state"})
	RidesTimedOut  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "rides_timed_out_total", Help: "Rides that expired with no driver found"})

	AcceptRaceLosses = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "accept_race_losses_total", Help: "Accept attempts that lost the acceptance race"})

	DriversOnline = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ride_dispatch", Name: "drivers_online", Help: "Drivers currently connected and online"})

	WSMessagesIn  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "ws_messages_in_total", Help: "Inbound websocket events read"})
	WSMessagesOut = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "ws_messages_out_total", Help: "Outbound websocket events written"})
	WSSendErrors  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "ws_send_errors_total", Help: "Failed websocket writes"})

	NotificationStoreErrors = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "notification_store_errors_total", Help: "Durable notification writes that failed and were dropped"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
