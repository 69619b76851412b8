// Package metrics holds the relay's Prometheus collectors
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Connections = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "socialchat",
		Name:      "active_connections",
		Help:      "Open event-stream connections by transport",
	}, []string{"transport"})

	OnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "socialchat",
		Name:      "online_users",
		Help:      "Users with at least one open connection on this node",
	})

	Rooms = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "socialchat",
		Name:      "active_rooms",
		Help:      "Conversation rooms with at least one member",
	})

	EventsRelayed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "socialchat",
		Name:      "events_relayed_total",
		Help:      "Frames queued to clients by event name",
	}, []string{"event"})

	DroppedFrames = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "socialchat",
		Name:      "dropped_frames_total",
		Help:      "Frames dropped because a client buffer was full",
	})

	CallSignals = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "socialchat",
		Name:      "call_signals_total",
		Help:      "Call signalling events routed by kind",
	}, []string{"kind"})

	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "socialchat",
		Name:      "http_requests_total",
		Help:      "HTTP requests by route and status",
	}, []string{"method", "route", "status"})

	HTTPDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "socialchat",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})
)

var once sync.Once

// Init registers the collectors with the default registry
func Init() {
	once.Do(func() {
		prometheus.MustRegister(
			Connections,
			OnlineUsers,
			Rooms,
			EventsRelayed,
			DroppedFrames,
			CallSignals,
			HTTPRequests,
			HTTPDuration,
		)
	})
}

// Handler returns an http.Handler for Prometheus scraping
func Handler() http.Handler {
	return promhttp.Handler()
}
