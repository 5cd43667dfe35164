package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	MovesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chess_moves_total",
		Help: "Move submissions by result (accepted or the rejection code)",
	}, []string{"result"})
	RoomsCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chess_rooms_created_total",
		Help: "Rooms created, rematch successors included",
	})
	GamesFinishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chess_games_finished_total",
		Help: "Finished games by outcome",
	}, []string{"outcome"})
	ChatMessagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chess_chat_messages_total",
		Help: "Chat messages accepted",
	})
	StoreConflictsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chess_store_conflicts_total",
		Help: "Room updates abandoned after repeated concurrent writes",
	})
	WatchConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chess_watch_connections",
		Help: "Open room watch websockets",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration,
		MovesTotal, RoomsCreatedTotal, GamesFinishedTotal, ChatMessagesTotal,
		StoreConflictsTotal, WatchConnections,
	)
}

// GinMiddleware records request counts and latency per route template.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		labels := prometheus.Labels{"method": c.Request.Method, "path": path, "status": status}
		HTTPRequestsTotal.With(labels).Inc()
		HTTPRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	}
}
