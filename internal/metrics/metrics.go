package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConnectedUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatroom_connected_users",
			Help: "Channels currently registered for broadcast",
		},
	)

	MessagesPosted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatroom_messages_posted_total",
			Help: "Total messages stored",
		},
	)

	MessagesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatroom_messages_rejected_total",
			Help: "Inbound messages dropped before storage",
		},
		[]string{"reason"}, // "empty", "rate_limited", "storage"
	)

	Broadcasts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatroom_broadcasts_total",
			Help: "Fan-out passes by payload kind",
		},
		[]string{"kind"}, // "message", "presence" or "welcome"
	)

	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatroom_deliveries_total",
			Help: "Per-channel send attempts by outcome",
		},
		[]string{"outcome"},
	)

	Evictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatroom_evictions_total",
			Help: "Channels removed after a failed send",
		},
	)

	FanoutDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chatroom_fanout_duration_seconds",
			Help:    "Time to complete one fan-out pass",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
		},
	)
)
