package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "avatar_stream_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	ActionsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "avatar_stream_actions_total",
			Help: "Consumer actions received, by action and outcome",
		},
		[]string{"action", "outcome"},
	)

	FramesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "avatar_stream_frames_sent_total",
			Help: "Parameter frames broadcast to peers",
		},
	)

	Streams = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "avatar_stream_streams_total",
			Help: "Speech streams by final status",
		},
		[]string{"status"},
	)

	StreamPrepareSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "avatar_stream_prepare_seconds",
			Help:    "Time from speak action to first frame",
			Buckets: prometheus.DefBuckets,
		},
	)

	EmotionClassifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "avatar_stream_emotion_classifications_total",
			Help: "Emotion classifications by label and source",
		},
		[]string{"label", "source"},
	)

	ConnectedPeers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "avatar_stream_connected_peers",
			Help: "Number of connected websocket peers",
		},
	)

	ConsumerReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "avatar_stream_consumer_reconnects_total",
			Help: "Reconnect attempts scheduled by the stream client",
		},
	)
)
