package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesDemuxed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "frames_demuxed_total",
		Help:      "Total number of complete JPEG frames cut from the camera stream",
	})

	FramesDiscarded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "frames_discarded_total",
		Help:      "Partial frames dropped because they exceeded the size limit",
	})

	StreamReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "stream_reconnects_total",
		Help:      "Number of times the stream entered the failed state",
	})

	StreamState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "attendance",
		Name:      "stream_state",
		Help:      "Current demuxer state (1 for the active state)",
	}, []string{"state"})

	DetectionTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "detection_ticks_total",
		Help:      "Detection ticks by result",
	}, []string{"result"})

	InferenceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "attendance",
		Name:      "inference_duration_seconds",
		Help:      "Duration of ML inference stages",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"stage"})

	FacesDetected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "faces_detected_total",
		Help:      "Total number of faces detected",
	})

	Matches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "matches_total",
		Help:      "Face match outcomes",
	}, []string{"outcome"})

	RecordsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "records_created_total",
		Help:      "Attendance records created by source",
	}, []string{"source"})

	ActiveMarkers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "attendance",
		Name:      "active_markers",
		Help:      "Number of people already recorded for the current day",
	})

	EnrolledIdentities = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "attendance",
		Name:      "enrolled_identities",
		Help:      "Number of identities in the active snapshot",
	})

	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "events_dropped_total",
		Help:      "Attendance events dropped because the dispatch queue was full",
	})

	EventsArchived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "events_archived_total",
		Help:      "Attendance events written to the archive",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "attendance",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "attendance",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
