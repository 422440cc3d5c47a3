package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	registry           *prometheus.Registry
	registryOnce       sync.Once
	defaultMetricsPath = "/metrics"
	metricsEnabled     = true

	// Media stream metrics
	MediaFramesReceived *prometheus.CounterVec
	MediaBytesReceived  *prometheus.CounterVec
	PlaybackBytesSent   *prometheus.CounterVec
	InvalidFrames       *prometheus.CounterVec

	// Call lifecycle metrics
	ActiveCalls          prometheus.Gauge
	CallsTotal           *prometheus.CounterVec
	CallDuration         *prometheus.HistogramVec
	RegistrationWaitTime prometheus.Histogram

	// Recognition metrics
	STTRequestsTotal  *prometheus.CounterVec
	STTErrors         *prometheus.CounterVec
	STTBytesProcessed *prometheus.CounterVec
	FinalUtterances   *prometheus.CounterVec
	DroppedUtterances *prometheus.CounterVec

	// Reply pipeline metrics
	ReplyLatency    *prometheus.HistogramVec
	ReplyErrors     *prometheus.CounterVec
	SynthesisErrors *prometheus.CounterVec

	// Dashboard metrics
	DashboardObservers   prometheus.Gauge
	ObserverEvictions    prometheus.Counter
	TranscriptsPublished *prometheus.CounterVec

	// Caller lookup metrics
	LookupRequestsTotal *prometheus.CounterVec
	LookupLatency       prometheus.Histogram

	// AMQP metrics
	AMQPPublishedMessages *prometheus.CounterVec
	AMQPConnectionErrors  *prometheus.CounterVec
	AMQPReconnectAttempts *prometheus.CounterVec
	AMQPConnectionStatus  prometheus.Gauge
)

// Init initializes all metrics and registers them with Prometheus
func Init(logger *logrus.Logger) {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()

		MediaFramesReceived = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voicegate_media_frames_received_total",
				Help: "Total number of media frames received from the telephony socket",
			},
			[]string{"session_id"},
		)

		MediaBytesReceived = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voicegate_media_bytes_received_total",
				Help: "Total number of mu-law payload bytes received",
			},
			[]string{"session_id"},
		)

		PlaybackBytesSent = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voicegate_playback_bytes_sent_total",
				Help: "Total number of mu-law payload bytes sent back to the caller",
			},
			[]string{"session_id"},
		)

		InvalidFrames = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voicegate_invalid_frames_total",
				Help: "Total number of inbound frames that failed to parse",
			},
			[]string{"reason"},
		)

		ActiveCalls = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "voicegate_active_calls",
				Help: "Number of active voice sessions",
			},
		)

		CallsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voicegate_calls_total",
				Help: "Total number of calls by outcome",
			},
			[]string{"outcome"},
		)

		CallDuration = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "voicegate_call_duration_seconds",
				Help:    "Duration of voice sessions",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68 minutes
			},
			[]string{"outcome"},
		)

		RegistrationWaitTime = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "voicegate_registration_wait_seconds",
				Help:    "Time the media socket waited for call registration",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 11), // 10ms to ~10s
			},
		)

		STTRequestsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voicegate_stt_requests_total",
				Help: "Total number of STT streaming sessions",
			},
			[]string{"vendor", "status"},
		)

		STTErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voicegate_stt_errors_total",
				Help: "Total number of STT errors",
			},
			[]string{"vendor", "error_type"},
		)

		STTBytesProcessed = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voicegate_stt_bytes_processed_total",
				Help: "Total number of audio bytes forwarded to STT",
			},
			[]string{"vendor"},
		)

		FinalUtterances = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voicegate_final_utterances_total",
				Help: "Total number of finalized utterances",
			},
			[]string{"session_id"},
		)

		DroppedUtterances = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voicegate_dropped_utterances_total",
				Help: "Finalized utterances dropped because a reply was in flight",
			},
			[]string{"session_id"},
		)

		ReplyLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "voicegate_reply_latency_seconds",
				Help:    "Latency of the reply pipeline by stage",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
			},
			[]string{"stage"},
		)

		ReplyErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voicegate_reply_errors_total",
				Help: "Total number of reply generation failures",
			},
			[]string{"stage"},
		)

		SynthesisErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voicegate_synthesis_errors_total",
				Help: "Total number of speech synthesis failures",
			},
			[]string{"error_type"},
		)

		DashboardObservers = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "voicegate_dashboard_observers",
				Help: "Number of connected dashboard observers",
			},
		)

		ObserverEvictions = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "voicegate_observer_evictions_total",
				Help: "Dashboard observers evicted for failed or slow delivery",
			},
		)

		TranscriptsPublished = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voicegate_transcripts_published_total",
				Help: "Total number of dashboard events published",
			},
			[]string{"event_type"},
		)

		LookupRequestsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voicegate_lookup_requests_total",
				Help: "Total number of caller lookup requests",
			},
			[]string{"status"},
		)

		LookupLatency = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "voicegate_lookup_latency_seconds",
				Help:    "Latency of caller lookup queries",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
			},
		)

		AMQPPublishedMessages = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voicegate_amqp_published_messages_total",
				Help: "Total number of messages published to AMQP",
			},
			[]string{"queue", "status"},
		)

		AMQPConnectionErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voicegate_amqp_connection_errors_total",
				Help: "Total number of AMQP connection errors",
			},
			[]string{"error_type"},
		)

		AMQPReconnectAttempts = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voicegate_amqp_reconnect_attempts_total",
				Help: "Total number of AMQP reconnection attempts",
			},
			[]string{"status"},
		)

		AMQPConnectionStatus = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "voicegate_amqp_connection_status",
				Help: "Status of AMQP connection (1 = connected, 0 = disconnected)",
			},
		)

		registry.MustRegister(
			MediaFramesReceived,
			MediaBytesReceived,
			PlaybackBytesSent,
			InvalidFrames,

			ActiveCalls,
			CallsTotal,
			CallDuration,
			RegistrationWaitTime,

			STTRequestsTotal,
			STTErrors,
			STTBytesProcessed,
			FinalUtterances,
			DroppedUtterances,

			ReplyLatency,
			ReplyErrors,
			SynthesisErrors,

			DashboardObservers,
			ObserverEvictions,
			TranscriptsPublished,

			LookupRequestsTotal,
			LookupLatency,

			AMQPPublishedMessages,
			AMQPConnectionErrors,
			AMQPReconnectAttempts,
			AMQPConnectionStatus,
		)

		logger.Info("Prometheus metrics initialized")
	})
}

// GetRegistry returns the prometheus registry
func GetRegistry() *prometheus.Registry {
	return registry
}

// SetMetricsPath sets the HTTP path for metrics endpoint
func SetMetricsPath(path string) {
	defaultMetricsPath = path
}

// IsMetricsEnabled returns whether metrics are enabled
func IsMetricsEnabled() bool {
	return metricsEnabled
}

// SetMetricsEnabled enables or disables metrics collection
func SetMetricsEnabled(enabled bool) {
	metricsEnabled = enabled
}

// RegisterHandler registers the metrics HTTP handler
func RegisterHandler(mux *http.ServeMux) {
	if metricsEnabled && registry != nil {
		handler := promhttp.HandlerFor(
			registry,
			promhttp.HandlerOpts{
				EnableOpenMetrics: true,
				Registry:          registry,
			},
		)
		mux.Handle(defaultMetricsPath, handler)
	}
}

// StartMetrics initializes the metrics service
func StartMetrics(logger *logrus.Logger, enabled bool) {
	if !enabled {
		SetMetricsEnabled(false)
		logger.Info("Metrics collection is disabled")
		return
	}

	Init(logger)
	SetMetricsEnabled(true)
	logger.WithField("metrics_path", defaultMetricsPath).Info("Metrics endpoint initialized")
}

func enabled() bool {
	return metricsEnabled && registry != nil
}

// RecordMediaFrame records an inbound media frame and its payload size
func RecordMediaFrame(sessionID string, bytes int) {
	if enabled() {
		MediaFramesReceived.WithLabelValues(sessionID).Inc()
		MediaBytesReceived.WithLabelValues(sessionID).Add(float64(bytes))
	}
}

// RecordPlaybackBytes records outbound playback payload size
func RecordPlaybackBytes(sessionID string, bytes int) {
	if enabled() {
		PlaybackBytesSent.WithLabelValues(sessionID).Add(float64(bytes))
	}
}

// RecordInvalidFrame records a malformed inbound frame
func RecordInvalidFrame(reason string) {
	if enabled() {
		InvalidFrames.WithLabelValues(reason).Inc()
	}
}

// StartCallTimer increments the active call gauge and returns a function
// that records the call duration and outcome when called.
func StartCallTimer() func(outcome string) {
	if !enabled() {
		return func(string) {}
	}

	ActiveCalls.Inc()
	start := time.Now()
	return func(outcome string) {
		ActiveCalls.Dec()
		CallsTotal.WithLabelValues(outcome).Inc()
		CallDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}
}

// ObserveRegistrationWait records how long the media socket waited for
// its session to register.
func ObserveRegistrationWait(d time.Duration) {
	if enabled() {
		RegistrationWaitTime.Observe(d.Seconds())
	}
}

// RecordSTTRequest records metrics for an STT streaming session
func RecordSTTRequest(vendor, status string) {
	if enabled() {
		STTRequestsTotal.WithLabelValues(vendor, status).Inc()
	}
}

// RecordSTTError records an STT error
func RecordSTTError(vendor, errorType string) {
	if enabled() {
		STTErrors.WithLabelValues(vendor, errorType).Inc()
	}
}

// RecordSTTBytes records audio bytes forwarded to STT
func RecordSTTBytes(vendor string, bytes int) {
	if enabled() {
		STTBytesProcessed.WithLabelValues(vendor).Add(float64(bytes))
	}
}

// RecordFinalUtterance records a finalized utterance
func RecordFinalUtterance(sessionID string) {
	if enabled() {
		FinalUtterances.WithLabelValues(sessionID).Inc()
	}
}

// RecordDroppedUtterance records an utterance dropped by the reply guard
func RecordDroppedUtterance(sessionID string) {
	if enabled() {
		DroppedUtterances.WithLabelValues(sessionID).Inc()
	}
}

// ObserveReplyStage records reply pipeline latency with a timer function
func ObserveReplyStage(stage string) func() {
	if !enabled() {
		return func() {}
	}

	start := time.Now()
	return func() {
		ReplyLatency.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	}
}

// RecordReplyError records a reply pipeline failure
func RecordReplyError(stage string) {
	if enabled() {
		ReplyErrors.WithLabelValues(stage).Inc()
	}
}

// RecordSynthesisError records a speech synthesis failure
func RecordSynthesisError(errorType string) {
	if enabled() {
		SynthesisErrors.WithLabelValues(errorType).Inc()
	}
}

// RecordObserverConnected adjusts the dashboard observer gauge
func RecordObserverConnected(delta int) {
	if enabled() {
		DashboardObservers.Add(float64(delta))
	}
}

// RecordObserverEviction records a dashboard observer eviction
func RecordObserverEviction() {
	if enabled() {
		DashboardObservers.Dec()
		ObserverEvictions.Inc()
	}
}

// RecordTranscriptPublished records a published dashboard event
func RecordTranscriptPublished(eventType string) {
	if enabled() {
		TranscriptsPublished.WithLabelValues(eventType).Inc()
	}
}

// RecordLookup records a caller lookup request and its latency
func RecordLookup(status string, d time.Duration) {
	if enabled() {
		LookupRequestsTotal.WithLabelValues(status).Inc()
		LookupLatency.Observe(d.Seconds())
	}
}

// RecordAMQPPublish records metrics for an AMQP publish
func RecordAMQPPublish(queue, status string) {
	if enabled() {
		AMQPPublishedMessages.WithLabelValues(queue, status).Inc()
	}
}

// RecordAMQPConnectionError records an AMQP connection error
func RecordAMQPConnectionError(errorType string) {
	if enabled() {
		AMQPConnectionErrors.WithLabelValues(errorType).Inc()
	}
}

// RecordAMQPReconnect records an AMQP reconnection attempt
func RecordAMQPReconnect(status string) {
	if enabled() {
		AMQPReconnectAttempts.WithLabelValues(status).Inc()
	}
}

// SetAMQPConnectionStatus sets the AMQP connection status
func SetAMQPConnectionStatus(connected bool) {
	if enabled() {
		if connected {
			AMQPConnectionStatus.Set(1)
		} else {
			AMQPConnectionStatus.Set(0)
		}
	}
}
