package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coldwatch_http_requests_total",
			Help: "Total number of admin HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coldwatch_http_request_duration_seconds",
			Help:    "Admin HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "endpoint", "status"},
	)

	// Evaluation cycle metrics
	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coldwatch_cycle_duration_seconds",
			Help:    "Time taken by one sensor read + evaluation cycle",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	ReadingValue = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "coldwatch_reading_value",
			Help: "Last sampled value per quantity",
		},
		[]string{"quantity"},
	)

	SensorReadFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coldwatch_sensor_read_failures_total",
			Help: "Sensor reads that fell back to a last-known or sentinel value",
		},
		[]string{"sensor"},
	)

	LatchState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "coldwatch_alert_latch_state",
			Help: "Alert latch state (0 normal, 1 alerting)",
		},
	)

	AlertTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coldwatch_alert_transitions_total",
			Help: "Alert latch transitions",
		},
		[]string{"kind"}, // alert_raised, alert_cleared
	)

	// Remote configuration metrics
	InboundMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coldwatch_inbound_messages_total",
			Help: "Inbound messages received per transport",
		},
		[]string{"source", "status"}, // status: queued, dropped
	)

	DirectivesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coldwatch_directives_total",
			Help: "Parsed directives by kind and outcome",
		},
		[]string{"kind", "status"}, // status: applied, persist_failed
	)

	SettingsSaveFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coldwatch_settings_save_failures_total",
			Help: "Failed persistence writes per settings key",
		},
		[]string{"key"},
	)

	// Worker metrics
	WorkerQueueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "coldwatch_worker_queue_size",
			Help: "Current size of the inbound message queue",
		},
	)

	WorkerQueueCapacity = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "coldwatch_worker_queue_capacity",
			Help: "Capacity of the inbound message queue",
		},
	)

	WorkerProcessedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coldwatch_worker_processed_total",
			Help: "Inbound messages processed by workers",
		},
	)

	WorkerFailedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coldwatch_worker_failed_total",
			Help: "Inbound messages whose handling returned an error",
		},
	)

	// Notification metrics
	NotifyTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coldwatch_notify_total",
			Help: "Notification attempts per channel",
		},
		[]string{"channel", "status"}, // status: sent, failed, skipped
	)

	NotifyDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coldwatch_notify_duration_seconds",
			Help:    "Time taken by one notification attempt",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"channel"},
	)

	TelemetryPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coldwatch_telemetry_published_total",
			Help: "Telemetry publish attempts",
		},
		[]string{"status"},
	)

	// Kafka producer metrics
	KafkaPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coldwatch_kafka_publish_total",
			Help: "Total number of messages published to Kafka",
		},
		[]string{"status"}, // status: success, failed
	)

	KafkaPublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coldwatch_kafka_publish_duration_seconds",
			Help:    "Time taken to publish to Kafka",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	KafkaPublishRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coldwatch_kafka_publish_retries_total",
			Help: "Total number of Kafka publish retries",
		},
	)

	KafkaBytesWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coldwatch_kafka_bytes_written_total",
			Help: "Total bytes written to Kafka",
		},
	)

	// Modem metrics
	ModemCommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coldwatch_modem_commands_total",
			Help: "AT commands issued to the GSM modem",
		},
		[]string{"command", "status"},
	)

	// Panic recovery
	PanicsRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coldwatch_panics_recovered_total",
			Help: "Total number of panics recovered",
		},
		[]string{"component"},
	)
)
