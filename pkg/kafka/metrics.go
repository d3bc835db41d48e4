package kafka

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values.
const (
	outcomeReceived     = "received"
	outcomeProcessed    = "processed"
	outcomeFailed       = "failed"
	outcomeDeadLettered = "dead_lettered"
	outcomePublished    = "published"
)

var (
	// ConsumerMessages counts consumed messages by what happened to them.
	ConsumerMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_consumer_messages_total",
			Help: "Kafka messages seen by consumers, by outcome",
		},
		[]string{"topic", "consumer_group", "outcome"},
	)

	// ConsumerDuplicates counts events skipped because their id was already handled.
	ConsumerDuplicates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_consumer_duplicates_total",
			Help: "Events skipped by the idempotency guard",
		},
		[]string{"event_type"},
	)

	// ConsumerHandleSeconds observes handler time including retries.
	ConsumerHandleSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_consumer_handle_seconds",
			Help:    "Time spent handling one Kafka message, retries included",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"topic", "consumer_group"},
	)

	// ProducerMessages counts publish attempts by outcome.
	ProducerMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_producer_messages_total",
			Help: "Kafka publish attempts, by outcome",
		},
		[]string{"topic", "outcome"},
	)

	// ProducerPublishSeconds observes broker acknowledgement latency.
	ProducerPublishSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_producer_publish_seconds",
			Help:    "Time until a Kafka publish was acknowledged or failed",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"topic"},
	)
)

func countConsumed(cfg ConsumerConfig, outcome string) {
	ConsumerMessages.WithLabelValues(cfg.Topic, cfg.GroupID, outcome).Inc()
}
