// Package kafka resolves Kafka/Redpanda connection settings.
package kafka

import (
	"os"
	"strings"

	"github.com/hashicorp-forge/bucketsearch/internal/config"
)

// GetBrokers returns the Kafka/Redpanda broker addresses.
// It checks environment variables first, then falls back to config, then default.
func GetBrokers(cfg *config.Config) []string {
	if brokers := os.Getenv("REDPANDA_BROKERS"); brokers != "" {
		var out []string
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				out = append(out, b)
			}
		}
		return out
	}

	if cfg.Kafka != nil && len(cfg.Kafka.Brokers) > 0 {
		return cfg.Kafka.Brokers
	}

	return []string{"localhost:19092"}
}

// GetNotificationTopic returns the topic carrying bucket notifications.
// It checks environment variables first, then falls back to config, then default.
func GetNotificationTopic(cfg *config.Config) string {
	if topic := os.Getenv("BUCKETSEARCH_TOPIC"); topic != "" {
		return topic
	}

	if cfg.Kafka != nil && cfg.Kafka.Topic != "" {
		return cfg.Kafka.Topic
	}

	return "bucketsearch.notifications"
}

// GetConsumerGroup returns the consumer group name for indexer workers.
// It checks environment variables first, then falls back to config, then default.
func GetConsumerGroup(cfg *config.Config) string {
	if group := os.Getenv("CONSUMER_GROUP"); group != "" {
		return group
	}

	if cfg.Kafka != nil && cfg.Kafka.ConsumerGroup != "" {
		return cfg.Kafka.ConsumerGroup
	}

	return "bucketsearch-indexer"
}

// GetDLQTopic returns the dead letter topic for deliveries that cannot be
// indexed. It defaults to the notification topic with a ".dlq" suffix.
func GetDLQTopic(cfg *config.Config) string {
	if topic := os.Getenv("BUCKETSEARCH_DLQ_TOPIC"); topic != "" {
		return topic
	}

	if cfg.Kafka != nil && cfg.Kafka.DLQTopic != "" {
		return cfg.Kafka.DLQTopic
	}

	return GetNotificationTopic(cfg) + ".dlq"
}
