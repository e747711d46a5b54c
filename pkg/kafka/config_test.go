package kafka

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hashicorp-forge/bucketsearch/internal/config"
)

func TestGetBrokers(t *testing.T) {
	t.Setenv("REDPANDA_BROKERS", "")
	assert.Equal(t, []string{"localhost:19092"}, GetBrokers(&config.Config{}))
	assert.Equal(t, []string{"k:9092"}, GetBrokers(&config.Config{Kafka: &config.KafkaConfig{Brokers: []string{"k:9092"}}}))

	t.Setenv("REDPANDA_BROKERS", "env:9092, env2:9092")
	assert.Equal(t, []string{"env:9092", "env2:9092"}, GetBrokers(&config.Config{Kafka: &config.KafkaConfig{Brokers: []string{"k:9092"}}}))
}

func TestTopics(t *testing.T) {
	t.Setenv("BUCKETSEARCH_TOPIC", "")
	t.Setenv("BUCKETSEARCH_DLQ_TOPIC", "")
	t.Setenv("CONSUMER_GROUP", "")

	cfg := &config.Config{}
	assert.Equal(t, "bucketsearch.notifications", GetNotificationTopic(cfg))
	assert.Equal(t, "bucketsearch.notifications.dlq", GetDLQTopic(cfg))
	assert.Equal(t, "bucketsearch-indexer", GetConsumerGroup(cfg))

	cfg.Kafka = &config.KafkaConfig{Topic: "events", DLQTopic: "dead", ConsumerGroup: "g"}
	assert.Equal(t, "events", GetNotificationTopic(cfg))
	assert.Equal(t, "dead", GetDLQTopic(cfg))
	assert.Equal(t, "g", GetConsumerGroup(cfg))

	t.Setenv("BUCKETSEARCH_DLQ_TOPIC", "env-dead")
	assert.Equal(t, "env-dead", GetDLQTopic(cfg))
}
