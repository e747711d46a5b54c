// Package consumer feeds change-notification deliveries from a Kafka topic
// into the indexer. Each record value is one delivery body.
package consumer

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/twmb/franz-go/pkg/kgo"
)

// DefaultHandlerTimeout is the time budget of one delivery.
const DefaultHandlerTimeout = 5 * time.Minute

// DeliveryHandler processes the bodies of one delivery.
// *indexer.Orchestrator implements it.
type DeliveryHandler interface {
	HandleDelivery(ctx context.Context, bodies []string) error
}

// recordClient is the part of *kgo.Client used after a record was handled.
type recordClient interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	CommitRecords(ctx context.Context, rs ...*kgo.Record) error
}

// Consumer consumes notification deliveries from Redpanda and indexes them.
type Consumer struct {
	kafkaClient *kgo.Client
	client      recordClient
	handler     DeliveryHandler
	retry       RetryConfig
	dlqTopic    string
	timeout     time.Duration
	logger      hclog.Logger
	stopCh      chan struct{}

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// Config holds configuration for the consumer.
type Config struct {
	// Kafka/Redpanda configuration
	Brokers       []string
	Topic         string
	ConsumerGroup string
	DLQTopic      string

	// Consumer offset configuration (optional, defaults to AtEnd for new consumers)
	// Use AtStart for testing to ensure messages are consumed even if published before consumer joins
	ConsumeFromStart bool

	Handler DeliveryHandler
	Retry   RetryConfig

	// HandlerTimeout is the time budget of one delivery (default: 5m).
	// Object store retries stop waiting before it runs out.
	HandlerTimeout time.Duration

	Logger hclog.Logger
}

// New creates a new consumer.
func New(cfg Config) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	if cfg.Handler == nil {
		return nil, fmt.Errorf("delivery handler is required")
	}
	if cfg.ConsumerGroup == "" {
		cfg.ConsumerGroup = "bucketsearch-indexer"
	}
	if cfg.DLQTopic == "" {
		cfg.DLQTopic = DefaultDLQTopic
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = DefaultHandlerTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}

	// Determine offset strategy
	offset := kgo.NewOffset().AtEnd()
	if cfg.ConsumeFromStart {
		offset = kgo.NewOffset().AtStart()
	}

	kafkaClient, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.ConsumerGroup),
		kgo.ConsumeTopics(cfg.Topic),

		kgo.ConsumeResetOffset(offset),
		kgo.SessionTimeout(10*time.Second),
		kgo.RebalanceTimeout(30*time.Second),

		// Offsets are committed once a record is indexed, redelivered or
		// dead-lettered.
		kgo.DisableAutoCommit(),

		kgo.FetchMaxWait(500*time.Millisecond),
		kgo.FetchMinBytes(1),
		kgo.FetchMaxBytes(5<<20), // 5MB

		// Redeliveries and DLQ records should never be lost
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.RequestRetries(10),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	c := newConsumer(kafkaClient, cfg)
	c.kafkaClient = kafkaClient
	return c, nil
}

func newConsumer(client recordClient, cfg Config) *Consumer {
	return &Consumer{
		client:   client,
		handler:  cfg.Handler,
		retry:    cfg.Retry.withDefaults(),
		dlqTopic: cfg.DLQTopic,
		timeout:  cfg.HandlerTimeout,
		logger:   cfg.Logger.Named("indexer-consumer"),
		stopCh:   make(chan struct{}),
		now:      time.Now,
		sleep:    sleepContext,
	}
}

// Start starts the consumer polling loop.
func (c *Consumer) Start(ctx context.Context) error {
	group, _ := c.kafkaClient.GroupMetadata()
	c.logger.Info("starting indexer consumer",
		"consumer_group", group,
	)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("indexer consumer stopped by context")
			return ctx.Err()

		case <-c.stopCh:
			c.logger.Info("indexer consumer stopped")
			return nil

		default:
			fetches := c.kafkaClient.PollFetches(ctx)
			if fetches.IsClientClosed() {
				return nil
			}

			if errs := fetches.Errors(); len(errs) > 0 {
				for _, err := range errs {
					c.logger.Error("kafka fetch error", "error", err.Err)
				}
				continue
			}

			fetches.EachPartition(func(p kgo.FetchTopicPartition) {
				for _, record := range p.Records {
					if err := c.handleRecord(ctx, record); err != nil {
						c.logger.Error("failed to settle record",
							"partition", record.Partition,
							"offset", record.Offset,
							"error", err,
						)
					}
				}
			})
		}
	}
}

// Stop gracefully stops the consumer.
func (c *Consumer) Stop() {
	select {
	case <-c.stopCh:
		// Already stopped
		return
	default:
		close(c.stopCh)
		c.kafkaClient.Close()
	}
}

// handleRecord indexes one record and settles it: the offset is committed
// once the record succeeded, was republished or was dead-lettered. An
// error means the record could not be settled and was not committed.
func (c *Consumer) handleRecord(ctx context.Context, record *kgo.Record) error {
	if nb := notBefore(record); !nb.IsZero() {
		if wait := nb.Sub(c.now()); wait > 0 {
			c.logger.Debug("delaying redelivered record", "offset", record.Offset, "wait", wait)
			if err := c.sleep(ctx, wait); err != nil {
				return err
			}
		}
	}

	hctx, cancel := context.WithTimeout(ctx, c.timeout)
	err := c.handler.HandleDelivery(hctx, []string{string(record.Value)})
	cancel()

	n := redeliveries(record)
	decision := c.retry.Decide(err, n)

	switch decision {
	case Redeliver:
		c.logger.Warn("delivery failed, redelivering",
			"partition", record.Partition,
			"offset", record.Offset,
			"redeliveries", n,
			"error", err,
		)
		if perr := c.client.ProduceSync(ctx, c.retry.retryRecord(record, err, c.now())).FirstErr(); perr != nil {
			return fmt.Errorf("failed to republish record: %w", perr)
		}

	case DeadLetter:
		c.logger.Error("delivery failed permanently, sending to DLQ",
			"partition", record.Partition,
			"offset", record.Offset,
			"redeliveries", n,
			"dlq_topic", c.dlqTopic,
			"error", err,
		)
		dlq, merr := dlqRecord(c.dlqTopic, record, err, c.now())
		if merr != nil {
			return merr
		}
		if perr := c.client.ProduceSync(ctx, dlq).FirstErr(); perr != nil {
			return fmt.Errorf("failed to publish to DLQ: %w", perr)
		}

	default:
		c.logger.Debug("delivery indexed",
			"partition", record.Partition,
			"offset", record.Offset,
		)
	}

	if err := c.client.CommitRecords(ctx, record); err != nil {
		c.logger.Warn("failed to commit Kafka offset",
			"partition", record.Partition,
			"offset", record.Offset,
			"error", err)
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
