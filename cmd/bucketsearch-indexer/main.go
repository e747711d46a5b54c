package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hashicorp-forge/bucketsearch/internal/bootstrap"
	"github.com/hashicorp-forge/bucketsearch/internal/config"
	"github.com/hashicorp-forge/bucketsearch/pkg/indexer/consumer"
	"github.com/hashicorp-forge/bucketsearch/pkg/kafka"
	"github.com/hashicorp-forge/bucketsearch/pkg/metrics"
)

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "config.hcl", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := bootstrap.NewLogger("bucketsearch-indexer", cfg)
	logger.Info("starting bucketsearch-indexer", "config", *configPath)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	if err := runConsumer(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("consumer failed", "error", err)
		cancel()
		os.Exit(1)
	}

	logger.Info("bucketsearch-indexer stopped gracefully")
}

// runConsumer consumes notification deliveries from Redpanda until ctx is
// canceled.
func runConsumer(ctx context.Context, cfg *config.Config, logger hclog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	srv := startMetricsServer(cfg.Metrics, reg, logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	sink, err := bootstrap.NewSink(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := sink.Close(); err != nil {
			logger.Warn("failed to close search provider", "error", err)
		}
	}()

	orchestrator, err := bootstrap.NewOrchestrator(ctx, cfg, sink, logger, m)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	initial, maxBackoff := cfg.Kafka.RedeliveryBackoffs()
	c, err := consumer.New(consumer.Config{
		Brokers:          kafka.GetBrokers(cfg),
		Topic:            kafka.GetNotificationTopic(cfg),
		ConsumerGroup:    kafka.GetConsumerGroup(cfg),
		DLQTopic:         kafka.GetDLQTopic(cfg),
		ConsumeFromStart: cfg.Kafka.ConsumeFromStart,
		Handler:          orchestrator,
		Retry: consumer.RetryConfig{
			MaxRedeliveries: cfg.Kafka.MaxRedeliveries,
			InitialBackoff:  initial,
			MaxBackoff:      maxBackoff,
		},
		HandlerTimeout: cfg.Indexer.DeliveryTimeoutOr(consumer.DefaultHandlerTimeout),
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}
	defer c.Stop()

	return c.Start(ctx)
}

func startMetricsServer(cfg *config.MetricsConfig, reg *prometheus.Registry, logger hclog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:              cfg.Address,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("serving metrics", "address", cfg.Address, "path", cfg.Path)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	return srv
}
