package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hashicorp-forge/bucketsearch/internal/bootstrap"
	"github.com/hashicorp-forge/bucketsearch/internal/config"
	"github.com/hashicorp-forge/bucketsearch/pkg/metrics"
)

func main() {
	cfg, err := config.Load(os.Getenv("BUCKETSEARCH_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := bootstrap.NewLogger("bucketsearch-lambda", cfg)
	ctx := context.Background()

	sink, err := bootstrap.NewSink(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize search provider", "error", err)
		os.Exit(1)
	}

	// Metrics are collected for the lifetime of the execution environment
	// but not served.
	m := metrics.New(prometheus.NewRegistry())

	orchestrator, err := bootstrap.NewOrchestrator(ctx, cfg, sink, logger, m)
	if err != nil {
		logger.Error("failed to create orchestrator", "error", err)
		os.Exit(1)
	}

	h := &handler{deliveries: orchestrator, logger: logger}
	lambda.Start(h.Handle)
}
