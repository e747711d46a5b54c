// Package bootstrap builds the indexer components from configuration. It
// is shared by the Kafka consumer and the Lambda handler binaries.
package bootstrap

import (
	"context"
	"fmt"
	"os"

	"github.com/hashicorp/go-hclog"

	"github.com/hashicorp-forge/bucketsearch/internal/config"
	"github.com/hashicorp-forge/bucketsearch/pkg/extract"
	"github.com/hashicorp-forge/bucketsearch/pkg/indexer"
	"github.com/hashicorp-forge/bucketsearch/pkg/metrics"
	"github.com/hashicorp-forge/bucketsearch/pkg/objectstore"
	"github.com/hashicorp-forge/bucketsearch/pkg/search"
	algoliaadapter "github.com/hashicorp-forge/bucketsearch/pkg/search/adapters/algolia"
	bleveadapter "github.com/hashicorp-forge/bucketsearch/pkg/search/adapters/bleve"
	elasticadapter "github.com/hashicorp-forge/bucketsearch/pkg/search/adapters/elastic"
	meilisearchadapter "github.com/hashicorp-forge/bucketsearch/pkg/search/adapters/meilisearch"
)

// NewLogger creates the root logger.
func NewLogger(name string, cfg *config.Config) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:       name,
		Level:      hclog.LevelFromString(cfg.LogLevel),
		JSONFormat: cfg.LogJSON,
		Output:     os.Stderr,
	})
}

// NewSink creates the search provider selected in cfg.
func NewSink(ctx context.Context, cfg *config.Config, logger hclog.Logger) (search.Sink, error) {
	sc := cfg.Search
	if sc == nil {
		return nil, fmt.Errorf("search configuration is missing")
	}

	var (
		sink search.Sink
		err  error
	)
	switch search.ProviderType(sc.Provider) {
	case search.ProviderTypeElastic:
		if sc.Elastic == nil {
			return nil, fmt.Errorf("elastic configuration is missing")
		}
		sink, err = elasticadapter.NewAdapter(ctx, sc.Elastic, logger)
	case search.ProviderTypeBleve:
		if sc.Bleve == nil {
			return nil, fmt.Errorf("bleve configuration is missing")
		}
		sink, err = bleveadapter.NewAdapter(sc.Bleve, logger)
	case search.ProviderTypeMeilisearch:
		if sc.Meilisearch == nil {
			return nil, fmt.Errorf("meilisearch configuration is missing")
		}
		sink, err = meilisearchadapter.NewAdapter(sc.Meilisearch, logger)
	case search.ProviderTypeAlgolia:
		if sc.Algolia == nil {
			return nil, fmt.Errorf("algolia configuration is missing")
		}
		sink, err = algoliaadapter.NewAdapter(sc.Algolia, logger)
	default:
		return nil, fmt.Errorf("unsupported search provider: %s (supported: elastic, bleve, meilisearch, algolia)", sc.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s adapter: %w", sc.Provider, err)
	}

	logger.Info("initialized search provider", "provider", sink.Name())
	return sink, nil
}

// NewOrchestrator wires the object store, the extraction pipeline and
// sink into an orchestrator.
func NewOrchestrator(ctx context.Context, cfg *config.Config, sink search.Sink, logger hclog.Logger, m *metrics.Metrics) (*indexer.Orchestrator, error) {
	client, err := objectstore.NewClient(ctx, cfg.ObjectStore)
	if err != nil {
		return nil, err
	}
	return newOrchestrator(cfg, client, sink, logger, m)
}

func newOrchestrator(cfg *config.Config, client objectstore.S3API, sink search.Sink, logger hclog.Logger, m *metrics.Metrics) (*indexer.Orchestrator, error) {
	policy, err := cfg.Retry.Policy()
	if err != nil {
		return nil, fmt.Errorf("invalid retry configuration: %w", err)
	}

	accessor, err := objectstore.NewAccessor(objectstore.AccessorConfig{
		Client:  client,
		Retry:   policy,
		Logger:  logger,
		Metrics: m,
	})
	if err != nil {
		return nil, err
	}

	pipeline, err := extract.NewPipeline(extract.Config{
		Fetcher:    accessor,
		Limits:     cfg.Extract.Limits(),
		Extensions: cfg.Extract.Table(),
		Logger:     logger,
		Metrics:    m,
	})
	if err != nil {
		return nil, err
	}

	opts := []indexer.Option{
		indexer.WithAccessor(accessor),
		indexer.WithPipeline(pipeline),
		indexer.WithSink(sink),
		indexer.WithQueueConfig(cfg.Queue.QueueConfig()),
		indexer.WithLogger(logger),
		indexer.WithMetrics(m),
	}
	if cfg.Indexer != nil {
		opts = append(opts,
			indexer.WithWorkers(cfg.Indexer.Workers),
			indexer.WithFlushReserve(cfg.Indexer.FlushReserveOr(indexer.DefaultFlushReserve)),
		)
	}
	return indexer.NewOrchestrator(opts...)
}
