// Package config loads the indexer configuration from an HCL file and the
// environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/hashicorp/hcl/v2/hclsimple"

	"github.com/hashicorp-forge/bucketsearch/pkg/extract"
	"github.com/hashicorp-forge/bucketsearch/pkg/objectstore"
	"github.com/hashicorp-forge/bucketsearch/pkg/queue"
	"github.com/hashicorp-forge/bucketsearch/pkg/search"
	algoliaadapter "github.com/hashicorp-forge/bucketsearch/pkg/search/adapters/algolia"
	bleveadapter "github.com/hashicorp-forge/bucketsearch/pkg/search/adapters/bleve"
	elasticadapter "github.com/hashicorp-forge/bucketsearch/pkg/search/adapters/elastic"
	meilisearchadapter "github.com/hashicorp-forge/bucketsearch/pkg/search/adapters/meilisearch"
)

// Config is the root configuration.
type Config struct {
	LogLevel string `hcl:"log_level,optional"` // trace, debug, info, warn, error (default: info)
	LogJSON  bool   `hcl:"log_json,optional"`

	ObjectStore *objectstore.Config `hcl:"object_store,block"`
	Retry       *RetryConfig        `hcl:"retry,block"`
	Extract     *ExtractConfig      `hcl:"extract,block"`
	Queue       *QueueConfig        `hcl:"queue,block"`
	Search      *SearchConfig       `hcl:"search,block"`
	Kafka       *KafkaConfig        `hcl:"kafka,block"`
	Indexer     *IndexerConfig      `hcl:"indexer,block"`
	Metrics     *MetricsConfig      `hcl:"metrics,block"`
}

// RetryConfig configures object store retries. Durations use Go syntax
// ("4s", "1m30s").
type RetryConfig struct {
	MaxAttempts    int     `hcl:"max_attempts,optional"`
	InitialBackoff string  `hcl:"initial_backoff,optional"`
	Multiplier     float64 `hcl:"multiplier,optional"`
	MaxBackoff     string  `hcl:"max_backoff,optional"`
}

// Policy converts the block into a retry policy. Unset fields keep the
// defaults.
func (c *RetryConfig) Policy() (objectstore.RetryPolicy, error) {
	p := objectstore.DefaultRetryPolicy()
	if c == nil {
		return p, nil
	}
	if c.MaxAttempts > 0 {
		p.MaxAttempts = c.MaxAttempts
	}
	if c.Multiplier > 0 {
		p.Multiplier = c.Multiplier
	}
	var err error
	if p.InitialBackoff, err = durationOr(c.InitialBackoff, p.InitialBackoff); err != nil {
		return p, fmt.Errorf("initial_backoff: %w", err)
	}
	if p.MaxBackoff, err = durationOr(c.MaxBackoff, p.MaxBackoff); err != nil {
		return p, fmt.Errorf("max_backoff: %w", err)
	}
	return p, nil
}

// ExtractConfig configures content extraction. The extension lists
// replace the built-in table when any of them is set.
type ExtractConfig struct {
	MaxBytes   int `hcl:"max_bytes,optional"`
	MaxLines   int `hcl:"max_lines,optional"`
	SampleRows int `hcl:"sample_rows,optional"`

	TextExtensions     []string `hcl:"text_extensions,optional"`
	NotebookExtensions []string `hcl:"notebook_extensions,optional"`
	ColumnarExtensions []string `hcl:"columnar_extensions,optional"`
}

// Limits returns the configured extraction limits.
func (c *ExtractConfig) Limits() extract.Limits {
	if c == nil {
		return extract.Limits{}
	}
	return extract.Limits{Bytes: c.MaxBytes, Lines: c.MaxLines, SampleRows: c.SampleRows}
}

// Table returns the extension table, or nil for the built-in one.
func (c *ExtractConfig) Table() extract.Table {
	if c == nil || len(c.TextExtensions)+len(c.NotebookExtensions)+len(c.ColumnarExtensions) == 0 {
		return nil
	}
	t := make(extract.Table)
	add := func(exts []string, fam extract.Family) {
		for _, ext := range exts {
			ext = strings.ToLower(ext)
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			t[ext] = fam
		}
	}
	add(c.TextExtensions, extract.Text)
	add(c.NotebookExtensions, extract.Notebook)
	add(c.ColumnarExtensions, extract.Columnar)
	return t
}

// QueueConfig bounds bulk requests.
type QueueConfig struct {
	MaxActions    int    `hcl:"max_actions,optional"`
	MaxBytes      int    `hcl:"max_bytes,optional"`
	AnnotationKey string `hcl:"annotation_key,optional"` // User metadata key holding annotations (default: "helium")
}

// QueueConfig converts the block into a queue configuration.
func (c *QueueConfig) QueueConfig() queue.Config {
	if c == nil {
		return queue.Config{}
	}
	return queue.Config{MaxActions: c.MaxActions, MaxBytes: c.MaxBytes, AnnotationKey: c.AnnotationKey}
}

// SearchConfig selects and configures the search backend.
type SearchConfig struct {
	Provider string `hcl:"provider,optional"` // elastic, bleve, meilisearch or algolia (default: elastic)

	Elastic     *elasticadapter.Config     `hcl:"elastic,block"`
	Bleve       *bleveadapter.Config       `hcl:"bleve,block"`
	Meilisearch *meilisearchadapter.Config `hcl:"meilisearch,block"`
	Algolia     *algoliaadapter.Config     `hcl:"algolia,block"`
}

// KafkaConfig configures the Kafka/Redpanda transport.
type KafkaConfig struct {
	Brokers          []string `hcl:"brokers,optional"`
	Topic            string   `hcl:"topic,optional"`
	ConsumerGroup    string   `hcl:"consumer_group,optional"`
	DLQTopic         string   `hcl:"dlq_topic,optional"`
	ConsumeFromStart bool     `hcl:"consume_from_start,optional"`

	MaxRedeliveries      int    `hcl:"max_redeliveries,optional"`
	RedeliveryBackoff    string `hcl:"redelivery_backoff,optional"`
	RedeliveryMaxBackoff string `hcl:"redelivery_max_backoff,optional"`
}

// IndexerConfig configures the orchestrator.
type IndexerConfig struct {
	Workers         int    `hcl:"workers,optional"`
	FlushReserve    string `hcl:"flush_reserve,optional"`    // Time budget kept for flushing (default: 10s)
	DeliveryTimeout string `hcl:"delivery_timeout,optional"` // Budget of one Kafka delivery (default: 5m)
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Address string `hcl:"address,optional"` // Listen address (default: ":9102")
	Path    string `hcl:"path,optional"`    // Default: "/metrics"
}

// Load decodes the file at path, applies environment overrides and
// defaults, and validates the result. An empty path configures from the
// environment alone.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		if err := hclsimple.DecodeFile(path, nil, &cfg); err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	cfg.ApplyEnv(os.LookupEnv)
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// ApplyEnv overrides file settings with environment variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	get := func(keys ...string) (string, bool) {
		for _, k := range keys {
			if v, ok := lookup(k); ok && v != "" {
				return v, true
			}
		}
		return "", false
	}

	if v, ok := get("BUCKETSEARCH_LOG_LEVEL"); ok {
		c.LogLevel = v
	}

	if c.ObjectStore == nil {
		c.ObjectStore = &objectstore.Config{}
	}
	if v, ok := get("BUCKETSEARCH_S3_ENDPOINT"); ok {
		c.ObjectStore.Endpoint = v
	}
	if c.ObjectStore.Region == "" {
		if v, ok := get("AWS_REGION", "AWS_DEFAULT_REGION"); ok {
			c.ObjectStore.Region = v
		}
	}

	if c.Search == nil {
		c.Search = &SearchConfig{}
	}
	if v, ok := get("BUCKETSEARCH_SEARCH_PROVIDER"); ok {
		c.Search.Provider = v
	}
	if v, ok := get("ES_HOST"); ok {
		if c.Search.Elastic == nil {
			c.Search.Elastic = &elasticadapter.Config{}
		}
		if !strings.Contains(v, "://") {
			v = "https://" + v
		}
		c.Search.Elastic.Endpoint = v
	}

	if c.Kafka == nil {
		c.Kafka = &KafkaConfig{}
	}
	if v, ok := get("REDPANDA_BROKERS"); ok {
		c.Kafka.Brokers = splitList(v)
	}
	if v, ok := get("BUCKETSEARCH_TOPIC"); ok {
		c.Kafka.Topic = v
	}
	if v, ok := get("CONSUMER_GROUP"); ok {
		c.Kafka.ConsumerGroup = v
	}
}

// SetDefaults sets default values for optional configuration fields.
func (c *Config) SetDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.ObjectStore == nil {
		c.ObjectStore = &objectstore.Config{}
	}
	c.ObjectStore.SetDefaults()

	if c.Search == nil {
		c.Search = &SearchConfig{}
	}
	if c.Search.Provider == "" {
		c.Search.Provider = string(search.ProviderTypeElastic)
	}
	if c.Search.Elastic != nil {
		c.Search.Elastic.SetDefaults()
	}

	if c.Kafka == nil {
		c.Kafka = &KafkaConfig{}
	}
	if c.Indexer == nil {
		c.Indexer = &IndexerConfig{}
	}
	if c.Metrics == nil {
		c.Metrics = &MetricsConfig{}
	}
	if c.Metrics.Address == "" {
		c.Metrics.Address = ":9102"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.LogLevel, validation.In("trace", "debug", "info", "warn", "error")),
	); err != nil {
		return err
	}

	if c.ObjectStore == nil {
		return fmt.Errorf("object_store block is required")
	}
	if c.Search == nil {
		return fmt.Errorf("search block is required")
	}
	if err := c.ObjectStore.Validate(); err != nil {
		return fmt.Errorf("object_store: %w", err)
	}
	if err := c.Search.Validate(); err != nil {
		return fmt.Errorf("search: %w", err)
	}
	if _, err := c.Retry.Policy(); err != nil {
		return fmt.Errorf("retry: %w", err)
	}
	durations := map[string]string{}
	if c.Indexer != nil {
		durations["indexer.flush_reserve"] = c.Indexer.FlushReserve
		durations["indexer.delivery_timeout"] = c.Indexer.DeliveryTimeout
	}
	if c.Kafka != nil {
		durations["kafka.redelivery_backoff"] = c.Kafka.RedeliveryBackoff
		durations["kafka.redelivery_max_backoff"] = c.Kafka.RedeliveryMaxBackoff
	}
	for name, v := range durations {
		if _, err := durationOr(v, 0); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// Validate checks that the selected provider has its block.
func (c *SearchConfig) Validate() error {
	switch search.ProviderType(c.Provider) {
	case search.ProviderTypeElastic:
		if c.Elastic == nil {
			return fmt.Errorf("elastic configuration is missing")
		}
		return c.Elastic.Validate()
	case search.ProviderTypeBleve:
		if c.Bleve == nil {
			return fmt.Errorf("bleve configuration is missing")
		}
		if c.Bleve.IndexPath == "" {
			return fmt.Errorf("bleve index_path is required")
		}
		return nil
	case search.ProviderTypeMeilisearch:
		if c.Meilisearch == nil {
			return fmt.Errorf("meilisearch configuration is missing")
		}
		return c.Meilisearch.Validate()
	case search.ProviderTypeAlgolia:
		if c.Algolia == nil {
			return fmt.Errorf("algolia configuration is missing")
		}
		return c.Algolia.Validate()
	default:
		return fmt.Errorf("unsupported search provider: %s (supported: elastic, bleve, meilisearch, algolia)", c.Provider)
	}
}

// FlushReserveOr returns the configured flush reserve, or def.
func (c *IndexerConfig) FlushReserveOr(def time.Duration) time.Duration {
	d, _ := durationOr(c.FlushReserve, def)
	return d
}

// DeliveryTimeoutOr returns the configured delivery timeout, or def.
func (c *IndexerConfig) DeliveryTimeoutOr(def time.Duration) time.Duration {
	d, _ := durationOr(c.DeliveryTimeout, def)
	return d
}

// RedeliveryBackoffs returns the initial and maximum redelivery delays.
// Zero means the consumer default.
func (c *KafkaConfig) RedeliveryBackoffs() (initial, max time.Duration) {
	initial, _ = durationOr(c.RedeliveryBackoff, 0)
	max, _ = durationOr(c.RedeliveryMaxBackoff, 0)
	return initial, max
}

func durationOr(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def, err
	}
	if d < 0 {
		return def, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
