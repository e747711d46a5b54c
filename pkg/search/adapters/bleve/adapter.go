// Package bleve implements search.Sink on embedded Bleve indexes, one
// per bucket, for local development and single-node deployments.
package bleve

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"

	"github.com/hashicorp-forge/bucketsearch/pkg/search"
)

// Config contains Bleve configuration.
type Config struct {
	IndexPath string `hcl:"index_path"` // Base directory for the per-bucket indexes (e.g. "./data/fts")
}

// Adapter implements search.Sink for Bleve.
type Adapter struct {
	basePath string
	mapping  mapping.IndexMapping
	logger   hclog.Logger

	mu      sync.Mutex
	indexes map[string]bleve.Index
}

// NewAdapter creates a new Bleve search adapter.
func NewAdapter(cfg *Config, logger hclog.Logger) (*Adapter, error) {
	if cfg.IndexPath == "" {
		return nil, fmt.Errorf("bleve index path required")
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	// Create index directory
	if err := os.MkdirAll(cfg.IndexPath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	return &Adapter{
		basePath: cfg.IndexPath,
		mapping:  createDocumentMapping(),
		logger:   logger.Named("bleve"),
		indexes:  make(map[string]bleve.Index),
	}, nil
}

// openOrCreateIndex opens an existing Bleve index or creates a new one.
func openOrCreateIndex(path string, indexMapping mapping.IndexMapping) (bleve.Index, error) {
	idx, err := bleve.Open(path)
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		// Index doesn't exist, create it
		return bleve.New(path, indexMapping)
	}
	return idx, err
}

// createDocumentMapping creates the index mapping for object documents.
func createDocumentMapping() mapping.IndexMapping {
	indexMapping := bleve.NewIndexMapping()

	// English analyzer with stemming for prose fields
	textFieldMapping := bleve.NewTextFieldMapping()
	textFieldMapping.Analyzer = "en"

	keywordFieldMapping := bleve.NewKeywordFieldMapping()
	dateFieldMapping := bleve.NewDateTimeFieldMapping()
	numericFieldMapping := bleve.NewNumericFieldMapping()

	docMapping := bleve.NewDocumentMapping()

	// Searchable text fields
	docMapping.AddFieldMappingsAt("content", textFieldMapping)
	docMapping.AddFieldMappingsAt("comment", textFieldMapping)
	docMapping.AddFieldMappingsAt("meta_text", textFieldMapping)

	// Keyword fields for exact matching and faceting
	docMapping.AddFieldMappingsAt("bucket", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("key", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("ext", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("etag", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("version_id", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("event", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("target", keywordFieldMapping)

	docMapping.AddFieldMappingsAt("size", numericFieldMapping)

	// Date fields
	docMapping.AddFieldMappingsAt("last_modified", dateFieldMapping)
	docMapping.AddFieldMappingsAt("updated", dateFieldMapping)

	indexMapping.DefaultMapping = docMapping

	return indexMapping
}

// Name returns the provider name.
func (a *Adapter) Name() string {
	return string(search.ProviderTypeBleve)
}

// index returns the open index for name, opening it on first use.
func (a *Adapter) index(name string) (bleve.Index, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if idx, ok := a.indexes[name]; ok {
		return idx, nil
	}

	path := filepath.Join(a.basePath, indexDir(name))
	idx, err := openOrCreateIndex(path, a.mapping)
	if err != nil {
		return nil, fmt.Errorf("failed to open index %s: %w", name, err)
	}
	a.indexes[name] = idx
	a.logger.Info("opened index", "index", name, "path", path)
	return idx, nil
}

// indexDir maps an index name to a directory name under the base path.
func indexDir(name string) string {
	return strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(name) + ".bleve"
}

// Bulk applies actions with one Bleve batch per index.
func (a *Adapter) Bulk(ctx context.Context, actions []search.Action) (*search.BulkResult, error) {
	var order []string
	batches := make(map[string]*bleve.Batch)
	indexes := make(map[string]bleve.Index)

	result := &search.BulkResult{Items: make([]search.BulkItem, 0, len(actions))}
	for _, act := range actions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		idx, ok := indexes[act.Index]
		if !ok {
			var err error
			if idx, err = a.index(act.Index); err != nil {
				return nil, &search.Error{Op: "Bulk", Err: search.ErrBackendUnavailable, Msg: err.Error()}
			}
			indexes[act.Index] = idx
			batches[act.Index] = idx.NewBatch()
			order = append(order, act.Index)
		}

		item := search.BulkItem{Op: act.Op, Index: act.Index, ID: act.ID, Status: http.StatusOK}
		switch act.Op {
		case search.OpIndex:
			if act.Doc == nil {
				item.Status, item.Error = http.StatusBadRequest, "index without document"
				break
			}
			if err := batches[act.Index].Index(act.ID, act.Doc); err != nil {
				item.Status, item.Error = http.StatusBadRequest, err.Error()
			}
		case search.OpDelete:
			batches[act.Index].Delete(act.ID)
		default:
			item.Status, item.Error = http.StatusBadRequest, fmt.Sprintf("unknown op %q", act.Op)
		}
		result.Items = append(result.Items, item)
	}

	for _, name := range order {
		if err := indexes[name].Batch(batches[name]); err != nil {
			return nil, &search.Error{Op: "Bulk", Err: search.ErrIndexingFailed, Msg: fmt.Sprintf("index %s: %v", name, err)}
		}
	}

	return result, nil
}

// Close closes all open indexes.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var result error
	for name, idx := range a.indexes {
		if err := idx.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to close index %s: %w", name, err))
		}
	}
	a.indexes = make(map[string]bleve.Index)
	return result
}
