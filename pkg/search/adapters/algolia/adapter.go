// Package algolia implements search.Sink on Algolia. Each bucket maps to
// one Algolia index and document identities are used as objectIDs.
package algolia

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/algolia/algoliasearch-client-go/v3/algolia/search"
	"github.com/hashicorp/go-hclog"

	bssearch "github.com/hashicorp-forge/bucketsearch/pkg/search"
)

// Config contains Algolia configuration.
type Config struct {
	AppID       string `hcl:"app_id"`
	WriteAPIKey string `hcl:"write_api_key"`
	IndexPrefix string `hcl:"index_prefix,optional"`
}

// Validate validates the Algolia configuration.
func (c *Config) Validate() error {
	if c.AppID == "" {
		return fmt.Errorf("algolia app_id is required")
	}
	if c.WriteAPIKey == "" {
		return fmt.Errorf("algolia write_api_key is required")
	}
	return nil
}

type batcher interface {
	batch(ctx context.Context, index string, ops []search.BatchOperation) error
}

type clientBatcher struct {
	client *search.Client
}

func (b *clientBatcher) batch(ctx context.Context, index string, ops []search.BatchOperation) error {
	_, err := b.client.InitIndex(index).Batch(ops, ctx)
	return err
}

// Adapter implements search.Sink for Algolia.
type Adapter struct {
	batcher batcher
	prefix  string
	logger  hclog.Logger
}

// NewAdapter creates a new Algolia adapter.
func NewAdapter(cfg *Config, logger hclog.Logger) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	client := search.NewClient(cfg.AppID, cfg.WriteAPIKey)
	return newAdapter(&clientBatcher{client: client}, cfg.IndexPrefix, logger), nil
}

func newAdapter(b batcher, prefix string, logger hclog.Logger) *Adapter {
	return &Adapter{
		batcher: b,
		prefix:  prefix,
		logger:  logger.Named("algolia"),
	}
}

// Name returns the provider name.
func (a *Adapter) Name() string {
	return string(bssearch.ProviderTypeAlgolia)
}

// Close is a no-op.
func (a *Adapter) Close() error {
	return nil
}

// IndexName returns the Algolia index for a bucket.
func (a *Adapter) IndexName(bucket string) string {
	return a.prefix + bucket
}

// Bulk sends one batch request per index. Batches are atomic on the Algolia
// side, so an error fails every action of that index.
func (a *Adapter) Bulk(ctx context.Context, actions []bssearch.Action) (*bssearch.BulkResult, error) {
	result := &bssearch.BulkResult{Items: make([]bssearch.BulkItem, 0, len(actions))}

	var order []string
	ops := make(map[string][]search.BatchOperation)

	for _, act := range actions {
		item := bssearch.BulkItem{Op: act.Op, Index: act.Index, ID: act.ID, Status: http.StatusOK}
		op, err := operation(act)
		if err != nil {
			item.Status, item.Error = http.StatusBadRequest, err.Error()
			result.Items = append(result.Items, item)
			continue
		}

		name := a.IndexName(act.Index)
		if _, ok := ops[name]; !ok {
			order = append(order, name)
		}
		ops[name] = append(ops[name], op)
		result.Items = append(result.Items, item)
	}

	for _, name := range order {
		if err := a.batcher.batch(ctx, name, ops[name]); err != nil {
			return nil, &bssearch.Error{Op: "Bulk", Err: bssearch.ErrBackendUnavailable, Msg: fmt.Sprintf("index %s: %v", name, err)}
		}
		a.logger.Debug("batch applied", "index", name, "operations", len(ops[name]))
	}
	return result, nil
}

// operation converts an action into an Algolia batch operation.
func operation(act bssearch.Action) (search.BatchOperation, error) {
	switch act.Op {
	case bssearch.OpIndex:
		if act.Doc == nil {
			return search.BatchOperation{}, fmt.Errorf("index without document")
		}
		body, err := objectBody(act.ID, act.Doc)
		if err != nil {
			return search.BatchOperation{}, err
		}
		return search.BatchOperation{Action: search.AddObject, Body: body}, nil
	case bssearch.OpDelete:
		return search.BatchOperation{Action: search.DeleteObject, Body: map[string]any{"objectID": act.ID}}, nil
	default:
		return search.BatchOperation{}, fmt.Errorf("unknown op %q", act.Op)
	}
}

func objectBody(id string, doc *bssearch.Document) (map[string]any, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var body map[string]any
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, err
	}
	body["objectID"] = id
	return body, nil
}
