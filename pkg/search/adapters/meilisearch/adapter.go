// Package meilisearch implements search.Sink on Meilisearch, one index per
// bucket.
package meilisearch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"

	"github.com/hashicorp/go-hclog"
	"github.com/meilisearch/meilisearch-go"

	"github.com/hashicorp-forge/bucketsearch/pkg/search"
)

// primaryKey is the document field Meilisearch uses as identifier.
const primaryKey = "id"

// Config contains Meilisearch configuration.
type Config struct {
	Host        string `hcl:"host"`
	APIKey      string `hcl:"api_key,optional"`
	IndexPrefix string `hcl:"index_prefix,optional"` // Prepended to every bucket name
}

// Validate validates the Meilisearch configuration.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("meilisearch host is required")
	}
	return nil
}

// documentStore is the part of Meilisearch the adapter writes through.
type documentStore interface {
	upsert(ctx context.Context, index string, docs []map[string]any) error
	remove(ctx context.Context, index string, ids []string) error
}

type clientStore struct {
	client meilisearch.ServiceManager
}

func (s *clientStore) upsert(ctx context.Context, index string, docs []map[string]any) error {
	_, err := s.client.Index(index).AddDocumentsWithContext(ctx, docs, primaryKey)
	return err
}

func (s *clientStore) remove(ctx context.Context, index string, ids []string) error {
	_, err := s.client.Index(index).DeleteDocumentsWithContext(ctx, ids)
	return err
}

// Adapter implements search.Sink for Meilisearch.
type Adapter struct {
	store  documentStore
	prefix string
	logger hclog.Logger
}

// NewAdapter creates a new Meilisearch adapter.
func NewAdapter(cfg *Config, logger hclog.Logger) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	client := meilisearch.New(cfg.Host, meilisearch.WithAPIKey(cfg.APIKey))
	return newAdapter(&clientStore{client: client}, cfg.IndexPrefix, logger), nil
}

func newAdapter(store documentStore, prefix string, logger hclog.Logger) *Adapter {
	return &Adapter{
		store:  store,
		prefix: prefix,
		logger: logger.Named("meilisearch"),
	}
}

// Name returns the provider name.
func (a *Adapter) Name() string {
	return string(search.ProviderTypeMeilisearch)
}

// Close is a no-op.
func (a *Adapter) Close() error {
	return nil
}

var invalidUID = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// IndexUID maps a bucket name to a valid index uid. Dots are not allowed
// in uids.
func (a *Adapter) IndexUID(bucket string) string {
	return invalidUID.ReplaceAllString(a.prefix+bucket, "-")
}

// DocumentID maps a document identity to a valid primary key. Object keys
// may contain characters Meilisearch rejects, so identities are hashed.
func DocumentID(identity string) string {
	sum := sha256.Sum256([]byte(identity))
	return hex.EncodeToString(sum[:])
}

// Bulk submits actions as consecutive runs of additions and deletions per
// index. Meilisearch applies them asynchronously, so accepted actions are
// reported as 202.
func (a *Adapter) Bulk(ctx context.Context, actions []search.Action) (*search.BulkResult, error) {
	result := &search.BulkResult{Items: make([]search.BulkItem, 0, len(actions))}

	var (
		runIndex string
		runOp    search.Op
		docs     []map[string]any
		ids      []string
	)
	flush := func() error {
		var err error
		switch {
		case len(docs) > 0:
			err = a.store.upsert(ctx, runIndex, docs)
		case len(ids) > 0:
			err = a.store.remove(ctx, runIndex, ids)
		}
		docs, ids = nil, nil
		if err != nil {
			return &search.Error{Op: "Bulk", Err: search.ErrBackendUnavailable, Msg: fmt.Sprintf("index %s: %v", runIndex, err)}
		}
		return nil
	}

	for _, act := range actions {
		uid := a.IndexUID(act.Index)
		if uid != runIndex || act.Op != runOp {
			if err := flush(); err != nil {
				return nil, err
			}
			runIndex, runOp = uid, act.Op
		}

		item := search.BulkItem{Op: act.Op, Index: act.Index, ID: act.ID, Status: http.StatusAccepted}
		switch act.Op {
		case search.OpIndex:
			if act.Doc == nil {
				item.Status, item.Error = http.StatusBadRequest, "index without document"
				break
			}
			doc, err := toMap(act.ID, act.Doc)
			if err != nil {
				item.Status, item.Error = http.StatusBadRequest, err.Error()
				break
			}
			docs = append(docs, doc)
		case search.OpDelete:
			ids = append(ids, DocumentID(act.ID))
		default:
			item.Status, item.Error = http.StatusBadRequest, fmt.Sprintf("unknown op %q", act.Op)
		}
		result.Items = append(result.Items, item)
	}

	if err := flush(); err != nil {
		return nil, err
	}
	return result, nil
}

// toMap flattens doc into the stored representation, adding the hashed
// primary key and the readable identity.
func toMap(identity string, doc *search.Document) (map[string]any, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	m[primaryKey] = DocumentID(identity)
	m["identity"] = identity
	return m, nil
}
