// Package elastic submits bulk actions to an Elasticsearch or OpenSearch
// cluster through its NDJSON _bulk endpoint.
package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/hashicorp/go-hclog"

	"github.com/hashicorp-forge/bucketsearch/pkg/search"
)

// maxErrorBody bounds how much of a failed response is kept in errors.
const maxErrorBody = 4 << 10

// Adapter implements search.Sink for an Elasticsearch-compatible cluster.
type Adapter struct {
	client   *http.Client
	endpoint string
	cfg      *Config
	logger   hclog.Logger
}

// NewAdapter creates a new cluster adapter. When request signing is
// enabled the default AWS credential chain is resolved here.
func NewAdapter(ctx context.Context, cfg *Config, logger hclog.Logger) (*Adapter, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid elastic configuration: %w", err)
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	var transport http.RoundTripper = http.DefaultTransport
	if cfg.SignRequests {
		awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		transport = newSigningTransport(transport, awsCfg.Credentials, cfg.Region, cfg.Service)
	}

	return newAdapter(cfg, &http.Client{
		Timeout:   time.Duration(cfg.TimeoutSeconds) * time.Second,
		Transport: transport,
	}, logger), nil
}

func newAdapter(cfg *Config, client *http.Client, logger hclog.Logger) *Adapter {
	return &Adapter{
		client:   client,
		endpoint: strings.TrimSuffix(cfg.Endpoint, "/"),
		cfg:      cfg,
		logger:   logger.Named("elastic"),
	}
}

// Name returns the provider name.
func (a *Adapter) Name() string {
	return string(search.ProviderTypeElastic)
}

// Close is a no-op; idle connections belong to the shared transport.
func (a *Adapter) Close() error {
	return nil
}

type bulkResponse struct {
	Took   int                           `json:"took"`
	Errors bool                          `json:"errors"`
	Items  []map[string]bulkResponseItem `json:"items"`
}

type bulkResponseItem struct {
	Index  string          `json:"_index"`
	ID     string          `json:"_id"`
	Status int             `json:"status"`
	Error  json.RawMessage `json:"error"`
}

type bulkItemError struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// Bulk submits actions in one _bulk request.
func (a *Adapter) Bulk(ctx context.Context, actions []search.Action) (*search.BulkResult, error) {
	if len(actions) == 0 {
		return &search.BulkResult{}, nil
	}

	var body bytes.Buffer
	if err := search.EncodeBulk(&body, actions, a.cfg.docType()); err != nil {
		return nil, &search.Error{Op: "Bulk", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint+"/_bulk", bytes.NewReader(body.Bytes()))
	if err != nil {
		return nil, &search.Error{Op: "Bulk", Err: err, Msg: "failed to create request"}
	}
	req.Header.Set("Content-Type", "application/x-ndjson")
	req.Header.Set("Accept", "application/json")
	if a.cfg.Username != "" {
		req.SetBasicAuth(a.cfg.Username, a.cfg.Password)
	}

	start := time.Now()
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, &search.Error{Op: "Bulk", Err: search.ErrBackendUnavailable, Msg: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		sentinel := search.ErrIndexingFailed
		if search.RetryableStatus(resp.StatusCode) {
			sentinel = search.ErrBackendUnavailable
		}
		return nil, &search.Error{
			Op:  "Bulk",
			Err: sentinel,
			Msg: fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))),
		}
	}

	var parsed bulkResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &search.Error{Op: "Bulk", Err: err, Msg: "failed to decode bulk response"}
	}

	result := &search.BulkResult{Items: make([]search.BulkItem, 0, len(parsed.Items))}
	for _, entry := range parsed.Items {
		for op, it := range entry {
			result.Items = append(result.Items, search.BulkItem{
				Op:     search.Op(op),
				Index:  it.Index,
				ID:     it.ID,
				Status: it.Status,
				Error:  itemError(it.Error),
			})
		}
	}

	a.logger.Debug("bulk request completed",
		"actions", len(actions),
		"bytes", body.Len(),
		"took_ms", parsed.Took,
		"errors", parsed.Errors,
		"duration", time.Since(start),
	)

	return result, nil
}

// itemError flattens the error object of a bulk item, which older
// clusters send as a plain string.
func itemError(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var e bulkItemError
	if err := json.Unmarshal(raw, &e); err == nil && (e.Type != "" || e.Reason != "") {
		return e.Type + ": " + e.Reason
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
