// Package extract turns object content into bounded, search-ready text.
//
// Every object resolves to a Family. Unsupported objects are never
// fetched. Text is read with a ranged request; notebooks and parquet files
// are read whole because neither can be parsed from a prefix. Parse
// failures yield empty text and a *ParseError in the Result; failures to
// fetch or decompress the body are returned as errors.
package extract

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/hashicorp/go-hclog"

	"github.com/hashicorp-forge/bucketsearch/pkg/event"
	"github.com/hashicorp-forge/bucketsearch/pkg/metrics"
	"github.com/hashicorp-forge/bucketsearch/pkg/objectstore"
)

const (
	// DefaultByteLimit is the most content kept per document.
	DefaultByteLimit = 100_000
	// DefaultLineLimit is the most lines kept from a text object.
	DefaultLineLimit = 100_000
	// DefaultSampleRows is the most rows rendered from a parquet file.
	DefaultSampleRows = 100
)

// Fetcher opens object content. *objectstore.Accessor implements it.
type Fetcher interface {
	Get(ctx context.Context, ref objectstore.ObjectRef, limit int64) (io.ReadCloser, error)
}

// Limits bound the extracted text.
type Limits struct {
	Bytes      int
	Lines      int
	SampleRows int
}

func (l Limits) withDefaults() Limits {
	if l.Bytes <= 0 {
		l.Bytes = DefaultByteLimit
	}
	if l.Lines <= 0 {
		l.Lines = DefaultLineLimit
	}
	if l.SampleRows <= 0 {
		l.SampleRows = DefaultSampleRows
	}
	return l
}

// Config holds configuration for a Pipeline.
type Config struct {
	Fetcher Fetcher
	Limits  Limits

	// Extensions overrides DefaultExtensions when set.
	Extensions Table

	Logger  hclog.Logger
	Metrics *metrics.Metrics
}

// Result is the outcome of extracting one object.
type Result struct {
	Family Family
	Text   string
	// ParseErr is set when the content could not be parsed; Text is
	// empty in that case.
	ParseErr *ParseError
}

type extractor func(body io.Reader, comp Compression, lim Limits) (string, error)

// Pipeline dispatches objects to the extractor of their family.
type Pipeline struct {
	fetcher Fetcher
	limits  Limits
	table   Table
	logger  hclog.Logger
	metrics *metrics.Metrics
}

// NewPipeline creates a new Pipeline.
func NewPipeline(cfg Config) (*Pipeline, error) {
	if cfg.Fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}
	if cfg.Extensions == nil {
		cfg.Extensions = DefaultExtensions
	}

	return &Pipeline{
		fetcher: cfg.Fetcher,
		limits:  cfg.Limits.withDefaults(),
		table:   cfg.Extensions,
		logger:  cfg.Logger.Named("extract"),
		metrics: cfg.Metrics,
	}, nil
}

// Limits returns the limits in effect.
func (p *Pipeline) Limits() Limits {
	return p.limits
}

// WithFetcher returns a copy of the pipeline that reads through f.
func (p *Pipeline) WithFetcher(f Fetcher) *Pipeline {
	cp := *p
	cp.fetcher = f
	return &cp
}

// Resolve returns the family and compression of rec.
func (p *Pipeline) Resolve(rec event.ChangeRecord) (Family, Compression) {
	return p.table.Resolve(rec.Key, rec.Ext)
}

// Extract fetches and extracts the content of rec. The returned error is
// either an *objectstore.AccessError or a *StreamError.
func (p *Pipeline) Extract(ctx context.Context, rec event.ChangeRecord) (Result, error) {
	fam, comp := p.Resolve(rec)
	res := Result{Family: fam}

	var (
		fn    extractor
		limit int64
	)
	switch fam {
	case Text:
		fn, limit = extractText, int64(p.limits.Bytes)
	case Notebook:
		fn = extractNotebook
	case Columnar:
		fn = extractParquet
	default:
		return res, nil
	}

	body, err := p.fetcher.Get(ctx, objectstore.ObjectRef{
		Bucket:    rec.Bucket,
		Key:       rec.Key,
		ETag:      rec.ETag,
		VersionID: rec.VersionID,
		Size:      rec.Size,
	}, limit)
	if err != nil {
		return res, err
	}
	defer body.Close()

	text, err := fn(body, comp, p.limits)
	if err != nil {
		var perr *ParseError
		if errors.As(err, &perr) {
			perr.Key = rec.Key
			p.metrics.ParseFailure(fam.String())
			p.logger.Warn("failed to parse content, indexing without text",
				"bucket", rec.Bucket,
				"key", rec.Key,
				"family", fam,
				"error", perr.Err,
			)
			res.ParseErr = perr
			return res, nil
		}
		return res, &StreamError{Key: rec.Key, Err: err}
	}

	res.Text = text
	return res, nil
}
