package elastic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashicorp-forge/bucketsearch/pkg/search"
)

func testActions() []search.Action {
	return []search.Action{
		search.IndexAction("test-bucket", &search.Document{Bucket: "test-bucket", Key: "a.txt", VersionID: "v1", Content: "hello"}),
		search.DeleteAction("test-bucket", "b.txt"),
	}
}

func newTestAdapter(t *testing.T, srv *httptest.Server, mutate func(*Config)) *Adapter {
	t.Helper()
	cfg := &Config{Endpoint: srv.URL + "/"}
	if mutate != nil {
		mutate(cfg)
	}
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())
	return newAdapter(cfg, srv.Client(), hclog.NewNullLogger())
}

func TestAdapter_Bulk(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/_bulk", r.URL.Path)
		assert.Equal(t, "application/x-ndjson", r.Header.Get("Content-Type"))

		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"took":3,"errors":true,"items":[
			{"index":{"_index":"test-bucket","_id":"a.txt:v1","status":201}},
			{"delete":{"_index":"test-bucket","_id":"b.txt","status":404,"error":{"type":"not_found","reason":"missing"}}}
		]}`)
	}))
	defer srv.Close()

	a := newTestAdapter(t, srv, nil)
	res, err := a.Bulk(context.Background(), testActions())
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(gotBody), "\n")
	require.Len(t, lines, 3)
	assert.JSONEq(t, `{"index":{"_index":"test-bucket","_type":"_doc","_id":"a.txt:v1"}}`, lines[0])
	assert.JSONEq(t, `{"delete":{"_index":"test-bucket","_type":"_doc","_id":"b.txt"}}`, lines[2])

	require.Len(t, res.Items, 2)
	assert.Equal(t, search.BulkItem{Op: search.OpIndex, Index: "test-bucket", ID: "a.txt:v1", Status: 201}, res.Items[0])
	assert.Equal(t, search.BulkItem{Op: search.OpDelete, Index: "test-bucket", ID: "b.txt", Status: 404, Error: "not_found: missing"}, res.Items[1])
	// the document was already gone
	assert.Empty(t, res.Failures())
}

func TestAdapter_BulkOmitsType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		first := strings.SplitN(string(body), "\n", 2)[0]
		assert.JSONEq(t, `{"index":{"_index":"test-bucket","_id":"a.txt:v1"}}`, first)
		_, _ = io.WriteString(w, `{"items":[]}`)
	}))
	defer srv.Close()

	a := newTestAdapter(t, srv, func(c *Config) { c.DocType = "-" })
	_, err := a.Bulk(context.Background(), testActions()[:1])
	require.NoError(t, err)
}

func TestAdapter_BulkRequestFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"throttled", http.StatusTooManyRequests, search.ErrBackendUnavailable},
		{"server error", http.StatusBadGateway, search.ErrBackendUnavailable},
		{"bad request", http.StatusBadRequest, search.ErrIndexingFailed},
		{"request too large", http.StatusRequestEntityTooLarge, search.ErrIndexingFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			a := newTestAdapter(t, srv, nil)
			res, err := a.Bulk(context.Background(), testActions())
			assert.Nil(t, res)
			assert.ErrorIs(t, err, tt.want)
			assert.Contains(t, err.Error(), "nope")
		})
	}
}

func TestAdapter_BulkUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	a := newTestAdapter(t, srv, nil)
	srv.Close()

	_, err := a.Bulk(context.Background(), testActions())
	assert.ErrorIs(t, err, search.ErrBackendUnavailable)
}

func TestAdapter_BulkEmpty(t *testing.T) {
	a := newAdapter(&Config{Endpoint: "http://unused"}, http.DefaultClient, hclog.NewNullLogger())
	res, err := a.Bulk(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, res.Items)
}

func TestAdapter_BasicAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "elastic", user)
		assert.Equal(t, "changeme", pass)
		_, _ = io.WriteString(w, `{"items":[]}`)
	}))
	defer srv.Close()

	a := newTestAdapter(t, srv, func(c *Config) {
		c.Username = "elastic"
		c.Password = "changeme"
	})
	_, err := a.Bulk(context.Background(), testActions())
	require.NoError(t, err)
}

func TestSigningTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		assert.True(t, strings.HasPrefix(auth, "AWS4-HMAC-SHA256 Credential=AKIDEXAMPLE/20240301/us-east-1/es/aws4_request"), auth)
		assert.NotEmpty(t, r.Header.Get("X-Amz-Date"))

		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), `"a.txt:v1"`)
		_, _ = io.WriteString(w, `{"items":[]}`)
	}))
	defer srv.Close()

	transport := newSigningTransport(srv.Client().Transport,
		credentials.NewStaticCredentialsProvider("AKIDEXAMPLE", "secret", ""), "us-east-1", "es")
	transport.now = func() time.Time { return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC) }

	cfg := &Config{Endpoint: srv.URL}
	cfg.SetDefaults()
	a := newAdapter(cfg, &http.Client{Transport: transport}, hclog.NewNullLogger())

	_, err := a.Bulk(context.Background(), testActions())
	require.NoError(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", Config{Endpoint: "http://localhost:9200"}, false},
		{"missing endpoint", Config{}, true},
		{"signing without region", Config{Endpoint: "https://x.es.amazonaws.com", SignRequests: true}, true},
		{"signing with region", Config{Endpoint: "https://x.es.amazonaws.com", SignRequests: true, Region: "us-east-1"}, false},
		{"username without password", Config{Endpoint: "http://localhost:9200", Username: "elastic"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestItemError(t *testing.T) {
	assert.Equal(t, "", itemError(nil))
	assert.Equal(t, "", itemError(json.RawMessage("null")))
	assert.Equal(t, "mapper_parsing_exception: bad field", itemError(json.RawMessage(`{"type":"mapper_parsing_exception","reason":"bad field"}`)))
	assert.Equal(t, "legacy message", itemError(json.RawMessage(`"legacy message"`)))
}
