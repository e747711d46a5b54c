package queue

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashicorp-forge/bucketsearch/pkg/event"
	"github.com/hashicorp-forge/bucketsearch/pkg/search"
)

// MockSink records bulk requests and answers with configurable statuses.
type MockSink struct {
	Requests [][]search.Action
	// Status maps an action ID to the status reported for it.
	Status map[string]int
	// FailOn makes the Nth request (1-based) fail.
	FailOn int
}

func (m *MockSink) Name() string { return "mock" }

func (m *MockSink) Close() error { return nil }

func (m *MockSink) Bulk(_ context.Context, actions []search.Action) (*search.BulkResult, error) {
	m.Requests = append(m.Requests, actions)
	if m.FailOn == len(m.Requests) {
		return nil, errors.New("connection reset")
	}
	res := &search.BulkResult{}
	for _, a := range actions {
		status := 200
		if s, ok := m.Status[a.ID]; ok {
			status = s
		}
		res.Items = append(res.Items, search.BulkItem{Op: a.Op, Index: a.Index, ID: a.ID, Status: status})
	}
	return res, nil
}

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newQueue(t *testing.T, sink search.Sink, mutate func(*Config)) *Queue {
	t.Helper()
	cfg := Config{
		Sink:   sink,
		Logger: hclog.NewNullLogger(),
		Now:    func() time.Time { return fixedNow },
	}
	if mutate != nil {
		mutate(&cfg)
	}
	q, err := New(cfg)
	require.NoError(t, err)
	return q
}

func TestNew_RequiresSink(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestQueue_AppendPut(t *testing.T) {
	q := newQueue(t, &MockSink{}, nil)
	size := int64(12)
	modified := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, q.Append(event.KindPut, Fields{
		Bucket:       "bucket",
		Key:          "dir/a.txt",
		Ext:          ".txt",
		Event:        "ObjectCreated:Put",
		ETag:         "abc",
		VersionID:    "v1",
		Size:         &size,
		LastModified: modified,
		Metadata:     map[string]string{"helium": `{"comment":"blah","user_meta":{"foo":"bar"},"x":"y"}`},
		Text:         "Hello World!",
	}))

	actions := q.Actions()
	require.Len(t, actions, 1)
	act := actions[0]
	assert.Equal(t, search.OpIndex, act.Op)
	assert.Equal(t, "bucket", act.Index)
	assert.Equal(t, "dir/a.txt:v1", act.ID)

	doc := act.Doc
	require.NotNil(t, doc)
	assert.Equal(t, "Hello World!", doc.Content)
	assert.Equal(t, "abc", doc.ETag)
	assert.Equal(t, modified, doc.LastModified)
	assert.Equal(t, fixedNow, doc.Updated)
	assert.Equal(t, "blah", doc.Comment)
	assert.Equal(t, `blah  {"x":"y"} {"foo":"bar"}`, doc.MetaText)
}

func TestQueue_AppendMalformedAnnotation(t *testing.T) {
	q := newQueue(t, &MockSink{}, nil)

	require.NoError(t, q.Append(event.KindPut, Fields{
		Bucket:   "bucket",
		Key:      "a.txt",
		Metadata: map[string]string{"helium": "not json"},
		Text:     "still indexed",
	}))

	doc := q.Actions()[0].Doc
	assert.Equal(t, "still indexed", doc.Content)
	assert.Empty(t, doc.Comment)
	assert.Empty(t, doc.MetaText)
	assert.Equal(t, fixedNow, doc.LastModified)
}

func TestQueue_AppendCustomAnnotationKey(t *testing.T) {
	q := newQueue(t, &MockSink{}, func(c *Config) { c.AnnotationKey = "notes" })

	require.NoError(t, q.Append(event.KindPut, Fields{
		Bucket:   "bucket",
		Key:      "a.txt",
		Metadata: map[string]string{"helium": `{"comment":"ignored"}`, "notes": `{"comment":"used"}`},
	}))
	assert.Equal(t, "used", q.Actions()[0].Doc.Comment)
}

func TestQueue_AppendDeleteTombstone(t *testing.T) {
	q := newQueue(t, &MockSink{}, nil)

	require.NoError(t, q.Append(event.KindDelete, Fields{
		Bucket:    "bucket",
		Key:       "gone.csv",
		Ext:       ".csv",
		Event:     "ObjectRemoved:Delete",
		ETag:      "should-not-appear",
		VersionID: "v9",
		Text:      "should-not-appear",
	}))

	act := q.Actions()[0]
	assert.Equal(t, search.OpDelete, act.Op)
	assert.Equal(t, "gone.csv:v9", act.ID)
	require.NotNil(t, act.Doc)
	assert.Empty(t, act.Doc.Content)
	assert.Empty(t, act.Doc.ETag)
	assert.Equal(t, fixedNow, act.Doc.LastModified)

	var buf bytes.Buffer
	require.NoError(t, search.EncodeBulk(&buf, q.Actions(), search.DefaultDocType))
	assert.Equal(t, `{"delete":{"_index":"bucket","_type":"_doc","_id":"gone.csv:v9"}}`+"\n", buf.String())
}

func TestQueue_AppendIgnoredKind(t *testing.T) {
	q := newQueue(t, &MockSink{}, nil)
	err := q.Append(event.KindIgnored, Fields{Bucket: "b", Key: "k"})
	assert.ErrorIs(t, err, search.ErrInvalidAction)
	assert.Equal(t, 0, q.Len())
}

func TestQueue_DuplicateAppendsShareIdentity(t *testing.T) {
	sink := &MockSink{}
	q := newQueue(t, sink, nil)

	f := Fields{Bucket: "b", Key: "a.txt", VersionID: "v1", Text: "one"}
	require.NoError(t, q.Append(event.KindPut, f))
	f.Text = "two"
	require.NoError(t, q.Append(event.KindPut, f))

	_, err := q.Flush(context.Background())
	require.NoError(t, err)

	require.Len(t, sink.Requests, 1)
	sent := sink.Requests[0]
	require.Len(t, sent, 2)
	assert.Equal(t, sent[0].ID, sent[1].ID)
	assert.Equal(t, "one", sent[0].Doc.Content)
	assert.Equal(t, "two", sent[1].Doc.Content)
}

func TestQueue_FlushChunking(t *testing.T) {
	tests := []struct {
		name         string
		maxActions   int
		maxBytes     int
		appends      int
		wantRequests []int
	}{
		{"single request", 100, 1 << 20, 5, []int{5}},
		{"by action count", 2, 1 << 20, 5, []int{2, 2, 1}},
		{"by bytes", 100, 1, 3, []int{1, 1, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &MockSink{}
			q := newQueue(t, sink, func(c *Config) {
				c.MaxActions = tt.maxActions
				c.MaxBytes = tt.maxBytes
			})
			for i := 0; i < tt.appends; i++ {
				require.NoError(t, q.Append(event.KindDelete, Fields{Bucket: "b", Key: string(rune('a' + i))}))
			}

			res, err := q.Flush(context.Background())
			require.NoError(t, err)

			var sizes []int
			for _, r := range sink.Requests {
				sizes = append(sizes, len(r))
			}
			assert.Equal(t, tt.wantRequests, sizes)
			assert.Equal(t, len(tt.wantRequests), res.Requests)
			assert.Equal(t, tt.appends, res.Submitted)
			assert.Equal(t, 0, q.Len())
		})
	}
}

func TestQueue_FlushPreservesOrder(t *testing.T) {
	sink := &MockSink{}
	q := newQueue(t, sink, func(c *Config) { c.MaxActions = 2 })

	keys := []string{"a", "b", "c", "d", "e"}
	for _, k := range keys {
		require.NoError(t, q.Append(event.KindPut, Fields{Bucket: "b", Key: k}))
	}
	_, err := q.Flush(context.Background())
	require.NoError(t, err)

	var got []string
	for _, r := range sink.Requests {
		for _, a := range r {
			got = append(got, a.ID)
		}
	}
	assert.Equal(t, keys, got)
}

func TestQueue_FlushRequestFailureKeepsUnsent(t *testing.T) {
	sink := &MockSink{FailOn: 2}
	q := newQueue(t, sink, func(c *Config) { c.MaxActions = 2 })
	for _, k := range []string{"a", "b", "c", "d"} {
		require.NoError(t, q.Append(event.KindPut, Fields{Bucket: "b", Key: k}))
	}

	res, err := q.Flush(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Equal(t, 2, res.Requests)
	assert.Equal(t, 2, res.Submitted)
	assert.Equal(t, 2, q.Len())
	assert.Equal(t, "c", q.Actions()[0].ID)

	sink.FailOn = 0
	res, err = q.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Submitted)
	assert.Equal(t, 0, q.Len())
}

func TestQueue_FlushItemFailures(t *testing.T) {
	sink := &MockSink{Status: map[string]int{
		"bad":      400,
		"busy":     429,
		"broken":   503,
		"conflict": 409,
	}}
	q := newQueue(t, sink, nil)
	for _, k := range []string{"ok", "bad", "busy", "broken", "conflict"} {
		require.NoError(t, q.Append(event.KindPut, Fields{Bucket: "b", Key: k}))
	}

	res, err := q.Flush(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, search.ErrIndexingFailed)

	var merr *multierror.Error
	require.True(t, errors.As(err, &merr))
	assert.Len(t, merr.Errors, 2)

	require.Len(t, res.Dropped, 2)
	assert.Equal(t, "bad", res.Dropped[0].ID)
	assert.Equal(t, "conflict", res.Dropped[1].ID)
	assert.Equal(t, 0, q.Len())
}

func TestQueue_FlushDeleteOfMissingDocument(t *testing.T) {
	sink := &MockSink{Status: map[string]int{"gone.txt:v1": 404}}
	q := newQueue(t, sink, nil)
	require.NoError(t, q.Append(event.KindDelete, Fields{Bucket: "b", Key: "gone.txt", VersionID: "v1"}))

	res, err := q.Flush(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Dropped)
	assert.Equal(t, 1, res.Submitted)
}

func TestQueue_FlushEmpty(t *testing.T) {
	sink := &MockSink{}
	q := newQueue(t, sink, nil)

	res, err := q.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Requests)
	assert.Empty(t, sink.Requests)
}
