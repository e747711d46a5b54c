package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/hashicorp-forge/bucketsearch/pkg/event"
)

// MockHandler returns scripted errors and records the bodies it saw.
type MockHandler struct {
	mu        sync.Mutex
	Err       error
	Bodies    []string
	Deadlines []bool
}

func (m *MockHandler) HandleDelivery(ctx context.Context, bodies []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Bodies = append(m.Bodies, bodies...)
	_, ok := ctx.Deadline()
	m.Deadlines = append(m.Deadlines, ok)
	return m.Err
}

// MockClient records produced and committed records.
type MockClient struct {
	Produced   []*kgo.Record
	Committed  []*kgo.Record
	ProduceErr error
}

func (m *MockClient) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	var res kgo.ProduceResults
	for _, r := range rs {
		if m.ProduceErr == nil {
			m.Produced = append(m.Produced, r)
		}
		res = append(res, kgo.ProduceResult{Record: r, Err: m.ProduceErr})
	}
	return res
}

func (m *MockClient) CommitRecords(_ context.Context, rs ...*kgo.Record) error {
	m.Committed = append(m.Committed, rs...)
	return nil
}

var fixedNow = time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC)

func newTestConsumer(client recordClient, handler DeliveryHandler, retry RetryConfig) *Consumer {
	c := newConsumer(client, Config{
		Handler:        handler,
		Retry:          retry,
		DLQTopic:       "test.dlq",
		HandlerTimeout: time.Minute,
		Logger:         hclog.NewNullLogger(),
	})
	c.now = func() time.Time { return fixedNow }
	c.sleep = func(context.Context, time.Duration) error { return nil }
	return c
}

func header(r *kgo.Record, key string) string {
	for _, h := range r.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"no brokers", Config{Topic: "t", Handler: &MockHandler{}}},
		{"no topic", Config{Brokers: []string{"localhost:9092"}, Handler: &MockHandler{}}},
		{"no handler", Config{Brokers: []string{"localhost:9092"}, Topic: "t"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestRetryConfig_NextRetry(t *testing.T) {
	cfg := RetryConfig{InitialBackoff: time.Second, MaxBackoff: 10 * time.Second, BackoffMultiplier: 2}.withDefaults()

	assert.Equal(t, time.Second, cfg.NextRetry(0))
	assert.Equal(t, 2*time.Second, cfg.NextRetry(1))
	assert.Equal(t, 8*time.Second, cfg.NextRetry(3))
	assert.Equal(t, 10*time.Second, cfg.NextRetry(4))
	assert.Equal(t, 10*time.Second, cfg.NextRetry(100))
}

func TestRetryConfig_Decide(t *testing.T) {
	cfg := RetryConfig{MaxRedeliveries: 2}.withDefaults()
	transient := errors.New("bulk request failed")

	tests := []struct {
		name         string
		err          error
		redeliveries int
		want         Decision
	}{
		{"success", nil, 0, Commit},
		{"first failure", transient, 0, Redeliver},
		{"still retrying", transient, 1, Redeliver},
		{"exhausted", transient, 2, DeadLetter},
		{"malformed envelope", &event.EnvelopeError{Reason: "no Records"}, 0, DeadLetter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cfg.Decide(tt.err, tt.redeliveries))
		})
	}

	immediate := RetryConfig{MaxRedeliveries: -1}.withDefaults()
	assert.Equal(t, DeadLetter, immediate.Decide(transient, 0))
}

func TestRedeliveriesHeader(t *testing.T) {
	assert.Equal(t, 0, redeliveries(&kgo.Record{}))
	assert.Equal(t, 3, redeliveries(&kgo.Record{Headers: []kgo.RecordHeader{{Key: HeaderAttempts, Value: []byte("3")}}}))
	assert.Equal(t, 0, redeliveries(&kgo.Record{Headers: []kgo.RecordHeader{{Key: HeaderAttempts, Value: []byte("x")}}}))
}

func TestHandleRecord_Success(t *testing.T) {
	client := &MockClient{}
	handler := &MockHandler{}
	c := newTestConsumer(client, handler, RetryConfig{})

	rec := &kgo.Record{Topic: "notifications", Value: []byte(`{"Records":[]}`)}
	require.NoError(t, c.handleRecord(context.Background(), rec))

	assert.Equal(t, []string{`{"Records":[]}`}, handler.Bodies)
	assert.Equal(t, []bool{true}, handler.Deadlines)
	assert.Empty(t, client.Produced)
	assert.Equal(t, []*kgo.Record{rec}, client.Committed)
}

func TestHandleRecord_Redeliver(t *testing.T) {
	client := &MockClient{}
	handler := &MockHandler{Err: errors.New("search backend unavailable")}
	c := newTestConsumer(client, handler, RetryConfig{MaxRedeliveries: 3, InitialBackoff: time.Second})

	rec := &kgo.Record{
		Topic: "notifications",
		Key:   []byte("k"),
		Value: []byte("body"),
		Headers: []kgo.RecordHeader{
			{Key: "trace", Value: []byte("abc")},
			{Key: HeaderAttempts, Value: []byte("1")},
		},
	}
	require.NoError(t, c.handleRecord(context.Background(), rec))

	require.Len(t, client.Produced, 1)
	out := client.Produced[0]
	assert.Equal(t, "notifications", out.Topic)
	assert.Equal(t, []byte("body"), out.Value)
	assert.Equal(t, "abc", header(out, "trace"))
	assert.Equal(t, "2", header(out, HeaderAttempts))
	assert.Equal(t, "search backend unavailable", header(out, HeaderLastError))
	assert.Equal(t, fixedNow.Add(2*time.Second).Format(time.RFC3339Nano), header(out, HeaderNotBefore))
	assert.Len(t, client.Committed, 1)
}

func TestHandleRecord_DeadLetter(t *testing.T) {
	client := &MockClient{}
	handler := &MockHandler{Err: &event.EnvelopeError{Reason: "notification has no Records"}}
	c := newTestConsumer(client, handler, RetryConfig{})

	rec := &kgo.Record{Topic: "notifications", Partition: 2, Offset: 41, Key: []byte("k"), Value: []byte(`{"foo":1}`)}
	require.NoError(t, c.handleRecord(context.Background(), rec))

	require.Len(t, client.Produced, 1)
	out := client.Produced[0]
	assert.Equal(t, "test.dlq", out.Topic)
	assert.Equal(t, []byte("k"), out.Key)

	var msg DLQMessage
	require.NoError(t, json.Unmarshal(out.Value, &msg))
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, "notifications", msg.Topic)
	assert.Equal(t, int32(2), msg.Partition)
	assert.Equal(t, int64(41), msg.Offset)
	assert.Equal(t, `{"foo":1}`, msg.Body)
	assert.Contains(t, msg.FailureReason, "no Records")
	assert.Equal(t, fixedNow, msg.DLQTimestamp)
	assert.Len(t, client.Committed, 1)
}

func TestHandleRecord_ProduceFailureLeavesUncommitted(t *testing.T) {
	client := &MockClient{ProduceErr: errors.New("broker down")}
	handler := &MockHandler{Err: errors.New("transient")}
	c := newTestConsumer(client, handler, RetryConfig{})

	err := c.handleRecord(context.Background(), &kgo.Record{Topic: "notifications", Value: []byte("x")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
	assert.Empty(t, client.Committed)
}

func TestHandleRecord_WaitsForNotBefore(t *testing.T) {
	client := &MockClient{}
	c := newTestConsumer(client, &MockHandler{}, RetryConfig{})

	var waited time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		waited = d
		return nil
	}

	rec := &kgo.Record{Headers: []kgo.RecordHeader{
		{Key: HeaderNotBefore, Value: []byte(fixedNow.Add(30 * time.Second).Format(time.RFC3339Nano))},
	}}
	require.NoError(t, c.handleRecord(context.Background(), rec))
	assert.Equal(t, 30*time.Second, waited)
}

func TestSleepContext_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}
