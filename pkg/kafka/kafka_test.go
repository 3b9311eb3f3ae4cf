package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func TestProducer_PublishEncodesJSON(t *testing.T) {
	w := &recordingWriter{}
	p := NewProducerWithWriter(w, "snappy")

	require.NoError(t, p.Publish(context.Background(), "ticks", []byte("BTC"), map[string]any{"price": "1"}))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "ticks", w.msgs[0].Topic)
	assert.Equal(t, []byte("BTC"), w.msgs[0].Key)
	assert.JSONEq(t, `{"price":"1"}`, string(w.msgs[0].Value))
}

func TestProducer_PublishBatchPassesRawBytes(t *testing.T) {
	w := &recordingWriter{}
	p := NewProducerWithWriter(w, "snappy")

	err := p.PublishBatch(context.Background(), "ticks", []Message{
		{Key: []byte("a"), Value: []byte("raw")},
		{Key: []byte("b"), Value: "text"},
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 2)
	assert.Equal(t, "raw", string(w.msgs[0].Value))
	assert.Equal(t, "text", string(w.msgs[1].Value))
}

func TestProducer_WriteError(t *testing.T) {
	w := &recordingWriter{err: errors.New("broker down")}
	p := NewProducerWithWriter(w, "snappy")

	err := p.Publish(context.Background(), "ticks", nil, "x")
	assert.ErrorContains(t, err, "broker down")
}

type flakyHandler struct {
	fails int
	calls int
	panic bool
}

func (h *flakyHandler) Topic() string { return "ticks" }

func (h *flakyHandler) Handle(context.Context, []byte) error {
	h.calls++
	if h.panic {
		panic("boom")
	}
	if h.calls <= h.fails {
		return errors.New("transient")
	}
	return nil
}

func newTestConsumer(t *testing.T) *Consumer {
	t.Helper()
	c, err := NewConsumer(nil,
		WithConsumerBrokers([]string{"localhost:9092"}),
		WithConsumerRetry(2, time.Millisecond, 2*time.Millisecond),
	)
	require.NoError(t, err)
	return c
}

func TestConsumer_HandleRetries(t *testing.T) {
	c := newTestConsumer(t)

	h := &flakyHandler{fails: 2}
	assert.NoError(t, c.handle(h, nil))
	assert.Equal(t, 3, h.calls)

	h = &flakyHandler{fails: 5}
	assert.Error(t, c.handle(h, nil))
	assert.Equal(t, 3, h.calls)
}

func TestConsumer_HandlePanicIsNotRetried(t *testing.T) {
	c := newTestConsumer(t)

	h := &flakyHandler{panic: true}
	err := c.handle(h, nil)
	assert.ErrorContains(t, err, "handler panic")
	assert.Equal(t, 1, h.calls)
}

func TestConsumer_RequiresBrokers(t *testing.T) {
	_, err := NewConsumer(nil)
	assert.Error(t, err)
}
