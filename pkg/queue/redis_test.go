package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"CascadeAdvisor/pkg/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type implementPayload struct {
	SuggestionID string `json:"suggestion_id"`
}

func newQueue(t *testing.T, cfg *QueueConfig, mode QueueMode) (*miniredis.Miniredis, *RedisQueue) {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	q := NewRedisQueue(logger.NewNop(), cfg, client, mode, WithKeyPrefix("test:queue"), WithRetryPoll(20*time.Millisecond))
	return s, q
}

func TestQueueDeliversToRegisteredJob(t *testing.T) {
	_, q := newQueue(t, &QueueConfig{Workers: 1}, ModeProducerConsumer)

	got := make(chan string, 1)
	q.RegisterJob(JobFunc{JobName: "implement", MsgType: "suggestion.implement", Fn: func(_ context.Context, raw json.RawMessage) error {
		p, err := ParsePayload[implementPayload](raw)
		if err != nil {
			return err
		}
		got <- p.SuggestionID
		return nil
	}})
	require.NoError(t, q.Start())
	t.Cleanup(func() { _ = q.Stop(context.Background()) })

	require.NoError(t, q.Enqueue(context.Background(), "suggestion.implement", implementPayload{SuggestionID: "s-1"}))

	select {
	case id := <-got:
		assert.Equal(t, "s-1", id)
	case <-time.After(3 * time.Second):
		t.Fatal("job was not delivered")
	}
}

func TestQueueRejectsUnregisteredType(t *testing.T) {
	_, q := newQueue(t, &QueueConfig{}, ModeProducerConsumer)
	require.NoError(t, q.Start())
	t.Cleanup(func() { _ = q.Stop(context.Background()) })

	err := q.Enqueue(context.Background(), "unknown", map[string]string{})
	assert.Error(t, err)
}

func TestQueueFailedJobGoesToDeadLetter(t *testing.T) {
	_, q := newQueue(t, &QueueConfig{Workers: 1, RetryLimit: 0}, ModeProducerConsumer)

	var calls atomic.Int32
	q.RegisterJob(JobFunc{JobName: "boom", MsgType: "boom", Fn: func(context.Context, json.RawMessage) error {
		calls.Add(1)
		return errors.New("mutation failed")
	}})
	require.NoError(t, q.Start())
	t.Cleanup(func() { _ = q.Stop(context.Background()) })

	require.NoError(t, q.Enqueue(context.Background(), "boom", struct{}{}))

	require.Eventually(t, func() bool {
		dl, err := q.DeadLetters(context.Background(), 10)
		return err == nil && len(dl) == 1
	}, 3*time.Second, 20*time.Millisecond)

	dl, _ := q.DeadLetters(context.Background(), 10)
	assert.Equal(t, "mutation failed", dl[0].LastError)
	assert.EqualValues(t, 1, calls.Load())
}

func TestProcessRetryMessagesRequeuesDueEntries(t *testing.T) {
	s, q := newQueue(t, &QueueConfig{}, ModeProducerConsumer)

	msg := Message{ID: "m1", Type: "x", Payload: json.RawMessage(`{}`), Attempts: 1}
	q.scheduleRetry(msg, time.Now().Add(-time.Second))
	q.processRetryMessages(time.Now())

	items, err := s.List("test:queue:messages")
	require.NoError(t, err)
	require.Len(t, items, 1)
	var back Message
	require.NoError(t, json.Unmarshal([]byte(items[0]), &back))
	assert.Equal(t, "m1", back.ID)
	assert.Equal(t, 1, back.Attempts)
}

func TestPublisherModeAcceptsAnyType(t *testing.T) {
	s, q := newQueue(t, &QueueConfig{}, ModeProducerOnly)
	require.NoError(t, q.Start())

	require.NoError(t, q.PublishMessage(context.Background(), "logs.errors", []string{"a"}))
	items, err := s.List("test:queue:messages")
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestRetryDelayDoubles(t *testing.T) {
	assert.Equal(t, time.Second, retryDelay(time.Second, 1))
	assert.Equal(t, 4*time.Second, retryDelay(time.Second, 3))
}
