package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

type fakeWriter struct {
	messages []kafka.Message
	err      error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestParseBrokers(t *testing.T) {
	assert.Equal(t, []string{"a:9092", "b:9092"}, ParseBrokers(" a:9092, ,b:9092 "))
	assert.Empty(t, ParseBrokers(""))
}

func TestProducer_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := &Producer{writer: w, logger: testLogger(), topic: "integration-events"}

	err := p.Publish(context.Background(), "t1:telegram:42", map[string]any{"type": "message_received"},
		map[string]string{"tenant_id": "t1"})
	require.NoError(t, err)
	require.Len(t, w.messages, 1)

	msg := w.messages[0]
	assert.Equal(t, "t1:telegram:42", string(msg.Key))
	assert.JSONEq(t, `{"type":"message_received"}`, string(msg.Value))
	require.NotEmpty(t, msg.Headers)
	assert.Equal(t, "tenant_id", msg.Headers[0].Key)
}

func TestProducer_PublishError(t *testing.T) {
	p := &Producer{writer: &fakeWriter{err: errors.New("broker down")}, logger: testLogger(), topic: "x"}
	assert.Error(t, p.Publish(context.Background(), "k", map[string]any{}, nil))
}

type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		msg := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) commits() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.committed)
}

func TestConsumer_CommitsEveryMessage(t *testing.T) {
	value, _ := json.Marshal(map[string]any{"type": "task.created"})
	reader := &fakeReader{queue: []kafka.Message{
		{Topic: "crm-events", Offset: 1, Value: value, Headers: []kafka.Header{{Key: "tenant_id", Value: []byte("t1")}}},
		{Topic: "crm-events", Offset: 2, Value: []byte("not json")},
	}}
	c := newConsumer(reader, ConsumerConfig{Topic: "crm-events", GroupID: "g"}, testLogger())

	var mu sync.Mutex
	var seen []*ReceivedMessage
	require.NoError(t, c.Start(context.Background(), func(_ context.Context, msg *ReceivedMessage) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, msg)
		if msg.Offset == 2 {
			return errors.New("bad payload")
		}
		return nil
	}))

	assert.Eventually(t, func() bool { return reader.commits() == 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Stop())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 2)
	assert.Equal(t, "t1", seen[0].Headers["tenant_id"])
}

func TestNewConsumer_Validates(t *testing.T) {
	_, err := NewConsumer(ConsumerConfig{Topic: "t", GroupID: "g"}, testLogger())
	assert.Error(t, err)
	_, err = NewConsumer(ConsumerConfig{Brokers: []string{"b"}, GroupID: "g"}, testLogger())
	assert.Error(t, err)
	_, err = NewConsumer(ConsumerConfig{Brokers: []string{"b"}, Topic: "t"}, testLogger())
	assert.Error(t, err)
}
