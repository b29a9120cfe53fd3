package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Ramsey-B/fern/pkg/tracing"
)

// streamMaxLen caps each job stream; XADD trims approximately past it.
const streamMaxLen = 100000

// JobMessage is the envelope carried on the job stream.
type JobMessage struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenant_id"`
	Type      string            `json:"type"`
	Provider  string            `json:"provider,omitempty"`
	Payload   json.RawMessage   `json:"payload,omitempty"`
	Trace     map[string]string `json:"trace,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// StreamMessage is a job read from a stream with its stream entry ID.
type StreamMessage struct {
	ID     string
	Stream string
	Job    *JobMessage
	// Err is set when the entry could not be decoded into a JobMessage
	Err error
}

// Streams provides Redis Streams operations for the job queue
type Streams struct {
	client *Client
}

func NewStreams(client *Client) *Streams {
	return &Streams{client: client}
}

// Publish appends job to stream, filling in ID and CreatedAt when unset. The
// caller's trace context rides along so the worker span joins the same trace.
func (s *Streams) Publish(ctx context.Context, stream string, job *JobMessage) (string, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if job.Trace == nil {
		job.Trace = tracing.TraceHeaders(ctx)
	}

	data, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job: %w", err)
	}

	messageID, err := s.client.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]any{
			"data": string(data),
			"type": job.Type,
		},
	}).Result()
	if err != nil {
		s.client.logger.WithContext(ctx).WithError(err).Errorf("Failed to publish to stream %s", stream)
		return "", err
	}

	s.client.logger.WithContext(ctx).WithFields(map[string]any{
		"job_id":     job.ID,
		"job_type":   job.Type,
		"message_id": messageID,
	}).Debugf("Published job to stream %s", stream)
	return messageID, nil
}

// CreateConsumerGroup creates group on stream, creating the stream if needed.
func (s *Streams) CreateConsumerGroup(ctx context.Context, stream, group string) error {
	err := s.client.rdb.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

// Consume reads new entries for consumer. A negative block returns immediately.
func (s *Streams) Consume(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]StreamMessage, error) {
	results, err := s.client.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var messages []StreamMessage
	for _, result := range results {
		messages = append(messages, decode(result.Stream, result.Messages)...)
	}
	return messages, nil
}

func (s *Streams) Ack(ctx context.Context, stream, group string, ids ...string) error {
	return s.client.rdb.XAck(ctx, stream, group, ids...).Err()
}

// Pending lists entries delivered but not yet acknowledged, with their delivery counts.
func (s *Streams) Pending(ctx context.Context, stream, group string, count int64) ([]redis.XPendingExt, error) {
	return s.client.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  group,
		Start:  "-",
		End:    "+",
		Count:  count,
	}).Result()
}

// Claim moves idle pending entries to consumer, bumping their delivery count.
func (s *Streams) Claim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, ids ...string) ([]StreamMessage, error) {
	results, err := s.client.rdb.XClaim(ctx, &redis.XClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		return nil, err
	}
	return decode(stream, results), nil
}

// Get reads a single entry by ID; it returns nil when the entry is gone.
func (s *Streams) Get(ctx context.Context, stream, id string) (*StreamMessage, error) {
	results, err := s.client.rdb.XRange(ctx, stream, id, id).Result()
	if err != nil {
		return nil, err
	}
	messages := decode(stream, results)
	if len(messages) == 0 {
		return nil, nil
	}
	return &messages[0], nil
}

func (s *Streams) Len(ctx context.Context, stream string) (int64, error) {
	return s.client.rdb.XLen(ctx, stream).Result()
}

func decode(stream string, entries []redis.XMessage) []StreamMessage {
	messages := make([]StreamMessage, 0, len(entries))
	for _, entry := range entries {
		msg := StreamMessage{ID: entry.ID, Stream: stream}

		data, ok := entry.Values["data"].(string)
		if !ok {
			msg.Err = fmt.Errorf("stream entry %s has no data field", entry.ID)
			messages = append(messages, msg)
			continue
		}

		var job JobMessage
		if err := json.Unmarshal([]byte(data), &job); err != nil {
			msg.Err = fmt.Errorf("stream entry %s: %w", entry.ID, err)
		} else {
			msg.Job = &job
		}
		messages = append(messages, msg)
	}
	return messages
}
