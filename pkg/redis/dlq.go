package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Ramsey-B/fern/pkg/tracing"
)

const (
	DefaultDLQStream = "fern:dlq"

	// DLQMaxLen caps the DLQ stream; the oldest entries are trimmed
	DLQMaxLen = 10000
)

// ErrDLQEntryNotFound is returned when a DLQ message ID does not exist.
var ErrDLQEntryNotFound = errors.New("dlq entry not found")

type DeadLetterReason string

const (
	DLQReasonMaxRetries  DeadLetterReason = "max_retries_exceeded"
	DLQReasonInvalidJob  DeadLetterReason = "invalid_job"
	DLQReasonUnknownType DeadLetterReason = "unknown_job_type"
)

// DLQEntry is a webhook-route or sync job that could not be completed.
type DLQEntry struct {
	ID           string           `json:"id"`
	MessageID    string           `json:"message_id,omitempty"`
	TenantID     string           `json:"tenant_id"`
	JobType      string           `json:"job_type"`
	Provider     string           `json:"provider,omitempty"`
	OriginalJob  *JobMessage      `json:"original_job,omitempty"`
	Reason       DeadLetterReason `json:"reason"`
	ErrorMessage string           `json:"error_message"`
	Deliveries   int              `json:"deliveries"`
	CreatedAt    time.Time        `json:"created_at"`
	TraceID      string           `json:"trace_id,omitempty"`
}

type DeadLetterQueue struct {
	client     *Client
	streamName string
	logger     ectologger.Logger
}

func NewDeadLetterQueue(client *Client, streamName string, logger ectologger.Logger) *DeadLetterQueue {
	if streamName == "" {
		streamName = DefaultDLQStream
	}
	return &DeadLetterQueue{
		client:     client,
		streamName: streamName,
		logger:     logger,
	}
}

func (d *DeadLetterQueue) Add(ctx context.Context, entry *DLQEntry) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "DLQ.Add")
	defer span.End()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	entry.TraceID = tracing.GetTraceID(ctx)

	data, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("failed to marshal DLQ entry: %w", err)
	}

	messageID, err := d.client.Redis().XAdd(ctx, &redis.XAddArgs{
		Stream: d.streamName,
		MaxLen: DLQMaxLen,
		Approx: true,
		Values: map[string]any{
			"data":      string(data),
			"tenant_id": entry.TenantID,
			"job_type":  entry.JobType,
			"reason":    string(entry.Reason),
		},
	}).Result()
	if err != nil {
		d.logger.WithContext(ctx).WithError(err).Error("Failed to add job to DLQ")
		return "", fmt.Errorf("failed to add to DLQ: %w", err)
	}

	d.logger.WithContext(ctx).WithFields(map[string]any{
		"dlq_id":   entry.ID,
		"job_type": entry.JobType,
		"provider": entry.Provider,
		"reason":   entry.Reason,
	}).Warn("Added job to DLQ")
	return messageID, nil
}

// List returns up to count entries, newest first. A non-empty tenantID filters the result.
func (d *DeadLetterQueue) List(ctx context.Context, tenantID string, count int64) ([]DLQEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "DLQ.List")
	defer span.End()

	if count <= 0 {
		count = 100
	}
	scan := count
	if tenantID != "" {
		scan = count * 4
	}

	messages, err := d.client.Redis().XRevRangeN(ctx, d.streamName, "+", "-", scan).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read DLQ: %w", err)
	}

	entries := make([]DLQEntry, 0, len(messages))
	for _, msg := range messages {
		entry, err := d.decode(msg)
		if err != nil {
			d.logger.WithContext(ctx).WithError(err).Warnf("Skipping unreadable DLQ entry %s", msg.ID)
			continue
		}
		if tenantID != "" && entry.TenantID != tenantID {
			continue
		}
		entries = append(entries, *entry)
		if int64(len(entries)) >= count {
			break
		}
	}

	return entries, nil
}

func (d *DeadLetterQueue) decode(msg redis.XMessage) (*DLQEntry, error) {
	data, ok := msg.Values["data"].(string)
	if !ok {
		return nil, fmt.Errorf("invalid DLQ entry format")
	}

	var entry DLQEntry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal DLQ entry: %w", err)
	}
	entry.MessageID = msg.ID
	return &entry, nil
}

// Get returns the entry stored under messageID or ErrDLQEntryNotFound.
func (d *DeadLetterQueue) Get(ctx context.Context, messageID string) (*DLQEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "DLQ.Get")
	defer span.End()

	messages, err := d.client.Redis().XRange(ctx, d.streamName, messageID, messageID).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get DLQ entry: %w", err)
	}
	if len(messages) == 0 {
		return nil, ErrDLQEntryNotFound
	}

	return d.decode(messages[0])
}

func (d *DeadLetterQueue) Delete(ctx context.Context, messageID string) error {
	ctx, span := tracing.StartSpan(ctx, "DLQ.Delete")
	defer span.End()

	count, err := d.client.Redis().XDel(ctx, d.streamName, messageID).Result()
	if err != nil {
		return fmt.Errorf("failed to delete DLQ entry: %w", err)
	}
	if count == 0 {
		return ErrDLQEntryNotFound
	}

	d.logger.WithContext(ctx).Infof("Deleted DLQ entry: %s", messageID)
	return nil
}

func (d *DeadLetterQueue) Count(ctx context.Context) (int64, error) {
	return d.client.Redis().XLen(ctx, d.streamName).Result()
}

// Retry republishes the original job onto queue and removes the entry.
func (d *DeadLetterQueue) Retry(ctx context.Context, messageID string, streams *Streams, queue string) (*DLQEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "DLQ.Retry")
	defer span.End()

	entry, err := d.Get(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if entry.OriginalJob == nil {
		return nil, fmt.Errorf("DLQ entry %s has no original job", messageID)
	}

	job := *entry.OriginalJob
	job.ID = ""
	job.CreatedAt = time.Time{}
	if _, err := streams.Publish(ctx, queue, &job); err != nil {
		return nil, fmt.Errorf("failed to re-enqueue job: %w", err)
	}

	if err := d.Delete(ctx, messageID); err != nil {
		d.logger.WithContext(ctx).WithError(err).Warn("Failed to delete DLQ entry after retry")
	}

	d.logger.WithContext(ctx).Infof("Retried DLQ entry %s as job %s", messageID, job.ID)
	return entry, nil
}
