package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	appctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const (
	DefaultBatchSize     = 10
	DefaultBlockTimeout  = 5 * time.Second
	DefaultMaxRetries    = 3
	DefaultClaimInterval = 30 * time.Second
	DefaultClaimMinIdle  = 60 * time.Second

	// JobTypeWebhookRoute routes a normalized webhook event through the automation engine
	JobTypeWebhookRoute = "webhook.route"
	// JobTypeSyncProvider runs a pull sync for one tenant and provider
	JobTypeSyncProvider = "sync.provider"
)

// ErrUnknownJobType is returned for jobs with no registered handler.
var ErrUnknownJobType = errors.New("unknown job type")

// Handler processes one job. A returned error leaves the message pending for redelivery.
type Handler func(ctx context.Context, job *redis.JobMessage) error

// DeadLetterHook is told about every job moved to the DLQ.
type DeadLetterHook func(ctx context.Context, entry *redis.DLQEntry)

type ProcessorConfig struct {
	Stream        string
	ConsumerGroup string
	// ConsumerName must be unique per instance
	ConsumerName string
	BatchSize    int64
	BlockTimeout time.Duration
	// MaxRetries is the number of redeliveries before a job is dead-lettered
	MaxRetries    int
	ClaimInterval time.Duration
	ClaimMinIdle  time.Duration
	WorkerCount   int
}

func DefaultProcessorConfig() ProcessorConfig {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = uuid.NewString()[:8]
	}

	return ProcessorConfig{
		Stream:        "fern:jobs",
		ConsumerGroup: "fern-workers",
		ConsumerName:  hostname,
		BatchSize:     DefaultBatchSize,
		BlockTimeout:  DefaultBlockTimeout,
		MaxRetries:    DefaultMaxRetries,
		ClaimInterval: DefaultClaimInterval,
		ClaimMinIdle:  DefaultClaimMinIdle,
		WorkerCount:   1,
	}
}

// Processor consumes jobs from a Redis Streams consumer group and hands them to
// the handler registered for their type on a pool of workers.
type Processor struct {
	streams  *redis.Streams
	dlq      *redis.DeadLetterQueue
	config   ProcessorConfig
	logger   ectologger.Logger
	handlers map[string]Handler
	onDead   DeadLetterHook

	stopCh   chan struct{}
	stoppedC chan struct{}
	jobsCh   chan redis.StreamMessage

	running bool
	mu      sync.RWMutex
}

func NewProcessor(streams *redis.Streams, dlq *redis.DeadLetterQueue, config ProcessorConfig, logger ectologger.Logger) *Processor {
	defaults := DefaultProcessorConfig()
	if config.Stream == "" {
		config.Stream = defaults.Stream
	}
	if config.ConsumerGroup == "" {
		config.ConsumerGroup = defaults.ConsumerGroup
	}
	if config.ConsumerName == "" {
		config.ConsumerName = defaults.ConsumerName
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.BlockTimeout <= 0 {
		config.BlockTimeout = DefaultBlockTimeout
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultMaxRetries
	}
	if config.ClaimInterval <= 0 {
		config.ClaimInterval = DefaultClaimInterval
	}
	if config.ClaimMinIdle <= 0 {
		config.ClaimMinIdle = DefaultClaimMinIdle
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = 1
	}

	return &Processor{
		streams:  streams,
		dlq:      dlq,
		config:   config,
		logger:   logger,
		handlers: make(map[string]Handler),
	}
}

// Handle registers h for jobType. It must be called before Start.
func (p *Processor) Handle(jobType string, h Handler) {
	p.handlers[jobType] = h
}

// OnDeadLetter registers a hook run after a job lands in the DLQ.
func (p *Processor) OnDeadLetter(hook DeadLetterHook) {
	p.onDead = hook
}

func (p *Processor) Stream() string {
	return p.config.Stream
}

// Enqueue publishes a job onto the processor's stream.
func (p *Processor) Enqueue(ctx context.Context, job *redis.JobMessage) (string, error) {
	return p.streams.Publish(ctx, p.config.Stream, job)
}

func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return errors.New("processor already running")
	}

	p.logger.WithContext(ctx).Infof("Starting job processor: stream=%s group=%s consumer=%s workers=%d",
		p.config.Stream, p.config.ConsumerGroup, p.config.ConsumerName, p.config.WorkerCount)

	if err := p.streams.CreateConsumerGroup(ctx, p.config.Stream, p.config.ConsumerGroup); err != nil {
		p.logger.WithContext(ctx).WithError(err).Error("Failed to create consumer group")
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	p.stopCh = make(chan struct{})
	p.stoppedC = make(chan struct{})
	p.jobsCh = make(chan redis.StreamMessage, p.config.BatchSize*2)
	p.running = true

	// the loops outlive the startup context
	runCtx := context.WithoutCancel(ctx)

	var producers, workers sync.WaitGroup
	for i := 0; i < p.config.WorkerCount; i++ {
		workers.Add(1)
		go p.worker(runCtx, &workers, i)
	}

	producers.Add(2)
	go p.consumeLoop(runCtx, &producers)
	go p.claimLoop(runCtx, &producers)

	go func() {
		<-p.stopCh
		producers.Wait()
		close(p.jobsCh)
		workers.Wait()
		close(p.stoppedC)
	}()

	p.logger.WithContext(ctx).Info("Job processor started")
	return nil
}

// Stop stops consuming and waits for in-flight jobs or ctx, whichever ends first.
func (p *Processor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.WithContext(ctx).Info("Stopping job processor...")
	close(p.stopCh)

	select {
	case <-p.stoppedC:
		p.logger.WithContext(ctx).Info("Job processor stopped gracefully")
		return nil
	case <-ctx.Done():
		p.logger.WithContext(ctx).Warn("Job processor shutdown timed out")
		return ctx.Err()
	}
}

func (p *Processor) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

func (p *Processor) consumeLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		messages, err := p.streams.Consume(ctx, p.config.Stream, p.config.ConsumerGroup, p.config.ConsumerName,
			p.config.BatchSize, p.config.BlockTimeout)
		if err != nil {
			p.logger.WithContext(ctx).WithError(err).Warn("Failed to consume messages")
			select {
			case <-p.stopCh:
				return
			case <-time.After(time.Second):
			}
			continue
		}

		for _, msg := range messages {
			if !p.dispatch(ctx, msg) {
				return
			}
		}
	}
}

// dispatch hands msg to the workers; undecodable messages are dead-lettered directly.
func (p *Processor) dispatch(ctx context.Context, msg redis.StreamMessage) bool {
	if msg.Err != nil || msg.Job == nil {
		p.logger.WithContext(ctx).WithError(msg.Err).Warnf("Invalid job message %s", msg.ID)
		p.deadLetter(ctx, msg, 1, redis.DLQReasonInvalidJob, fmt.Sprint(msg.Err))
		return true
	}

	select {
	case p.jobsCh <- msg:
		return true
	case <-p.stopCh:
		return false
	}
}

func (p *Processor) claimLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(p.config.ClaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.claimPending(ctx)
		}
	}
}

// claimPending reclaims messages idle past ClaimMinIdle, dead-lettering those
// already delivered more than MaxRetries times.
func (p *Processor) claimPending(ctx context.Context) {
	ctx, span := tracing.StartSpan(ctx, "Processor.claimPending")
	defer span.End()

	pending, err := p.streams.Pending(ctx, p.config.Stream, p.config.ConsumerGroup, p.config.BatchSize)
	if err != nil {
		p.logger.WithContext(ctx).WithError(err).Warn("Failed to get pending messages")
		return
	}

	var stale []string
	for _, msg := range pending {
		if msg.Idle < p.config.ClaimMinIdle {
			continue
		}
		if msg.RetryCount > int64(p.config.MaxRetries) {
			stored, err := p.streams.Get(ctx, p.config.Stream, msg.ID)
			if err != nil || stored == nil {
				p.logger.WithContext(ctx).WithError(err).Warnf("Pending message %s is gone, acking", msg.ID)
				p.ack(ctx, msg.ID)
				continue
			}
			p.deadLetter(ctx, *stored, int(msg.RetryCount), redis.DLQReasonMaxRetries, "exceeded maximum delivery count")
			continue
		}
		stale = append(stale, msg.ID)
	}

	if len(stale) == 0 {
		return
	}

	claimed, err := p.streams.Claim(ctx, p.config.Stream, p.config.ConsumerGroup, p.config.ConsumerName, p.config.ClaimMinIdle, stale...)
	if err != nil {
		p.logger.WithContext(ctx).WithError(err).Warn("Failed to claim pending messages")
		return
	}

	p.logger.WithContext(ctx).Infof("Claimed %d stale pending messages", len(claimed))
	for _, msg := range claimed {
		if !p.dispatch(ctx, msg) {
			return
		}
	}
}

func (p *Processor) worker(ctx context.Context, wg *sync.WaitGroup, id int) {
	defer wg.Done()

	p.logger.WithContext(ctx).Debugf("Worker %d started", id)
	for msg := range p.jobsCh {
		if err := p.process(ctx, msg); err != nil {
			if errors.Is(err, ErrUnknownJobType) {
				p.deadLetter(ctx, msg, 1, redis.DLQReasonUnknownType, err.Error())
				continue
			}
			// left pending; claimPending redelivers it after ClaimMinIdle
			p.logger.WithContext(ctx).WithError(err).Warnf("Job %s failed, will be redelivered", msg.Job.ID)
			continue
		}
		p.ack(ctx, msg.ID)
	}
	p.logger.WithContext(ctx).Debugf("Worker %d stopped", id)
}

func (p *Processor) process(ctx context.Context, msg redis.StreamMessage) (err error) {
	job := msg.Job
	ctx, span := tracing.StartSpan(tracing.FromHeaders(ctx, job.Trace), "Processor.process")
	defer span.End()

	ctx = appctx.SetTenantID(ctx, job.TenantID)
	ctx = appctx.SetRequestID(ctx, job.ID)
	if job.Provider != "" {
		ctx = appctx.SetProvider(ctx, job.Provider)
	}

	handler, ok := p.handlers[job.Type]
	if !ok {
		metrics.RecordQueueJob(job.Type, "unknown")
		return fmt.Errorf("%w: %s", ErrUnknownJobType, job.Type)
	}

	metrics.QueueJobsInFlight.Inc()
	defer metrics.QueueJobsInFlight.Dec()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.ID, r)
		}
	}()

	start := time.Now()
	err = handler(ctx, job)
	log := p.logger.WithContext(ctx).WithFields(map[string]any{
		"job_id":   job.ID,
		"job_type": job.Type,
		"duration": time.Since(start).String(),
	})
	if err != nil {
		metrics.RecordQueueJob(job.Type, "failed")
		log.WithError(err).Warn("Job failed")
		return err
	}

	metrics.RecordQueueJob(job.Type, "success")
	log.Debug("Job completed")
	return nil
}

func (p *Processor) ack(ctx context.Context, messageID string) {
	if err := p.streams.Ack(ctx, p.config.Stream, p.config.ConsumerGroup, messageID); err != nil {
		p.logger.WithContext(ctx).WithError(err).Warnf("Failed to ack message %s", messageID)
	}
}

// deadLetter moves msg to the DLQ, notifies the hook and acks it so it is not redelivered.
func (p *Processor) deadLetter(ctx context.Context, msg redis.StreamMessage, deliveries int, reason redis.DeadLetterReason, errMsg string) {
	ctx, span := tracing.StartSpan(ctx, "Processor.deadLetter")
	defer span.End()

	entry := &redis.DLQEntry{
		OriginalJob:  msg.Job,
		Reason:       reason,
		ErrorMessage: errMsg,
		Deliveries:   deliveries,
	}
	if msg.Job != nil {
		entry.TenantID = msg.Job.TenantID
		entry.JobType = msg.Job.Type
		entry.Provider = msg.Job.Provider
	}

	if p.dlq != nil {
		if _, err := p.dlq.Add(ctx, entry); err != nil {
			p.logger.WithContext(ctx).WithError(err).Errorf("Failed to add message %s to DLQ", msg.ID)
		} else {
			metrics.RecordDLQJob(entry.JobType, string(reason))
		}
	}

	if p.onDead != nil {
		p.onDead(ctx, entry)
	}

	p.ack(ctx, msg.ID)
}
