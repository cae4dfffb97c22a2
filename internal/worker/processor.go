// Package worker implements the worker-pool half of C6: consuming
// job.enqueued messages, decrypting the owning principal's provider
// credentials, and driving each job through the stage runner (C5),
// with retry/backoff, stall recovery, and graceful shutdown.
package worker

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/Makar0n1/art-automation/config"
	"github.com/Makar0n1/art-automation/internal/bus"
	"github.com/Makar0n1/art-automation/internal/pipeline"
	"github.com/Makar0n1/art-automation/internal/queue"
	"github.com/Makar0n1/art-automation/internal/queue/streams"
	"github.com/Makar0n1/art-automation/internal/store"
	"github.com/Makar0n1/art-automation/internal/telemetry"
	"github.com/Makar0n1/art-automation/internal/vault"
	"github.com/Makar0n1/art-automation/models"
)

// jobStore is the slice of the store the processor needs directly, plus
// everything the stage runner needs (pipeline.JobStore) since *store.Store
// is handed straight to the Runner it constructs per job.
type jobStore interface {
	pipeline.JobStore
	GetJob(ctx context.Context, ownerID, id string) (models.Job, error)
	GetPrincipalByID(ctx context.Context, id string) (models.Principal, error)
}

// messageConsumer is the slice of *streams.Consumer the processor needs.
type messageConsumer interface {
	Read(ctx context.Context, stream string, opts ...streams.ConsumerOption) ([]streams.Message, error)
	Ack(ctx context.Context, stream string, ids ...string) error
	AutoClaim(ctx context.Context, stream string, minIdle time.Duration, start string, count int64) ([]streams.Message, string, error)
}

// messagePublisher is the slice of *streams.Publisher the processor needs.
type messagePublisher interface {
	Publish(ctx context.Context, stream string, envelope streams.Envelope, opts ...streams.PublishOption) (string, error)
}

// Processor drives job.enqueued consumption for one worker process.
type Processor struct {
	logger    *log.Logger
	store     jobStore
	vault     *vault.Vault
	bus       pipeline.EventBus
	consumer  messageConsumer
	publisher messagePublisher
	queueCfg  config.QueueConfig
	providers config.ProvidersConfig
	metrics   *telemetry.Metrics

	sem chan struct{}
	wg  sync.WaitGroup
}

// NewProcessor builds a Processor. Callers must have already called
// streams.EnsureGroup for queue.JobStream/consumerGroupName. metrics may
// be nil, in which case job/stage instrumentation is a no-op.
func NewProcessor(logger *log.Logger, st *store.Store, v *vault.Vault, b *bus.Bus, consumer *streams.Consumer, publisher *streams.Publisher, queueCfg config.QueueConfig, providers config.ProvidersConfig, metrics *telemetry.Metrics) *Processor {
	concurrency := queueCfg.WorkerConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	return &Processor{
		logger:    logger,
		store:     st,
		vault:     v,
		bus:       b,
		consumer:  consumer,
		publisher: publisher,
		queueCfg:  queueCfg,
		providers: providers,
		metrics:   metrics,
		sem:       make(chan struct{}, concurrency),
	}
}

// Run blocks, consuming job.enqueued until ctx is cancelled, then pauses
// intake and waits up to queueCfg.ShutdownGracePeriod for in-flight jobs
// before returning.
func (p *Processor) Run(ctx context.Context) error {
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()

	go p.reclaimLoop(ctx, jobCtx)

	p.logger.Printf("worker: consuming %s (concurrency=%d)", queue.JobStream, cap(p.sem))
	for {
		select {
		case <-ctx.Done():
			p.logger.Printf("worker: intake stopping: %v", ctx.Err())
			return p.drain(jobCtx, cancelJobs)
		default:
		}

		msgs, err := p.consumer.Read(ctx, queue.JobStream, streams.WithBlock(5*time.Second), streams.WithCount(16))
		if err != nil {
			if ctx.Err() != nil {
				return p.drain(jobCtx, cancelJobs)
			}
			p.logger.Printf("worker: error reading job stream: %v", err)
			time.Sleep(time.Second)
			continue
		}

		for _, msg := range msgs {
			p.dispatch(ctx, jobCtx, msg)
		}
	}
}

// drain waits for in-flight jobs to finish, up to the configured grace
// period, then cancels jobCtx to force-stop anything still running.
func (p *Processor) drain(jobCtx context.Context, cancelJobs context.CancelFunc) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	grace := p.queueCfg.ShutdownGracePeriod
	if grace <= 0 {
		grace = 30 * time.Second
	}

	select {
	case <-done:
	case <-time.After(grace):
		p.logger.Printf("worker: shutdown grace period elapsed with jobs still in flight")
	}
	cancelJobs()
	return nil
}

// dispatch acquires a worker-pool slot (blocking intake if the pool is
// full, which is the desired backpressure: unclaimed messages stay
// pending in the stream) and runs the message on its own goroutine.
func (p *Processor) dispatch(intakeCtx, jobCtx context.Context, msg streams.Message) {
	select {
	case p.sem <- struct{}{}:
	case <-intakeCtx.Done():
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() { <-p.sem }()
		p.handle(jobCtx, msg)
	}()
}

func (p *Processor) handle(ctx context.Context, msg streams.Message) {
	payload, err := queue.DecodePayload(msg)
	if err != nil {
		p.logger.Printf("worker: malformed payload on message %s: %v", msg.ID, err)
		p.ack(ctx, msg.ID)
		return
	}

	job, err := p.store.GetJob(ctx, payload.OwnerID, payload.JobID)
	if errors.Is(err, models.ErrJobNotFound) {
		p.logger.Printf("worker: job %s no longer exists, dropping message", payload.JobID)
		p.ack(ctx, msg.ID)
		return
	}
	if err != nil {
		p.logger.Printf("worker: fetch job %s failed, leaving for stall recovery: %v", payload.JobID, err)
		return
	}

	principal, err := p.store.GetPrincipalByID(ctx, payload.OwnerID)
	if err != nil {
		p.logger.Printf("worker: fetch principal %s failed, leaving for stall recovery: %v", payload.OwnerID, err)
		return
	}

	clients := buildProviderClients(p.vault, principal, p.providers)
	runner := &pipeline.Runner{
		Store:   p.store,
		Bus:     p.bus,
		Search:  clients.search,
		LLM:     clients.llm,
		Vector:  clients.vector,
		Metrics: p.metrics,
	}

	started := time.Now()
	continueFrom := models.GenerationStatus(payload.ContinueFrom)
	runErr := runner.Run(ctx, &job, continueFrom)

	usage := clients.llm.GetTokenUsage(true)
	p.metrics.ObserveTokens("openrouter", usage.PromptTokens, usage.CompletionTokens)

	if runErr == nil {
		p.metrics.ObserveJob(string(job.Status), time.Since(started))
		p.ack(ctx, msg.ID)
		return
	}

	p.logger.Printf("worker: job %s failed (attempt %d): %v", job.ID, msg.Envelope.Attempt, runErr)
	if msg.Envelope.Attempt+1 >= maxAttemptsOrDefault(p.queueCfg.MaxAttempts) {
		p.metrics.ObserveJob(string(models.StatusFailed), time.Since(started))
	}
	p.retryOrGiveUp(ctx, msg, runErr)
}

func maxAttemptsOrDefault(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

// retryOrGiveUp republishes the message with an incremented attempt
// count after an exponential backoff, or leaves the job in its
// already-persisted failed state once max attempts is reached.
func (p *Processor) retryOrGiveUp(ctx context.Context, msg streams.Message, cause error) {
	attempt := msg.Envelope.Attempt
	maxAttempts := maxAttemptsOrDefault(p.queueCfg.MaxAttempts)
	if attempt+1 >= maxAttempts {
		p.logger.Printf("worker: giving up on message %s after %d attempts: %v", msg.ID, attempt+1, cause)
		p.ack(ctx, msg.ID)
		return
	}

	backoff := p.queueCfg.RetryBaseDelay
	if backoff <= 0 {
		backoff = 5 * time.Second
	}
	backoff *= time.Duration(1 << attempt)

	select {
	case <-time.After(backoff):
	case <-ctx.Done():
		return
	}

	retryEnvelope := streams.Envelope{
		EventType:      msg.Envelope.EventType,
		PayloadVersion: msg.Envelope.PayloadVersion,
		Attempt:        attempt + 1,
		Data:           msg.Envelope.Data,
	}
	if _, err := p.publisher.Publish(ctx, queue.JobStream, retryEnvelope); err != nil {
		p.logger.Printf("worker: failed to republish message %s for retry: %v", msg.ID, err)
		return
	}
	p.metrics.IncRetry()
	p.ack(ctx, msg.ID)
}

// reclaimLoop periodically reclaims messages that have sat unacked past
// the configured stall interval (a consumer that crashed mid-job) and
// feeds them back through the normal dispatch path.
func (p *Processor) reclaimLoop(intakeCtx, jobCtx context.Context) {
	ticker := time.NewTicker(stallPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-intakeCtx.Done():
			return
		case <-ticker.C:
			p.reclaimOnce(intakeCtx, jobCtx)
		}
	}
}

func (p *Processor) reclaimOnce(intakeCtx, jobCtx context.Context) {
	cursor := "0-0"
	for {
		msgs, next, err := p.consumer.AutoClaim(intakeCtx, queue.JobStream, p.queueCfg.StallInterval, cursor, reclaimBatchSize)
		if err != nil {
			p.logger.Printf("worker: autoclaim failed: %v", err)
			return
		}
		for _, msg := range msgs {
			p.logger.Printf("worker: reclaimed stalled message %s", msg.ID)
			p.dispatch(intakeCtx, jobCtx, msg)
		}
		if next == "0-0" || len(msgs) == 0 {
			return
		}
		cursor = next
	}
}

func (p *Processor) ack(ctx context.Context, id string) {
	if err := p.consumer.Ack(ctx, queue.JobStream, id); err != nil {
		p.logger.Printf("worker: failed to ack message %s: %v", id, err)
	}
}
