package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/papersum/internal/clock"
	"github.com/phrazzld/papersum/internal/domain"
	"github.com/phrazzld/papersum/internal/queue"
	"github.com/phrazzld/papersum/internal/redact"
	"github.com/phrazzld/papersum/internal/store"
)

// ProcessorConfig holds configuration for the node's consumer loop and
// power lifecycle.
type ProcessorConfig struct {
	// BatchSize caps how many messages a single poll may receive (max 10)
	BatchSize int

	// WaitTime bounds each long poll. Zero means a short poll.
	WaitTime time.Duration

	// EmptyBackoff is how long the loop sleeps after a poll that received
	// nothing or failed
	EmptyBackoff time.Duration

	// IdleThreshold is the time without activity after which the node
	// requests its own termination
	IdleThreshold time.Duration

	// IdleCheckInterval is how often the idle monitor samples
	IdleCheckInterval time.Duration

	// Cooldown is the delay between the run queue draining and termination
	Cooldown time.Duration

	// HashPrefixLength is the number of leading text characters used for
	// the derived hash
	HashPrefixLength int

	// AckTimeout bounds a single acknowledgement call
	AckTimeout time.Duration

	// TerminateTimeout bounds the call into the Terminator
	TerminateTimeout time.Duration
}

// DefaultProcessorConfig returns a ProcessorConfig with the production defaults
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		BatchSize:         5,
		WaitTime:          10 * time.Second,
		EmptyBackoff:      20 * time.Second,
		IdleThreshold:     30 * time.Minute,
		IdleCheckInterval: time.Minute,
		Cooldown:          10 * time.Minute,
		HashPrefixLength:  domain.DefaultHashPrefixLength,
		AckTimeout:        10 * time.Second,
		TerminateTimeout:  30 * time.Second,
	}
}

func (c ProcessorConfig) withDefaults() ProcessorConfig {
	def := DefaultProcessorConfig()
	c.BatchSize = queue.ClampBatch(c.BatchSize)
	if c.WaitTime < 0 {
		c.WaitTime = 0
	}
	if c.EmptyBackoff <= 0 {
		c.EmptyBackoff = def.EmptyBackoff
	}
	if c.IdleThreshold <= 0 {
		c.IdleThreshold = def.IdleThreshold
	}
	if c.IdleCheckInterval <= 0 {
		c.IdleCheckInterval = def.IdleCheckInterval
	}
	if c.Cooldown <= 0 {
		c.Cooldown = def.Cooldown
	}
	if c.HashPrefixLength <= 0 {
		c.HashPrefixLength = def.HashPrefixLength
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = def.AckTimeout
	}
	if c.TerminateTimeout <= 0 {
		c.TerminateTimeout = def.TerminateTimeout
	}
	return c
}

// Dependencies are the collaborators a Processor drives. Archiver is
// optional; everything else is required.
type Dependencies struct {
	Queue      queue.Queue
	Records    store.RecordStore
	Extractor  Extractor
	Summarizer Summarizer
	Archiver   Archiver
	Terminator Terminator
	Clock      clock.Clock
}

func (d Dependencies) validate() error {
	switch {
	case d.Queue == nil:
		return errors.New("queue cannot be nil")
	case d.Records == nil:
		return errors.New("record store cannot be nil")
	case d.Extractor == nil:
		return errors.New("extractor cannot be nil")
	case d.Summarizer == nil:
		return errors.New("summarizer cannot be nil")
	case d.Terminator == nil:
		return errors.New("terminator cannot be nil")
	case d.Clock == nil:
		return errors.New("clock cannot be nil")
	}
	return nil
}

// Status is a point-in-time snapshot of the processor.
type Status struct {
	RunQueueLength    int       `json:"run_queue_length"`
	Draining          bool      `json:"draining"`
	CooldownActive    bool      `json:"cooldown_active"`
	ShutdownRequested bool      `json:"shutdown_requested"`
	LastActivity      time.Time `json:"last_activity"`
}

// Processor consumes the work queue on the compute node. It drains jobs
// serially and decides when the node should power itself off.
type Processor struct {
	deps   Dependencies
	config ProcessorConfig
	logger *slog.Logger

	// done is closed once shutdown is requested so waits end early
	done chan struct{}

	// slot admits one extract-and-summarize pass at a time, queued or
	// synchronous
	slot chan struct{}

	mu           sync.Mutex
	runQueue     []domain.Job
	draining     bool
	directRuns   int
	shutdown     bool
	lastActivity time.Time
	cooldown     clock.Timer
	cooldownGen  uint64
	// cooldownDeferred is set when an armed cooldown was canceled or
	// suppressed by in-progress work and must be re-armed once it finishes
	cooldownDeferred bool
	idleTimer        clock.Timer
}

// NewProcessor creates a Processor. Last activity starts at construction
// time, so a node that boots into an empty queue terminates after the idle
// threshold.
func NewProcessor(deps Dependencies, config ProcessorConfig, logger *slog.Logger) (*Processor, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	return &Processor{
		deps:         deps,
		config:       config.withDefaults(),
		logger:       logger.With("component", "task_processor"),
		done:         make(chan struct{}),
		slot:         make(chan struct{}, 1),
		lastActivity: deps.Clock.Now(),
	}, nil
}

// Run polls until ctx is canceled or shutdown is requested. It starts the
// idle monitor first.
func (p *Processor) Run(ctx context.Context) error {
	p.StartIdleMonitor()

	p.logger.Info("task processing loop started",
		"batch_size", p.config.BatchSize,
		"wait_time", p.config.WaitTime.String())
	defer p.logger.Info("task processing loop stopped")

	for {
		if ctx.Err() != nil || p.ShutdownRequested() {
			return nil
		}

		received, err := p.PollOnce(ctx)
		if received {
			continue
		}
		if err != nil && ctx.Err() != nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-p.done:
			return nil
		case <-p.deps.Clock.After(p.config.EmptyBackoff):
		}
	}
}

// PollOnce performs one receive and drains every job it produced before
// returning. It reports whether any message was received.
func (p *Processor) PollOnce(ctx context.Context) (bool, error) {
	if p.ShutdownRequested() {
		return false, nil
	}

	deliveries, err := p.deps.Queue.Receive(ctx, p.config.BatchSize, p.config.WaitTime)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Error("failed to receive messages", "error", err)
		}
		return false, fmt.Errorf("receive messages: %w", err)
	}
	if len(deliveries) == 0 {
		p.logger.Debug("no messages in queue")
		return false, nil
	}

	p.logger.Info("received messages", "count", len(deliveries))

	p.mu.Lock()
	p.lastActivity = p.deps.Clock.Now()
	p.cancelCooldownLocked()
	p.mu.Unlock()

	jobs := make([]domain.Job, 0, len(deliveries))
	for _, delivery := range deliveries {
		msg, err := domain.ParseMessage(delivery.Body)
		if err != nil {
			p.logger.Error("dropping malformed message",
				"error", err,
				"body", truncate(string(delivery.Body), 256))
			p.ack(ctx, delivery.Receipt, p.logger)
			continue
		}
		jobs = append(jobs, domain.Job{Message: msg, Receipt: delivery.Receipt})
	}

	p.enqueue(ctx, jobs)
	return true, nil
}

// enqueue appends jobs to the run queue and drains it unless a drain is
// already running.
func (p *Processor) enqueue(ctx context.Context, jobs []domain.Job) {
	p.mu.Lock()
	p.runQueue = append(p.runQueue, jobs...)
	size := len(p.runQueue)
	if p.draining {
		p.mu.Unlock()
		return
	}
	p.draining = true
	p.mu.Unlock()

	p.logger.Info("added jobs to run queue", "added", len(jobs), "queue_size", size)
	p.drain(ctx)
}

func (p *Processor) drain(ctx context.Context) {
	for {
		p.mu.Lock()
		if p.shutdown || len(p.runQueue) == 0 || ctx.Err() != nil {
			p.draining = false
			if ctx.Err() != nil {
				// Unacknowledged jobs are redelivered after the visibility timeout.
				p.runQueue = nil
			} else if !p.shutdown {
				p.armCooldownLocked()
				p.cooldownDeferred = false
			}
			p.mu.Unlock()
			return
		}
		job := p.runQueue[0]
		p.runQueue = p.runQueue[1:]
		p.mu.Unlock()

		p.process(ctx, job)

		p.mu.Lock()
		p.lastActivity = p.deps.Clock.Now()
		p.mu.Unlock()
	}
}

// process runs one attempt. Store write failures are logged and never stop
// the attempt; the message is acknowledged after the terminal write.
func (p *Processor) process(ctx context.Context, job domain.Job) {
	log := p.logger.With("key", job.Key, "task_id", job.TaskID)
	log.Info("processing job", "source_locator", job.SourceLocator)

	if err := p.deps.Records.MarkProcessing(ctx, job.Key, job.SourceLocator, job.TaskID); err != nil {
		log.Error("failed to mark record as processing", "error", fmt.Errorf("%w: %w", domain.ErrStoreWrite, err))
	}

	summary, err := p.exclusiveAttempt(ctx, job.Key, job.SourceLocator, log)
	if err != nil {
		if ctx.Err() != nil {
			// Left in flight and unacknowledged; the message is redelivered.
			log.Warn("attempt interrupted", "error", err)
			return
		}

		log.Error("job failed", "error", err)
		if werr := p.deps.Records.Fail(ctx, job.Key, failureDetail(err)); werr != nil {
			log.Error("failed to record job failure", "error", fmt.Errorf("%w: %w", domain.ErrStoreWrite, werr))
		}
		p.ack(ctx, job.Receipt, log)
		return
	}

	log.Info("job summarized", "summary_length", len(summary))
	if werr := p.deps.Records.Complete(ctx, job.Key, summary); werr != nil {
		log.Error("failed to store summary", "error", fmt.Errorf("%w: %w", domain.ErrStoreWrite, werr))
		fallback := "error updating summary: " + failureDetail(werr)
		if ferr := p.deps.Records.Fail(ctx, job.Key, fallback); ferr != nil {
			log.Error("failed to record summary write failure", "error", ferr)
		}
	}

	p.archive(ctx, job, summary, log)
	p.ack(ctx, job.Receipt, log)
}

// exclusiveAttempt runs attempt once no other attempt is running on the
// node. Giving up the wait because ctx ended is reported as an error.
func (p *Processor) exclusiveAttempt(ctx context.Context, key, sourceLocator string, log *slog.Logger) (string, error) {
	select {
	case p.slot <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { <-p.slot }()

	return p.attempt(ctx, key, sourceLocator, log)
}

// attempt extracts, fingerprints and summarizes one document. A non-empty
// key annotates the record with the derived hash.
func (p *Processor) attempt(ctx context.Context, key, sourceLocator string, log *slog.Logger) (string, error) {
	text, err := p.deps.Extractor.Extract(ctx, sourceLocator)
	if err != nil {
		return "", fmt.Errorf("%w: extract: %w", domain.ErrCollaborator, err)
	}

	if key != "" {
		hash := domain.DerivedHash(text, p.config.HashPrefixLength)
		if err := p.deps.Records.SetDerivedHash(ctx, key, hash); err != nil {
			log.Error("failed to store derived hash", "error", fmt.Errorf("%w: %w", domain.ErrStoreWrite, err))
		}
	}

	summary, err := p.deps.Summarizer.Summarize(ctx, text)
	if err != nil {
		return "", fmt.Errorf("%w: summarize: %w", domain.ErrCollaborator, err)
	}
	if summary == "" {
		return "", fmt.Errorf("%w: summarize: %w", domain.ErrCollaborator, ErrEmptySummary)
	}

	return summary, nil
}

// SummarizeSource extracts and summarizes a document without touching the
// queue or the record store. It waits for any running job, counts as
// activity for the idle monitor and holds off the cooldown until it returns.
func (p *Processor) SummarizeSource(ctx context.Context, sourceLocator string) (string, error) {
	if sourceLocator == "" {
		return "", domain.ErrEmptySourceLocator
	}

	p.mu.Lock()
	p.directRuns++
	p.lastActivity = p.deps.Clock.Now()
	if p.cooldown != nil {
		p.cancelCooldownLocked()
		p.cooldownDeferred = true
	}
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.directRuns--
		p.lastActivity = p.deps.Clock.Now()
		p.rearmDeferredCooldownLocked()
	}()

	return p.exclusiveAttempt(ctx, "", sourceLocator, p.logger.With("source_locator", sourceLocator))
}

func (p *Processor) archive(ctx context.Context, job domain.Job, summary string, log *slog.Logger) {
	if p.deps.Archiver == nil {
		return
	}

	location, err := p.deps.Archiver.Put(ctx, job.SourceLocator, job.TaskID, summary, p.deps.Clock.Now())
	if err != nil {
		log.Error("failed to archive summary", "error", err)
		return
	}
	log.Info("archived summary", "location", location)
}

// ack deletes a message. It survives cancellation of ctx so a finished
// attempt is never redelivered because the loop is stopping.
func (p *Processor) ack(ctx context.Context, receipt string, log *slog.Logger) {
	if receipt == "" {
		return
	}

	ackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.config.AckTimeout)
	defer cancel()

	if err := p.deps.Queue.Delete(ackCtx, receipt); err != nil {
		log.Error("failed to delete message from queue", "error", err)
		return
	}
	log.Debug("message deleted from queue")
}

// StartIdleMonitor schedules the first idle sample. Calling it again while
// the monitor is scheduled has no effect.
func (p *Processor) StartIdleMonitor() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.shutdown || p.idleTimer != nil {
		return
	}
	p.idleTimer = p.deps.Clock.AfterFunc(p.config.IdleCheckInterval, p.checkIdle)
}

func (p *Processor) checkIdle() {
	p.mu.Lock()
	if p.shutdown {
		p.idleTimer = nil
		p.mu.Unlock()
		return
	}

	idle := p.deps.Clock.Now().Sub(p.lastActivity)
	busy := p.busyLocked()
	if !busy && idle > p.config.IdleThreshold {
		p.idleTimer = nil
		p.mu.Unlock()

		p.logger.Info("maximum idle time reached",
			"idle", idle.String(),
			"threshold", p.config.IdleThreshold.String())
		p.requestShutdown("idle threshold exceeded")
		return
	}

	p.idleTimer = p.deps.Clock.AfterFunc(p.config.IdleCheckInterval, p.checkIdle)
	p.mu.Unlock()
}

// ResetCooldown re-arms the cooldown timer. It reports false once shutdown
// has been requested.
func (p *Processor) ResetCooldown() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.shutdown {
		return false
	}
	p.armCooldownLocked()
	return true
}

// armCooldownLocked replaces any armed cooldown. The generation check in the
// callback keeps a superseded timer from firing even if Stop lost the race.
func (p *Processor) armCooldownLocked() {
	if p.cooldown != nil {
		p.cooldown.Stop()
	}
	p.cooldownGen++
	gen := p.cooldownGen
	p.cooldown = p.deps.Clock.AfterFunc(p.config.Cooldown, func() {
		p.cooldownExpired(gen)
	})
	p.logger.Info("cooldown timer set", "cooldown", p.config.Cooldown.String())
}

// rearmDeferredCooldownLocked restores a cooldown held off by work that has
// now finished. A drain in progress re-arms it itself when it empties.
func (p *Processor) rearmDeferredCooldownLocked() {
	if !p.cooldownDeferred || p.shutdown || p.busyLocked() {
		return
	}
	p.cooldownDeferred = false
	p.armCooldownLocked()
}

func (p *Processor) busyLocked() bool {
	return p.draining || len(p.runQueue) > 0 || p.directRuns > 0
}

func (p *Processor) cancelCooldownLocked() {
	p.cooldownGen++
	if p.cooldown == nil {
		return
	}
	p.cooldown.Stop()
	p.cooldown = nil
	p.logger.Debug("cooldown timer canceled")
}

func (p *Processor) cooldownExpired(gen uint64) {
	p.mu.Lock()
	if gen != p.cooldownGen || p.shutdown {
		p.mu.Unlock()
		return
	}
	p.cooldown = nil
	if p.busyLocked() {
		p.cooldownDeferred = true
		p.mu.Unlock()
		p.logger.Info("cooldown expired while work is running, deferring")
		return
	}
	p.mu.Unlock()

	p.logger.Info("cooldown expired")
	p.requestShutdown("cooldown expired")
}

// requestShutdown is the single gate through which the idle monitor and the
// cooldown timer terminate the node. Only the first caller reaches the
// Terminator.
func (p *Processor) requestShutdown(reason string) {
	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		return
	}
	p.markShutdownLocked()
	p.mu.Unlock()

	p.logger.Info("shutting down instance", "reason", reason)

	ctx, cancel := context.WithTimeout(context.Background(), p.config.TerminateTimeout)
	defer cancel()

	if err := p.deps.Terminator.Terminate(ctx); err != nil {
		p.logger.Error("failed to terminate instance", "error", err)
	}
}

// Stop sets the shutdown flag without terminating the node. Loops exit at
// their next iteration boundary.
func (p *Processor) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.shutdown {
		p.markShutdownLocked()
	}
}

func (p *Processor) markShutdownLocked() {
	p.shutdown = true
	p.cooldownGen++
	if p.cooldown != nil {
		p.cooldown.Stop()
		p.cooldown = nil
	}
	if p.idleTimer != nil {
		p.idleTimer.Stop()
		p.idleTimer = nil
	}
	close(p.done)
}

// ShutdownRequested reports whether the shutdown flag is set.
func (p *Processor) ShutdownRequested() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shutdown
}

// Status returns a snapshot of the processor state.
func (p *Processor) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Status{
		RunQueueLength:    len(p.runQueue),
		Draining:          p.draining,
		CooldownActive:    p.cooldown != nil,
		ShutdownRequested: p.shutdown,
		LastActivity:      p.lastActivity,
	}
}

// failureDetail is the processing_error text persisted for err.
func failureDetail(err error) string {
	return redact.Error(err)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
