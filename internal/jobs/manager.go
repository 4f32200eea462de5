// Package jobs implements the job lifecycle: submission, the priority
// queue, the worker pool, and every status transition.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quizforge/question-harvester/internal/executor"
	"github.com/quizforge/question-harvester/internal/harvest"
	"github.com/quizforge/question-harvester/internal/progress"
	"github.com/quizforge/question-harvester/internal/telemetry"
)

// Runner executes one crawl run. *executor.Executor satisfies it.
type Runner interface {
	Run(ctx context.Context, job harvest.Job, gate executor.Gate) (<-chan harvest.RawItem, <-chan executor.Result)
}

// ItemProcessor gates one raw item. *quality.Pipeline satisfies it.
type ItemProcessor interface {
	Process(ctx context.Context, raw harvest.RawItem) (harvest.ProcessedItem, error)
}

// Config controls Manager behavior.
type Config struct {
	// MaxConcurrentJobs bounds the worker pool.
	MaxConcurrentJobs int
	// MaxRetries bounds executor re-runs after a failed attempt.
	MaxRetries int
	// RetryBaseDelay seeds the exponential retry backoff.
	RetryBaseDelay time.Duration
	// RetryMaxDelay caps the retry backoff.
	RetryMaxDelay time.Duration
	// JobTimeout is the per-job max runtime; zero disables it.
	JobTimeout time.Duration
	// RetentionWindow prunes terminal jobs finished longer ago than
	// this; zero keeps them forever.
	RetentionWindow time.Duration
	// RetentionInterval is how often the sweep runs.
	RetentionInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxConcurrentJobs <= 0 {
		c.MaxConcurrentJobs = 4
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetentionInterval <= 0 {
		c.RetentionInterval = time.Minute
	}
}

// Manager owns all job state. It is the single writer of job records;
// the API layer and workers go through it.
type Manager struct {
	store    harvest.JobStore
	runner   Runner
	pipeline ItemProcessor
	sources  map[string]struct{}
	queue    *priorityQueue
	retry    retryPolicy
	ids      harvest.IDGenerator
	clock    harvest.Clock
	emitter  progress.Emitter
	cfg      Config
	logger   *zap.Logger

	mu       sync.Mutex
	controls map[string]*jobControl
}

// NewManager constructs a Manager. emitter may be nil.
func NewManager(
	store harvest.JobStore,
	runner Runner,
	pipeline ItemProcessor,
	sources []harvest.SourceConfig,
	ids harvest.IDGenerator,
	clock harvest.Clock,
	emitter progress.Emitter,
	cfg Config,
	logger *zap.Logger,
) *Manager {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	known := make(map[string]struct{}, len(sources))
	for _, src := range sources {
		known[src.ID] = struct{}{}
	}
	return &Manager{
		store:    store,
		runner:   runner,
		pipeline: pipeline,
		sources:  known,
		queue:    newPriorityQueue(),
		retry:    newRetryPolicy(cfg.MaxRetries, cfg.RetryBaseDelay, cfg.RetryMaxDelay),
		ids:      ids,
		clock:    clock,
		emitter:  emitter,
		cfg:      cfg,
		logger:   logger,
		controls: make(map[string]*jobControl),
	}
}

// Run starts the worker pool and the retention sweep and blocks until
// ctx finishes and all running jobs have wound down.
func (m *Manager) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < m.cfg.MaxConcurrentJobs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.workerLoop(ctx)
		}()
	}
	if m.cfg.RetentionWindow > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.retentionLoop(ctx)
		}()
	}
	<-ctx.Done()
	wg.Wait()
}

// Submit validates the spec and persists a new pending job.
func (m *Manager) Submit(ctx context.Context, spec harvest.JobSpec) (harvest.Job, error) {
	if err := m.validateSpec(spec); err != nil {
		return harvest.Job{}, err
	}
	id, err := m.ids.NewID()
	if err != nil {
		return harvest.Job{}, fmt.Errorf("generate job id: %w", err)
	}
	job := harvest.Job{
		ID:        id,
		Spec:      spec,
		Status:    harvest.JobStatusPending,
		Submitted: m.clock.Now(),
	}
	if err := m.store.CreateJob(ctx, job); err != nil {
		return harvest.Job{}, fmt.Errorf("create job: %w", err)
	}
	m.emit(progress.Event{JobID: job.ID, Stage: progress.StageJobSubmitted, Status: job.Status})
	m.logger.Info("job submitted",
		zap.String("job_id", job.ID),
		zap.Int("targets", len(spec.Targets)),
		zap.Int("priority", spec.Priority),
	)
	return job, nil
}

func (m *Manager) validateSpec(spec harvest.JobSpec) error {
	if len(spec.Targets) == 0 {
		return harvest.E(harvest.CodeInvalidJobConfig, "job needs at least one target")
	}
	if spec.MaxItems <= 0 {
		return harvest.E(harvest.CodeInvalidJobConfig, "max_items must be positive")
	}
	for _, target := range spec.Targets {
		if target.URLPattern == "" {
			return harvest.E(harvest.CodeInvalidJobConfig, "target %s/%s has no url pattern", target.SourceID, target.Category)
		}
		if _, ok := m.sources[target.SourceID]; !ok {
			return harvest.E(harvest.CodeInvalidJobConfig, "unknown source %q", target.SourceID)
		}
	}
	return nil
}

// Start enqueues a pending job. Starting a job that is already queued
// or running is a no-op.
func (m *Manager) Start(ctx context.Context, jobID string) (harvest.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return harvest.Job{}, err
	}
	switch job.Status {
	case harvest.JobStatusPending:
		job.Status = harvest.JobStatusQueued
		if err := m.store.UpdateJob(ctx, job); err != nil {
			return harvest.Job{}, fmt.Errorf("update job: %w", err)
		}
		m.queue.Push(job.ID, job.Spec.Priority, m.clock.Now())
		return job, nil
	case harvest.JobStatusQueued, harvest.JobStatusRunning:
		return job, nil
	default:
		return harvest.Job{}, harvest.E(harvest.CodeInvalidTransition, "cannot start job in state %s", job.Status)
	}
}

// Pause suspends a running job at its next page boundary.
func (m *Manager) Pause(ctx context.Context, jobID string) (harvest.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return harvest.Job{}, err
	}
	if job.Status != harvest.JobStatusRunning {
		return harvest.Job{}, harvest.E(harvest.CodeInvalidTransition, "cannot pause job in state %s", job.Status)
	}
	if ctl := m.controls[jobID]; ctl != nil {
		ctl.pause()
	}
	job.Status = harvest.JobStatusPaused
	if err := m.store.UpdateJob(ctx, job); err != nil {
		return harvest.Job{}, fmt.Errorf("update job: %w", err)
	}
	m.emit(progress.Event{JobID: job.ID, Stage: progress.StageJobPaused, Status: job.Status})
	return job, nil
}

// Resume releases a paused job.
func (m *Manager) Resume(ctx context.Context, jobID string) (harvest.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return harvest.Job{}, err
	}
	if job.Status != harvest.JobStatusPaused {
		return harvest.Job{}, harvest.E(harvest.CodeInvalidTransition, "cannot resume job in state %s", job.Status)
	}
	if ctl := m.controls[jobID]; ctl != nil {
		ctl.release()
	}
	job.Status = harvest.JobStatusRunning
	if err := m.store.UpdateJob(ctx, job); err != nil {
		return harvest.Job{}, fmt.Errorf("update job: %w", err)
	}
	m.emit(progress.Event{JobID: job.ID, Stage: progress.StageJobResumed, Status: job.Status})
	return job, nil
}

// Cancel stops a job from any non-terminal state. Running jobs stop
// cooperatively; items already accepted stay persisted.
func (m *Manager) Cancel(ctx context.Context, jobID string) (harvest.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return harvest.Job{}, err
	}
	if job.Status.Terminal() {
		return harvest.Job{}, harvest.E(harvest.CodeInvalidTransition, "job already %s", job.Status)
	}

	running := job.Status == harvest.JobStatusRunning || job.Status == harvest.JobStatusPaused
	now := m.clock.Now()
	job.Status = harvest.JobStatusCancelled
	job.Finished = &now
	if err := m.store.UpdateJob(ctx, job); err != nil {
		return harvest.Job{}, fmt.Errorf("update job: %w", err)
	}
	if ctl := m.controls[jobID]; running && ctl != nil {
		ctl.abort()
	} else {
		// Never picked up by a worker; the finish event is ours to emit.
		m.emit(progress.Event{JobID: job.ID, Stage: progress.StageJobFinished, Status: job.Status})
	}
	m.logger.Info("job cancelled", zap.String("job_id", job.ID))
	return job, nil
}

// Status returns the current job record.
func (m *Manager) Status(ctx context.Context, jobID string) (harvest.Job, error) {
	return m.store.GetJob(ctx, jobID)
}

// List returns jobs matching the filter plus the total match count.
func (m *Manager) List(ctx context.Context, filter harvest.JobFilter) ([]harvest.Job, int, error) {
	return m.store.ListJobs(ctx, filter)
}

// QueueDepth reports how many jobs are waiting for a worker.
func (m *Manager) QueueDepth() int {
	return m.queue.Len()
}

func (m *Manager) workerLoop(ctx context.Context) {
	for {
		entry, err := m.queue.Pop(ctx)
		if err != nil {
			return
		}
		m.executeJob(ctx, entry.jobID)
	}
}

// executeJob claims a queued job, drives executor attempts, and writes
// the terminal state.
func (m *Manager) executeJob(ctx context.Context, jobID string) {
	m.mu.Lock()
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		m.mu.Unlock()
		m.logger.Error("claim job failed", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	if job.Status != harvest.JobStatusQueued {
		// Cancelled while waiting in the queue.
		m.mu.Unlock()
		return
	}

	var (
		jobCtx context.Context
		cancel context.CancelFunc
	)
	if m.cfg.JobTimeout > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, m.cfg.JobTimeout)
	} else {
		jobCtx, cancel = context.WithCancel(ctx)
	}
	ctl := newJobControl(cancel)
	m.controls[jobID] = ctl

	started := m.clock.Now()
	job.Status = harvest.JobStatusRunning
	job.Started = &started
	if err := m.store.UpdateJob(ctx, job); err != nil {
		delete(m.controls, jobID)
		m.mu.Unlock()
		cancel()
		m.logger.Error("start job failed", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	m.mu.Unlock()
	defer cancel()

	telemetry.IncActiveWorkers()
	defer telemetry.DecActiveWorkers()
	m.emit(progress.Event{JobID: job.ID, Stage: progress.StageJobStarted, Status: job.Status})
	m.logger.Info("job started", zap.String("job_id", job.ID))

	runErr := m.runAttempts(jobCtx, &job, ctl)
	m.finishJob(&job, ctl, started, runErr)
}

func (m *Manager) runAttempts(jobCtx context.Context, job *harvest.Job, ctl *jobControl) error {
	for attempt := 1; ; attempt++ {
		before := job.Counters
		attemptErr := m.runAttempt(jobCtx, job, ctl)
		if attemptErr == nil {
			return nil
		}
		if !m.retry.ShouldRetry(attemptErr, attempt) {
			return attemptErr
		}
		// A retry re-crawls from the first page, so the failed attempt's
		// item counters would double-count every re-extracted item. Items
		// already persisted stay persisted; the duplicate policy keeps
		// them from being admitted twice.
		job.Counters.ItemsExtracted = before.ItemsExtracted
		job.Counters.ItemsAccepted = before.ItemsAccepted
		job.Counters.ItemsRejected = before.ItemsRejected
		job.Counters.ItemsNeedsReview = before.ItemsNeedsReview
		job.Counters.Retries++
		m.emit(progress.Event{JobID: job.ID, Stage: progress.StageJobRetried, Attempt: attempt, Note: attemptErr.Error()})
		m.logger.Warn("job attempt failed, retrying",
			zap.String("job_id", job.ID),
			zap.Int("attempt", attempt),
			zap.Error(attemptErr),
		)
		if err := sleepCtx(jobCtx, m.retry.Backoff(attempt)); err != nil {
			return attemptErr
		}
	}
}

// runAttempt drives one executor pass over the job. A storage failure in
// the item pipeline aborts the pass and becomes the attempt error, so a
// dead persistence layer reaches the retry policy instead of finishing
// the job as completed.
func (m *Manager) runAttempt(jobCtx context.Context, job *harvest.Job, ctl *jobControl) error {
	attemptCtx, cancel := context.WithCancel(jobCtx)
	defer cancel()

	items, done := m.runner.Run(attemptCtx, *job, ctl.gate)
	procErr := m.consumeItems(attemptCtx, cancel, job, items)
	result := <-done

	job.Counters.PagesFetched += result.PagesFetched
	job.Counters.PagesFailed += result.PagesFailed
	job.Counters.Retries += result.Retries
	job.PartialFailures = append(job.PartialFailures, result.PartialFailures...)

	if procErr != nil {
		return procErr
	}
	return result.Err
}

// consumeItems drains the item stream. Per-item scoring and duplicate
// outcomes are recorded as counters and partial-failure notes; a
// storage-coded error stops the attempt via abort and is returned.
func (m *Manager) consumeItems(ctx context.Context, abort context.CancelFunc, job *harvest.Job, items <-chan harvest.RawItem) error {
	var procErr error
	for item := range items {
		if procErr != nil || ctx.Err() != nil {
			continue
		}
		job.Counters.ItemsExtracted++
		processed, err := m.pipeline.Process(ctx, item)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			if harvest.CodeOf(err) == harvest.CodeStorageFailure {
				procErr = err
				abort()
				m.logger.Error("item persistence failed, aborting attempt",
					zap.String("job_id", job.ID), zap.Error(err))
				continue
			}
			job.PartialFailures = append(job.PartialFailures, fmt.Sprintf("item from %s: %v", item.URL, err))
			m.logger.Warn("item processing failed", zap.String("job_id", job.ID), zap.Error(err))
			continue
		}
		switch processed.Decision {
		case harvest.DecisionAccept:
			job.Counters.ItemsAccepted++
		case harvest.DecisionReject:
			job.Counters.ItemsRejected++
		case harvest.DecisionNeedsReview:
			job.Counters.ItemsNeedsReview++
		}
		m.emit(progress.Event{
			JobID:    job.ID,
			Stage:    progress.StageItemGated,
			SourceID: item.SourceID,
			Decision: processed.Decision,
		})
	}
	return procErr
}

// finishJob writes the terminal record. A cancel may have raced the
// run, so the stored status wins over the computed one.
func (m *Manager) finishJob(job *harvest.Job, ctl *jobControl, started time.Time, runErr error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.controls, job.ID)

	// Final writes use a fresh context so shutdown does not lose them.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	now := m.clock.Now()
	job.Finished = &now

	switch {
	case ctl.aborted():
		job.Status = harvest.JobStatusCancelled
	case runErr != nil && errors.Is(runErr, context.DeadlineExceeded):
		job.Status = harvest.JobStatusFailed
		job.LastError = &harvest.JobError{Code: harvest.CodeTimeout, Message: "job exceeded max runtime", At: now}
	case runErr != nil && errors.Is(runErr, context.Canceled):
		job.Status = harvest.JobStatusCancelled
	case runErr != nil:
		job.Status = harvest.JobStatusFailed
		job.LastError = &harvest.JobError{Code: harvest.CodeOf(runErr), Message: runErr.Error(), At: now}
	default:
		job.Status = harvest.JobStatusCompleted
	}

	if err := m.store.UpdateJob(ctx, *job); err != nil {
		m.logger.Error("final job update failed", zap.String("job_id", job.ID), zap.Error(err))
	}
	m.emit(progress.Event{
		JobID:  job.ID,
		Stage:  progress.StageJobFinished,
		Status: job.Status,
		Dur:    now.Sub(started),
	})
	m.logger.Info("job finished",
		zap.String("job_id", job.ID),
		zap.String("status", string(job.Status)),
		zap.Int("accepted", job.Counters.ItemsAccepted),
		zap.Int("rejected", job.Counters.ItemsRejected),
		zap.Int("needs_review", job.Counters.ItemsNeedsReview),
	)
}

// retentionLoop prunes terminal jobs past the retention window.
func (m *Manager) retentionLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.RetentionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) sweep(ctx context.Context) {
	cutoff := m.clock.Now().Add(-m.cfg.RetentionWindow)
	all, _, err := m.store.ListJobs(ctx, harvest.JobFilter{})
	if err != nil {
		m.logger.Warn("retention list failed", zap.Error(err))
		return
	}
	for _, job := range all {
		if !job.Status.Terminal() || job.Finished == nil || job.Finished.After(cutoff) {
			continue
		}
		if err := m.store.DeleteJob(ctx, job.ID); err != nil {
			m.logger.Warn("retention delete failed", zap.String("job_id", job.ID), zap.Error(err))
			continue
		}
		m.logger.Debug("job pruned", zap.String("job_id", job.ID))
	}
}

func (m *Manager) emit(evt progress.Event) {
	if m.emitter == nil {
		return
	}
	evt.TS = m.clock.Now()
	m.emitter.Emit(evt)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// jobControl carries the pause gate and cancel hook for one running job.
type jobControl struct {
	mu        sync.Mutex
	paused    bool
	resume    chan struct{}
	cancel    context.CancelFunc
	cancelled bool
}

func newJobControl(cancel context.CancelFunc) *jobControl {
	return &jobControl{cancel: cancel}
}

// gate blocks while the job is paused. The executor calls it before
// every page fetch.
func (c *jobControl) gate(ctx context.Context) error {
	for {
		c.mu.Lock()
		if !c.paused {
			c.mu.Unlock()
			return ctx.Err()
		}
		wait := c.resume
		c.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *jobControl) pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.paused {
		c.paused = true
		c.resume = make(chan struct{})
	}
}

func (c *jobControl) release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused {
		c.paused = false
		close(c.resume)
	}
}

// abort marks the job cancelled, releases a paused gate, and cancels
// the run context.
func (c *jobControl) abort() {
	c.mu.Lock()
	c.cancelled = true
	if c.paused {
		c.paused = false
		close(c.resume)
	}
	c.mu.Unlock()
	c.cancel()
}

func (c *jobControl) aborted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled
}
