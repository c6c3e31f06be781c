package scheduler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sips-and-steals/crawler/internal/archive"
	"github.com/sips-and-steals/crawler/internal/clock"
	"github.com/sips-and-steals/crawler/internal/fetch"
	"github.com/sips-and-steals/crawler/internal/publish"
	"github.com/sips-and-steals/crawler/internal/store"
)

// ErrAlreadyRunning is returned when Run is called while a run is active.
var ErrAlreadyRunning = errors.New("scheduler is already running")

// Fetcher executes one fetch attempt; fetch.Client satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, target fetch.Target) fetch.Result
}

// Config controls Scheduler behavior.
type Config struct {
	// MaxWorkers bounds concurrent fetches.
	MaxWorkers int
	// RateLimitDelay spaces task dispatches apart.
	RateLimitDelay time.Duration
	// MaxRetries caps retries per task.
	MaxRetries int
	// PollInterval is the idle wait when the head task is not ready yet.
	PollInterval time.Duration
	// RetryBackoffUnit scales the 2^retryCount retry backoff. Production
	// uses one minute; tests shrink it.
	RetryBackoffUnit time.Duration
	// StaleStagger spreads out a bulk "everything stale" sweep.
	StaleStagger time.Duration
	// GroupStagger spreads out district/neighborhood sweeps.
	GroupStagger time.Duration
	// Topic names the completion-event topic. Empty disables publishing.
	Topic string
	// ArchivePrefix prefixes blob paths for archived bodies.
	ArchivePrefix string
}

func (c Config) withDefaults() Config {
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = 2
	}
	if c.RateLimitDelay < 0 {
		c.RateLimitDelay = 0
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.RetryBackoffUnit <= 0 {
		c.RetryBackoffUnit = time.Minute
	}
	if c.StaleStagger < 0 {
		c.StaleStagger = 0
	}
	if c.GroupStagger < 0 {
		c.GroupStagger = 0
	}
	if c.ArchivePrefix == "" {
		c.ArchivePrefix = "pages"
	}
	return c
}

// Stats aggregates run statistics across the scheduler's lifetime.
type Stats struct {
	TasksCompleted  int           `json:"tasks_completed"`
	TasksFailed     int           `json:"tasks_failed"`
	TasksAbandoned  int           `json:"tasks_abandoned"`
	TotalRuntime    time.Duration `json:"total_runtime"`
	AverageTaskTime time.Duration `json:"average_task_time"`
	LastRun         time.Time     `json:"last_run"`
}

// Status is a point-in-time snapshot for the status API.
type Status struct {
	IsRunning    bool  `json:"is_running"`
	QueueSize    int   `json:"queue_size"`
	RunningTasks int   `json:"running_tasks"`
	Stats        Stats `json:"stats"`
}

// Report summarizes one Run.
type Report struct {
	RunID     string        `json:"run_id"`
	Runtime   time.Duration `json:"runtime"`
	Completed int           `json:"completed"`
	Failed    int           `json:"failed"`
	Abandoned int           `json:"abandoned"`
}

// Scheduler drains the task queue through a bounded worker pool. It is the
// single place that decides retry versus terminal report: the fetch layer
// below only classifies.
type Scheduler struct {
	cfg       Config
	store     store.Store
	fetcher   Fetcher
	publisher publish.Publisher  // optional
	blobs     archive.BlobStore  // optional
	clock     clock.Clock
	logger    *zap.Logger

	queue *Queue

	mu        sync.Mutex
	running   map[string]*Task
	isRunning bool
	stats     Stats

	stopRequested atomic.Bool
}

// New constructs a Scheduler. publisher and blobs may be nil.
func New(
	cfg Config,
	st store.Store,
	fetcher Fetcher,
	publisher publish.Publisher,
	blobs archive.BlobStore,
	clk clock.Clock,
	logger *zap.Logger,
) *Scheduler {
	if clk == nil {
		clk = clock.NewSystem()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cfg:       cfg.withDefaults(),
		store:     st,
		fetcher:   fetcher,
		publisher: publisher,
		blobs:     blobs,
		clock:     clk,
		logger:    logger,
		queue:     NewQueue(),
		running:   make(map[string]*Task),
	}
}

// Schedule enqueues one restaurant for fetching after the given delay. It
// returns false without error when the restaurant is disabled, has no
// website, or already has a running task (duplicate scheduling of a
// running target is an idempotent no-op).
func (s *Scheduler) Schedule(ctx context.Context, slug string, priority Priority, delay time.Duration) (bool, error) {
	r, err := s.store.Restaurant(ctx, slug)
	if err != nil {
		return false, fmt.Errorf("look up restaurant %q: %w", slug, err)
	}
	if !r.Enabled || r.Website == "" {
		s.logger.Info("skipping restaurant: disabled or no website", zap.String("slug", slug))
		return false, nil
	}
	s.mu.Lock()
	_, busy := s.running[slug]
	s.mu.Unlock()
	if busy {
		s.logger.Info("restaurant already being fetched", zap.String("slug", slug))
		return false, nil
	}

	now := s.clock.Now()
	task := &Task{
		Target:       fetch.Target{URL: r.Website, Owner: slug},
		Priority:     priority,
		CreatedAt:    now,
		ScheduledFor: now.Add(delay),
		MaxRetries:   s.cfg.MaxRetries,
	}
	s.queue.Push(task)
	TasksScheduled.Inc()
	s.logger.Info("scheduled restaurant",
		zap.String("slug", slug),
		zap.Stringer("priority", priority),
		zap.Time("scheduled_for", task.ScheduledFor))
	return true, nil
}

// ScheduleAllStale enqueues every restaurant due for a re-fetch, staggering
// start times so a sweep of N targets does not burst N first-requests.
func (s *Scheduler) ScheduleAllStale(ctx context.Context) (int, error) {
	restaurants, err := s.store.ListStale(ctx, s.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("list stale restaurants: %w", err)
	}
	return s.scheduleBatch(ctx, restaurants, PriorityNormal, s.cfg.StaleStagger), nil
}

// ScheduleDistrict enqueues every restaurant in a district with a short
// stagger between members.
func (s *Scheduler) ScheduleDistrict(ctx context.Context, district string, priority Priority) (int, error) {
	restaurants, err := s.store.ListByDistrict(ctx, district)
	if err != nil {
		return 0, fmt.Errorf("list district %q: %w", district, err)
	}
	return s.scheduleBatch(ctx, restaurants, priority, s.cfg.GroupStagger), nil
}

// ScheduleNeighborhood enqueues every restaurant in a neighborhood with a
// short stagger between members.
func (s *Scheduler) ScheduleNeighborhood(ctx context.Context, neighborhood string, priority Priority) (int, error) {
	restaurants, err := s.store.ListByNeighborhood(ctx, neighborhood)
	if err != nil {
		return 0, fmt.Errorf("list neighborhood %q: %w", neighborhood, err)
	}
	return s.scheduleBatch(ctx, restaurants, priority, s.cfg.GroupStagger), nil
}

func (s *Scheduler) scheduleBatch(ctx context.Context, restaurants []store.Restaurant, priority Priority, stagger time.Duration) int {
	scheduled := 0
	for i, r := range restaurants {
		ok, err := s.Schedule(ctx, r.Slug, priority, time.Duration(i)*stagger)
		if err != nil {
			s.logger.Warn("schedule failed", zap.String("slug", r.Slug), zap.Error(err))
			continue
		}
		if ok {
			scheduled++
		}
	}
	s.logger.Info("batch scheduled", zap.Int("count", scheduled))
	return scheduled
}

// Stop requests a cooperative stop. The dispatch loop checks the flag
// between dequeues; in-flight fetches finish normally.
func (s *Scheduler) Stop() {
	s.stopRequested.Store(true)
	s.logger.Info("scheduler stop requested")
}

// Status returns a snapshot for the status API.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		IsRunning:    s.isRunning,
		QueueSize:    s.queue.Len(),
		RunningTasks: len(s.running),
		Stats:        s.stats,
	}
}

// Run drains the queue until it is empty and no tasks are in flight, or
// until a stop is requested or the context ends. Only one run may be
// active at a time.
func (s *Scheduler) Run(ctx context.Context) (Report, error) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return Report{}, ErrAlreadyRunning
	}
	s.isRunning = true
	before := s.stats
	s.mu.Unlock()
	s.stopRequested.Store(false)
	defer func() {
		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
	}()

	runID := uuid.NewString()
	start := s.clock.Now()
	s.logger.Info("scheduler run starting",
		zap.String("run_id", runID), zap.Int("queue_size", s.queue.Len()))

	slots := make(chan struct{}, s.cfg.MaxWorkers)
	var wg sync.WaitGroup

dispatch:
	for {
		if s.stopRequested.Load() || ctx.Err() != nil {
			break
		}
		task, ok := s.queue.Pop()
		if !ok {
			if s.runningCount() == 0 {
				break
			}
			sleep(ctx, s.cfg.PollInterval)
			continue
		}
		if !task.Ready(s.clock.Now()) {
			s.queue.Push(task)
			sleep(ctx, s.cfg.PollInterval)
			continue
		}

		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			s.queue.Push(task)
			break dispatch
		}

		s.mu.Lock()
		s.running[task.Target.Owner] = task
		s.mu.Unlock()

		wg.Add(1)
		go func(t *Task) {
			defer wg.Done()
			defer func() { <-slots }()
			s.execute(ctx, t)
		}(task)

		sleep(ctx, s.cfg.RateLimitDelay)
	}

	wg.Wait()
	runtime := s.clock.Now().Sub(start)

	s.mu.Lock()
	s.stats.TotalRuntime += runtime
	s.stats.LastRun = s.clock.Now()
	if s.stats.TasksCompleted > 0 {
		s.stats.AverageTaskTime = s.stats.TotalRuntime / time.Duration(s.stats.TasksCompleted)
	}
	after := s.stats
	s.mu.Unlock()

	report := Report{
		RunID:     runID,
		Runtime:   runtime,
		Completed: after.TasksCompleted - before.TasksCompleted,
		Failed:    after.TasksFailed - before.TasksFailed,
		Abandoned: after.TasksAbandoned - before.TasksAbandoned,
	}
	s.logger.Info("scheduler run finished",
		zap.String("run_id", runID),
		zap.Duration("runtime", runtime),
		zap.Int("completed", report.Completed),
		zap.Int("failed", report.Failed),
		zap.Int("abandoned", report.Abandoned))
	return report, nil
}

// execute runs one attempt. The worker owns the task only for the
// duration of the attempt; re-enqueueing happens after the attempt has
// been removed from the running set, so retries of a target are never
// concurrent with an in-flight attempt for that target.
func (s *Scheduler) execute(ctx context.Context, task *Task) {
	ActiveWorkers.Inc()
	defer ActiveWorkers.Dec()

	start := s.clock.Now()
	result := s.fetcher.Fetch(ctx, task.Target)
	elapsed := s.clock.Now().Sub(start)

	s.mu.Lock()
	delete(s.running, task.Target.Owner)
	s.mu.Unlock()

	s.handleResult(ctx, task, result, elapsed)
}

func (s *Scheduler) handleResult(ctx context.Context, task *Task, result fetch.Result, elapsed time.Duration) {
	switch {
	case result.OK():
		s.completeTask(ctx, task, result, elapsed)
	case result.Retryable() && task.RetryCount < task.MaxRetries:
		s.retryTask(task, result)
	case result.Retryable():
		s.abandonTask(ctx, task, result, elapsed)
	default:
		s.failTask(ctx, task, result, elapsed)
	}
}

func (s *Scheduler) completeTask(ctx context.Context, task *Task, result fetch.Result, elapsed time.Duration) {
	s.mu.Lock()
	s.stats.TasksCompleted++
	s.mu.Unlock()
	TasksTotal.WithLabelValues("completed").Inc()

	slug := task.Target.Owner
	archiveURI := s.archiveBody(ctx, slug, result.Body)
	s.record(ctx, task, result, elapsed, "success", archiveURI)
	if err := s.store.MarkScraped(ctx, slug, s.clock.Now()); err != nil {
		s.logger.Warn("mark scraped failed", zap.String("slug", slug), zap.Error(err))
	}
	s.publishEvent(ctx, task, "success", "")

	s.logger.Info("task completed",
		zap.String("slug", slug),
		zap.String("final_url", result.FinalURL),
		zap.Int("body_bytes", len(result.Body)),
		zap.Int("redirects", len(result.Redirects)),
		zap.Duration("elapsed", elapsed))
}

// retryTask pushes the task back with exponential backoff and a raised
// priority. Backoff is 2^retryCount units after the increment, so the gaps
// run 2, 4, 8 minutes at the default unit.
func (s *Scheduler) retryTask(task *Task, result fetch.Result) {
	s.mu.Lock()
	s.stats.TasksFailed++
	s.mu.Unlock()
	TasksTotal.WithLabelValues("retried").Inc()

	task.RetryCount++
	backoff := time.Duration(1<<uint(task.RetryCount)) * s.cfg.RetryBackoffUnit
	task.ScheduledFor = s.clock.Now().Add(backoff)
	task.Priority = task.Priority.Raise()
	s.queue.Push(task)

	s.logger.Warn("task failed; retrying",
		zap.String("slug", task.Target.Owner),
		zap.String("reason", result.Reason),
		zap.Int("retry_count", task.RetryCount),
		zap.Duration("backoff", backoff))
}

// abandonTask retires a task whose retry budget ran out. Abandonment is
// reported with the full attempt history, never silently dropped.
func (s *Scheduler) abandonTask(ctx context.Context, task *Task, result fetch.Result, elapsed time.Duration) {
	s.mu.Lock()
	s.stats.TasksFailed++
	s.stats.TasksAbandoned++
	s.mu.Unlock()
	TasksTotal.WithLabelValues("abandoned").Inc()

	s.record(ctx, task, result, elapsed, "abandoned", "")
	s.publishEvent(ctx, task, "abandoned", result.Reason)

	s.logger.Error("task abandoned: retry budget exhausted",
		zap.String("slug", task.Target.Owner),
		zap.String("url", task.Target.URL),
		zap.Int("attempts", task.RetryCount+1),
		zap.String("last_reason", result.Reason))
}

// failTask retires a permanently failed task. Permanent failures are
// logged once and never retried.
func (s *Scheduler) failTask(ctx context.Context, task *Task, result fetch.Result, elapsed time.Duration) {
	s.mu.Lock()
	s.stats.TasksFailed++
	s.mu.Unlock()
	TasksTotal.WithLabelValues("failed").Inc()

	s.record(ctx, task, result, elapsed, "permanent_failure", "")
	s.publishEvent(ctx, task, "permanent_failure", result.Reason)

	s.logger.Error("task permanently failed",
		zap.String("slug", task.Target.Owner),
		zap.String("url", task.Target.URL),
		zap.String("reason", result.Reason))
}

func (s *Scheduler) archiveBody(ctx context.Context, slug string, body []byte) string {
	if s.blobs == nil || len(body) == 0 {
		return ""
	}
	sum := sha256.Sum256(body)
	path := fmt.Sprintf("%s/%s/%s.html", s.cfg.ArchivePrefix, slug, hex.EncodeToString(sum[:]))
	uri, err := s.blobs.Put(ctx, path, "text/html; charset=utf-8", body)
	if err != nil {
		s.logger.Warn("archive body failed", zap.String("slug", slug), zap.Error(err))
		return ""
	}
	return uri
}

func (s *Scheduler) record(ctx context.Context, task *Task, result fetch.Result, elapsed time.Duration, status, archiveURI string) {
	rec := store.FetchRecord{
		ID:         uuid.NewString(),
		Slug:       task.Target.Owner,
		URL:        task.Target.URL,
		FinalURL:   result.FinalURL,
		Status:     status,
		StatusCode: result.StatusCode,
		Reason:     result.Reason,
		RetryCount: task.RetryCount,
		DurationMs: elapsed.Milliseconds(),
		BodyBytes:  len(result.Body),
		ArchiveURI: archiveURI,
		FetchedAt:  s.clock.Now(),
	}
	if err := s.store.RecordFetch(ctx, rec); err != nil {
		s.logger.Warn("record fetch failed",
			zap.String("slug", task.Target.Owner), zap.Error(err))
	}
}

func (s *Scheduler) publishEvent(ctx context.Context, task *Task, status, reason string) {
	if s.publisher == nil || s.cfg.Topic == "" {
		return
	}
	payload := map[string]any{
		"slug":        task.Target.Owner,
		"url":         task.Target.URL,
		"status":      status,
		"reason":      reason,
		"retry_count": task.RetryCount,
		"timestamp":   s.clock.Now().Format(time.RFC3339),
	}
	if _, err := s.publisher.Publish(ctx, s.cfg.Topic, payload); err != nil {
		s.logger.Warn("publish event failed",
			zap.String("slug", task.Target.Owner), zap.Error(err))
	}
}

func (s *Scheduler) runningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
