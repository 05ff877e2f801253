package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"spendwise-hq/meter/pkg/config"
	"spendwise-hq/meter/pkg/telemetry/metrics"
)

// Disabled is the schedule value that turns a job off.
const Disabled = "-"

var (
	// ErrUnknownJob is returned by RunNow for a job that was never added.
	ErrUnknownJob = errors.New("unknown job")

	// ErrJobRunning is returned by RunNow when the job is already running.
	ErrJobRunning = errors.New("job is already running")
)

// Job is a named unit of periodic work.
type Job struct {
	// Name identifies the job in logs and metrics.
	Name string

	// Schedule is a standard five-field cron spec. Empty or "-" disables
	// the job.
	Schedule string

	// Run does the work. It must return when ctx is done.
	Run func(ctx context.Context) error
}

// Config contains configuration for a Scheduler.
type Config struct {
	Jobs []Job

	// Timeout bounds each run.
	// Default: config.DefaultJobTimeout
	Timeout time.Duration

	// Location is the time zone schedules are read in. Defaults to UTC.
	Location *time.Location

	Logger  *slog.Logger
	Metrics *metrics.Collector
}

type job struct {
	Job
	entry   cron.EntryID
	running atomic.Bool
}

// Scheduler runs jobs on cron schedules. A run that would overlap an
// earlier run of the same job is skipped.
type Scheduler struct {
	cron    *cron.Cron
	jobs    map[string]*job
	timeout time.Duration
	logger  *slog.Logger
	metrics *metrics.Collector

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	running bool
}

// New validates every job schedule and creates a Scheduler. Disabled jobs
// are dropped.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = config.DefaultJobTimeout
	}

	logger := cfg.Logger.With("component", "scheduler")
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(cfg.Location),
			cron.WithLogger(cronLogger{logger}),
			cron.WithChain(cron.Recover(cronLogger{logger})),
		),
		jobs:    make(map[string]*job),
		timeout: cfg.Timeout,
		logger:  logger,
		metrics: cfg.Metrics,
	}

	for _, j := range cfg.Jobs {
		if j.Schedule == "" || j.Schedule == Disabled {
			s.logger.Info("job disabled", "job", j.Name)
			continue
		}
		if j.Run == nil {
			return nil, fmt.Errorf("job %q has no run function", j.Name)
		}
		if _, dup := s.jobs[j.Name]; dup {
			return nil, fmt.Errorf("duplicate job %q", j.Name)
		}
		if _, err := cron.ParseStandard(j.Schedule); err != nil {
			return nil, fmt.Errorf("invalid cron schedule %q for job %s: %w", j.Schedule, j.Name, err)
		}

		jj := &job{Job: j}
		id, err := s.cron.AddFunc(j.Schedule, func() { _ = s.run(s.baseContext(), jj) })
		if err != nil {
			return nil, fmt.Errorf("failed to schedule job %s: %w", j.Name, err)
		}
		jj.entry = id
		s.jobs[j.Name] = jj
	}
	return s, nil
}

// Start begins running jobs on schedule until ctx is done or Stop is
// called. Starting a scheduler without jobs is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	if len(s.jobs) == 0 {
		s.logger.Info("no jobs scheduled, skipping scheduler")
		return
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	s.running = true

	for _, name := range s.Jobs() {
		s.logger.Info("job scheduled",
			"job", name,
			"schedule", s.jobs[name].Schedule,
			"next_run", s.cron.Entry(s.jobs[name].entry).Next,
		)
	}

	go func() {
		<-s.ctx.Done()
		s.Stop()
	}()
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	done := s.cron.Stop()
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	<-done.Done()
	s.logger.Info("scheduler stopped")
}

// IsRunning reports whether the scheduler has been started and not stopped.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Jobs returns the names of the enabled jobs in sorted order.
func (s *Scheduler) Jobs() []string {
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NextRun returns the next scheduled run of a job, or nil when the job is
// unknown or the scheduler is not running.
func (s *Scheduler) NextRun(name string) *time.Time {
	j, ok := s.jobs[name]
	if !ok || !s.IsRunning() {
		return nil
	}
	next := s.cron.Entry(j.entry).Next
	return &next
}

// RunNow runs a job immediately on the caller's goroutine and returns its
// error. It fails with ErrJobRunning instead of overlapping another run.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	j, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.run(ctx, j)
}

func (s *Scheduler) baseContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

// run executes j unless it is already running.
func (s *Scheduler) run(ctx context.Context, j *job) error {
	if !j.running.CompareAndSwap(false, true) {
		s.logger.Warn("skipping job run, previous run still in progress", "job", j.Name)
		s.metrics.RecordJobSkipped(j.Name)
		return fmt.Errorf("%w: %s", ErrJobRunning, j.Name)
	}
	defer j.running.Store(false)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	s.logger.Debug("job started", "job", j.Name)
	err := j.Run(ctx)
	elapsed := time.Since(start)
	s.metrics.RecordJobRun(j.Name, err, elapsed)

	if err != nil {
		s.logger.Error("job failed",
			"job", j.Name,
			"duration", elapsed,
			"error", err,
		)
		return err
	}
	s.logger.Info("job completed", "job", j.Name, "duration", elapsed)
	return nil
}

// cronLogger adapts slog to the logger interface of robfig/cron.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
