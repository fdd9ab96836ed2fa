package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fxquote/internal/clock"
	"github.com/smallbiznis/fxquote/internal/ingestion"
	obsmetrics "github.com/smallbiznis/fxquote/internal/observability/metrics"
	"github.com/smallbiznis/fxquote/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const lockKeyPrefix = "fxquote:scheduler:lock:"

var (
	ErrAlreadyRunning = errors.New("job_already_running")
	ErrUnknownJob     = errors.New("unknown_job")
	ErrStopped        = errors.New("scheduler_stopped")
)

// Locker serialises a job across replicas.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, key, token string) error
}

type Params struct {
	fx.In

	Log       *zap.Logger
	Clock     clock.Clock
	GenID     *snowflake.Node
	Config    Config
	Ingestion *ingestion.Job    `optional:"true"`
	Locker    *ratelimit.Locker `optional:"true"`
}

type job struct {
	name    string
	timeout time.Duration
	run     func(ctx context.Context) error
	running atomic.Bool
}

type Scheduler struct {
	log    *zap.Logger
	clock  clock.Clock
	genID  *snowflake.Node
	cfg    Config
	locker Locker

	jobs map[string]*job

	baseCtx context.Context
	cancel  context.CancelFunc
	started atomic.Bool
	wg      sync.WaitGroup
}

func New(p Params) *Scheduler {
	s := newScheduler(p.Log, p.Clock, p.GenID, p.Config)
	if p.Locker != nil {
		s.locker = p.Locker
	}
	if p.Ingestion != nil {
		s.Register(ingestion.JobName, s.cfg.JobTimeout, func(ctx context.Context) error {
			_, err := p.Ingestion.Run(ctx)
			return err
		})
	}
	return s
}

func newScheduler(log *zap.Logger, clk clock.Clock, genID *snowflake.Node, cfg Config) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		log:     log.Named("scheduler").With(zap.String("component", "scheduler")),
		clock:   clk,
		genID:   genID,
		cfg:     cfg.withDefaults(),
		jobs:    make(map[string]*job),
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// Register adds a job run on every tick. Registering a name twice replaces
// the earlier job.
func (s *Scheduler) Register(name string, timeout time.Duration, fn func(ctx context.Context) error) {
	if timeout <= 0 {
		timeout = s.cfg.JobTimeout
	}
	s.jobs[name] = &job{name: name, timeout: timeout, run: fn}
}

func (s *Scheduler) Jobs() []string {
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start launches the run loop. The first run happens immediately.
func (s *Scheduler) Start() error {
	if !s.started.CompareAndSwap(false, true) {
		return nil
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.RunForever(s.baseCtx)
	}()
	s.log.Info("scheduler started", zap.Duration("interval", s.cfg.Interval), zap.Strings("jobs", s.Jobs()))
	return nil
}

// Stop cancels running jobs and waits for them to return or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	nextRun := time.Now().Add(s.cfg.Interval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if runLag := time.Since(nextRun); runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		nextRun = nextRun.Add(s.cfg.Interval)
	}
}

// RunOnce runs every registered job. Jobs already in flight are skipped.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	var err error
	for _, name := range s.Jobs() {
		runErr := s.Run(ctx, name)
		if errors.Is(runErr, ErrAlreadyRunning) {
			continue
		}
		err = errors.Join(err, runErr)
	}
	return err
}

// Run executes one job synchronously through the in-flight guard.
func (s *Scheduler) Run(ctx context.Context, name string) error {
	j, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	if !s.acquire(j) {
		return ErrAlreadyRunning
	}
	defer j.running.Store(false)
	return s.execute(ctx, j, triggerTick)
}

// TriggerNow starts one run of name in the background. It fails fast with
// ErrAlreadyRunning when a run is active.
func (s *Scheduler) TriggerNow(name string) error {
	j, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	if s.baseCtx.Err() != nil {
		return ErrStopped
	}
	if !s.acquire(j) {
		return ErrAlreadyRunning
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer j.running.Store(false)
		if err := s.execute(s.baseCtx, j, triggerManual); err != nil {
			s.log.Warn("manual job run failed", zap.String("job", name), zap.Error(err))
		}
	}()
	return nil
}

func (s *Scheduler) acquire(j *job) bool {
	if j.running.CompareAndSwap(false, true) {
		return true
	}
	obsmetrics.Scheduler().IncJobSkipped(j.name, obsmetrics.SchedulerSkipReasonInFlight)
	s.log.Info("job already in flight, skipping", zap.String("job", j.name))
	return false
}

// execute takes the distributed lock when configured and runs the job.
func (s *Scheduler) execute(ctx context.Context, j *job, trigger string) error {
	leased := s.locker != nil
	if leased {
		key := lockKeyPrefix + j.name
		token, ok, err := s.locker.TryLock(ctx, key, s.cfg.LockTTL)
		if err != nil {
			obsmetrics.Scheduler().IncJobSkipped(j.name, obsmetrics.SchedulerSkipReasonLockFailed)
			return fmt.Errorf("%s: acquire lock: %w", j.name, err)
		}
		if !ok {
			obsmetrics.Scheduler().IncJobSkipped(j.name, obsmetrics.SchedulerSkipReasonLockHeld)
			s.log.Debug("job lock held by another replica", zap.String("job", j.name))
			return nil
		}
		defer func() {
			if err := s.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
				s.log.Warn("failed to release job lock", zap.String("job", j.name), zap.Error(err))
			}
		}()
	}

	ctx, run := s.startJobRun(ctx, j.name, trigger, leased)
	s.logJobStart(ctx, run)
	err := s.runJob(ctx, j.name, j.timeout, j.run)
	s.logJobFinish(ctx, run, err)
	return err
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, time.Since(start))
	if err == nil {
		schedMetrics.SetLastSuccess(name, s.clock.Now())
		return nil
	}

	// a deadline is a soft failure; the next tick retries
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		s.logger(ctx).Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}
