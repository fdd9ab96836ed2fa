package scheduler

import (
	"context"
	"time"

	obslogger "github.com/smallbiznis/fxquote/internal/observability/logger"
	"go.uber.org/zap"
)

const (
	triggerTick   = "tick"
	triggerManual = "manual"
)

// jobRun identifies one execution in logs. runID is a snowflake so runs
// sort by start time across replicas.
type jobRun struct {
	job       string
	runID     string
	trigger   string
	leased    bool
	startedAt time.Time
}

type jobRunKey struct{}

func (s *Scheduler) startJobRun(ctx context.Context, job, trigger string, leased bool) (context.Context, *jobRun) {
	run := &jobRun{
		job:       job,
		runID:     s.genID.Generate().String(),
		trigger:   trigger,
		leased:    leased,
		startedAt: s.clock.Now(),
	}
	return context.WithValue(ctx, jobRunKey{}, run), run
}

func jobRunFromContext(ctx context.Context) *jobRun {
	if ctx == nil {
		return nil
	}
	run, _ := ctx.Value(jobRunKey{}).(*jobRun)
	return run
}

func (s *Scheduler) logger(ctx context.Context) *zap.Logger {
	log := obslogger.WithContext(ctx, s.log)
	if run := jobRunFromContext(ctx); run != nil {
		log = log.With(zap.String("job", run.job), zap.String("run_id", run.runID))
	}
	return log
}

func (s *Scheduler) logJobStart(ctx context.Context, run *jobRun) {
	s.logger(ctx).Info("scheduler.job.start",
		zap.String("trigger", run.trigger),
		zap.Bool("leased", run.leased),
	)
}

func (s *Scheduler) logJobFinish(ctx context.Context, run *jobRun, err error) {
	fields := []zap.Field{
		zap.String("trigger", run.trigger),
		zap.Int64("duration_ms", s.clock.Now().Sub(run.startedAt).Milliseconds()),
	}
	if err != nil {
		s.logger(ctx).Warn("scheduler.job.finish", append(fields, zap.Error(err))...)
		return
	}
	s.logger(ctx).Info("scheduler.job.finish", fields...)
}
