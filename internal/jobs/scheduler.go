// Package jobs schedules the ledger's periodic maintenance work.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/richxcame/points-ledger/pkg/logger"
	"go.uber.org/zap"
)

// Job is one periodic task
type Job struct {
	Name     string
	Interval time.Duration
	Timeout  time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler runs jobs on fixed intervals. With a distributed locker each
// tick runs on a single instance.
type Scheduler struct {
	sched gocron.Scheduler
}

// NewScheduler registers jobs with gocron. locker may be nil for single-instance runs.
func NewScheduler(locker gocron.Locker, jobs ...Job) (*Scheduler, error) {
	opts := []gocron.SchedulerOption{gocron.WithLogger(newZapLogger())}
	if locker != nil {
		opts = append(opts, gocron.WithDistributedLocker(locker))
	}

	sched, err := gocron.NewScheduler(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	for _, job := range jobs {
		if job.Interval <= 0 {
			logger.Warn("job disabled", zap.String("job", job.Name))
			continue
		}
		_, err := sched.NewJob(
			gocron.DurationJob(job.Interval),
			gocron.NewTask(func(ctx context.Context) { execute(ctx, job) }),
			gocron.WithName(job.Name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			_ = sched.Shutdown()
			return nil, fmt.Errorf("failed to register job %s: %w", job.Name, err)
		}
	}
	return &Scheduler{sched: sched}, nil
}

// Start begins running jobs in the background
func (s *Scheduler) Start() {
	s.sched.Start()
}

// Shutdown stops the scheduler and waits for running jobs
func (s *Scheduler) Shutdown() error {
	return s.sched.Shutdown()
}

// execute runs one tick of a job, recording its outcome
func execute(ctx context.Context, job Job) {
	if job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}

	start := time.Now()
	err := job.Run(ctx)
	jobDuration.WithLabelValues(job.Name).Observe(time.Since(start).Seconds())

	if err != nil {
		jobRuns.WithLabelValues(job.Name, "error").Inc()
		logger.Error("job failed", zap.String("job", job.Name), zap.Error(err))
		return
	}
	jobRuns.WithLabelValues(job.Name, "ok").Inc()
}

// zapLogger routes gocron's own logging into zap
type zapLogger struct {
	sugar *zap.SugaredLogger
}

func newZapLogger() gocron.Logger {
	return &zapLogger{sugar: logger.Get().Named("gocron").Sugar()}
}

func (l *zapLogger) Debug(msg string, args ...any) { l.sugar.Debugw(msg, args...) }
func (l *zapLogger) Error(msg string, args ...any) { l.sugar.Errorw(msg, args...) }
func (l *zapLogger) Info(msg string, args ...any)  { l.sugar.Infow(msg, args...) }
func (l *zapLogger) Warn(msg string, args ...any)  { l.sugar.Warnw(msg, args...) }
