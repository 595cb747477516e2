package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is one scheduled unit of background work.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// cronParser accepts both 5-field expressions and 6-field ones with a
// leading seconds field, plus descriptors such as "@hourly".
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ValidateCron reports whether spec is a schedule the Scheduler accepts.
func ValidateCron(spec string) error {
	_, err := cronParser.Parse(spec)
	return err
}

// Scheduler runs Jobs on cron schedules. A job still running when its next
// tick fires is skipped rather than stacked.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler creates an idle Scheduler.
func NewScheduler(logger *slog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(cronParser),
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		logger: logger.With(slog.String("component", "scheduler")),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add registers job under spec.
func (s *Scheduler) Add(spec string, job Job) error {
	_, err := s.cron.AddFunc(spec, func() { s.runOnce(job) })
	if err != nil {
		return fmt.Errorf("pipeline: schedule %s %q: %w", job.Name(), spec, err)
	}
	s.logger.Info("job scheduled", slog.String("job", job.Name()), slog.String("cron", spec))
	return nil
}

func (s *Scheduler) runOnce(job Job) {
	start := time.Now()
	if err := job.Run(s.ctx); err != nil {
		if s.ctx.Err() != nil {
			return
		}
		s.logger.Error("job failed",
			slog.String("job", job.Name()),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.Debug("job finished",
		slog.String("job", job.Name()),
		slog.Duration("elapsed", time.Since(start)),
	)
}

// Run starts the schedule and blocks until ctx is cancelled, then waits for
// running jobs to return.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", slog.Int("jobs", len(s.cron.Entries())))
	s.cron.Start()
	<-ctx.Done()
	s.cancel()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
	return nil
}
