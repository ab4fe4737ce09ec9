package services

import (
	"context"
	"fmt"
	"time"

	"github.com/diehardfans/raffle-api/internal/metrics"
	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog/log"
)

// Scheduled job names, also used as the metrics label
const (
	JobOpenRaffles = "open_raffles"
	JobDrawRaffles = "draw_raffles"
)

// RaffleScheduler periodically opens scheduled drafts and draws raffles past their draw date
type RaffleScheduler struct {
	raffles  RaffleService
	metrics  *metrics.Metrics
	interval time.Duration
	timeout  time.Duration
	sched    gocron.Scheduler
}

// NewRaffleScheduler creates a scheduler that runs both jobs every interval
func NewRaffleScheduler(raffles RaffleService, m *metrics.Metrics, interval time.Duration) (*RaffleScheduler, error) {
	if interval <= 0 {
		interval = time.Minute
	}
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	s := &RaffleScheduler{
		raffles:  raffles,
		metrics:  m,
		interval: interval,
		timeout:  interval,
		sched:    sched,
	}

	jobs := []struct {
		name string
		run  func(context.Context) (int, error)
	}{
		{JobOpenRaffles, raffles.OpenScheduledRaffles},
		{JobDrawRaffles, raffles.DrawDueRaffles},
	}
	for _, job := range jobs {
		job := job
		_, err := sched.NewJob(
			gocron.DurationJob(interval),
			gocron.NewTask(func() { s.RunOnce(context.Background(), job.name, job.run) }),
			gocron.WithName(job.name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to schedule %s: %w", job.name, err)
		}
	}
	return s, nil
}

// Start begins running the jobs in the background
func (s *RaffleScheduler) Start() {
	s.sched.Start()
	log.Info().Dur("interval", s.interval).Msg("Raffle scheduler started")
}

// Shutdown stops the scheduler and waits for running jobs
func (s *RaffleScheduler) Shutdown() error {
	return s.sched.Shutdown()
}

// RunOnce executes one job run with a timeout and records the outcome
func (s *RaffleScheduler) RunOnce(ctx context.Context, name string, run func(context.Context) (int, error)) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	count, err := run(ctx)
	s.metrics.SchedulerRun(name, err)
	if err != nil {
		log.Error().Err(err).Str("job", name).Msg("Scheduled job failed")
		return
	}
	if count > 0 {
		log.Info().Str("job", name).Int("raffles", count).Msg("Scheduled job finished")
	}
}
