package scheduler

import (
	"context"

	"github.com/quantello/marketsync/internal/sync"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// maxContinuations caps the in-scheduler resume loop so a runaway token
// chain cannot pin a cron slot forever.
const maxContinuations = 50

// Scheduler is the optional in-process trigger. Each cron entry invokes
// the runner once and then replays continuation tokens until the job
// reports done.
type Scheduler struct {
	cron   *cron.Cron
	runner *sync.Runner
	logger zerolog.Logger
}

func New(runner *sync.Runner, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(),
		runner: runner,
		logger: logger.With().Str("component", "scheduler").Logger(),
	}
}

// Register adds one job schedule. Invalid cron expressions are reported,
// not fatal: the HTTP trigger still works without them.
func (s *Scheduler) Register(jobName, spec string) error {
	_, err := s.cron.AddFunc(spec, func() {
		s.trigger(jobName)
	})
	if err != nil {
		s.logger.Error().Err(err).Str("job", jobName).Str("spec", spec).Msg("invalid schedule")
		return err
	}
	s.logger.Info().Str("job", jobName).Str("spec", spec).Msg("job scheduled")
	return nil
}

func (s *Scheduler) trigger(jobName string) {
	ctx := context.Background()
	params := sync.RunParams{JobName: jobName}

	for i := 0; i <= maxContinuations; i++ {
		result := s.runner.RunJob(ctx, params)
		if result.Skipped {
			s.logger.Info().Str("job", jobName).Msg("scheduled run skipped; lease held elsewhere")
			return
		}
		if !result.Success {
			s.logger.Error().Str("job", jobName).Str("error", result.Error).Msg("scheduled run failed")
			return
		}
		if result.ContinuationToken == "" {
			s.logger.Info().
				Str("job", jobName).
				Int64("fetched", result.Fetched).
				Int64("written", result.Written).
				Msg("scheduled run complete")
			return
		}
		params.ContinuationToken = result.ContinuationToken
	}
	s.logger.Warn().Str("job", jobName).Msg("continuation limit reached; remaining pages left for the next trigger")
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for in-flight triggers.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
