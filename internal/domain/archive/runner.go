package archive

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Runner drives the archive service on a fixed interval. The interval is
// deliberately shorter than the midnight window so no patient's window
// can fall between two ticks.
type Runner struct {
	cron *cron.Cron
	svc  *Service
	log  zerolog.Logger
}

// NewRunner schedules the service every interval.
func NewRunner(svc *Service, interval time.Duration, log zerolog.Logger) *Runner {
	r := &Runner{
		cron: cron.New(),
		svc:  svc,
		log:  log.With().Str("component", "archive_runner").Logger(),
	}
	r.cron.Schedule(cron.Every(interval), cron.FuncJob(func() {
		report := r.svc.Run(context.Background())
		if report.Failed > 0 {
			r.log.Warn().Int("failed", report.Failed).Msg("archive run had per-patient failures")
		}
	}))
	return r
}

// Start begins ticking in the background.
func (r *Runner) Start() {
	r.cron.Start()
	r.log.Info().Msg("archive runner started")
}

// Stop halts the schedule and waits for a running job to finish.
func (r *Runner) Stop() {
	<-r.cron.Stop().Done()
	r.log.Info().Msg("archive runner stopped")
}
