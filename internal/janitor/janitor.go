// Package janitor runs the periodic housekeeping sweep behind the per-match
// reclaim timers. Timers cover the normal path; the sweep catches anything a
// missed or stopped timer left behind and keeps registry stats in the logs.
package janitor

import (
	"time"

	"github.com/go-co-op/gocron/v2"

	"arenaclash/server/internal/logging"
	"arenaclash/server/internal/match"
)

// Registry is the slice of the match registry the janitor needs.
type Registry interface {
	SweepExpired() int
	Stats() match.Stats
}

// Janitor schedules the periodic registry sweep.
type Janitor struct {
	scheduler gocron.Scheduler
	registry  Registry
	log       *logging.Logger
}

// New builds a janitor sweeping the registry at the given interval.
func New(interval time.Duration, registry Registry, log *logging.Logger) (*Janitor, error) {
	if log == nil {
		log = logging.L()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	j := &Janitor{
		scheduler: scheduler,
		registry:  registry,
		log:       log.With(logging.String("component", "janitor")),
	}
	if _, err := scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(j.sweep),
	); err != nil {
		_ = scheduler.Shutdown()
		return nil, err
	}
	return j, nil
}

// Start launches the sweep schedule.
func (j *Janitor) Start() {
	if j == nil {
		return
	}
	j.scheduler.Start()
}

// Stop shuts the scheduler down, waiting for a running sweep to finish.
func (j *Janitor) Stop() error {
	if j == nil {
		return nil
	}
	return j.scheduler.Shutdown()
}

func (j *Janitor) sweep() {
	if j.registry == nil {
		return
	}
	reclaimed := j.registry.SweepExpired()
	stats := j.registry.Stats()
	if reclaimed > 0 {
		j.log.Warn("sweep reclaimed matches missed by their timers",
			logging.Int("reclaimed", reclaimed))
	}
	j.log.Debug("registry sweep",
		logging.Int("waiting", stats.Waiting),
		logging.Int("active", stats.Active),
		logging.Int("finished", stats.Finished))
}
