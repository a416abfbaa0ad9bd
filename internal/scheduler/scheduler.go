// Package scheduler runs the periodic background jobs of the client.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/at-ishikawa/phrasebook/internal/config"
)

const (
	TagProbe = "connectivity-probe"
	TagPurge = "tombstone-purge"
)

type Prober interface {
	Check(ctx context.Context) bool
}

type Purger interface {
	PurgeTombstones(ctx context.Context) (int, error)
}

// Scheduler manages scheduled tasks for the application
type Scheduler struct {
	cron   *gocron.Scheduler
	cfg    config.SchedulerConfig
	prober Prober
	purger Purger
}

// New creates a scheduler. Either of prober and purger may be nil, in which
// case its job is not scheduled. Purge times are interpreted in loc.
func New(cfg config.SchedulerConfig, prober Prober, purger Purger, loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	cron := gocron.NewScheduler(loc)
	cron.SingletonModeAll()
	return &Scheduler{
		cron:   cron,
		cfg:    cfg,
		prober: prober,
		purger: purger,
	}
}

// Start registers the jobs and runs them in the background until ctx is done
// or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.prober != nil && s.cfg.ProbeInterval > 0 {
		if _, err := s.cron.Every(s.cfg.ProbeInterval).Tag(TagProbe).Do(func() {
			s.prober.Check(ctx)
		}); err != nil {
			return fmt.Errorf("gocron.Do(%s) > %w", TagProbe, err)
		}
	}
	if s.purger != nil && s.cfg.PurgeAt != "" {
		if _, err := s.cron.Every(1).Day().At(s.cfg.PurgeAt).Tag(TagPurge).Do(func() {
			s.purge(ctx)
		}); err != nil {
			return fmt.Errorf("gocron.Do(%s) > %w", TagPurge, err)
		}
	}

	s.cron.StartAsync()
	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop terminates all scheduled tasks
func (s *Scheduler) Stop() {
	if s.cron.IsRunning() {
		s.cron.Stop()
	}
}

// RunNow triggers every registered job immediately.
func (s *Scheduler) RunNow() {
	s.cron.RunAll()
}

func (s *Scheduler) purge(ctx context.Context) {
	purged, err := s.purger.PurgeTombstones(ctx)
	if err != nil {
		slog.Default().Error("failed to purge tombstones", "error", err)
		return
	}
	if purged > 0 {
		slog.Default().Info("purged tombstones", "count", purged)
	}
}
