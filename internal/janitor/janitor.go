// Package janitor runs the background sweeps: idle-session cleanup and
// cache TTL cleanup. Sweeps only ever remove entries, so they never
// block foreground request handling.
package janitor

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/mihulabs/mihu/pkg/conversation"
	"github.com/mihulabs/mihu/pkg/respcache"
)

// Options configures the sweep intervals.
type Options struct {
	Store         *conversation.Store
	Cache         *respcache.Cache
	SessionsEvery time.Duration
	CacheEvery    time.Duration
	Logger        zerolog.Logger
}

const defaultInterval = 10 * time.Minute

// Janitor owns the sweep schedule.
type Janitor struct {
	cron   *cron.Cron
	logger zerolog.Logger
}

// New creates a janitor with jobs registered but not yet running.
func New(opts Options) (*Janitor, error) {
	if opts.SessionsEvery <= 0 {
		opts.SessionsEvery = defaultInterval
	}
	if opts.CacheEvery <= 0 {
		opts.CacheEvery = defaultInterval
	}

	c := cron.New()

	if _, err := c.AddFunc(every(opts.SessionsEvery), func() {
		removed := opts.Store.Sweep()
		opts.Logger.Debug().Int("removed", removed).Msg("Session sweep finished")
	}); err != nil {
		return nil, fmt.Errorf("schedule session sweep: %w", err)
	}

	if _, err := c.AddFunc(every(opts.CacheEvery), func() {
		removed := opts.Cache.Sweep()
		opts.Logger.Debug().Int("removed", removed).Msg("Cache sweep finished")
	}); err != nil {
		return nil, fmt.Errorf("schedule cache sweep: %w", err)
	}

	return &Janitor{cron: c, logger: opts.Logger}, nil
}

func every(d time.Duration) string {
	return fmt.Sprintf("@every %s", d)
}

// Start begins running sweeps on their intervals.
func (j *Janitor) Start() {
	j.cron.Start()
	j.logger.Info().Msg("Janitor started")
}

// Stop halts scheduling and waits for any running sweep to finish.
func (j *Janitor) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
	j.logger.Info().Msg("Janitor stopped")
}
