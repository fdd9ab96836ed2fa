package scheduler

import (
	"time"

	"github.com/smallbiznis/fxquote/internal/config"
)

// Config controls the run loop and per-job limits.
type Config struct {
	Enabled    bool
	Interval   time.Duration
	JobTimeout time.Duration
	// LockTTL bounds how long a replica holds the distributed job lock.
	LockTTL time.Duration
}

func DefaultConfig() Config {
	return Config{
		Enabled:    true,
		Interval:   time.Hour,
		JobTimeout: 2 * time.Minute,
		LockTTL:    5 * time.Minute,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		Enabled:    cfg.Scheduler.Enabled,
		Interval:   cfg.Scheduler.Interval,
		JobTimeout: cfg.Scheduler.JobTimeout,
		LockTTL:    cfg.Scheduler.LockTTL,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = defaults.Interval
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.LockTTL < c.JobTimeout {
		c.LockTTL = c.JobTimeout + time.Minute
	}
	return c
}
