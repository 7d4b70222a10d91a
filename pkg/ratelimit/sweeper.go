package ratelimit

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultSweepSchedule runs the sweep once an hour.
	DefaultSweepSchedule = "@every 1h"
	// DefaultSweepMaxAge is the age past which idle windows are dropped.
	DefaultSweepMaxAge = time.Hour
)

// Sweeper periodically drops stale limiter state so memory stays bounded.
type Sweeper struct {
	limiter Limiter
	maxAge  time.Duration
	cron    *cron.Cron
	log     *logrus.Entry
}

// NewSweeper schedules limiter.Sweep(maxAge) on the cron schedule. An empty
// schedule or zero maxAge selects the defaults. The sweeper does nothing
// until Start is called.
func NewSweeper(limiter Limiter, schedule string, maxAge time.Duration) (*Sweeper, error) {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	if maxAge <= 0 {
		maxAge = DefaultSweepMaxAge
	}
	s := &Sweeper{
		limiter: limiter,
		maxAge:  maxAge,
		cron:    cron.New(),
		log:     logrus.WithField("component", "ratelimit-sweeper"),
	}
	if _, err := s.cron.AddFunc(schedule, s.sweep); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins sweeping in the background.
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Sweeper) sweep() {
	if n := s.limiter.Sweep(s.maxAge); n > 0 {
		s.log.WithField("removed", n).Debug("Swept idle rate limit windows")
	}
}
