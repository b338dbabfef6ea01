// Package reaper periodically releases review holds whose 30 minute window
// has lapsed, so abandoned reviews never block other reviewers for long.
package reaper

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/room-reservation/internal/reviewlock"
)

// DefaultInterval is how often Run sweeps when no interval is given.
const DefaultInterval = 5 * time.Minute

// Reaper runs reviewlock sweeps.
type Reaper struct {
	locks    *reviewlock.Manager
	log      *logrus.Entry
	interval time.Duration
	now      func() time.Time
}

// New returns a Reaper.  A zero interval means DefaultInterval.
func New(locks *reviewlock.Manager, interval time.Duration, log *logrus.Entry) *Reaper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Reaper{locks: locks, log: log.WithField("component", "reaper"), interval: interval, now: time.Now}
}

// Interval reports the sweep period.
func (r *Reaper) Interval() time.Duration { return r.interval }

// Sweep releases every hold that expired before now and reports how many
// were released.  Running it twice in a row releases nothing the second
// time.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	start := r.now()
	n, err := r.locks.SweepExpired(ctx, start)
	if err != nil {
		r.log.WithError(err).WithField("released", n).Error("review sweep failed")
		return n, err
	}
	if n > 0 {
		r.log.WithFields(logrus.Fields{
			"released": n,
			"took":     time.Since(start).String(),
		}).Info("expired review holds released")
	} else {
		r.log.Debug("no expired review holds")
	}
	return n, nil
}

// Run sweeps once immediately and then every interval until ctx is done.
// Sweep failures are logged and the loop keeps going.
func (r *Reaper) Run(ctx context.Context) {
	r.log.WithField("interval", r.interval.String()).Info("reaper started")
	_, _ = r.Sweep(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.log.Info("reaper stopped")
			return
		case <-ticker.C:
			_, _ = r.Sweep(ctx)
		}
	}
}
