package events

import (
	"context"
	"time"
)

// Sweeper periodically reclaims expired subscriptions. It implements
// suture.Service.
type Sweeper struct {
	m        *Manager
	interval time.Duration
}

// NewSweeper creates a sweeper running at the manager's sweep interval.
func NewSweeper(m *Manager) *Sweeper {
	return &Sweeper{m: m, interval: m.opts.SweepInterval}
}

// Serve sweeps until ctx is canceled.
func (s *Sweeper) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n := s.m.Sweep(); n > 0 {
				s.m.log.Debug().Int("removed", n).Msg("expired subscriptions swept")
			}
		}
	}
}

// String names the service in supervisor logs.
func (s *Sweeper) String() string {
	return "subscription-sweeper"
}
