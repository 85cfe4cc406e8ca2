package store

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"github.com/dotsetgreg/bmo/pkg/logger"
)

// Sweeper periodically removes expired rows from backends that do not
// expire keys natively.
type Sweeper struct {
	target Purger
	expr   string
	now    func() time.Time
}

func NewSweeper(target Purger, expr string) (*Sweeper, error) {
	if !gronx.New().IsValid(expr) {
		return nil, fmt.Errorf("invalid sweep cron expression %q", expr)
	}
	return &Sweeper{target: target, expr: expr, now: time.Now}, nil
}

// Next returns the next scheduled sweep strictly after ref.
func (s *Sweeper) Next(ref time.Time) (time.Time, error) {
	return gronx.NextTickAfter(s.expr, ref, false)
}

// SweepOnce purges expired entries and returns how many were removed.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	n, err := s.target.PurgeExpired(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logger.DebugCF("store", "Swept expired entries", map[string]interface{}{
			"purged": n,
		})
	}
	return n, nil
}

// Run blocks until ctx is cancelled, sweeping on every cron tick.
func (s *Sweeper) Run(ctx context.Context) {
	logger.InfoCF("store", "Expiry sweeper started", map[string]interface{}{
		"cron": s.expr,
	})
	for {
		next, err := s.Next(s.now())
		if err != nil {
			logger.ErrorCF("store", "Sweeper schedule failed", map[string]interface{}{
				"error": err.Error(),
			})
			return
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if _, err := s.SweepOnce(ctx); err != nil {
			logger.WarnCF("store", "Expiry sweep failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
}
