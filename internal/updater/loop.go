// Package updater drives the update scanner on a fixed start-to-start cadence.
package updater

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/comicfeed/internal/feed"
	"github.com/JakeFAU/comicfeed/internal/scanner"
)

// DefaultPeriod is the start-to-start interval between passes.
const DefaultPeriod = 5 * time.Minute

// Scanner runs one update pass.
type Scanner interface {
	Scan(ctx context.Context) (scanner.Report, error)
}

// Loop runs a pass, then sleeps for whatever is left of the period.
type Loop struct {
	scanner Scanner
	clock   feed.Clock
	period  time.Duration
	logger  *zap.Logger
}

// New constructs a Loop.
func New(s Scanner, clock feed.Clock, period time.Duration, logger *zap.Logger) *Loop {
	if period <= 0 {
		period = DefaultPeriod
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{scanner: s, clock: clock, period: period, logger: logger}
}

// Remaining returns how long to sleep after a pass that took elapsed so the
// next pass starts one period after this one did. It never goes negative.
func Remaining(period, elapsed time.Duration) time.Duration {
	if elapsed >= period {
		return 0
	}
	return period - elapsed
}

// Run loops until ctx is done. Pass errors and panics are logged and never
// stop the loop.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Info("update loop started", zap.Duration("period", l.period))
	for ctx.Err() == nil {
		start := l.clock.Now()
		if err := l.runPass(ctx); err != nil {
			l.logger.Error("update pass failed", zap.Error(err))
		}
		elapsed := l.clock.Now().Sub(start)
		wait := Remaining(l.period, elapsed)
		if elapsed >= l.period {
			l.logger.Warn("update pass overran its period",
				zap.Duration("elapsed", elapsed), zap.Duration("period", l.period))
		}
		if err := l.clock.Sleep(ctx, wait); err != nil {
			break
		}
	}
	l.logger.Info("update loop stopped")
}

func (l *Loop) runPass(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("update pass panicked: %v", r)
		}
	}()
	if _, err := l.scanner.Scan(ctx); err != nil {
		return fmt.Errorf("scan: %w", err)
	}
	return nil
}
