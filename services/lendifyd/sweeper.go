package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"lendify/core/events"
	nativecommon "lendify/native/common"
	"lendify/native/lending"
	"lendify/native/rates"
	"lendify/observability"
)

// sweeper periodically accrues interest on every active loan so stored debt
// tracks the clock between borrower interactions.
type sweeper struct {
	engine *lending.Engine
	async  *events.Async
	logger *slog.Logger
	now    func() time.Time
}

// sweep runs one accrual pass and returns the number of loans touched.
func (s *sweeper) sweep() (int, error) {
	asOf := s.now()
	touched := 0
	var errs []error
	for _, loan := range s.engine.Loans() {
		if !loan.Active() {
			continue
		}
		if _, err := s.engine.AccrueInterest(loan.ID, asOf); err != nil {
			switch {
			case errors.Is(err, lending.ErrLoanNotActive),
				errors.Is(err, rates.ErrNegativeElapsedTime),
				errors.Is(err, lending.ErrFutureAccrual):
				// Closed, or asOf lies outside what the loan can accrue to.
				continue
			case errors.Is(err, nativecommon.ErrModulePaused):
				return touched, nil
			default:
				errs = append(errs, err)
				continue
			}
		}
		touched++
	}
	return touched, errors.Join(errs...)
}

func (s *sweeper) run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			touched, err := s.sweep()
			metrics := observability.Loans()
			metrics.RecordSweep(err != nil)
			metrics.SetOutstanding(s.engine.Outstanding())
			if s.async != nil {
				metrics.SetDropped(s.async.Dropped())
			}
			if err != nil {
				s.logger.Warn("accrual sweep incomplete", slog.Int("loans", touched), slog.Any("error", err))
				continue
			}
			s.logger.Debug("accrual sweep complete", slog.Int("loans", touched))
		}
	}
}
