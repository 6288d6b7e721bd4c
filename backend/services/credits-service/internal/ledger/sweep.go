package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ReasonStaleSweep tags releases issued by ReleaseStale.
const ReasonStaleSweep = "stale_reservation_sweep"

// SweepResult summarizes one ReleaseStale pass.
type SweepResult struct {
	Scanned  int `json:"scanned"`
	Released int `json:"released"`
	Skipped  int `json:"skipped"`
}

// ReleaseStale releases reservations that have been outstanding for longer
// than olderThan. Requests settled concurrently are skipped. Individual
// failures do not stop the pass and are returned joined.
func (l *Ledger) ReleaseStale(ctx context.Context, olderThan time.Duration, limit int) (SweepResult, error) {
	if olderThan <= 0 {
		return SweepResult{}, invalid("older_than must be positive")
	}
	cutoff := l.clock().Add(-olderThan)
	stale, err := l.store.StaleReservations(ctx, cutoff, limit)
	if err != nil {
		return SweepResult{}, l.wrap("stale reservations", err)
	}

	result := SweepResult{Scanned: len(stale)}
	var errs []error
	for _, res := range stale {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		out, err := l.Release(ctx, SettleRequest{
			UserID:    res.UserID,
			RequestID: res.RequestID,
			Reason:    ReasonStaleSweep,
		})
		switch {
		case errors.Is(err, ErrMissingReservation):
			result.Skipped++
		case err != nil:
			errs = append(errs, fmt.Errorf("release %s/%s: %w", res.UserID, res.RequestID, err))
		case out.Status == StatusReleased:
			result.Released++
		default:
			result.Skipped++
		}
	}

	l.metrics.swept(result.Released)
	if result.Scanned > 0 {
		l.logger.Info("stale reservations swept",
			zap.Time("cutoff", cutoff),
			zap.Int("scanned", result.Scanned),
			zap.Int("released", result.Released),
			zap.Int("skipped", result.Skipped),
		)
	}
	return result, errors.Join(errs...)
}

// RunSweeper calls ReleaseStale every interval until ctx is done.
func (l *Ledger) RunSweeper(ctx context.Context, interval, olderThan time.Duration, batch int) {
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
			if _, err := l.ReleaseStale(ctx, olderThan, batch); err != nil && ctx.Err() == nil {
				l.logger.Warn("stale reservation sweep failed", zap.Error(err))
			}
		}
	}
}
