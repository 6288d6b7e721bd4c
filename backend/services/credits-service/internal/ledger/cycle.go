package ledger

import (
	"context"
	"time"

	"go.uber.org/zap"

	"storyforge/backend/services/credits-service/internal/models"
	"storyforge/backend/services/credits-service/internal/repository"
)

// ReasonRolloverCapExceeded tags bonus credits forfeited at a cycle boundary.
const ReasonRolloverCapExceeded = "rollover_cap_exceeded"

// ResetCycle applies a due cycle reset to the account. reset is false when
// the cycle has not ended or a reservation is still outstanding.
//
// While a reset is deferred the account stays on the old cycle, so a reserve
// taken after the boundary is checked against the old, possibly exhausted,
// allowance and may fail with insufficient credits. The stale reservation
// sweeper bounds how long that lasts. Commits made in that window record the
// old cycle as the one they were charged to, which Refund relies on.
func (l *Ledger) ResetCycle(ctx context.Context, userID string) (status models.Status, reset bool, err error) {
	if err := validateUser(userID); err != nil {
		return models.Status{}, false, err
	}
	if _, err := l.ensure(ctx, userID); err != nil {
		return models.Status{}, false, err
	}
	err = l.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		acct, err := tx.LockAccount(ctx, userID)
		if err != nil {
			return err
		}
		if reset, err = l.applyCycle(ctx, tx, &acct); err != nil {
			return err
		}
		status = acct.Status()
		return nil
	})
	if err != nil {
		return models.Status{}, false, l.wrap("reset cycle", err)
	}
	if reset {
		l.notify(ctx, userID, "", models.TxUsage, status)
	}
	return status, reset, nil
}

// applyCycle resets the monthly pool when the cycle has ended and nothing is
// reserved. Unused bonus carries over up to one cycle's allowance; the excess
// is logged as a usage entry. The account is saved when it changes.
func (l *Ledger) applyCycle(ctx context.Context, tx repository.Tx, acct *models.CreditAccount) (bool, error) {
	now := l.clock()
	if now.Before(acct.CycleEndAt) {
		return false, nil
	}
	if acct.HasOutstanding() {
		l.logger.Debug("cycle reset deferred", zap.String("user_id", acct.UserID))
		return false, nil
	}

	endedAt := acct.CycleEndAt
	unused := acct.BonusCreditsTotal - acct.BonusCreditsUsed
	if unused < 0 {
		unused = 0
	}
	carried := unused
	if !acct.Unlimited() && carried > acct.MonthlyCreditsPerCycle {
		carried = acct.MonthlyCreditsPerCycle
	}
	forfeited := unused - carried

	acct.MonthlyCreditsUsed = 0
	acct.ReservedMonthly = 0
	acct.BonusCreditsTotal = carried
	acct.BonusCreditsUsed = 0
	acct.CycleStartAt, acct.CycleEndAt = l.advance(acct.CycleStartAt, acct.CycleEndAt, now)
	acct.UpdatedAt = now

	if err := tx.SaveAccount(ctx, *acct); err != nil {
		return false, err
	}
	if forfeited > 0 {
		entry := l.newEntry(acct, "", models.TxUsage, -forfeited, 0, forfeited, models.Metadata{
			Rollover: &models.RolloverMetadata{
				Reason:       ReasonRolloverCapExceeded,
				CarriedOver:  carried,
				Forfeited:    forfeited,
				CycleEndedAt: endedAt.Format(time.RFC3339),
			},
		})
		entry.Description = "bonus rollover cap exceeded"
		if err := tx.AppendTransaction(ctx, entry); err != nil {
			return false, err
		}
		l.metrics.forfeit(forfeited)
	}
	l.metrics.cycleReset()
	l.logger.Info("credit cycle reset",
		zap.String("user_id", acct.UserID),
		zap.Time("cycle_start_at", acct.CycleStartAt),
		zap.Int64("bonus_carried", carried),
		zap.Int64("bonus_forfeited", forfeited),
	)
	return true, nil
}

// advance moves the window forward by whole periods until it contains now.
func (l *Ledger) advance(start, end, now time.Time) (time.Time, time.Time) {
	for !now.Before(end) {
		next := l.period.Next(end)
		if !next.After(end) {
			return now, l.period.Next(now)
		}
		start, end = end, next
	}
	return start, end
}
