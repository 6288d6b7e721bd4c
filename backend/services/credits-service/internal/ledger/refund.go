package ledger

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"storyforge/backend/services/credits-service/internal/models"
	"storyforge/backend/services/credits-service/internal/repository"
)

// Reconcile actions.
const (
	ActionRefund   = "refund"
	ActionRelease  = "release"
	ActionNone     = "none"
	ActionFallback = "fallback"
)

// Refund reverses a committed request once. A second call reports
// already_refunded; a request that was never committed reports
// nothing_to_refund. Both are successes.
//
// When the commit belongs to an earlier cycle the monthly usage it counted has
// already been reset, so the whole amount is credited to the bonus pool.
func (l *Ledger) Refund(ctx context.Context, req SettleRequest) (Result, error) {
	start := time.Now()
	requestID, err := validateKeys(req.UserID, req.RequestID)
	if err != nil {
		l.metrics.observe("refund", err, start)
		return Result{OK: false, Reason: Reason(err)}, err
	}

	var (
		result Result
		wrote  bool
	)
	err = l.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		acct, err := tx.LockAccount(ctx, req.UserID)
		if isNotFound(err) {
			result = Result{OK: true, Status: StatusNothingToRefund, RequestID: requestID}
			return nil
		}
		if err != nil {
			return err
		}
		history, err := tx.RequestHistory(ctx, req.UserID, requestID)
		if err != nil {
			return err
		}
		if _, err := l.applyCycle(ctx, tx, &acct); err != nil {
			return err
		}

		rl := resolve(history)
		switch rl.state {
		case StateRefunded:
			result = accountResult(&acct, requestID)
			result.Status = StatusAlreadyRefunded
			return nil
		case StateCommitted:
		default:
			result = accountResult(&acct, requestID)
			result.Status = StatusNothingToRefund
			return nil
		}

		monthly, bonus := rl.commit.MonthlyAmount, rl.commit.BonusAmount
		meta := settlement(req)
		if chargedCycle(rl).Before(acct.CycleStartAt) {
			acct.BonusCreditsTotal += monthly + bonus
			if meta.Settlement == nil {
				meta.Settlement = &models.SettlementMetadata{}
			}
			meta.Settlement.CrossCycle = true
		} else {
			acct.MonthlyCreditsUsed = max(acct.MonthlyCreditsUsed-monthly, 0)
			acct.BonusCreditsUsed = max(acct.BonusCreditsUsed-bonus, 0)
		}
		acct.UpdatedAt = l.clock()
		if err := tx.SaveAccount(ctx, acct); err != nil {
			return err
		}

		entry := l.newEntry(&acct, requestID, models.TxRefund, monthly+bonus, monthly, bonus, meta)
		entry.Description = describe("refund", featureOf(rl.reservation))
		if err := tx.AppendTransaction(ctx, entry); err != nil {
			return err
		}

		wrote = true
		result = accountResult(&acct, requestID)
		result.Status = StatusRefunded
		return nil
	})
	if err != nil {
		err = l.wrap("refund", err)
		l.metrics.observe("refund", err, start)
		return Result{OK: false, Reason: Reason(err), RequestID: requestID}, err
	}

	l.metrics.observe("refund", nil, start)
	if wrote {
		l.logger.Info("credits refunded",
			zap.String("user_id", req.UserID),
			zap.String("request_id", requestID),
			zap.String("reason", req.Reason),
		)
		l.notifyStatus(ctx, req.UserID, requestID, models.TxRefund)
	}
	return result, nil
}

// Reconcile settles a request whose outcome the caller could not observe. It
// reads the request state and makes exactly one corrective call: refund when
// committed, release when still reserved. A release that loses the race to a
// commit falls through to refund. If the state cannot be read it falls back to
// calling refund and then release, and reports any store failure instead of
// treating it as success.
func (l *Ledger) Reconcile(ctx context.Context, req SettleRequest) (Result, error) {
	requestID, err := validateKeys(req.UserID, req.RequestID)
	if err != nil {
		return Result{OK: false, Reason: Reason(err)}, err
	}
	req.RequestID = requestID

	state, err := l.RequestState(ctx, req.UserID, requestID)
	if err != nil {
		l.logger.Warn("reconcile state query failed, using fallback",
			zap.String("user_id", req.UserID),
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		return l.reconcileFallback(ctx, req)
	}

	var result Result
	switch state {
	case StateCommitted:
		result, err = l.Refund(ctx, req)
		result.Action = ActionRefund
	case StateReserved:
		result, err = l.Release(ctx, req)
		result.Action = ActionRelease
		if errors.Is(err, ErrMissingReservation) {
			result, err = l.Refund(ctx, req)
			result.Action = ActionRefund
		}
	default:
		result, err = l.statusResult(ctx, req.UserID)
		result.Action = ActionNone
		result.RequestID = requestID
		result.Status = noopStatus(state)
	}
	if err != nil {
		return result, err
	}
	l.metrics.reconciled(result.Action)
	return result, nil
}

func (l *Ledger) statusResult(ctx context.Context, userID string) (Result, error) {
	status, err := l.Status(ctx, userID)
	if err != nil {
		return Result{OK: false, Reason: Reason(err)}, err
	}
	return Result{
		OK:               true,
		RemainingMonthly: status.RemainingMonthly,
		RemainingBonus:   status.RemainingBonus,
		Tier:             status.Tier,
	}, nil
}

func (l *Ledger) reconcileFallback(ctx context.Context, req SettleRequest) (Result, error) {
	refund, refundErr := l.Refund(ctx, req)
	release, releaseErr := l.Release(ctx, req)
	if errors.Is(releaseErr, ErrMissingReservation) {
		releaseErr = nil
	}
	if err := errors.Join(refundErr, releaseErr); err != nil {
		return Result{OK: false, Reason: Reason(err), RequestID: req.RequestID, Action: ActionFallback}, err
	}

	result := refund
	if refund.Status != StatusRefunded && release.OK {
		result = release
	}
	result.Action = ActionFallback
	l.metrics.reconciled(ActionFallback)
	return result, nil
}

func noopStatus(state RequestState) string {
	switch state {
	case StateReleased:
		return StatusAlreadyReleased
	case StateRefunded:
		return StatusAlreadyRefunded
	default:
		return StatusNothingToRefund
	}
}

// chargedCycle returns the start of the cycle a commit was billed to. Commits
// written without it fall back to the reservation time, which is correct
// unless the hold was taken while a reset was deferred.
func chargedCycle(rl requestLog) time.Time {
	if s := rl.commit.Metadata.Settlement; s != nil && s.ChargedCycle != "" {
		if at, err := time.Parse(time.RFC3339Nano, s.ChargedCycle); err == nil {
			return at
		}
	}
	if rl.reservation != nil {
		return rl.reservation.CreatedAt
	}
	return rl.commit.CreatedAt
}
