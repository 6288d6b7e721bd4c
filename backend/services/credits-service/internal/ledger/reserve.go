package ledger

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"storyforge/backend/services/credits-service/internal/models"
	"storyforge/backend/services/credits-service/internal/repository"
)

// ReserveRequest holds credits for one unit of paid work.
type ReserveRequest struct {
	UserID    string
	Amount    int64
	RequestID string
	Feature   string
	Stage     string
	Extra     map[string]string
}

// SettleRequest closes or corrects a reservation.
type SettleRequest struct {
	UserID        string
	RequestID     string
	Reason        string
	FailureReason string
	Extra         map[string]string
}

// Reserve takes a hold of req.Amount credits, monthly pool first. Retrying an
// outstanding reservation with the same amount returns the recorded result.
// When the balance is short the result carries the remaining credits and the
// error is ErrInsufficientCredits.
func (l *Ledger) Reserve(ctx context.Context, req ReserveRequest) (Result, error) {
	start := time.Now()
	requestID, err := validateKeys(req.UserID, req.RequestID)
	if err != nil {
		l.metrics.observe("reserve", err, start)
		return Result{OK: false, Reason: Reason(err)}, err
	}
	if req.Amount <= 0 {
		err := invalid("amount must be positive")
		l.metrics.observe("reserve", err, start)
		return Result{OK: false, Reason: Reason(err)}, err
	}
	if _, err := l.ensure(ctx, req.UserID); err != nil {
		l.metrics.observe("reserve", err, start)
		return Result{OK: false, Reason: Reason(err)}, err
	}

	var (
		result Result
		short  bool
		wrote  bool
	)
	err = l.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		acct, err := tx.LockAccount(ctx, req.UserID)
		if err != nil {
			return err
		}
		history, err := tx.RequestHistory(ctx, req.UserID, requestID)
		if err != nil {
			return err
		}
		rl := resolve(history)
		switch rl.state {
		case StateReserved:
			if requested(rl.reservation) != req.Amount {
				return invalid("request_id reused with a different amount")
			}
			result = snapshotResult(rl.reservation, acct.Tier)
			result.Status = StatusReserved
			result.ReservedMonthly = rl.reservation.MonthlyAmount
			result.ReservedBonus = rl.reservation.BonusAmount
			result.Replayed = true
			return nil
		case StateCommitted, StateReleased, StateRefunded:
			return invalid("request_id already settled")
		}

		if _, err := l.applyCycle(ctx, tx, &acct); err != nil {
			return err
		}

		var fromMonthly, fromBonus int64
		if !acct.Unlimited() {
			remMonthly, remBonus := acct.RemainingMonthly(), acct.RemainingBonus()
			if remMonthly+remBonus < req.Amount {
				short = true
				result = Result{
					OK:               false,
					Reason:           ReasonInsufficientCredits,
					RequestID:        requestID,
					RemainingMonthly: remMonthly,
					RemainingBonus:   remBonus,
					Tier:             acct.Tier,
				}
				return nil
			}
			fromMonthly = min(req.Amount, remMonthly)
			fromBonus = req.Amount - fromMonthly
		}

		acct.ReservedMonthly += fromMonthly
		acct.ReservedBonus += fromBonus
		acct.UpdatedAt = l.clock()
		if err := tx.SaveAccount(ctx, acct); err != nil {
			return err
		}

		entry := l.newEntry(&acct, requestID, models.TxReservation, -(fromMonthly + fromBonus), fromMonthly, fromBonus, models.Metadata{
			Reservation: &models.ReservationMetadata{Feature: req.Feature, Stage: req.Stage, Requested: req.Amount},
			Extra:       req.Extra,
		})
		entry.Description = describe("reserve", req.Feature)
		if err := tx.AppendTransaction(ctx, entry); err != nil {
			return err
		}

		wrote = true
		result = accountResult(&acct, requestID)
		result.Status = StatusReserved
		result.ReservedMonthly = fromMonthly
		result.ReservedBonus = fromBonus
		return nil
	})
	if err != nil {
		err = l.wrap("reserve", err)
		l.metrics.observe("reserve", err, start)
		return Result{OK: false, Reason: Reason(err), RequestID: requestID}, err
	}
	if short {
		l.metrics.observe("reserve", ErrInsufficientCredits, start)
		l.logger.Info("credit reservation rejected",
			zap.String("user_id", req.UserID),
			zap.String("request_id", requestID),
			zap.Int64("amount", req.Amount),
		)
		return result, ErrInsufficientCredits
	}

	l.metrics.observe("reserve", nil, start)
	if wrote {
		l.metrics.moved(result.ReservedMonthly, result.ReservedBonus)
		l.logger.Debug("credits reserved",
			zap.String("user_id", req.UserID),
			zap.String("request_id", requestID),
			zap.Int64("monthly", result.ReservedMonthly),
			zap.Int64("bonus", result.ReservedBonus),
		)
		l.notifyStatus(ctx, req.UserID, requestID, models.TxReservation)
	}
	return result, nil
}

// Commit turns an outstanding reservation into usage. Committing again
// returns the original result with Replayed set.
func (l *Ledger) Commit(ctx context.Context, req SettleRequest) (Result, error) {
	start := time.Now()
	requestID, err := validateKeys(req.UserID, req.RequestID)
	if err != nil {
		l.metrics.observe("commit", err, start)
		return Result{OK: false, Reason: Reason(err)}, err
	}

	var (
		result Result
		wrote  bool
	)
	err = l.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		acct, err := tx.LockAccount(ctx, req.UserID)
		if isNotFound(err) {
			return ErrMissingReservation
		}
		if err != nil {
			return err
		}
		history, err := tx.RequestHistory(ctx, req.UserID, requestID)
		if err != nil {
			return err
		}
		rl := resolve(history)
		switch rl.state {
		case StateCommitted, StateRefunded:
			result = snapshotResult(rl.commit, acct.Tier)
			result.Status = StatusCommitted
			result.Replayed = true
			return nil
		case StateReserved:
		default:
			return ErrMissingReservation
		}

		if _, err := l.applyCycle(ctx, tx, &acct); err != nil {
			return err
		}

		monthly, bonus := rl.reservation.MonthlyAmount, rl.reservation.BonusAmount
		acct.ReservedMonthly = max(acct.ReservedMonthly-monthly, 0)
		acct.ReservedBonus = max(acct.ReservedBonus-bonus, 0)
		acct.MonthlyCreditsUsed += monthly
		acct.BonusCreditsUsed += bonus
		acct.UpdatedAt = l.clock()
		if err := tx.SaveAccount(ctx, acct); err != nil {
			return err
		}

		meta := settlement(req)
		if meta.Settlement == nil {
			meta.Settlement = &models.SettlementMetadata{}
		}
		meta.Settlement.ChargedCycle = acct.CycleStartAt.Format(time.RFC3339Nano)
		entry := l.newEntry(&acct, requestID, models.TxCommit, -(monthly + bonus), monthly, bonus, meta)
		entry.Description = describe("commit", featureOf(rl.reservation))
		if err := tx.AppendTransaction(ctx, entry); err != nil {
			return err
		}

		wrote = true
		result = accountResult(&acct, requestID)
		result.Status = StatusCommitted
		return nil
	})
	if err != nil {
		err = l.wrap("commit", err)
		l.metrics.observe("commit", err, start)
		return Result{OK: false, Reason: Reason(err), RequestID: requestID}, err
	}

	l.metrics.observe("commit", nil, start)
	if wrote {
		l.notifyStatus(ctx, req.UserID, requestID, models.TxCommit)
	}
	return result, nil
}

// Release returns an outstanding reservation to the available balance.
// Releasing twice reports already_released. A committed request cannot be
// released; use Refund.
func (l *Ledger) Release(ctx context.Context, req SettleRequest) (Result, error) {
	start := time.Now()
	requestID, err := validateKeys(req.UserID, req.RequestID)
	if err != nil {
		l.metrics.observe("release", err, start)
		return Result{OK: false, Reason: Reason(err)}, err
	}

	var (
		result Result
		wrote  bool
	)
	err = l.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		acct, err := tx.LockAccount(ctx, req.UserID)
		if isNotFound(err) {
			return ErrMissingReservation
		}
		if err != nil {
			return err
		}
		history, err := tx.RequestHistory(ctx, req.UserID, requestID)
		if err != nil {
			return err
		}
		rl := resolve(history)
		switch rl.state {
		case StateReleased:
			if _, err := l.applyCycle(ctx, tx, &acct); err != nil {
				return err
			}
			result = accountResult(&acct, requestID)
			result.Status = StatusAlreadyReleased
			return nil
		case StateReserved:
		default:
			return ErrMissingReservation
		}

		if _, err := l.applyCycle(ctx, tx, &acct); err != nil {
			return err
		}

		monthly, bonus := rl.reservation.MonthlyAmount, rl.reservation.BonusAmount
		acct.ReservedMonthly = max(acct.ReservedMonthly-monthly, 0)
		acct.ReservedBonus = max(acct.ReservedBonus-bonus, 0)
		acct.UpdatedAt = l.clock()
		if err := tx.SaveAccount(ctx, acct); err != nil {
			return err
		}

		entry := l.newEntry(&acct, requestID, models.TxRelease, monthly+bonus, monthly, bonus, settlement(req))
		entry.Description = describe("release", featureOf(rl.reservation))
		if err := tx.AppendTransaction(ctx, entry); err != nil {
			return err
		}

		wrote = true
		result = accountResult(&acct, requestID)
		result.Status = StatusReleased
		return nil
	})
	if err != nil {
		err = l.wrap("release", err)
		l.metrics.observe("release", err, start)
		return Result{OK: false, Reason: Reason(err), RequestID: requestID}, err
	}

	l.metrics.observe("release", nil, start)
	if wrote {
		l.logger.Debug("credits released",
			zap.String("user_id", req.UserID),
			zap.String("request_id", requestID),
			zap.String("reason", req.Reason),
		)
		l.notifyStatus(ctx, req.UserID, requestID, models.TxRelease)
	}
	return result, nil
}

// notifyStatus reads the committed balance and publishes it.
func (l *Ledger) notifyStatus(ctx context.Context, userID, requestID string, typ models.TransactionType) {
	if l.notifier == nil {
		return
	}
	acct, err := l.store.GetAccount(ctx, userID)
	if err != nil {
		l.logger.Warn("balance event skipped", zap.String("user_id", userID), zap.Error(err))
		return
	}
	l.notify(ctx, userID, requestID, typ, acct.Status())
}

func requested(tx *models.CreditTransaction) int64 {
	if tx.Metadata.Reservation != nil && tx.Metadata.Reservation.Requested > 0 {
		return tx.Metadata.Reservation.Requested
	}
	return tx.Total()
}

func featureOf(tx *models.CreditTransaction) string {
	if tx != nil && tx.Metadata.Reservation != nil {
		return tx.Metadata.Reservation.Feature
	}
	return ""
}

func settlement(req SettleRequest) models.Metadata {
	meta := models.Metadata{Extra: req.Extra}
	if req.Reason != "" || req.FailureReason != "" {
		meta.Settlement = &models.SettlementMetadata{Reason: req.Reason, FailureReason: req.FailureReason}
	}
	return meta
}

func describe(op, feature string) string {
	feature = strings.TrimSpace(feature)
	if feature == "" {
		return op
	}
	return op + ": " + feature
}
