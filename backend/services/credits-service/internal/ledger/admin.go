package ledger

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"storyforge/backend/services/credits-service/internal/models"
	"storyforge/backend/services/credits-service/internal/repository"
)

// Actor is the caller of a privileged operation.
type Actor struct {
	ID    string
	Admin bool
}

// AdjustRequest changes the bonus pool directly.
type AdjustRequest struct {
	Actor     Actor
	UserID    string
	Amount    int64
	Reason    string
	RequestID string
	Extra     map[string]string
}

// AdjustResult reports the bonus pool after an adjustment.
type AdjustResult struct {
	OK            bool   `json:"ok"`
	NewBonusTotal int64  `json:"new_bonus_total"`
	Applied       int64  `json:"applied"`
	RequestID     string `json:"request_id,omitempty"`
	Replayed      bool   `json:"replayed,omitempty"`
}

// AdminAdjustBonus adds or removes bonus credits. The total never drops below
// what is already used or reserved from the pool, and so never below zero.
// With a RequestID the call is idempotent.
func (l *Ledger) AdminAdjustBonus(ctx context.Context, req AdjustRequest) (AdjustResult, error) {
	if !req.Actor.Admin || strings.TrimSpace(req.Actor.ID) == "" {
		return AdjustResult{}, ErrUnauthorized
	}
	if err := validateUser(req.UserID); err != nil {
		return AdjustResult{}, err
	}
	if req.Amount == 0 {
		return AdjustResult{}, invalid("amount must be non-zero")
	}
	if strings.TrimSpace(req.Reason) == "" {
		return AdjustResult{}, invalid("reason required")
	}
	requestID := ""
	if strings.TrimSpace(req.RequestID) != "" {
		var err error
		if requestID, err = canonicalRequestID(req.RequestID); err != nil {
			return AdjustResult{}, err
		}
	}
	if _, err := l.ensure(ctx, req.UserID); err != nil {
		return AdjustResult{}, err
	}

	var result AdjustResult
	err := l.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		acct, err := tx.LockAccount(ctx, req.UserID)
		if err != nil {
			return err
		}
		if requestID != "" {
			prior, err := tx.FindAdminAdjustment(ctx, req.UserID, requestID)
			if err != nil {
				return err
			}
			if prior != nil {
				result = AdjustResult{OK: true, Applied: prior.Amount, RequestID: requestID, Replayed: true}
				if prior.Metadata.Admin != nil {
					result.NewBonusTotal = prior.Metadata.Admin.BonusTotalAfter
				}
				return nil
			}
		}
		if _, err := l.applyCycle(ctx, tx, &acct); err != nil {
			return err
		}

		floor := acct.BonusCreditsUsed + acct.ReservedBonus
		total := max(acct.BonusCreditsTotal+req.Amount, floor, 0)
		applied := total - acct.BonusCreditsTotal
		acct.BonusCreditsTotal = total
		acct.UpdatedAt = l.clock()
		if err := tx.SaveAccount(ctx, acct); err != nil {
			return err
		}

		magnitude := applied
		if magnitude < 0 {
			magnitude = -magnitude
		}
		entry := l.newEntry(&acct, requestID, models.TxAdminAdjustment, applied, 0, magnitude, models.Metadata{
			Admin: &models.AdminMetadata{
				ActorID:         req.Actor.ID,
				Reason:          req.Reason,
				Requested:       req.Amount,
				BonusTotalAfter: total,
			},
			Extra: req.Extra,
		})
		entry.Pool = models.PoolBonus
		entry.Description = "admin adjustment: " + req.Reason
		if err := tx.AppendTransaction(ctx, entry); err != nil {
			return err
		}
		result = AdjustResult{OK: true, NewBonusTotal: total, Applied: applied, RequestID: requestID}
		return nil
	})
	if err != nil {
		return AdjustResult{}, l.wrap("admin adjust", err)
	}

	if !result.Replayed {
		l.metrics.adjusted(result.Applied)
		l.logger.Info("bonus credits adjusted",
			zap.String("actor_id", req.Actor.ID),
			zap.String("user_id", req.UserID),
			zap.Int64("requested", req.Amount),
			zap.Int64("applied", result.Applied),
			zap.String("reason", req.Reason),
		)
		l.notifyStatus(ctx, req.UserID, requestID, models.TxAdminAdjustment)
	}
	return result, nil
}
