package ledger

import "storyforge/backend/services/credits-service/internal/models"

// RequestState is the lifecycle position of one request_id.
type RequestState string

const (
	StateNone      RequestState = "none"
	StateReserved  RequestState = "reserved"
	StateCommitted RequestState = "committed"
	StateReleased  RequestState = "released"
	StateRefunded  RequestState = "refunded"
)

// Result statuses.
const (
	StatusReserved        = "reserved"
	StatusCommitted       = "committed"
	StatusReleased        = "released"
	StatusRefunded        = "refunded"
	StatusAlreadyReleased = "already_released"
	StatusAlreadyRefunded = "already_refunded"
	StatusNothingToRefund = "nothing_to_refund"
)

// Result is returned by reserve, commit, release, refund and reconcile.
type Result struct {
	OK               bool        `json:"ok"`
	Status           string      `json:"status,omitempty"`
	Reason           string      `json:"reason,omitempty"`
	RequestID        string      `json:"request_id,omitempty"`
	ReservedMonthly  int64       `json:"reserved_monthly"`
	ReservedBonus    int64       `json:"reserved_bonus"`
	RemainingMonthly int64       `json:"remaining_monthly"`
	RemainingBonus   int64       `json:"remaining_bonus"`
	Tier             models.Tier `json:"tier,omitempty"`
	Replayed         bool        `json:"replayed,omitempty"`
	Action           string      `json:"action,omitempty"`
}

// requestLog is the interpreted history of one request.
type requestLog struct {
	state       RequestState
	reservation *models.CreditTransaction
	commit      *models.CreditTransaction
	release     *models.CreditTransaction
	refund      *models.CreditTransaction
}

func resolve(history []models.CreditTransaction) requestLog {
	var rl requestLog
	for i := range history {
		tx := &history[i]
		switch tx.Type {
		case models.TxReservation:
			rl.reservation = tx
		case models.TxCommit:
			rl.commit = tx
		case models.TxRelease:
			rl.release = tx
		case models.TxRefund:
			rl.refund = tx
		}
	}
	switch {
	case rl.refund != nil:
		rl.state = StateRefunded
	case rl.commit != nil:
		rl.state = StateCommitted
	case rl.release != nil:
		rl.state = StateReleased
	case rl.reservation != nil:
		rl.state = StateReserved
	default:
		rl.state = StateNone
	}
	return rl
}

func snapshotResult(tx *models.CreditTransaction, tier models.Tier) Result {
	return Result{
		OK:               true,
		RequestID:        tx.RequestID,
		RemainingMonthly: tx.RemainingMonthlyAfter,
		RemainingBonus:   tx.RemainingBonusAfter,
		Tier:             tier,
	}
}

func accountResult(acct *models.CreditAccount, requestID string) Result {
	return Result{
		OK:               true,
		RequestID:        requestID,
		RemainingMonthly: acct.RemainingMonthly(),
		RemainingBonus:   acct.RemainingBonus(),
		Tier:             acct.Tier,
	}
}
