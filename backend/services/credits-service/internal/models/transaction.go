package models

import "time"

// TransactionType names a balance-affecting event.
type TransactionType string

const (
	TxReservation     TransactionType = "reservation"
	TxCommit          TransactionType = "commit"
	TxRelease         TransactionType = "release"
	TxRefund          TransactionType = "refund"
	TxUsage           TransactionType = "usage"
	TxFailure         TransactionType = "failure"
	TxAdminAdjustment TransactionType = "admin_adjustment"
)

// Pool identifies which bucket an entry touched. Empty means mixed or none.
type Pool string

const (
	PoolNone    Pool = ""
	PoolMonthly Pool = "monthly"
	PoolBonus   Pool = "bonus"
)

// PoolFor picks the pool label for a split.
func PoolFor(monthly, bonus int64) Pool {
	switch {
	case monthly != 0 && bonus == 0:
		return PoolMonthly
	case bonus != 0 && monthly == 0:
		return PoolBonus
	default:
		return PoolNone
	}
}

// CreditTransaction is an immutable audit log row. Rows sharing a RequestID
// describe the life of one reservation.
//
// Amount is the signed change to the available balance the event stands for:
// reservation and commit are negative, release and refund positive.
// MonthlyAmount and BonusAmount carry the unsigned split between pools.
// RemainingMonthlyAfter/RemainingBonusAfter snapshot the balance right after the
// event so idempotent replays can return the original result.
type CreditTransaction struct {
	ID                    string          `db:"id" json:"id"`
	UserID                string          `db:"user_id" json:"user_id"`
	RequestID             string          `db:"request_id" json:"request_id"`
	Type                  TransactionType `db:"transaction_type" json:"transaction_type"`
	Pool                  Pool            `db:"pool" json:"pool,omitempty"`
	Amount                int64           `db:"amount" json:"amount"`
	MonthlyAmount         int64           `db:"monthly_amount" json:"monthly_amount"`
	BonusAmount           int64           `db:"bonus_amount" json:"bonus_amount"`
	RemainingMonthlyAfter int64           `db:"remaining_monthly_after" json:"remaining_monthly_after"`
	RemainingBonusAfter   int64           `db:"remaining_bonus_after" json:"remaining_bonus_after"`
	Description           string          `db:"description" json:"description,omitempty"`
	Metadata              Metadata        `db:"metadata" json:"metadata"`
	CreatedAt             time.Time       `db:"created_at" json:"created_at"`
}

// Total returns the unsigned number of credits the entry moved.
func (t *CreditTransaction) Total() int64 {
	return t.MonthlyAmount + t.BonusAmount
}
