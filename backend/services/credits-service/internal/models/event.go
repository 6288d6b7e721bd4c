package models

import "time"

// BalanceEvent is emitted after a ledger unit commits.
type BalanceEvent struct {
	UserID    string          `json:"user_id"`
	Type      TransactionType `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Status    Status          `json:"status"`
	At        time.Time       `json:"at"`
}
