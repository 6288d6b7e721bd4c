package creditsclient

import "time"

// Result mirrors the ledger's response for reserve and settlement calls.
type Result struct {
	OK               bool   `json:"ok"`
	Status           string `json:"status,omitempty"`
	Reason           string `json:"reason,omitempty"`
	RequestID        string `json:"request_id,omitempty"`
	ReservedMonthly  int64  `json:"reserved_monthly"`
	ReservedBonus    int64  `json:"reserved_bonus"`
	RemainingMonthly int64  `json:"remaining_monthly"`
	RemainingBonus   int64  `json:"remaining_bonus"`
	Tier             string `json:"tier,omitempty"`
	Replayed         bool   `json:"replayed,omitempty"`
	Action           string `json:"action,omitempty"`
}

// Status is a user's balance snapshot.
type Status struct {
	OK                     bool      `json:"ok"`
	UserID                 string    `json:"user_id"`
	Tier                   string    `json:"tier"`
	MonthlyCreditsPerCycle int64     `json:"monthly_credits_per_cycle"`
	MonthlyCreditsUsed     int64     `json:"monthly_credits_used"`
	ReservedMonthly        int64     `json:"reserved_monthly"`
	BonusCreditsTotal      int64     `json:"bonus_credits_total"`
	BonusCreditsUsed       int64     `json:"bonus_credits_used"`
	ReservedBonus          int64     `json:"reserved_bonus"`
	RemainingMonthly       int64     `json:"remaining_monthly"`
	RemainingBonus         int64     `json:"remaining_bonus"`
	CycleStartAt           time.Time `json:"cycle_start_at"`
	CycleEndAt             time.Time `json:"cycle_end_at"`
}

// AdjustResult is returned by AdjustBonus.
type AdjustResult struct {
	OK            bool   `json:"ok"`
	NewBonusTotal int64  `json:"new_bonus_total"`
	Applied       int64  `json:"applied"`
	RequestID     string `json:"request_id,omitempty"`
	Replayed      bool   `json:"replayed,omitempty"`
}

// ReserveRequest holds a reservation call.
type ReserveRequest struct {
	Amount    int64                  `json:"amount"`
	RequestID string                 `json:"request_id"`
	Feature   string                 `json:"feature,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// SettleRequest holds a commit, release, refund or reconcile call.
type SettleRequest struct {
	RequestID string                 `json:"request_id"`
	Reason    string                 `json:"reason,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// AdjustRequest holds a bonus adjustment.
type AdjustRequest struct {
	UserID    string                 `json:"user_id"`
	Amount    int64                  `json:"amount"`
	Reason    string                 `json:"reason"`
	RequestID string                 `json:"request_id,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}
