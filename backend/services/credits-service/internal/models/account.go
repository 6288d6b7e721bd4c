package models

import "time"

// Tier is the subscription level that determines the monthly allowance.
type Tier string

const (
	TierFree         Tier = "free"
	TierStarter      Tier = "starter"
	TierCreator      Tier = "creator"
	TierProfessional Tier = "professional"
	TierUnlimited    Tier = "unlimited"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierStarter, TierCreator, TierProfessional, TierUnlimited:
		return true
	}
	return false
}

// CreditAccount is the per-user balance row. It is mutated only by the ledger.
type CreditAccount struct {
	UserID                 string    `db:"user_id" json:"user_id"`
	Tier                   Tier      `db:"tier" json:"tier"`
	MonthlyCreditsPerCycle int64     `db:"monthly_credits_per_cycle" json:"monthly_credits_per_cycle"`
	MonthlyCreditsUsed     int64     `db:"monthly_credits_used" json:"monthly_credits_used"`
	ReservedMonthly        int64     `db:"reserved_monthly" json:"reserved_monthly"`
	BonusCreditsTotal      int64     `db:"bonus_credits_total" json:"bonus_credits_total"`
	BonusCreditsUsed       int64     `db:"bonus_credits_used" json:"bonus_credits_used"`
	ReservedBonus          int64     `db:"reserved_bonus" json:"reserved_bonus"`
	CycleStartAt           time.Time `db:"cycle_start_at" json:"cycle_start_at"`
	CycleEndAt             time.Time `db:"cycle_end_at" json:"cycle_end_at"`
	CreatedAt              time.Time `db:"created_at" json:"created_at"`
	UpdatedAt              time.Time `db:"updated_at" json:"updated_at"`
}

// Unlimited reports whether the account bypasses balance checks.
func (a *CreditAccount) Unlimited() bool {
	return a.Tier == TierUnlimited
}

// RemainingMonthly never goes below zero, even if counters drift.
func (a *CreditAccount) RemainingMonthly() int64 {
	return clampZero(a.MonthlyCreditsPerCycle - a.MonthlyCreditsUsed - a.ReservedMonthly)
}

// RemainingBonus never goes below zero, even if counters drift.
func (a *CreditAccount) RemainingBonus() int64 {
	return clampZero(a.BonusCreditsTotal - a.BonusCreditsUsed - a.ReservedBonus)
}

// HasOutstanding reports whether any credits are currently held by reservations.
func (a *CreditAccount) HasOutstanding() bool {
	return a.ReservedMonthly > 0 || a.ReservedBonus > 0
}

// Status returns the externally visible balance snapshot.
func (a *CreditAccount) Status() Status {
	return Status{
		UserID:                 a.UserID,
		Tier:                   a.Tier,
		MonthlyCreditsPerCycle: a.MonthlyCreditsPerCycle,
		MonthlyCreditsUsed:     a.MonthlyCreditsUsed,
		ReservedMonthly:        a.ReservedMonthly,
		BonusCreditsTotal:      a.BonusCreditsTotal,
		BonusCreditsUsed:       a.BonusCreditsUsed,
		ReservedBonus:          a.ReservedBonus,
		RemainingMonthly:       a.RemainingMonthly(),
		RemainingBonus:         a.RemainingBonus(),
		CycleStartAt:           a.CycleStartAt,
		CycleEndAt:             a.CycleEndAt,
	}
}

// Status is the read model returned by ensure/status.
type Status struct {
	UserID                 string    `json:"user_id"`
	Tier                   Tier      `json:"tier"`
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

func clampZero(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
