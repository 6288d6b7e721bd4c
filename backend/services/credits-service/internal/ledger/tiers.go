package ledger

import (
	"fmt"
	"time"

	"storyforge/backend/services/credits-service/internal/models"
)

// Tiers maps each tier to its monthly allowance.
type Tiers map[models.Tier]int64

// DefaultTiers returns the stock allowances.
func DefaultTiers() Tiers {
	return Tiers{
		models.TierFree:         5,
		models.TierStarter:      50,
		models.TierCreator:      150,
		models.TierProfessional: 500,
		models.TierUnlimited:    0,
	}
}

// Allowance returns the monthly credits for tier.
func (t Tiers) Allowance(tier models.Tier) (int64, error) {
	v, ok := t[tier]
	if !ok {
		return 0, fmt.Errorf("ledger: no allowance for tier %q", tier)
	}
	return v, nil
}

// Period is the length of a billing cycle. Months takes precedence; Length is
// used for fixed-duration cycles.
type Period struct {
	Months int
	Length time.Duration
}

// MonthlyPeriod is the default billing period.
var MonthlyPeriod = Period{Months: 1}

func (p Period) valid() bool {
	return p.Months > 0 || p.Length > 0
}

// Next returns the end of a cycle that starts at t.
func (p Period) Next(t time.Time) time.Time {
	if p.Months > 0 {
		return t.AddDate(0, p.Months, 0)
	}
	return t.Add(p.Length)
}
