package metering

import (
	"context"

	"github.com/clydra/backend/internal/models"
)

// Source identifies which pool a permitted action was debited from.
type Source string

// Decision sources
const (
	SourceDaily  Source = "daily"
	SourceCredit Source = "credit"
	SourceNone   Source = "none"
)

// Decision is the facade's answer for one metered action. There are exactly
// two outcomes, permit and deny; retries and fallbacks stay internal.
// CreditBalance is -1 when the ledger was not consulted (the daily allowance
// covered the action).
type Decision struct {
	Permit         bool   `json:"permit"`
	Source         Source `json:"source"`
	DailyRemaining int64  `json:"daily_remaining"`
	CreditBalance  int64  `json:"credit_balance"`
}

// Meter is the single entry point request handlers call before performing a
// metered action. It exhausts the daily free allowance before touching paid
// credit, and never charges both pools for one action.
type Meter struct {
	allowance *AllowanceManager
	ledger    *Ledger
}

// NewMeter creates the quota enforcement facade.
func NewMeter(allowance *AllowanceManager, ledger *Ledger) *Meter {
	return &Meter{allowance: allowance, ledger: ledger}
}

// AuthorizeAndConsume authorizes a metered action costing amount tokens and
// debits whichever pool covers it. On deny both the remaining daily
// allowance and the credit balance are reported so the caller can render an
// upgrade prompt. Over-estimation is not reconciled afterwards: callers
// wanting exactness must consume using the true count only.
func (m *Meter) AuthorizeAndConsume(ctx context.Context, userID, tier string, amount int64) (Decision, error) {
	if amount < 0 {
		return Decision{}, ErrInvalidAmount
	}

	daily, err := m.allowance.TryConsume(ctx, userID, tier, amount)
	if err != nil {
		return Decision{}, err
	}
	if daily.Granted {
		return Decision{
			Permit:         true,
			Source:         SourceDaily,
			DailyRemaining: daily.Remaining,
			CreditBalance:  -1,
		}, nil
	}

	credit, err := m.ledger.Consume(ctx, userID, amount)
	if err != nil {
		return Decision{}, err
	}
	if credit.Granted {
		return Decision{
			Permit:         true,
			Source:         SourceCredit,
			DailyRemaining: daily.Remaining,
			CreditBalance:  credit.Balance,
		}, nil
	}

	return Decision{
		Permit:         false,
		Source:         SourceNone,
		DailyRemaining: daily.Remaining,
		CreditBalance:  credit.Balance,
	}, nil
}

// UsageReport is a read-only snapshot of a user's quota state.
type UsageReport struct {
	Day            string `json:"day"`
	Tier           string `json:"tier"`
	DailyGranted   int64  `json:"daily_granted"`
	DailyRemaining int64  `json:"daily_remaining"`
	CreditBalance  int64  `json:"credit_balance"`
}

// Usage reports the user's current daily allowance and credit balance
// without consuming anything.
func (m *Meter) Usage(ctx context.Context, userID, tier string) (UsageReport, error) {
	allowance, err := m.allowance.GetOrCreate(ctx, userID, tier)
	if err != nil {
		return UsageReport{}, err
	}
	balance, err := m.ledger.Balance(ctx, userID)
	if err != nil {
		return UsageReport{}, err
	}
	return UsageReport{
		Day:            allowance.Day,
		Tier:           models.NormalizeTier(tier),
		DailyGranted:   allowance.Granted,
		DailyRemaining: allowance.Remaining,
		CreditBalance:  balance,
	}, nil
}
