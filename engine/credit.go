package engine

import "time"

// =============================================================================
// CREDIT BALANCE - Non-negative pool shared across modules, append-only history
// =============================================================================

// CreditEntry is one signed change to a unit's credit balance.
type CreditEntry struct {
	Delta         Money
	BalanceAfter  Money
	Module        ModuleKind
	TransactionID string
	Reason        string
	At            time.Time
}

// CreditBalance is a unit's credit pool plus its history. Values are never
// mutated in place: Apply returns a new CreditBalance.
type CreditBalance struct {
	UnitID  UnitID
	Balance Money
	History []CreditEntry
}

// Apply returns the balance after e. It fails with ErrNegativeCredit when the
// result would be below zero.
func (c CreditBalance) Apply(e CreditEntry) (CreditBalance, error) {
	next := c.Balance + e.Delta
	if next < 0 {
		return c, ErrNegativeCredit
	}
	e.BalanceAfter = next
	history := make([]CreditEntry, len(c.History), len(c.History)+1)
	copy(history, c.History)
	return CreditBalance{
		UnitID:  c.UnitID,
		Balance: next,
		History: append(history, e),
	}, nil
}
