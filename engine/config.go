package engine

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// =============================================================================
// BILLING CONFIG - Penalty and calendar settings for one client/module
// =============================================================================

type BillingFrequency string

const (
	FrequencyMonthly   BillingFrequency = "monthly"
	FrequencyQuarterly BillingFrequency = "quarterly"
)

// BillingConfig carries the settings the engine needs. PenaltyRate and
// PenaltyDays are pointers so that "absent" is distinguishable from zero: the
// engine never substitutes a default for either.
type BillingConfig struct {
	ClientID ClientID
	Module   ModuleKind

	// PenaltyRate is the monthly compounding rate (0.05 = 5% per month).
	PenaltyRate *float64

	// PenaltyDays is the grace period in days after the due date.
	PenaltyDays *int

	BillingPeriod        BillingFrequency
	FiscalYearStartMonth int
}

// Validate checks the two required penalty fields and the calendar settings.
func (c BillingConfig) Validate() error {
	if c.PenaltyRate == nil {
		return &ConfigurationError{Field: "penaltyRate", Reason: "is required"}
	}
	if math.IsNaN(*c.PenaltyRate) || math.IsInf(*c.PenaltyRate, 0) {
		return &ConfigurationError{Field: "penaltyRate", Reason: "must be a finite number"}
	}
	if *c.PenaltyRate < 0 {
		return &ConfigurationError{Field: "penaltyRate", Reason: "must not be negative"}
	}
	if c.PenaltyDays == nil {
		return &ConfigurationError{Field: "penaltyDays", Reason: "is required"}
	}
	if *c.PenaltyDays < 0 {
		return &ConfigurationError{Field: "penaltyDays", Reason: "must not be negative"}
	}
	if c.FiscalYearStartMonth != 0 && (c.FiscalYearStartMonth < 1 || c.FiscalYearStartMonth > 12) {
		return &ConfigurationError{Field: "fiscalYearStartMonth", Reason: fmt.Sprintf("must be 1-12, got %d", c.FiscalYearStartMonth)}
	}
	switch c.BillingPeriod {
	case "", FrequencyMonthly, FrequencyQuarterly:
	default:
		return &ConfigurationError{Field: "billingPeriod", Reason: fmt.Sprintf("unknown frequency %q", c.BillingPeriod)}
	}
	return nil
}

// Rate returns the penalty rate as a decimal. Call Validate first.
func (c BillingConfig) Rate() decimal.Decimal {
	return decimal.NewFromFloat(*c.PenaltyRate)
}

// GraceDays returns the grace period. Call Validate first.
func (c BillingConfig) GraceDays() int { return *c.PenaltyDays }

// StartMonth returns the fiscal year start month, treating zero as January.
func (c BillingConfig) StartMonth() int {
	if c.FiscalYearStartMonth == 0 {
		return 1
	}
	return c.FiscalYearStartMonth
}

// Float64 and Int are convenience constructors for config literals.
func Float64(v float64) *float64 { return &v }
func Int(v int) *int             { return &v }
