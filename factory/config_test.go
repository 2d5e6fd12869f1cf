package factory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/dues-engine/engine"
	"github.com/warp/dues-engine/engine/store"
)

func TestParseConfig_Valid(t *testing.T) {
	f := NewConfigFactory()

	cfg, err := f.ParseConfig(`{
		"client_id": "mtc",
		"module": "hoa_dues",
		"penalty_rate": 0.05,
		"penalty_days": 10,
		"billing_period": "quarterly",
		"fiscal_year_start_month": 7
	}`)
	require.NoError(t, err)

	assert.Equal(t, engine.ClientID("mtc"), cfg.ClientID)
	assert.Equal(t, engine.ModuleHOADues, cfg.Module)
	assert.Equal(t, 0.05, *cfg.PenaltyRate)
	assert.Equal(t, 10, *cfg.PenaltyDays)
	assert.Equal(t, engine.FrequencyQuarterly, cfg.BillingPeriod)
	assert.Equal(t, 7, cfg.FiscalYearStartMonth)
}

func TestParseConfig_CalendarDefaults(t *testing.T) {
	cfg, err := NewConfigFactory().ParseConfig(`{"penalty_rate": 0, "penalty_days": 0}`)
	require.NoError(t, err)

	assert.Equal(t, engine.FrequencyMonthly, cfg.BillingPeriod)
	assert.Equal(t, 1, cfg.FiscalYearStartMonth)
	assert.Zero(t, *cfg.PenaltyRate)
}

func TestParseConfig_PenaltyFieldsNeverDefaulted(t *testing.T) {
	tests := []struct {
		name  string
		json  string
		field string
	}{
		{"missing rate", `{"penalty_days": 10}`, "penaltyRate"},
		{"null rate", `{"penalty_rate": null, "penalty_days": 10}`, "penaltyRate"},
		{"string rate", `{"penalty_rate": "5%", "penalty_days": 10}`, "penaltyRate"},
		{"bool rate", `{"penalty_rate": true, "penalty_days": 10}`, "penaltyRate"},
		{"missing days", `{"penalty_rate": 0.05}`, "penaltyDays"},
		{"string days", `{"penalty_rate": 0.05, "penalty_days": "ten"}`, "penaltyDays"},
		{"fractional days", `{"penalty_rate": 0.05, "penalty_days": 10.5}`, "penaltyDays"},
		{"bad month", `{"penalty_rate": 0.05, "penalty_days": 10, "fiscal_year_start_month": 13}`, "fiscalYearStartMonth"},
	}

	f := NewConfigFactory()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ParseConfig(tt.json)
			var cErr *engine.ConfigurationError
			require.ErrorAs(t, err, &cErr)
			assert.Equal(t, tt.field, cErr.Field)
			assert.ErrorIs(t, err, engine.ErrConfiguration)
		})
	}
}

func TestParseConfig_AcceptsEngineFieldNames(t *testing.T) {
	cfg, err := NewConfigFactory().ParseConfig(`{"penaltyRate": 0.02, "penaltyDays": 5}`)
	require.NoError(t, err)
	assert.Equal(t, 0.02, *cfg.PenaltyRate)
	assert.Equal(t, 5, *cfg.PenaltyDays)
}

func TestParseConfig_MalformedJSON(t *testing.T) {
	_, err := NewConfigFactory().ParseConfig(`{"penalty_rate":`)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, engine.ErrConfiguration)
}

func TestToJSON_RoundTrip(t *testing.T) {
	f := NewConfigFactory()
	cfg, err := f.ParseConfig(`{"client_id":"mtc","module":"water_bills","penalty_rate":0.05,"penalty_days":10}`)
	require.NoError(t, err)

	cj := f.ToJSON(cfg)
	assert.Equal(t, "water_bills", cj.Module)
	assert.Equal(t, "monthly", cj.BillingPeriod)
	assert.Equal(t, 1, cj.FiscalYearStartMonth)
}

// =============================================================================
// YAML SEED
// =============================================================================

const seedYAML = `
configs:
  - client_id: mtc
    module: hoa_dues
    penalty_rate: 0.05
    penalty_days: 10
    billing_period: quarterly
    fiscal_year_start_month: 7
bills:
  - id: mtc-101-2026-00
    client_id: mtc
    unit_id: "101"
    module: hoa_dues
    period: "2026-00"
    base_charge: "450.00"
    due_date: "2025-07-01"
  - id: mtc-101-2026-01
    client_id: mtc
    unit_id: "101"
    module: hoa_dues
    period: "2026-01"
    base_charge: "450.00"
    paid_base: "100.50"
credits:
  - unit_id: "101"
    balance: "25.00"
`

func TestSeed_ApplyWritesThroughStore(t *testing.T) {
	// GIVEN: A seed with one config, two bills, and opening credit
	seed, err := ParseSeed([]byte(seedYAML))
	require.NoError(t, err)

	ctx := context.Background()
	m := store.NewMemory()

	// WHEN: Applied twice
	require.NoError(t, seed.Apply(ctx, m))
	require.NoError(t, seed.Apply(ctx, m))

	// THEN: Config and bills are stored and credit is not doubled
	cfg, err := m.BillingConfig(ctx, "mtc", engine.ModuleHOADues)
	require.NoError(t, err)
	assert.Equal(t, engine.FrequencyQuarterly, cfg.BillingPeriod)

	bills, err := m.OutstandingBills(ctx, "101", engine.ModuleHOADues)
	require.NoError(t, err)
	require.Len(t, bills, 2)

	b, ok := m.Bill("mtc-101-2026-01")
	require.True(t, ok)
	assert.Equal(t, engine.Money(45000), b.BaseCharge)
	assert.Equal(t, engine.Money(10050), b.PaidBase)
	assert.True(t, b.DueDate.IsZero())

	bal, err := m.CreditBalance(ctx, "101")
	require.NoError(t, err)
	assert.Equal(t, engine.Money(2500), bal)
}

func TestSeed_RejectsConfigWithoutPenaltyDays(t *testing.T) {
	seed, err := ParseSeed([]byte(`
configs:
  - client_id: mtc
    module: water_bills
    penalty_rate: 0.05
`))
	require.NoError(t, err)

	_, err = seed.BillingConfigs()
	assert.ErrorIs(t, err, engine.ErrConfiguration)
}

func TestParseAmount(t *testing.T) {
	m, err := ParseAmount(" 1234.56 ", "amount")
	require.NoError(t, err)
	assert.Equal(t, engine.Money(123456), m)

	_, err = ParseAmount("12,00", "amount")
	assert.ErrorIs(t, err, engine.ErrValidation)

	_, err = ParseAmount("450.005", "base_charge")
	var vErr *engine.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "base_charge", vErr.Field)

	_, err = ParseAmount("100000000000000000000", "credits.balance")
	assert.ErrorIs(t, err, engine.ErrValidation)
}
