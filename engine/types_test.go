package engine

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMoney_MajorConversion(t *testing.T) {
	for in, want := range map[string]Money{
		"1234.56": 123456,
		"-2.5":    -250,
		"100.000": 10000,
		"0":       0,
	} {
		got, err := MoneyFromMajor(decimal.RequireFromString(in), "amount")
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	assert.Equal(t, "1234.56", Money(123456).String())
	assert.Equal(t, "-100.00", Money(-10000).String())
	assert.True(t, Money(123456).Major().Equal(decimal.RequireFromString("1234.56")))
}

func TestMoney_MajorConversionRejects(t *testing.T) {
	cases := []struct {
		name string
		in   string
	}{
		{"sub-minor precision", "100.005"},
		{"half a centavo", "0.005"},
		{"beyond int64", "100000000000000000000"},
		{"just past the bound", "10000000000000.01"},
		{"negative beyond bound", "-100000000000000000000"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := MoneyFromMajor(decimal.RequireFromString(tc.in), "paymentAmount")
			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, "paymentAmount", vErr.Field)
		})
	}

	got, err := MoneyFromMajor(MaxMoney.Major(), "amount")
	require.NoError(t, err)
	assert.Equal(t, MaxMoney, got)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, StatusUnpaid, StatusFor(1000, 0, 0, 0))
	assert.Equal(t, StatusPartial, StatusFor(1000, 100, 0, 100))
	assert.Equal(t, StatusPartial, StatusFor(1000, 100, 1000, 0))
	assert.Equal(t, StatusPaid, StatusFor(1000, 100, 1000, 100))
	assert.Equal(t, StatusPaid, StatusFor(0, 0, 0, 0))
}

func TestPeriodKey_ParseAndOrder(t *testing.T) {
	p, err := ParsePeriodKey("2026-03")
	require.NoError(t, err)
	assert.Equal(t, PeriodKey{FiscalYear: 2026, Index: 3}, p)
	assert.Equal(t, "2026-03", p.String())

	assert.True(t, PeriodKey{2025, 11}.Less(PeriodKey{2026, 0}))
	assert.False(t, PeriodKey{2026, 1}.Less(PeriodKey{2026, 1}))

	_, err = ParsePeriodKey("2026-12")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = ParsePeriodKey("march")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestDate_ParseAndArithmetic(t *testing.T) {
	d, err := ParseDate("2025-01-31")
	require.NoError(t, err)
	assert.Equal(t, "2025-02-10", d.AddDays(10).String())
	assert.Equal(t, 10, d.DaysUntil(d.AddDays(10)))
	assert.Equal(t, -3, d.DaysUntil(d.AddDays(-3)))

	local := time.Date(2025, time.March, 9, 23, 30, 0, 0, time.FixedZone("PHT", 8*3600))
	assert.Equal(t, "2025-03-09", DateOf(local).String())

	_, err = ParseDate("03/09/2025")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCreditBalance_ApplyAppendsHistory(t *testing.T) {
	c := CreditBalance{UnitID: "unit-101"}

	c1, err := c.Apply(CreditEntry{Delta: 5000, Reason: "overpayment"})
	require.NoError(t, err)
	c2, err := c1.Apply(CreditEntry{Delta: -2000, Reason: "credit applied"})
	require.NoError(t, err)

	assert.Equal(t, Money(3000), c2.Balance)
	require.Len(t, c2.History, 2)
	assert.Equal(t, Money(5000), c2.History[0].BalanceAfter)
	assert.Equal(t, Money(3000), c2.History[1].BalanceAfter)

	// Earlier values are untouched
	assert.Len(t, c1.History, 1)
	assert.Empty(t, c.History)

	_, err = c2.Apply(CreditEntry{Delta: -3001})
	assert.ErrorIs(t, err, ErrNegativeCredit)
}

func TestBillingConfig_Validate(t *testing.T) {
	rate, days := 0.05, 10
	ok := BillingConfig{PenaltyRate: &rate, PenaltyDays: &days, FiscalYearStartMonth: 7}
	assert.NoError(t, ok.Validate())

	bad := ok
	bad.FiscalYearStartMonth = 13
	assert.ErrorIs(t, bad.Validate(), ErrConfiguration)

	bad = ok
	bad.BillingPeriod = "weekly"
	assert.ErrorIs(t, bad.Validate(), ErrConfiguration)

	neg := -0.01
	bad = ok
	bad.PenaltyRate = &neg
	assert.ErrorIs(t, bad.Validate(), ErrConfiguration)
}
