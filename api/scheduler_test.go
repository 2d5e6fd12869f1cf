package api

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/dues-engine/engine"
	"github.com/warp/dues-engine/engine/store"
	"github.com/warp/dues-engine/payments"
)

func TestPenaltyScheduler_RefreshesOncePerDay(t *testing.T) {
	// GIVEN: One overdue bill and a scheduler for its client/module
	ctx := context.Background()
	st := store.NewTxMemory()
	require.NoError(t, st.SaveBillingConfig(ctx, engine.BillingConfig{
		ClientID:             "mtc",
		Module:               engine.ModuleHOADues,
		PenaltyRate:          engine.Float64(0.05),
		PenaltyDays:          engine.Int(10),
		FiscalYearStartMonth: 7,
	}))
	require.NoError(t, st.SaveBills(ctx, []engine.Bill{{
		ID:         "jul",
		ClientID:   "mtc",
		UnitID:     "101",
		Module:     engine.ModuleHOADues,
		Period:     engine.PeriodKey{FiscalYear: 2026, Index: 0},
		BaseCharge: 100000,
		DueDate:    engine.NewDate(2025, time.July, 1),
	}}))

	svc := payments.NewService(st, log.New(io.Discard, "", 0))
	ps := NewPenaltyScheduler(svc, []RefreshTarget{{ClientID: "mtc", Module: engine.ModuleHOADues}})
	now := time.Date(2025, time.September, 5, 1, 0, 0, 0, time.UTC)
	ps.Now = func() time.Time { return now }

	// WHEN: Checked twice on the same day
	assert.Equal(t, 1, ps.CheckAndProcess(ctx))
	assert.Equal(t, 0, ps.CheckAndProcess(ctx))

	// THEN: The stored penalty reflects Sept 5
	b, _ := st.Bill("jul")
	assert.Equal(t, engine.Money(10250), b.PenaltyAmount)

	// AND: The next day is processed again
	now = now.Add(24 * time.Hour)
	assert.Equal(t, 1, ps.CheckAndProcess(ctx))
}

func TestPenaltyScheduler_FailingTargetIsRetried(t *testing.T) {
	svc := payments.NewService(store.NewTxMemory(), log.New(io.Discard, "", 0))
	ps := NewPenaltyScheduler(svc, []RefreshTarget{{ClientID: "missing", Module: engine.ModuleWater}})

	assert.Equal(t, 0, ps.CheckAndProcess(context.Background()))
	assert.Equal(t, 0, ps.CheckAndProcess(context.Background()))
}

func TestPenaltyScheduler_StartStop(t *testing.T) {
	svc := payments.NewService(store.NewTxMemory(), log.New(io.Discard, "", 0))
	ps := NewPenaltyScheduler(svc, []RefreshTarget{{ClientID: "mtc", Module: engine.ModuleHOADues}})
	ps.CheckInterval = time.Hour

	ps.Start()
	ps.Stop()
	ps.Stop()
}

func TestPenaltyScheduler_RestartAfterStop(t *testing.T) {
	// GIVEN: A running scheduler that has processed its first day
	ctx := context.Background()
	st := store.NewTxMemory()
	require.NoError(t, st.SaveBillingConfig(ctx, engine.BillingConfig{
		ClientID:    "mtc",
		Module:      engine.ModuleHOADues,
		PenaltyRate: engine.Float64(0.05),
		PenaltyDays: engine.Int(10),
	}))

	svc := payments.NewService(st, log.New(io.Discard, "", 0))
	target := RefreshTarget{ClientID: "mtc", Module: engine.ModuleHOADues}
	ps := NewPenaltyScheduler(svc, []RefreshTarget{target})
	ps.CheckInterval = time.Hour
	now := time.Date(2025, time.September, 5, 1, 0, 0, 0, time.UTC)
	ps.Now = func() time.Time { return now }

	ranOn := func(d engine.Date) func() bool {
		return func() bool {
			last, ok := ps.last(target)
			return ok && last.Equal(d)
		}
	}

	ps.Start()
	require.Eventually(t, ranOn(engine.DateOf(now)), time.Second, 5*time.Millisecond)
	ps.Stop()

	// WHEN: Restarted on the next day
	now = now.Add(24 * time.Hour)
	ps.Start()
	defer ps.Stop()

	// THEN: The new run loop processes the new day
	assert.Eventually(t, ranOn(engine.DateOf(now)), time.Second, 5*time.Millisecond)
}
