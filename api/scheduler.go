/*
scheduler.go - Automated penalty refresh scheduler

PURPOSE:

	Periodically recalculates stored penalties so that bill listings and
	statements reflect the current month without waiting for a payment.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Refreshes each configured client/module target once per calendar day
  - Skips targets already refreshed today
  - A failing target is logged and retried on the next tick

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)
  - Targets: Client/module pairs to refresh

USAGE:

	scheduler := NewPenaltyScheduler(svc, targets)
	scheduler.Start()
	// ... later
	scheduler.Stop()

SEE ALSO:
  - handlers.go: RecalculatePenalties endpoint (manual refresh)
  - payments/service.go: RefreshPenalties
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/warp/dues-engine/engine"
	"github.com/warp/dues-engine/payments"
)

// RefreshTarget is one client/module the scheduler keeps current.
type RefreshTarget struct {
	ClientID engine.ClientID
	Module   engine.ModuleKind
}

// PenaltyScheduler handles automated penalty refresh.
type PenaltyScheduler struct {
	Payments      *payments.Service
	Targets       []RefreshTarget
	CheckInterval time.Duration
	Enabled       bool

	// Now is replaced in tests.
	Now func() time.Time

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex

	runMu   sync.Mutex
	lastRun map[RefreshTarget]engine.Date
}

// NewPenaltyScheduler creates a new scheduler.
func NewPenaltyScheduler(svc *payments.Service, targets []RefreshTarget) *PenaltyScheduler {
	return &PenaltyScheduler{
		Payments:      svc,
		Targets:       targets,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		Now:           time.Now,
		lastRun:       make(map[RefreshTarget]engine.Date),
	}
}

// Start begins the scheduler. It may be started again after Stop; a second
// Start while running is a no-op.
func (ps *PenaltyScheduler) Start() {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if !ps.Enabled || len(ps.Targets) == 0 {
		log.Println("[Scheduler] Disabled, not starting")
		return
	}
	if ps.ticker != nil {
		return
	}

	ps.ticker = time.NewTicker(ps.CheckInterval)
	ps.stop = make(chan bool)
	ps.wg.Add(1)

	go ps.run(ps.ticker, ps.stop)

	log.Printf("[Scheduler] Started with check interval: %v, %d target(s)", ps.CheckInterval, len(ps.Targets))
}

// Stop stops the scheduler.
func (ps *PenaltyScheduler) Stop() {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if ps.ticker != nil {
		ps.ticker.Stop()
		close(ps.stop)
		ps.wg.Wait()
		ps.ticker = nil
		log.Println("[Scheduler] Stopped")
	}
}

func (ps *PenaltyScheduler) run(ticker *time.Ticker, stop <-chan bool) {
	defer ps.wg.Done()

	// Run immediately on start
	ps.CheckAndProcess(context.Background())

	for {
		select {
		case <-ticker.C:
			ps.CheckAndProcess(context.Background())
		case <-stop:
			return
		}
	}
}

// CheckAndProcess refreshes every target not yet refreshed today and returns
// how many were processed.
func (ps *PenaltyScheduler) CheckAndProcess(ctx context.Context) int {
	today := engine.DateOf(ps.Now())

	processed, skipped := 0, 0
	for _, target := range ps.Targets {
		if last, ok := ps.last(target); ok && last.Equal(today) {
			skipped++
			continue
		}

		report, err := ps.Payments.RefreshPenalties(ctx, target.ClientID, target.Module, today)
		if err != nil {
			log.Printf("[Scheduler] Error refreshing %s/%s: %v", target.ClientID, target.Module, err)
			continue
		}

		ps.markDone(target, today)
		processed++
		if report.BillsUpdated > 0 {
			log.Printf("[Scheduler] %s/%s: %d bill(s) updated across %d unit(s)",
				target.ClientID, target.Module, report.BillsUpdated, report.Units)
		}
	}

	if processed > 0 || skipped > 0 {
		log.Printf("[Scheduler] Completed: %d processed, %d skipped (already done today)", processed, skipped)
	}
	return processed
}

func (ps *PenaltyScheduler) last(t RefreshTarget) (engine.Date, bool) {
	ps.runMu.Lock()
	defer ps.runMu.Unlock()
	d, ok := ps.lastRun[t]
	return d, ok
}

func (ps *PenaltyScheduler) markDone(t RefreshTarget, d engine.Date) {
	ps.runMu.Lock()
	defer ps.runMu.Unlock()
	ps.lastRun[t] = d
}
