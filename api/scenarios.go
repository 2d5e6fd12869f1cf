/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built datasets that reset the store and populate it with a
	realistic mix of billing configs, bills, and credit. Each scenario is a
	seed document in the same YAML format the -seed flag accepts.

AVAILABLE SCENARIOS:

	current-unit:        One unit, a quarter of dues, nothing overdue
	overdue-with-credit: Past-due dues and water bills plus credit on file
	partially-paid:      Oldest bill half paid, penalty already recorded

HOW SCENARIOS WORK:
 1. Reset the store (clear all data)
 2. Parse the scenario's seed YAML
 3. Apply configs, bills, and credit via factory.Seed.Apply

USAGE VIA API:

	GET  /api/scenarios
	POST /api/scenarios/load
	{"scenario_id": "overdue-with-credit"}

NOTE:

	Scenarios reset the database. The routes are mounted only when the
	handler has a DemoStore.

SEE ALSO:
  - factory/seed.go: Seed format and Apply
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/warp/dues-engine/engine"
	"github.com/warp/dues-engine/factory"
)

// DemoStore is a store that can be wiped for scenario loading.
type DemoStore interface {
	engine.Store
	Reset(ctx context.Context) error
}

// Scenario describes a loadable demo dataset.
type Scenario struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Units       []string `json:"units"`

	seed string
}

const scenarioConfigs = `
configs:
  - client_id: mtc
    module: hoa_dues
    penalty_rate: 0.05
    penalty_days: 10
    billing_period: monthly
    fiscal_year_start_month: 7
  - client_id: mtc
    module: water_bills
    penalty_rate: 0.05
    penalty_days: 10
    billing_period: monthly
    fiscal_year_start_month: 7
`

var scenarios = []Scenario{
	{
		ID:          "current-unit",
		Name:        "Current Unit",
		Description: "Unit 101 with three upcoming monthly dues bills and no arrears",
		Units:       []string{"101"},
		seed: scenarioConfigs + `
bills:
  - {id: mtc-101-2026-00, client_id: mtc, unit_id: "101", module: hoa_dues, period: 2026-00, base_charge: "450.00", due_date: 2025-07-01}
  - {id: mtc-101-2026-01, client_id: mtc, unit_id: "101", module: hoa_dues, period: 2026-01, base_charge: "450.00", due_date: 2025-08-01}
  - {id: mtc-101-2026-02, client_id: mtc, unit_id: "101", module: hoa_dues, period: 2026-02, base_charge: "450.00", due_date: 2025-09-01}
`,
	},
	{
		ID:          "overdue-with-credit",
		Name:        "Overdue With Credit",
		Description: "Unit 102 behind on dues and water, holding credit from an earlier overpayment",
		Units:       []string{"102"},
		seed: scenarioConfigs + `
bills:
  - {id: mtc-102-2025-10, client_id: mtc, unit_id: "102", module: hoa_dues, period: 2025-10, base_charge: "450.00", due_date: 2025-05-01}
  - {id: mtc-102-2025-11, client_id: mtc, unit_id: "102", module: hoa_dues, period: 2025-11, base_charge: "450.00", due_date: 2025-06-01}
  - {id: mtc-102-2026-00, client_id: mtc, unit_id: "102", module: hoa_dues, period: 2026-00, base_charge: "450.00", due_date: 2025-07-01}
  - {id: mtc-102-w-2025-11, client_id: mtc, unit_id: "102", module: water_bills, period: 2025-11, base_charge: "38.20", due_date: 2025-06-15}
credits:
  - {unit_id: "102", balance: "75.00"}
`,
	},
	{
		ID:          "partially-paid",
		Name:        "Partially Paid",
		Description: "Unit 103 paid half of its oldest bill after a penalty was assessed",
		Units:       []string{"103"},
		seed: scenarioConfigs + `
bills:
  - {id: mtc-103-2025-11, client_id: mtc, unit_id: "103", module: hoa_dues, period: 2025-11, base_charge: "450.00", penalty_amount: "22.50", paid_base: "225.00", due_date: 2025-06-01}
  - {id: mtc-103-2026-00, client_id: mtc, unit_id: "103", module: hoa_dues, period: 2026-00, base_charge: "450.00", due_date: 2025-07-01}
`,
	},
}

// ListScenarios returns available scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadScenarioRequest selects a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// LoadScenario resets the store and loads a scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	sc, ok := findScenario(req.ScenarioID)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Unknown scenario: %s", req.ScenarioID), nil)
		return
	}

	if err := loadScenario(r.Context(), h.Demo, sc); err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"scenario": sc,
	})
}

func findScenario(id string) (Scenario, bool) {
	for _, sc := range scenarios {
		if sc.ID == id {
			return sc, true
		}
	}
	return Scenario{}, false
}

func loadScenario(ctx context.Context, st DemoStore, sc Scenario) error {
	seed, err := factory.ParseSeed([]byte(sc.seed))
	if err != nil {
		return err
	}
	if err := st.Reset(ctx); err != nil {
		return err
	}
	return seed.Apply(ctx, st)
}
