/*
seed.go - YAML seed files for billing configs, bills, and opening credit

PURPOSE:

	Loads a development/demo dataset from YAML and writes it through the
	engine.Store interfaces. Amounts are written in major units ("450.00") and
	converted to minor units here, so the seed file reads like a statement.

YAML SCHEMA:

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
	    period: 2026-00
	    base_charge: "450.00"
	    due_date: 2025-07-01
	credits:
	  - unit_id: "101"
	    balance: "100.00"

APPLYING:

	Apply is safe to run on every startup: configs and bills are upserts, and
	credit is adjusted by the difference to the seeded balance.
*/
package factory

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/dues-engine/engine"
	"gopkg.in/yaml.v3"
)

// Seed is a decoded seed file.
type Seed struct {
	Configs []map[string]any `yaml:"configs"`
	Bills   []BillYAML       `yaml:"bills"`
	Credits []CreditYAML     `yaml:"credits"`
}

// BillYAML is one bill in a seed file. Amounts are major-unit strings.
type BillYAML struct {
	ID            string `yaml:"id"`
	ClientID      string `yaml:"client_id"`
	UnitID        string `yaml:"unit_id"`
	Module        string `yaml:"module"`
	Period        string `yaml:"period"`
	BaseCharge    string `yaml:"base_charge"`
	PenaltyAmount string `yaml:"penalty_amount,omitempty"`
	PaidBase      string `yaml:"paid_base,omitempty"`
	PaidPenalty   string `yaml:"paid_penalty,omitempty"`
	DueDate       string `yaml:"due_date,omitempty"`
}

// CreditYAML sets a unit's opening credit balance.
type CreditYAML struct {
	UnitID  string `yaml:"unit_id"`
	Balance string `yaml:"balance"`
}

// LoadSeed reads and decodes a seed file.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed decodes seed YAML.
func ParseSeed(data []byte) (*Seed, error) {
	var s Seed
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse seed YAML: %w", err)
	}
	return &s, nil
}

// BillingConfigs converts the seeded configs, failing on the first bad one.
func (s *Seed) BillingConfigs() ([]engine.BillingConfig, error) {
	f := NewConfigFactory()
	out := make([]engine.BillingConfig, 0, len(s.Configs))
	for i, raw := range s.Configs {
		cfg, err := f.FromMap(raw)
		if err != nil {
			return nil, fmt.Errorf("configs[%d]: %w", i, err)
		}
		out = append(out, cfg)
	}
	return out, nil
}

// EngineBills converts the seeded bills to engine bills.
func (s *Seed) EngineBills() ([]engine.Bill, error) {
	out := make([]engine.Bill, 0, len(s.Bills))
	for i, by := range s.Bills {
		b, err := by.toBill()
		if err != nil {
			return nil, fmt.Errorf("bills[%d]: %w", i, err)
		}
		out = append(out, b)
	}
	return out, nil
}

// Apply writes the seed through the store.
func (s *Seed) Apply(ctx context.Context, store engine.Store) error {
	configs, err := s.BillingConfigs()
	if err != nil {
		return err
	}
	bills, err := s.EngineBills()
	if err != nil {
		return err
	}

	for _, cfg := range configs {
		if err := store.SaveBillingConfig(ctx, cfg); err != nil {
			return err
		}
	}
	if err := store.SaveBills(ctx, bills); err != nil {
		return err
	}

	for i, c := range s.Credits {
		target, err := ParseAmount(c.Balance, "credits.balance")
		if err != nil {
			return fmt.Errorf("credits[%d]: %w", i, err)
		}
		unit := engine.UnitID(c.UnitID)
		current, err := store.CreditBalance(ctx, unit)
		if err != nil {
			return err
		}
		if delta := target - current; delta != 0 {
			if _, err := store.AdjustCredit(ctx, unit, engine.CreditEntry{Delta: delta, Reason: "seed"}); err != nil {
				return err
			}
		}
	}
	return nil
}

func (by BillYAML) toBill() (engine.Bill, error) {
	period, err := engine.ParsePeriodKey(by.Period)
	if err != nil {
		return engine.Bill{}, err
	}

	b := engine.Bill{
		ID:       engine.BillID(by.ID),
		ClientID: engine.ClientID(by.ClientID),
		UnitID:   engine.UnitID(by.UnitID),
		Module:   engine.ModuleKind(by.Module),
		Period:   period,
	}

	amounts := []struct {
		raw   string
		field string
		dst   *engine.Money
	}{
		{by.BaseCharge, "base_charge", &b.BaseCharge},
		{by.PenaltyAmount, "penalty_amount", &b.PenaltyAmount},
		{by.PaidBase, "paid_base", &b.PaidBase},
		{by.PaidPenalty, "paid_penalty", &b.PaidPenalty},
	}
	for _, a := range amounts {
		if a.raw == "" {
			continue
		}
		m, err := ParseAmount(a.raw, a.field)
		if err != nil {
			return engine.Bill{}, err
		}
		*a.dst = m
	}

	if by.DueDate != "" {
		d, err := engine.ParseDate(by.DueDate)
		if err != nil {
			return engine.Bill{}, err
		}
		b.DueDate = d
	}

	return b, b.Validate()
}

// ParseAmount converts a major-unit decimal string ("450.00") to Money.
func ParseAmount(raw, field string) (engine.Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return 0, &engine.ValidationError{Field: field, Reason: fmt.Sprintf("invalid amount %q", raw)}
	}
	return engine.MoneyFromMajor(d, field)
}
