/*
Package factory provides JSON/YAML to Go billing config conversion.

PURPOSE:

	Converts billing config documents into engine.BillingConfig values. Admins
	edit penalty settings through the API (JSON) or a seed file (YAML); the
	factory creates the engine struct and rejects anything the engine would
	have to guess at.

NO DEFAULTS FOR PENALTIES:

	penalty_rate and penalty_days are never defaulted. A document that omits
	them, sets them to null, or sets them to a non-number ("5%", "ten") yields
	an engine.ConfigurationError naming the field. Only the calendar fields
	have defaults (monthly billing, fiscal year starting in January).

JSON SCHEMA:

	{
	  "client_id": "mtc",
	  "module": "hoa_dues",
	  "penalty_rate": 0.05,
	  "penalty_days": 10,
	  "billing_period": "quarterly",
	  "fiscal_year_start_month": 7
	}

USAGE:

	f := factory.NewConfigFactory()

	// From JSON string
	cfg, err := f.ParseConfig(jsonString)

	// From a decoded YAML/JSON map
	cfg, err := f.FromMap(raw)

SEE ALSO:
  - engine/config.go: BillingConfig type definition
  - factory/seed.go: YAML seed files
*/
package factory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/warp/dues-engine/engine"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// ConfigJSON is the JSON representation of a billing config.
type ConfigJSON struct {
	ClientID             string   `json:"client_id" yaml:"client_id"`
	Module               string   `json:"module" yaml:"module"`
	PenaltyRate          *float64 `json:"penalty_rate" yaml:"penalty_rate"`
	PenaltyDays          *int     `json:"penalty_days" yaml:"penalty_days"`
	BillingPeriod        string   `json:"billing_period,omitempty" yaml:"billing_period,omitempty"`
	FiscalYearStartMonth int      `json:"fiscal_year_start_month,omitempty" yaml:"fiscal_year_start_month,omitempty"`
}

// =============================================================================
// CONFIG FACTORY
// =============================================================================

// ConfigFactory converts config documents to engine structs.
type ConfigFactory struct{}

// NewConfigFactory creates a new config factory.
func NewConfigFactory() *ConfigFactory {
	return &ConfigFactory{}
}

// ParseConfig parses a JSON string into a validated BillingConfig.
func (f *ConfigFactory) ParseConfig(jsonStr string) (engine.BillingConfig, error) {
	return f.ParseConfigBytes([]byte(jsonStr))
}

// ParseConfigBytes is ParseConfig for a request body.
func (f *ConfigFactory) ParseConfigBytes(data []byte) (engine.BillingConfig, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return engine.BillingConfig{}, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	return f.FromMap(raw)
}

// FromMap converts a decoded document into a validated BillingConfig. Values
// may come from encoding/json (json.Number) or yaml.v3 (int, float64).
func (f *ConfigFactory) FromMap(raw map[string]any) (engine.BillingConfig, error) {
	cfg := engine.BillingConfig{
		ClientID: engine.ClientID(stringField(raw, "client_id")),
		Module:   engine.ModuleKind(stringField(raw, "module")),
	}

	rate, err := floatField(raw, "penalty_rate", "penaltyRate")
	if err != nil {
		return cfg, err
	}
	cfg.PenaltyRate = rate

	days, err := intField(raw, "penalty_days", "penaltyDays")
	if err != nil {
		return cfg, err
	}
	cfg.PenaltyDays = days

	if v := stringField(raw, "billing_period"); v != "" {
		cfg.BillingPeriod = engine.BillingFrequency(v)
	} else {
		cfg.BillingPeriod = engine.FrequencyMonthly
	}

	month, err := intField(raw, "fiscal_year_start_month", "fiscalYearStartMonth")
	if err != nil {
		return cfg, err
	}
	if month != nil {
		cfg.FiscalYearStartMonth = *month
	} else {
		cfg.FiscalYearStartMonth = 1
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ToJSON converts a BillingConfig to ConfigJSON.
func (f *ConfigFactory) ToJSON(cfg engine.BillingConfig) ConfigJSON {
	return ConfigJSON{
		ClientID:             string(cfg.ClientID),
		Module:               string(cfg.Module),
		PenaltyRate:          cfg.PenaltyRate,
		PenaltyDays:          cfg.PenaltyDays,
		BillingPeriod:        string(cfg.BillingPeriod),
		FiscalYearStartMonth: cfg.StartMonth(),
	}
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func stringField(raw map[string]any, key string) string {
	if v, ok := raw[key]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return ""
}

// lookup returns the value under the first key present. Both the snake_case
// document key and the camelCase engine field name are accepted.
func lookup(raw map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := raw[k]; ok {
			return v, true
		}
	}
	return nil, false
}

func floatField(raw map[string]any, key, field string) (*float64, error) {
	v, ok := lookup(raw, key, field)
	if !ok || v == nil {
		return nil, &engine.ConfigurationError{Field: field, Reason: "is required"}
	}

	var f float64
	switch n := v.(type) {
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return nil, notNumeric(field, v)
		}
		f = parsed
	case float64:
		f = n
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	default:
		return nil, notNumeric(field, v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, notNumeric(field, v)
	}
	return &f, nil
}

func intField(raw map[string]any, key, field string) (*int, error) {
	v, ok := lookup(raw, key, field)
	if !ok || v == nil {
		if field == "penaltyDays" {
			return nil, &engine.ConfigurationError{Field: field, Reason: "is required"}
		}
		return nil, nil
	}

	var i int
	switch n := v.(type) {
	case json.Number:
		parsed, err := strconv.Atoi(n.String())
		if err != nil {
			return nil, notNumeric(field, v)
		}
		i = parsed
	case int:
		i = n
	case int64:
		i = int(n)
	case float64:
		if n != math.Trunc(n) {
			return nil, &engine.ConfigurationError{Field: field, Reason: fmt.Sprintf("must be a whole number, got %v", n)}
		}
		i = int(n)
	default:
		return nil, notNumeric(field, v)
	}
	return &i, nil
}

func notNumeric(field string, v any) error {
	return &engine.ConfigurationError{Field: field, Reason: fmt.Sprintf("must be numeric, got %q", fmt.Sprint(v))}
}
