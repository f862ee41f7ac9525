package negotiation

import (
	"encoding/json"
	"fmt"
	"math"
)

// weightEpsilon bounds the allowed drift of the parameter weight sum from 1.
const weightEpsilon = 1e-6

// PriceParameter configures the minimize-direction price attribute.
type PriceParameter struct {
	Weight float64 `json:"weight"`
	// Anchor is the buyer's ideal price: utility 1 at or below it.
	Anchor float64 `json:"anchor"`
	// Target is the buyer's goal price.
	Target float64 `json:"target"`
	// MaxAcceptable is the reservation price: utility 0 at or above it.
	MaxAcceptable  float64 `json:"max_acceptable"`
	ConcessionStep float64 `json:"concession_step"`
}

// TermsParameter configures the payment-terms attribute.
type TermsParameter struct {
	Weight float64 `json:"weight"`
	// Options is the ordered set of acceptable terms, best-for-buyer last
	// (e.g. Net 30, Net 60, Net 90).
	Options []string `json:"options"`
	// Utilities maps each option to its utility in [0,1].
	Utilities map[string]float64 `json:"utilities"`
}

// Utility looks up an option's utility; unknown options score 0.
func (t *TermsParameter) Utility(option string) float64 {
	return t.Utilities[option]
}

// BestOption returns the option with the highest configured utility.
func (t *TermsParameter) BestOption() string {
	best, bestU := "", -1.0
	for _, opt := range t.Options {
		if u := t.Utilities[opt]; u > bestU {
			best, bestU = opt, u
		}
	}
	return best
}

// StepToward returns the option one position from `from` toward `to` in the
// configured ordering. Unknown endpoints return `from` unchanged.
func (t *TermsParameter) StepToward(from, to string) string {
	fi, ti := -1, -1
	for i, opt := range t.Options {
		if opt == from {
			fi = i
		}
		if opt == to {
			ti = i
		}
	}
	if fi < 0 || ti < 0 || fi == ti {
		return from
	}
	if ti > fi {
		return t.Options[fi+1]
	}
	return t.Options[fi-1]
}

// DeliveryParameter configures the optional delivery attribute.
type DeliveryParameter struct {
	Weight float64 `json:"weight"`
	// PreferredDate earns utility 1 on or before it.
	PreferredDate string `json:"preferred_date"` // ISO date
	// RequiredDate plus MaxLateDays earns utility 0.
	RequiredDate string `json:"required_date"` // ISO date
	MaxLateDays  int    `json:"max_late_days"`
}

// DynamicRounds extends max_rounds up to a hard cap while converging.
type DynamicRounds struct {
	SoftMax           int  `json:"soft_max"`
	HardMax           int  `json:"hard_max"`
	AutoExtendEnabled bool `json:"auto_extend_enabled"`
}

// AdaptiveFeatures toggles the behavioral strategy layer.
type AdaptiveFeatures struct {
	Enabled     bool `json:"enabled"`
	MesoEnabled bool `json:"meso_enabled"`
}

// Config is the PM's negotiation stance for one deal.
type Config struct {
	Price    PriceParameter     `json:"total_price"`
	Terms    TermsParameter     `json:"payment_terms"`
	Delivery *DeliveryParameter `json:"delivery,omitempty"`

	AcceptThreshold   float64 `json:"accept_threshold"`
	EscalateThreshold float64 `json:"escalate_threshold"`
	WalkawayThreshold float64 `json:"walkaway_threshold"`

	MaxRounds int      `json:"max_rounds"`
	Priority  Priority `json:"priority"`

	DynamicRounds *DynamicRounds    `json:"dynamic_rounds,omitempty"`
	Adaptive      *AdaptiveFeatures `json:"adaptive_features,omitempty"`

	// Currency is the requisition currency prices are interpreted in.
	Currency string `json:"currency,omitempty"`
}

// HardMaxRounds is the effective round ceiling: DynamicRounds.HardMax when
// auto-extend is enabled, MaxRounds otherwise.
func (c *Config) HardMaxRounds() int {
	if c.DynamicRounds != nil && c.DynamicRounds.AutoExtendEnabled && c.DynamicRounds.HardMax > c.MaxRounds {
		return c.DynamicRounds.HardMax
	}
	return c.MaxRounds
}

// AdaptiveEnabled reports whether the behavioral layer is active.
func (c *Config) AdaptiveEnabled() bool {
	return c.Adaptive != nil && c.Adaptive.Enabled
}

// MesoEnabled reports whether MESO generation is active.
func (c *Config) MesoEnabled() bool {
	return c.Adaptive != nil && c.Adaptive.MesoEnabled
}

// Validate checks threshold ordering, weight sums and parameter bounds.
// Violations return ErrValidation-wrapped errors before any mutation.
func (c *Config) Validate() error {
	if !(c.WalkawayThreshold < c.EscalateThreshold && c.EscalateThreshold <= c.AcceptThreshold) {
		return fmt.Errorf("%w: thresholds must satisfy walkaway < escalate <= accept (got %.3f/%.3f/%.3f)",
			ErrValidation, c.WalkawayThreshold, c.EscalateThreshold, c.AcceptThreshold)
	}
	for _, th := range []float64{c.AcceptThreshold, c.EscalateThreshold, c.WalkawayThreshold} {
		if th < 0 || th > 1 {
			return fmt.Errorf("%w: thresholds must lie in [0,1]", ErrValidation)
		}
	}
	sum := c.Price.Weight + c.Terms.Weight
	if c.Delivery != nil {
		sum += c.Delivery.Weight
	}
	if math.Abs(sum-1.0) > weightEpsilon {
		return fmt.Errorf("%w: parameter weights sum to %.6f, want 1.0", ErrValidation, sum)
	}
	if c.Price.Anchor > c.Price.Target || c.Price.Target > c.Price.MaxAcceptable {
		return fmt.Errorf("%w: price requires anchor <= target <= max_acceptable", ErrValidation)
	}
	if c.Price.MaxAcceptable <= c.Price.Anchor {
		return fmt.Errorf("%w: price max_acceptable must exceed anchor", ErrValidation)
	}
	if len(c.Terms.Options) == 0 {
		return fmt.Errorf("%w: payment terms require at least one option", ErrValidation)
	}
	for _, opt := range c.Terms.Options {
		u, ok := c.Terms.Utilities[opt]
		if !ok {
			return fmt.Errorf("%w: terms option %q has no utility", ErrValidation, opt)
		}
		if u < 0 || u > 1 {
			return fmt.Errorf("%w: terms utility for %q out of [0,1]", ErrValidation, opt)
		}
	}
	if c.MaxRounds <= 0 {
		return fmt.Errorf("%w: max_rounds must be positive", ErrValidation)
	}
	if c.DynamicRounds != nil && c.DynamicRounds.HardMax < c.DynamicRounds.SoftMax {
		return fmt.Errorf("%w: dynamic rounds hard max below soft max", ErrValidation)
	}
	return nil
}

// ParseConfig decodes and validates a persisted config blob. Blobs that mix
// the normalized total_price parameter with the legacy unit_price key are
// refused outright rather than guessed at.
func ParseConfig(data []byte) (*Config, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("%w: malformed config: %v", ErrValidation, err)
	}
	if _, hasLegacy := probe["unit_price"]; hasLegacy {
		if _, hasTotal := probe["total_price"]; hasTotal {
			return nil, fmt.Errorf("%w: config mixes total_price and legacy unit_price", ErrValidation)
		}
		return nil, fmt.Errorf("%w: legacy unit_price configs are not supported", ErrValidation)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: malformed config: %v", ErrValidation, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
