package engine

import (
	"math"

	"accordo/internal/negotiation"
)

// Config builder defaults.
const (
	fallbackTarget        = 1000.0
	anchorRatio           = 0.85
	maxAcceptableRatio    = 1.25
	concessionDivisor     = 6
	defaultAcceptThresh   = 0.70
	defaultEscalateThresh = 0.50
	defaultWalkawayThresh = 0.30
	defaultMaxRounds      = 6
	defaultPriceWeight    = 0.6
	defaultTermsWeight    = 0.4

	// Historical anchor shift bounds.
	historyMinSamples = 3
	historyShiftCap   = 0.10 // of the target−anchor span
	historyShiftGain  = 0.5  // of the vendor's mean final discount
)

// WizardPayload is the buyer's stance-wizard input overlaid on the
// requisition-derived defaults. Zero values leave the default in place.
type WizardPayload struct {
	Priority          negotiation.Priority           `json:"priority,omitempty"`
	AcceptThreshold   float64                        `json:"accept_threshold,omitempty"`
	EscalateThreshold float64                        `json:"escalate_threshold,omitempty"`
	WalkawayThreshold float64                        `json:"walkaway_threshold,omitempty"`
	PriceWeight       float64                        `json:"price_weight,omitempty"`
	TermsWeight       float64                        `json:"terms_weight,omitempty"`
	MaxRounds         int                            `json:"max_rounds,omitempty"`
	DynamicRounds     *negotiation.DynamicRounds     `json:"dynamic_rounds,omitempty"`
	Adaptive          *negotiation.AdaptiveFeatures  `json:"adaptive_features,omitempty"`
	Delivery          *negotiation.DeliveryParameter `json:"delivery,omitempty"`
}

// BuildConfig derives the engine config for a requisition: target from the
// product lines, anchor/reservation as fixed ratios of it, the default
// threshold triple and Net 30/60/90 terms ladder.
func BuildConfig(req *negotiation.Requisition) *negotiation.Config {
	target := fallbackTarget
	if req != nil {
		if t := req.TotalTarget(); t > 0 {
			target = t
		}
	}
	anchor := anchorRatio * target
	maxAcceptable := maxAcceptableRatio * target

	currency := "USD"
	if req != nil && req.Currency != "" {
		currency = req.Currency
	}

	return &negotiation.Config{
		Price: negotiation.PriceParameter{
			Weight:         defaultPriceWeight,
			Anchor:         anchor,
			Target:         target,
			MaxAcceptable:  maxAcceptable,
			ConcessionStep: (maxAcceptable - target) / concessionDivisor,
		},
		Terms: negotiation.TermsParameter{
			Weight:  defaultTermsWeight,
			Options: []string{"Net 30", "Net 60", "Net 90"},
			Utilities: map[string]float64{
				"Net 30": 0.2,
				"Net 60": 0.6,
				"Net 90": 1.0,
			},
		},
		AcceptThreshold:   defaultAcceptThresh,
		EscalateThreshold: defaultEscalateThresh,
		WalkawayThreshold: defaultWalkawayThresh,
		MaxRounds:         defaultMaxRounds,
		Priority:          negotiation.PriorityMedium,
		Currency:          currency,
	}
}

// ApplyWizard overlays the wizard payload onto a built config. Priority
// shifts the thresholds — HIGH tightens the stance, LOW loosens it —
// before any explicit threshold overrides apply.
func ApplyWizard(cfg *negotiation.Config, w *WizardPayload) *negotiation.Config {
	if w == nil {
		return cfg
	}
	out := *cfg

	switch w.Priority {
	case negotiation.PriorityHigh:
		out.Priority = negotiation.PriorityHigh
		out.AcceptThreshold = math.Min(out.AcceptThreshold+0.05, 0.95)
		out.WalkawayThreshold = math.Min(out.WalkawayThreshold+0.05, out.EscalateThreshold-0.05)
	case negotiation.PriorityLow:
		out.Priority = negotiation.PriorityLow
		out.AcceptThreshold = math.Max(out.AcceptThreshold-0.05, out.EscalateThreshold)
		out.WalkawayThreshold = math.Max(out.WalkawayThreshold-0.05, 0.05)
	case negotiation.PriorityMedium:
		out.Priority = negotiation.PriorityMedium
	}

	if w.AcceptThreshold > 0 {
		out.AcceptThreshold = w.AcceptThreshold
	}
	if w.EscalateThreshold > 0 {
		out.EscalateThreshold = w.EscalateThreshold
	}
	if w.WalkawayThreshold > 0 {
		out.WalkawayThreshold = w.WalkawayThreshold
	}
	if w.PriceWeight > 0 && w.TermsWeight > 0 {
		out.Price.Weight = w.PriceWeight
		out.Terms.Weight = w.TermsWeight
	}
	if w.MaxRounds > 0 {
		out.MaxRounds = w.MaxRounds
	}
	if w.DynamicRounds != nil {
		dr := *w.DynamicRounds
		out.DynamicRounds = &dr
	}
	if w.Adaptive != nil {
		af := *w.Adaptive
		out.Adaptive = &af
	}
	if w.Delivery != nil {
		d := *w.Delivery
		out.Delivery = &d
		// Re-balance weights so the three still sum to 1.
		scale := 1 - d.Weight
		total := out.Price.Weight + out.Terms.Weight
		if total > 0 {
			out.Price.Weight = out.Price.Weight / total * scale
			out.Terms.Weight = out.Terms.Weight / total * scale
		}
	}
	return &out
}

// ApplyHistoricalAnchor shifts the anchor toward the target based on the
// vendor's past acceptance behavior: vendors who historically concede a
// mean final discount μ (with enough samples) justify opening less
// aggressively. The shift is capped at 10% of the anchor-to-target span.
func ApplyHistoricalAnchor(cfg *negotiation.Config, profile *negotiation.VendorProfile) *negotiation.Config {
	if profile == nil || profile.DealCount < historyMinSamples || profile.MeanFinalDiscount <= 0 {
		return cfg
	}
	out := *cfg
	span := out.Price.Target - out.Price.Anchor
	shift := math.Min(historyShiftCap*span, historyShiftGain*profile.MeanFinalDiscount*out.Price.Target)
	if shift <= 0 {
		return cfg
	}
	out.Price.Anchor += shift
	if out.Price.Anchor > out.Price.Target {
		out.Price.Anchor = out.Price.Target
	}
	return &out
}
