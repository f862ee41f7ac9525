package negotiation

import (
	"strconv"
	"strings"
)

// Parameter history keys.
const (
	ParamPrice    = "price"
	ParamTerms    = "terms"
	ParamDelivery = "delivery"
)

// emphasis inference tuning. Shrinkage damps single-round evidence toward
// the prior so one noisy concession does not flip the inferred emphasis.
const (
	emphasisShrinkage     = 0.6  // weight of the prior confidence
	emphasisMinConcession = 0.01 // proportional concession below this is noise
	emphasisSwitchFloor   = 0.35 // confidence below this allows a switch
	balancedRunThreshold  = 3    // consecutive balanced MESO picks → exploration
	explorationRounds     = 2
)

// MesoSelection records one vendor pick from a MESO round.
type MesoSelection struct {
	Round    int      `json:"round"`
	Type     MesoType `json:"type"`
	OptionID string   `json:"option_id"`
	Label    Emphasis `json:"label"`
}

// State is the engine's per-deal memory. It is rewritten in full on each
// completed round; all update functions return a new value and never
// mutate their receiver.
type State struct {
	PriceConcessions []float64 `json:"price_concessions"` // per-round delta from prior vendor offer
	TermsConcessions []float64 `json:"terms_concessions"` // per-round terms-utility delta

	VendorEmphasis     Emphasis `json:"vendor_emphasis"`
	EmphasisConfidence float64  `json:"emphasis_confidence"`

	MesoSelections                []MesoSelection `json:"meso_selections,omitempty"`
	ConsecutiveBalancedSelections int             `json:"consecutive_balanced_selections"`

	LastPmCounter  *Offer    `json:"last_pm_counter,omitempty"`
	UtilityHistory []float64 `json:"utility_history"`

	// ParameterHistories holds the vendor's numeric value per parameter per
	// round, used for stall detection.
	ParameterHistories map[string][]float64 `json:"parameter_histories,omitempty"`

	InPreferenceExploration    bool `json:"in_preference_exploration"`
	ExplorationRoundsRemaining int  `json:"exploration_rounds_remaining"`
}

// NewState returns the initial state for a fresh deal.
func NewState() *State {
	return &State{
		VendorEmphasis:     EmphasisBalanced,
		ParameterHistories: map[string][]float64{},
	}
}

// Clone returns a deep copy.
func (s *State) Clone() *State {
	if s == nil {
		return NewState()
	}
	c := *s
	c.PriceConcessions = append([]float64(nil), s.PriceConcessions...)
	c.TermsConcessions = append([]float64(nil), s.TermsConcessions...)
	c.MesoSelections = append([]MesoSelection(nil), s.MesoSelections...)
	c.UtilityHistory = append([]float64(nil), s.UtilityHistory...)
	c.LastPmCounter = s.LastPmCounter.Clone()
	c.ParameterHistories = make(map[string][]float64, len(s.ParameterHistories))
	for k, v := range s.ParameterHistories {
		c.ParameterHistories[k] = append([]float64(nil), v...)
	}
	return &c
}

// TermsNetDays parses the canonical "Net N" form to its day count.
// Returns -1 for anything non-canonical.
func TermsNetDays(terms string) float64 {
	rest, ok := strings.CutPrefix(strings.TrimSpace(terms), "Net ")
	if !ok {
		return -1
	}
	n, err := strconv.Atoi(strings.TrimSpace(rest))
	if err != nil || n < 0 {
		return -1
	}
	return float64(n)
}

// Update folds a completed round into the state: recomputes concessions,
// re-infers vendor emphasis and extends the parameter histories.
func (s *State) Update(prev, next *Offer, vendorText string, pmCounter *Offer, round int, cfg *Config) *State {
	ns := s.Clone()

	var priceFrac, termsDelta float64
	if prev.HasPrice() && next.HasPrice() {
		delta := *prev.TotalPrice - *next.TotalPrice // positive = vendor conceded
		ns.PriceConcessions = append(ns.PriceConcessions, delta)
		if *prev.TotalPrice > 0 {
			priceFrac = delta / *prev.TotalPrice
		}
	}
	if prev.HasTerms() && next.HasTerms() && cfg != nil {
		termsDelta = cfg.Terms.Utility(next.PaymentTerms) - cfg.Terms.Utility(prev.PaymentTerms)
		ns.TermsConcessions = append(ns.TermsConcessions, termsDelta)
	}

	ns.recordParameters(next)
	ns.inferEmphasis(priceFrac, termsDelta, vendorText)

	if pmCounter != nil {
		ns.LastPmCounter = pmCounter.Clone()
	}
	if ns.InPreferenceExploration {
		ns.ExplorationRoundsRemaining--
		if ns.ExplorationRoundsRemaining <= 0 {
			ns.InPreferenceExploration = false
			ns.ExplorationRoundsRemaining = 0
		}
	}
	return ns
}

func (s *State) recordParameters(offer *Offer) {
	if s.ParameterHistories == nil {
		s.ParameterHistories = map[string][]float64{}
	}
	if offer.HasPrice() {
		s.ParameterHistories[ParamPrice] = append(s.ParameterHistories[ParamPrice], *offer.TotalPrice)
	}
	if offer.HasTerms() {
		if d := TermsNetDays(offer.PaymentTerms); d >= 0 {
			s.ParameterHistories[ParamTerms] = append(s.ParameterHistories[ParamTerms], d)
		}
	}
	if offer != nil && offer.DeliveryDays != nil {
		s.ParameterHistories[ParamDelivery] = append(s.ParameterHistories[ParamDelivery], float64(*offer.DeliveryDays))
	}
}

// inferEmphasis picks the parameter the vendor conceded on proportionally
// most this round, damped toward the prior inference.
func (s *State) inferEmphasis(priceFrac, termsDelta float64, vendorText string) {
	candidate := EmphasisBalanced
	strength := 0.0

	// Terms utility deltas are already in [0,1]; scale the price fraction so
	// a 5% price cut competes with a one-step terms move.
	priceScore := priceFrac * 8
	switch {
	case priceScore > strength && priceFrac > emphasisMinConcession:
		candidate, strength = EmphasisPrice, priceScore
	}
	if termsDelta > strength && termsDelta > emphasisMinConcession {
		candidate, strength = EmphasisTerms, termsDelta
	}

	if cue := languageEmphasisCue(vendorText); cue != "" {
		if candidate == EmphasisBalanced || cue == candidate {
			candidate = cue
			strength = maxFloat(strength, 0.5)
		}
	}

	if strength > 1 {
		strength = 1
	}

	if candidate == s.VendorEmphasis {
		s.EmphasisConfidence = emphasisShrinkage*s.EmphasisConfidence + (1-emphasisShrinkage)*maxFloat(strength, s.EmphasisConfidence)
		if s.EmphasisConfidence < strength {
			s.EmphasisConfidence = strength
		}
		return
	}
	// Conflicting evidence decays the prior; switch only once it is weak.
	decayed := s.EmphasisConfidence * emphasisShrinkage
	if candidate != EmphasisBalanced && (decayed < emphasisSwitchFloor || strength > decayed) {
		s.VendorEmphasis = candidate
		s.EmphasisConfidence = maxFloat(strength, 1-emphasisShrinkage)
	} else {
		s.EmphasisConfidence = decayed
	}
}

// languageEmphasisCue scans vendor text for explicit statements about what
// matters to them.
func languageEmphasisCue(text string) Emphasis {
	t := strings.ToLower(text)
	priceCues := []string{"price is", "best price", "cannot go lower", "can't go lower", "margin", "final price"}
	termsCues := []string{"payment terms", "cash flow", "net 9", "net 6", "payment schedule", "invoice"}
	deliveryCues := []string{"lead time", "delivery is", "shipping", "can deliver", "delivery schedule"}
	for _, c := range priceCues {
		if strings.Contains(t, c) {
			return EmphasisPrice
		}
	}
	for _, c := range termsCues {
		if strings.Contains(t, c) {
			return EmphasisTerms
		}
	}
	for _, c := range deliveryCues {
		if strings.Contains(t, c) {
			return EmphasisDelivery
		}
	}
	return ""
}

// RecordMesoSelection folds one MESO pick into the state. Repeated balanced
// picks flip the deal into preference-exploration mode.
func (s *State) RecordMesoSelection(mesoType MesoType, optionID string, label Emphasis, round int) *State {
	ns := s.Clone()
	ns.MesoSelections = append(ns.MesoSelections, MesoSelection{
		Round: round, Type: mesoType, OptionID: optionID, Label: label,
	})
	if label == EmphasisBalanced {
		ns.ConsecutiveBalancedSelections++
		if ns.ConsecutiveBalancedSelections >= balancedRunThreshold && !ns.InPreferenceExploration {
			ns.InPreferenceExploration = true
			ns.ExplorationRoundsRemaining = explorationRounds
		}
	} else {
		ns.ConsecutiveBalancedSelections = 0
		// A non-balanced pick is direct preference evidence.
		ns.VendorEmphasis = label
		ns.EmphasisConfidence = maxFloat(s.EmphasisConfidence, 0.6)
	}
	return ns
}

// RecordUtilityScore appends a round's utility to the history.
func (s *State) RecordUtilityScore(u float64) *State {
	ns := s.Clone()
	ns.UtilityHistory = append(ns.UtilityHistory, u)
	return ns
}

// GetLastPmCounter returns the PM's previous counter, nil before the first.
func (s *State) GetLastPmCounter() *Offer {
	if s == nil {
		return nil
	}
	return s.LastPmCounter
}

// IsInPreferenceExploration reports whether MESO variance should widen.
func (s *State) IsInPreferenceExploration() bool {
	return s != nil && s.InPreferenceExploration
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
