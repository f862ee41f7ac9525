package engine

import (
	"fmt"
	"math"
	"time"

	"accordo/internal/negotiation"
)

// MESO tuning.
const (
	mesoDefaultVariance     = 0.03
	mesoFinalVariance       = 0.02
	mesoExplorationVariance = 0.06
	mesoFinalTrigger        = 0.75 // current utility at which a closing round fires
	mesoTargetLift          = 0.05 // how far above the current offer the bundle aims
	mesoMinRound            = 2
	stallRepeatRounds       = 3
	stallValueEpsilon       = 1e-9
)

// ShouldUseMeso gates MESO generation: not before round 2, not at or past
// the soft round cap, and at most every other round.
func ShouldUseMeso(round int, cfg *negotiation.Config, prevRounds []negotiation.MesoRound) bool {
	if !cfg.MesoEnabled() {
		return false
	}
	if round < mesoMinRound {
		return false
	}
	softMax := cfg.MaxRounds
	if cfg.DynamicRounds != nil && cfg.DynamicRounds.SoftMax > 0 {
		softMax = cfg.DynamicRounds.SoftMax
	}
	if round >= softMax {
		return false
	}
	for _, r := range prevRounds {
		if r.Round >= round-1 {
			return false
		}
	}
	return true
}

// GenerateMeso produces three equi-utility bundles (price-favoring,
// terms-favoring, balanced) at a shared target utility. The mode is
// `final` when the current offer already scores ≥ 0.75, `dynamic` after a
// previous MESO round, `initial` otherwise.
func GenerateMeso(cfg *negotiation.Config, current *negotiation.Offer, currentU float64, round int, prev *negotiation.MesoRound, state *negotiation.State, now time.Time) *negotiation.MesoRound {
	mesoType := negotiation.MesoInitial
	variance := mesoDefaultVariance
	target := math.Min(currentU+mesoTargetLift, cfg.AcceptThreshold)

	switch {
	case currentU >= mesoFinalTrigger:
		mesoType = negotiation.MesoFinal
		variance = mesoFinalVariance
		target = math.Max(currentU, cfg.AcceptThreshold)
	case prev != nil:
		mesoType = negotiation.MesoDynamic
	}
	if state.IsInPreferenceExploration() && mesoType != negotiation.MesoFinal {
		variance = mesoExplorationVariance
	}
	if target > 1 {
		target = 1
	}

	prevSelectedLabel := negotiation.Emphasis("")
	if prev != nil && prev.SelectedOptionID != "" {
		for _, opt := range prev.Options {
			if opt.ID == prev.SelectedOptionID {
				prevSelectedLabel = opt.Label
				break
			}
		}
	}

	mr := &negotiation.MesoRound{
		ID:            negotiation.NewID(),
		Round:         round,
		Type:          mesoType,
		TargetUtility: target,
		Variance:      variance,
		CreatedAt:     now,
	}
	for _, label := range []negotiation.Emphasis{negotiation.EmphasisPrice, negotiation.EmphasisTerms, negotiation.EmphasisBalanced} {
		opt := buildMesoOption(cfg, label, target, prevSelectedLabel == label && mesoType == negotiation.MesoDynamic, currentU, now)
		mr.Options = append(mr.Options, opt)
	}
	disambiguateOptions(cfg, mr, currentU, now)
	return mr
}

// disambiguateOptions separates bundles that collapsed onto the same
// (price, terms) point — possible when the terms ladder is short. Each
// duplicate is re-solved below the target by a share of the variance that
// grows with its position, which keeps it inside the equi-utility band and
// keeps two re-solved duplicates apart.
func disambiguateOptions(cfg *negotiation.Config, mr *negotiation.MesoRound, currentU float64, now time.Time) {
	deliveryBudget := 0.0
	if cfg.Delivery != nil {
		deliveryBudget = cfg.Delivery.Weight
	}
	for i := 1; i < len(mr.Options); i++ {
		for j := 0; j < i; j++ {
			a, b := &mr.Options[i], &mr.Options[j]
			if a.Offer.PaymentTerms != b.Offer.PaymentTerms ||
				a.Offer.TotalPrice == nil || b.Offer.TotalPrice == nil ||
				math.Abs(*a.Offer.TotalPrice-*b.Offer.TotalPrice) > 1e-6 {
				continue
			}
			adjusted := mr.TargetUtility - mr.Variance*float64(i)/float64(len(mr.Options))
			uTerms := cfg.Terms.Utility(a.Offer.PaymentTerms)
			uPrice := clamp01((adjusted - cfg.Terms.Weight*uTerms - deliveryBudget) / cfg.Price.Weight)
			price := priceForUtility(uPrice, &cfg.Price)
			a.Offer.TotalPrice = &price
			u, _ := Evaluate(&a.Offer, cfg, now)
			a.Utility = u
			a.DeltaFromCurrent = u - currentU
		}
	}
}

// buildMesoOption solves for an offer whose total utility equals the
// target, trading price against payment terms along the given axis.
// A price-favoring option gives the vendor a higher price and takes the
// buyer's best terms; a terms-favoring option gives the vendor friendlier
// terms and takes a lower price.
func buildMesoOption(cfg *negotiation.Config, label negotiation.Emphasis, target float64, perturb bool, currentU float64, now time.Time) negotiation.MesoOption {
	// Fixed delivery at the preferred date keeps that component at 1.
	deliveryBudget := 0.0
	deliveryDate := ""
	if cfg.Delivery != nil {
		deliveryBudget = cfg.Delivery.Weight
		deliveryDate = cfg.Delivery.PreferredDate
	}

	terms := pickTermsForLabel(cfg, label, target, deliveryBudget, perturb)
	uTerms := cfg.Terms.Utility(terms)

	// Remaining utility the price must supply.
	uPrice := (target - cfg.Terms.Weight*uTerms - deliveryBudget) / cfg.Price.Weight
	uPrice = clamp01(uPrice)
	price := priceForUtility(uPrice, &cfg.Price)

	offer := negotiation.Offer{
		TotalPrice:   &price,
		PaymentTerms: terms,
		DeliveryDate: deliveryDate,
	}
	u, _ := Evaluate(&offer, cfg, now)
	return negotiation.MesoOption{
		ID:               negotiation.NewID(),
		Label:            label,
		Offer:            offer,
		Utility:          u,
		DeltaFromCurrent: u - currentU,
	}
}

// pickTermsForLabel chooses the terms option for an axis, constrained to
// choices the price can still compensate for (the implied price utility
// must stay within [0,1] so the bundle lands on the target exactly).
func pickTermsForLabel(cfg *negotiation.Config, label negotiation.Emphasis, target, deliveryBudget float64, perturb bool) string {
	feasible := func(uTerms float64) bool {
		uPrice := (target - cfg.Terms.Weight*uTerms - deliveryBudget) / cfg.Price.Weight
		return uPrice >= 0 && uPrice <= 1
	}

	// Options ordered by buyer utility; vendor preference runs the other way.
	ordered := append([]string(nil), cfg.Terms.Options...)
	sortByUtility(ordered, cfg, label != negotiation.EmphasisTerms)

	// price-favoring: highest buyer terms utility first (vendor gains on
	// price instead). terms-favoring: lowest buyer terms utility first.
	// balanced: middle of the feasible set.
	var candidates []string
	for _, opt := range ordered {
		if feasible(cfg.Terms.Utility(opt)) {
			candidates = append(candidates, opt)
		}
	}
	if len(candidates) == 0 {
		candidates = ordered
	}

	idx := 0
	if label == negotiation.EmphasisBalanced {
		idx = len(candidates) / 2
	}
	if perturb && idx+1 < len(candidates) {
		// Move the re-offered axis away from the previously selected
		// bundle's neighborhood to widen the preference signal.
		idx++
	}
	return candidates[idx]
}

// sortByUtility orders options by configured utility, descending when
// `desc` is true. Insertion sort keeps option order stable for ties.
func sortByUtility(opts []string, cfg *negotiation.Config, desc bool) {
	for i := 1; i < len(opts); i++ {
		for j := i; j > 0; j-- {
			a, b := cfg.Terms.Utility(opts[j-1]), cfg.Terms.Utility(opts[j])
			if (desc && b > a) || (!desc && b < a) {
				opts[j-1], opts[j] = opts[j], opts[j-1]
			} else {
				break
			}
		}
	}
}

// DetectStall scans the per-parameter vendor value histories for a value
// repeated identically across the trailing rounds. Returns the stalled
// parameter name, or "" when nothing stalls.
func DetectStall(histories map[string][]float64) (string, bool) {
	for _, param := range []string{negotiation.ParamPrice, negotiation.ParamTerms, negotiation.ParamDelivery} {
		vals := histories[param]
		if len(vals) < stallRepeatRounds {
			continue
		}
		tail := vals[len(vals)-stallRepeatRounds:]
		stalled := true
		for i := 1; i < len(tail); i++ {
			if math.Abs(tail[i]-tail[0]) > stallValueEpsilon {
				stalled = false
				break
			}
		}
		if stalled {
			return param, true
		}
	}
	return "", false
}

// StallPrompt is the final-offer probe attached to the PM response when a
// vendor parameter has not moved for several rounds. It does not change
// the round's action.
func StallPrompt(param string) string {
	return fmt.Sprintf("We notice your %s position has not moved in the last %d rounds. Is this your final offer on %s? If so, please confirm and we will evaluate the package as it stands.",
		param, stallRepeatRounds, param)
}
