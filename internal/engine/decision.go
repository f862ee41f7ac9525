package engine

import (
	"fmt"
	"strings"
	"time"

	"accordo/internal/negotiation"
)

// emphasisConfidenceBar is the confidence above which the vendor's inferred
// emphasis redirects the PM's concessions.
const emphasisConfidenceBar = 0.6

// Decide evaluates one vendor offer against the stance and produces the
// round's action with full explainability. `strategy` is nil when the
// adaptive layer is disabled.
func Decide(cfg *negotiation.Config, acc *negotiation.AccumulatedOffer, round int, state *negotiation.State, strategy *StrategyResult, now time.Time) *negotiation.Decision {
	dec := &negotiation.Decision{
		Explainability: negotiation.Explainability{
			Thresholds: negotiation.Thresholds{
				Accept:   cfg.AcceptThreshold,
				Escalate: cfg.EscalateThreshold,
				Walkaway: cfg.WalkawayThreshold,
			},
		},
	}
	if strategy != nil {
		dec.Explainability.Behavioral = &negotiation.BehavioralTrace{
			Momentum:           strategy.Signals.Momentum,
			Strategy:           strategy.Strategy,
			ConvergenceRate:    strategy.Signals.ConvergenceRate,
			ConcessionVelocity: strategy.Signals.ConcessionVelocity,
			Aggressiveness:     strategy.Aggressiveness,
			ExtendedRounds:     strategy.ShouldExtendRounds,
		}
	}

	if acc == nil || !acc.IsComplete {
		dec.Action = negotiation.ActionAskClarify
		missing := "price and payment terms"
		if acc != nil && len(acc.MissingFields) > 0 {
			missing = strings.Join(acc.MissingFields, ", ")
		}
		dec.Explainability.Reason = fmt.Sprintf("offer is incomplete: missing %s", missing)
		return dec
	}

	u, comps := Evaluate(&acc.Offer, cfg, now)
	dec.UtilityScore = u
	dec.Explainability.Components = comps

	maxRounds := cfg.MaxRounds
	if strategy != nil && strategy.ShouldExtendRounds {
		maxRounds = cfg.HardMaxRounds()
	}

	switch {
	case u >= cfg.AcceptThreshold:
		dec.Action = negotiation.ActionAccept
		dec.Explainability.Reason = fmt.Sprintf("utility %.3f meets accept threshold %.2f", u, cfg.AcceptThreshold)
		return dec

	case round >= maxRounds:
		if u >= cfg.EscalateThreshold {
			dec.Action = negotiation.ActionEscalate
			dec.Explainability.Reason = fmt.Sprintf("round cap %d reached with utility %.3f at or above escalate threshold %.2f", maxRounds, u, cfg.EscalateThreshold)
		} else {
			dec.Action = negotiation.ActionWalkAway
			dec.Explainability.Reason = fmt.Sprintf("round cap %d reached with utility %.3f below escalate threshold %.2f", maxRounds, u, cfg.EscalateThreshold)
		}
		return dec

	case u < cfg.WalkawayThreshold && noRecentConvergence(state, round):
		dec.Action = negotiation.ActionWalkAway
		dec.Explainability.Reason = fmt.Sprintf("utility %.3f below walkaway threshold %.2f with no vendor convergence", u, cfg.WalkawayThreshold)
		return dec
	}

	dec.Action = negotiation.ActionCounter
	counter := buildCounter(cfg, &acc.Offer, state, strategy)
	dec.CounterOffer = counter
	projected, _ := Evaluate(counter, cfg, now)
	dec.Explainability.Reason = fmt.Sprintf("utility %.3f between walkaway %.2f and accept %.2f; countering at projected utility %.3f",
		u, cfg.WalkawayThreshold, cfg.AcceptThreshold, projected)
	return dec
}

// noRecentConvergence reports whether the vendor has failed to move toward
// the buyer over the last two completed rounds. The first round never
// triggers it: a single offer carries no trend.
func noRecentConvergence(state *negotiation.State, round int) bool {
	if round < 2 || state == nil {
		return false
	}
	cs := state.PriceConcessions
	if len(cs) == 0 {
		return false
	}
	window := cs
	if len(window) > 2 {
		window = window[len(window)-2:]
	}
	var sum float64
	for _, c := range window {
		sum += c
	}
	return sum <= 0
}

// buildCounter constructs the PM's counter-offer. The price moves from the
// last counter toward the vendor by the concession step, scaled by the
// adaptive aggressiveness and steered away from the vendor's emphasized
// parameter. Counters are monotone: the PM never walks a price back.
func buildCounter(cfg *negotiation.Config, vendor *negotiation.Offer, state *negotiation.State, strategy *StrategyResult) *negotiation.Offer {
	base := cfg.Price.Anchor
	lastTerms := ""
	if last := state.GetLastPmCounter(); last != nil {
		if last.TotalPrice != nil {
			base = *last.TotalPrice
		}
		lastTerms = last.PaymentTerms
	}

	step := cfg.Price.ConcessionStep
	if strategy != nil {
		step *= strategy.Aggressiveness
	}

	emphasis, confidence := negotiation.EmphasisBalanced, 0.0
	if state != nil {
		emphasis, confidence = state.VendorEmphasis, state.EmphasisConfidence
	}
	switch emphasis {
	case negotiation.EmphasisPrice:
		// The vendor is moving on price already; conceding there buys less.
		step *= 1 / (1 + confidence)
	case negotiation.EmphasisTerms:
		if confidence >= emphasisConfidenceBar {
			step *= 1 + 0.5*confidence
		}
	}

	price := base + step
	if vendor.HasPrice() && price > *vendor.TotalPrice {
		price = *vendor.TotalPrice
	}
	if price > cfg.Price.MaxAcceptable {
		price = cfg.Price.MaxAcceptable
	}
	if price < base {
		price = base
	}

	counter := &negotiation.Offer{TotalPrice: &price}

	// Terms: hold firm when the vendor's emphasis is terms, otherwise step
	// one option toward what the vendor asked for.
	if lastTerms == "" {
		lastTerms = cfg.Terms.BestOption()
	}
	if emphasis == negotiation.EmphasisTerms && confidence >= emphasisConfidenceBar {
		counter.PaymentTerms = lastTerms
	} else if vendor.HasTerms() {
		counter.PaymentTerms = cfg.Terms.StepToward(lastTerms, vendor.PaymentTerms)
	} else {
		counter.PaymentTerms = lastTerms
	}

	if cfg.Delivery != nil {
		counter.DeliveryDate = counterDeliveryDate(cfg.Delivery, vendor)
	}

	return counter
}

// counterDeliveryDate proposes the preferred date; when the vendor has
// stated a later date, it offers the earlier of that and the required date.
func counterDeliveryDate(d *negotiation.DeliveryParameter, vendor *negotiation.Offer) string {
	preferred, err := time.Parse("2006-01-02", d.PreferredDate)
	if err != nil {
		return ""
	}
	if vendor == nil || vendor.DeliveryDate == "" {
		return d.PreferredDate
	}
	stated, err := time.Parse("2006-01-02", vendor.DeliveryDate)
	if err != nil || !stated.After(preferred) {
		return d.PreferredDate
	}
	required, err := time.Parse("2006-01-02", d.RequiredDate)
	if err != nil {
		return d.PreferredDate
	}
	if stated.Before(required) {
		return stated.Format("2006-01-02")
	}
	return required.Format("2006-01-02")
}
