package engine

import (
	"math"
	"strings"
	"testing"

	"accordo/internal/negotiation"
)

func completeOffer(price float64, terms string) *negotiation.AccumulatedOffer {
	return Accumulate(nil, &negotiation.Offer{TotalPrice: &price, PaymentTerms: terms}, "m")
}

func TestDecide_AskClarifyWhenIncomplete(t *testing.T) {
	cfg := referenceConfig()
	acc := Accumulate(nil, &negotiation.Offer{PaymentTerms: "Net 60"}, "m")
	dec := Decide(cfg, acc, 1, negotiation.NewState(), nil, testNow())
	if dec.Action != negotiation.ActionAskClarify {
		t.Fatalf("Action = %s, want ASK_CLARIFY", dec.Action)
	}
	if dec.CounterOffer != nil {
		t.Error("ASK_CLARIFY produced a counter-offer")
	}
	if !strings.Contains(dec.Explainability.Reason, "total_price") {
		t.Errorf("Reason = %q, want mention of missing total_price", dec.Explainability.Reason)
	}
}

func TestDecide_AcceptAboveThreshold(t *testing.T) {
	cfg := referenceConfig()
	dec := Decide(cfg, completeOffer(890, "Net 90"), 5, negotiation.NewState(), nil, testNow())
	if dec.Action != negotiation.ActionAccept {
		t.Fatalf("Action = %s, want ACCEPT (U=%v)", dec.Action, dec.UtilityScore)
	}
	if math.Abs(dec.UtilityScore-0.94) > 1e-9 {
		t.Errorf("UtilityScore = %v, want 0.94", dec.UtilityScore)
	}
}

func TestDecide_RoundCap(t *testing.T) {
	cfg := referenceConfig()

	t.Run("escalate between escalate and accept thresholds", func(t *testing.T) {
		// U ≈ 0.5525 at the cap sits between escalate and accept.
		dec := Decide(cfg, completeOffer(1041+2.0/3.0, "Net 60"), 6, negotiation.NewState(), nil, testNow())
		if math.Abs(dec.UtilityScore-0.5525) > 1e-3 {
			t.Fatalf("UtilityScore = %v, want ~0.5525", dec.UtilityScore)
		}
		if dec.Action != negotiation.ActionEscalate {
			t.Errorf("Action = %s, want ESCALATE", dec.Action)
		}
	})

	t.Run("boundary utility equal to escalate threshold escalates", func(t *testing.T) {
		// Equal weights and round numbers land U exactly on 0.50:
		// 0.5·0.4 + 0.5·0.6 = 0.50.
		boundary := referenceConfig()
		boundary.Price.Weight = 0.5
		boundary.Terms.Weight = 0.5
		boundary.Price.Anchor = 800
		boundary.Price.MaxAcceptable = 1200
		dec := Decide(boundary, completeOffer(1040, "Net 60"), 6, negotiation.NewState(), nil, testNow())
		if dec.UtilityScore != 0.50 {
			t.Fatalf("UtilityScore = %v, want exactly 0.50", dec.UtilityScore)
		}
		if dec.Action != negotiation.ActionEscalate {
			t.Errorf("Action = %s, want ESCALATE, not COUNTER, at the boundary", dec.Action)
		}
	})

	t.Run("walk away below escalate threshold at cap", func(t *testing.T) {
		dec := Decide(cfg, completeOffer(1200, "Net 30"), 6, negotiation.NewState(), nil, testNow())
		if dec.Action != negotiation.ActionWalkAway {
			t.Errorf("Action = %s, want WALK_AWAY", dec.Action)
		}
	})
}

func TestDecide_WalkAwayOnDivergence(t *testing.T) {
	cfg := referenceConfig()

	// First low offer: still counters (no trend yet).
	state := negotiation.NewState()
	dec := Decide(cfg, completeOffer(1400, "Net 30"), 1, state, nil, testNow())
	if dec.Action != negotiation.ActionCounter {
		t.Fatalf("round 1 Action = %s, want COUNTER", dec.Action)
	}

	// Second identical offer: no concession recorded, walk away.
	prev := &negotiation.Offer{TotalPrice: floatPtr(1400), PaymentTerms: "Net 30"}
	next := &negotiation.Offer{TotalPrice: floatPtr(1400), PaymentTerms: "Net 30"}
	state = state.Update(prev, next, "", nil, 2, cfg)
	dec = Decide(cfg, completeOffer(1400, "Net 30"), 2, state, nil, testNow())
	if dec.Action != negotiation.ActionWalkAway {
		t.Errorf("round 2 Action = %s, want WALK_AWAY", dec.Action)
	}
}

func TestDecide_CounterConstruction(t *testing.T) {
	cfg := referenceConfig()
	dec := Decide(cfg, completeOffer(960, "Net 60"), 3, negotiation.NewState(), nil, testNow())
	if dec.Action != negotiation.ActionCounter {
		t.Fatalf("Action = %s, want COUNTER", dec.Action)
	}
	counter := dec.CounterOffer
	if counter == nil || counter.TotalPrice == nil {
		t.Fatal("COUNTER missing price")
	}
	// First counter starts at the anchor plus one concession step.
	want := 850 + cfg.Price.ConcessionStep
	if math.Abs(*counter.TotalPrice-want) > 1e-9 {
		t.Errorf("counter price = %v, want %v", *counter.TotalPrice, want)
	}
	// One option stepped from Net 90 toward the vendor's Net 60.
	if counter.PaymentTerms != "Net 60" {
		t.Errorf("counter terms = %q, want Net 60", counter.PaymentTerms)
	}
}

func TestDecide_CounterMonotonicity(t *testing.T) {
	cfg := referenceConfig()
	state := negotiation.NewState()
	var lastPrice float64

	vendorPrices := []float64{1200, 1150, 1100, 1050}
	for i, vp := range vendorPrices {
		round := i + 1
		dec := Decide(cfg, completeOffer(vp, "Net 60"), round, state, nil, testNow())
		if dec.Action != negotiation.ActionCounter {
			t.Fatalf("round %d Action = %s, want COUNTER", round, dec.Action)
		}
		price := *dec.CounterOffer.TotalPrice
		if price < lastPrice-1e-9 {
			t.Fatalf("round %d counter %v walked back below %v", round, price, lastPrice)
		}
		if price > cfg.Price.MaxAcceptable {
			t.Fatalf("round %d counter %v crossed max_acceptable", round, price)
		}
		lastPrice = price
		state = state.Clone()
		state.LastPmCounter = dec.CounterOffer.Clone()
	}
}

func TestDecide_CounterNeverExceedsVendorPrice(t *testing.T) {
	cfg := referenceConfig()
	state := negotiation.NewState()
	state.LastPmCounter = &negotiation.Offer{TotalPrice: floatPtr(940), PaymentTerms: "Net 90"}

	dec := Decide(cfg, completeOffer(950, "Net 60"), 4, state, nil, testNow())
	if dec.Action != negotiation.ActionCounter {
		t.Fatalf("Action = %s, want COUNTER", dec.Action)
	}
	if *dec.CounterOffer.TotalPrice > 950 {
		t.Errorf("counter %v exceeded vendor price 950", *dec.CounterOffer.TotalPrice)
	}
	if *dec.CounterOffer.TotalPrice < 940 {
		t.Errorf("counter %v walked back below previous 940", *dec.CounterOffer.TotalPrice)
	}
}

func TestDecide_EmphasisSteering(t *testing.T) {
	cfg := referenceConfig()

	t.Run("terms emphasis holds terms and concedes more on price", func(t *testing.T) {
		state := negotiation.NewState()
		state.VendorEmphasis = negotiation.EmphasisTerms
		state.EmphasisConfidence = 0.8
		state.LastPmCounter = &negotiation.Offer{TotalPrice: floatPtr(900), PaymentTerms: "Net 90"}

		dec := Decide(cfg, completeOffer(1100, "Net 30"), 3, state, nil, testNow())
		if dec.CounterOffer.PaymentTerms != "Net 90" {
			t.Errorf("terms = %q, want firm Net 90", dec.CounterOffer.PaymentTerms)
		}
		plainStep := 900 + cfg.Price.ConcessionStep
		if *dec.CounterOffer.TotalPrice <= plainStep {
			t.Errorf("price %v, want above the unscaled step %v", *dec.CounterOffer.TotalPrice, plainStep)
		}
	})

	t.Run("price emphasis slows price concession", func(t *testing.T) {
		state := negotiation.NewState()
		state.VendorEmphasis = negotiation.EmphasisPrice
		state.EmphasisConfidence = 0.8
		state.LastPmCounter = &negotiation.Offer{TotalPrice: floatPtr(900), PaymentTerms: "Net 90"}

		dec := Decide(cfg, completeOffer(1100, "Net 30"), 3, state, nil, testNow())
		plainStep := 900 + cfg.Price.ConcessionStep
		if *dec.CounterOffer.TotalPrice >= plainStep {
			t.Errorf("price %v, want below the unscaled step %v", *dec.CounterOffer.TotalPrice, plainStep)
		}
	})
}

func TestDecide_DeliveryCounter(t *testing.T) {
	cfg := referenceConfig()
	cfg.Price.Weight = 0.5
	cfg.Terms.Weight = 0.3
	cfg.Delivery = &negotiation.DeliveryParameter{
		Weight:        0.2,
		PreferredDate: "2026-09-01",
		RequiredDate:  "2026-09-20",
		MaxLateDays:   0,
	}

	t.Run("no vendor date proposes preferred", func(t *testing.T) {
		dec := Decide(cfg, completeOffer(1100, "Net 30"), 2, negotiation.NewState(), nil, testNow())
		if dec.CounterOffer.DeliveryDate != "2026-09-01" {
			t.Errorf("delivery = %q, want preferred date", dec.CounterOffer.DeliveryDate)
		}
	})

	t.Run("vendor date between preferred and required is accepted", func(t *testing.T) {
		price := 1100.0
		acc := Accumulate(nil, &negotiation.Offer{TotalPrice: &price, PaymentTerms: "Net 30", DeliveryDate: "2026-09-10"}, "m")
		dec := Decide(cfg, acc, 2, negotiation.NewState(), nil, testNow())
		if dec.CounterOffer.DeliveryDate != "2026-09-10" {
			t.Errorf("delivery = %q, want vendor's 2026-09-10", dec.CounterOffer.DeliveryDate)
		}
	})

	t.Run("vendor date past required is clamped", func(t *testing.T) {
		price := 1100.0
		acc := Accumulate(nil, &negotiation.Offer{TotalPrice: &price, PaymentTerms: "Net 30", DeliveryDate: "2026-10-15"}, "m")
		dec := Decide(cfg, acc, 2, negotiation.NewState(), nil, testNow())
		if dec.CounterOffer.DeliveryDate != "2026-09-20" {
			t.Errorf("delivery = %q, want required date", dec.CounterOffer.DeliveryDate)
		}
	})
}

func TestDecide_StrategyScalesStep(t *testing.T) {
	cfg := referenceConfig()
	hold := &StrategyResult{Strategy: negotiation.StrategyHoldFirm, Aggressiveness: 0.5}
	fast := &StrategyResult{Strategy: negotiation.StrategyFastConcede, Aggressiveness: 1.5}

	holdDec := Decide(cfg, completeOffer(1100, "Net 60"), 2, negotiation.NewState(), hold, testNow())
	fastDec := Decide(cfg, completeOffer(1100, "Net 60"), 2, negotiation.NewState(), fast, testNow())
	if *holdDec.CounterOffer.TotalPrice >= *fastDec.CounterOffer.TotalPrice {
		t.Errorf("hold-firm counter %v not below fast-concede %v",
			*holdDec.CounterOffer.TotalPrice, *fastDec.CounterOffer.TotalPrice)
	}
	if holdDec.Explainability.Behavioral == nil || holdDec.Explainability.Behavioral.Strategy != negotiation.StrategyHoldFirm {
		t.Error("behavioral trace missing strategy label")
	}
}
