package engine

import (
	"math"
	"testing"

	"accordo/internal/negotiation"
)

// The worked end-to-end scenarios, driven directly through the engine:
// parse → accumulate → state update → decide.

type scenarioRun struct {
	cfg   *negotiation.Config
	state *negotiation.State
	acc   *negotiation.AccumulatedOffer
	round int
}

func newScenario(cfg *negotiation.Config) *scenarioRun {
	return &scenarioRun{cfg: cfg, state: negotiation.NewState()}
}

// vendorSays runs one full round for a vendor message and returns the
// engine's decision.
func (s *scenarioRun) vendorSays(t *testing.T, text string) *negotiation.Decision {
	t.Helper()
	s.round++
	var prev *negotiation.Offer
	if s.acc != nil {
		prev = s.acc.Offer.Clone()
	}
	parsed := ParseOffer(text, s.cfg.Currency)
	s.acc = Accumulate(s.acc, parsed, "msg")
	s.state = s.state.Update(prev, &s.acc.Offer, text, nil, s.round, s.cfg)

	dec := Decide(s.cfg, s.acc, s.round, s.state, nil, testNow())
	s.state = s.state.RecordUtilityScore(dec.UtilityScore)
	if dec.CounterOffer != nil {
		s.state.LastPmCounter = dec.CounterOffer.Clone()
	}
	return dec
}

func TestScenario_AcceptOnConvergence(t *testing.T) {
	s := newScenario(referenceConfig())

	s.vendorSays(t, "$1200 Net 30 is our opening position")
	s.vendorSays(t, "$1050 Net 45 possible")

	dec := s.vendorSays(t, "We can offer $960 Net 60")
	if dec.Action != negotiation.ActionCounter {
		t.Fatalf("round 3 Action = %s, want COUNTER", dec.Action)
	}
	if math.Abs(dec.UtilityScore-0.675) > 1e-9 {
		t.Errorf("round 3 utility = %v, want 0.675", dec.UtilityScore)
	}

	s.vendorSays(t, "$950 Net 60 and that is aggressive for us")
	dec = s.vendorSays(t, "Fine: $890 Net 90")
	if dec.Action != negotiation.ActionAccept {
		t.Fatalf("round 5 Action = %s, want ACCEPT (U=%v)", dec.Action, dec.UtilityScore)
	}
	if math.Abs(dec.UtilityScore-0.94) > 1e-9 {
		t.Errorf("round 5 utility = %v, want 0.94", dec.UtilityScore)
	}
}

func TestScenario_WalkAwayOnDivergence(t *testing.T) {
	s := newScenario(referenceConfig())

	dec := s.vendorSays(t, "$1400 Net 30, firm")
	if dec.Action != negotiation.ActionCounter {
		t.Fatalf("round 1 Action = %s, want COUNTER", dec.Action)
	}
	if dec.UtilityScore >= s.cfg.WalkawayThreshold {
		t.Fatalf("round 1 utility = %v, want below walkaway", dec.UtilityScore)
	}

	dec = s.vendorSays(t, "$1400 Net 30, as we said")
	if dec.Action != negotiation.ActionWalkAway {
		t.Errorf("round 2 Action = %s, want WALK_AWAY", dec.Action)
	}
}

func TestScenario_EscalateAtRoundCap(t *testing.T) {
	s := newScenario(referenceConfig())

	prices := []string{"$1300 Net 30", "$1250 Net 30", "$1200 Net 45", "$1150 Net 60", "$1100 Net 60"}
	for i, text := range prices {
		dec := s.vendorSays(t, text)
		if dec.Action != negotiation.ActionCounter {
			t.Fatalf("round %d Action = %s, want COUNTER", i+1, dec.Action)
		}
	}

	// Round 6 at the cap with utility between escalate and accept.
	dec := s.vendorSays(t, "$1040 Net 60, final")
	if dec.UtilityScore < s.cfg.EscalateThreshold || dec.UtilityScore >= s.cfg.AcceptThreshold {
		t.Fatalf("round 6 utility = %v, want within [%v, %v)", dec.UtilityScore, s.cfg.EscalateThreshold, s.cfg.AcceptThreshold)
	}
	if dec.Action != negotiation.ActionEscalate {
		t.Errorf("round 6 Action = %s, want ESCALATE", dec.Action)
	}
}

func TestScenario_ClarifyThenProgress(t *testing.T) {
	s := newScenario(referenceConfig())

	dec := s.vendorSays(t, "We can do Net 60.")
	if dec.Action != negotiation.ActionAskClarify {
		t.Fatalf("round 1 Action = %s, want ASK_CLARIFY", dec.Action)
	}

	dec = s.vendorSays(t, "$950.")
	if s.acc.PaymentTerms != "Net 60" || s.acc.TotalPrice == nil || *s.acc.TotalPrice != 950 {
		t.Fatalf("accumulated = %+v, want {950, Net 60}", s.acc.Offer)
	}
	if dec.Action != negotiation.ActionCounter {
		t.Errorf("round 2 Action = %s, want COUNTER (U=%v)", dec.Action, dec.UtilityScore)
	}
	wantU := 0.6*(1250.0-950.0)/400.0 + 0.4*0.6
	if math.Abs(dec.UtilityScore-wantU) > 1e-9 {
		t.Errorf("round 2 utility = %v, want %v", dec.UtilityScore, wantU)
	}
}

func TestScenario_MesoProbe(t *testing.T) {
	cfg := mesoConfig()
	s := newScenario(cfg)

	s.vendorSays(t, "$1200 Net 30")
	s.vendorSays(t, "$1080 Net 45")
	dec := s.vendorSays(t, "$977 Net 60")
	if dec.Action != negotiation.ActionCounter {
		t.Fatalf("round 3 Action = %s, want COUNTER", dec.Action)
	}
	if !ShouldUseMeso(s.round, cfg, nil) {
		t.Fatal("MESO gate closed at round 3")
	}

	mr := GenerateMeso(cfg, &s.acc.Offer, dec.UtilityScore, s.round, nil, s.state, testNow())
	if len(mr.Options) != 3 {
		t.Fatalf("len(Options) = %d, want 3", len(mr.Options))
	}
	for _, opt := range mr.Options {
		if math.Abs(opt.Utility-mr.TargetUtility) > mr.Variance+1e-9 {
			t.Errorf("option %s utility %v outside band", opt.Label, opt.Utility)
		}
	}

	// Vendor picks the terms-favoring bundle: emphasis shifts to terms with
	// strong confidence.
	var termsOpt negotiation.MesoOption
	for _, opt := range mr.Options {
		if opt.Label == negotiation.EmphasisTerms {
			termsOpt = opt
		}
	}
	s.state = s.state.RecordMesoSelection(mr.Type, termsOpt.ID, termsOpt.Label, s.round)
	if s.state.VendorEmphasis != negotiation.EmphasisTerms {
		t.Errorf("VendorEmphasis = %s, want terms", s.state.VendorEmphasis)
	}
	if s.state.EmphasisConfidence < 0.6 {
		t.Errorf("EmphasisConfidence = %v, want >= 0.6", s.state.EmphasisConfidence)
	}
}

func TestScenario_StallFinalOfferPrompt(t *testing.T) {
	s := newScenario(referenceConfig())

	s.vendorSays(t, "$1180 Net 30 to start")
	s.vendorSays(t, "$1100 Net 30")
	s.vendorSays(t, "$1100 Net 30, unchanged")
	dec := s.vendorSays(t, "$1100 Net 30, we are firm")

	param, stalled := DetectStall(s.state.ParameterHistories)
	if !stalled {
		t.Fatal("stall not detected after three identical offers")
	}
	if param != negotiation.ParamPrice && param != negotiation.ParamTerms {
		t.Errorf("stalled param = %q", param)
	}
	if prompt := StallPrompt(param); prompt == "" {
		t.Error("empty stall prompt")
	}
	if dec.Action != negotiation.ActionCounter {
		t.Errorf("Action = %s, want COUNTER despite the stall", dec.Action)
	}
}
