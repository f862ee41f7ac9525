package negotiation

import (
	"math"
	"testing"
)

func fp(v float64) *float64 { return &v }

func TestStateUpdate_RecordsConcessions(t *testing.T) {
	cfg := validConfig()
	s := NewState()

	prev := &Offer{TotalPrice: fp(1200), PaymentTerms: "Net 30"}
	next := &Offer{TotalPrice: fp(1100), PaymentTerms: "Net 60"}
	s2 := s.Update(prev, next, "", nil, 2, cfg)

	if len(s2.PriceConcessions) != 1 || s2.PriceConcessions[0] != 100 {
		t.Errorf("PriceConcessions = %v, want [100]", s2.PriceConcessions)
	}
	if len(s2.TermsConcessions) != 1 || math.Abs(s2.TermsConcessions[0]-0.4) > 1e-9 {
		t.Errorf("TermsConcessions = %v, want [0.4]", s2.TermsConcessions)
	}
	// The original state is untouched.
	if len(s.PriceConcessions) != 0 {
		t.Error("Update mutated its receiver")
	}
}

func TestStateUpdate_ParameterHistories(t *testing.T) {
	cfg := validConfig()
	s := NewState()
	for _, price := range []float64{1200, 1100, 1100} {
		offer := &Offer{TotalPrice: fp(price), PaymentTerms: "Net 30"}
		s = s.Update(nil, offer, "", nil, 0, cfg)
	}
	if got := s.ParameterHistories[ParamPrice]; len(got) != 3 || got[2] != 1100 {
		t.Errorf("price history = %v, want 3 entries ending 1100", got)
	}
	if got := s.ParameterHistories[ParamTerms]; len(got) != 3 || got[0] != 30 {
		t.Errorf("terms history = %v, want 3 entries of 30", got)
	}
}

func TestStateUpdate_EmphasisFromConcessions(t *testing.T) {
	cfg := validConfig()
	s := NewState()

	// A large price concession with static terms reads as price emphasis.
	prev := &Offer{TotalPrice: fp(1200), PaymentTerms: "Net 30"}
	next := &Offer{TotalPrice: fp(1050), PaymentTerms: "Net 30"}
	s = s.Update(prev, next, "", nil, 2, cfg)
	if s.VendorEmphasis != EmphasisPrice {
		t.Errorf("VendorEmphasis = %s, want price", s.VendorEmphasis)
	}
	if s.EmphasisConfidence <= 0 {
		t.Errorf("EmphasisConfidence = %v, want positive", s.EmphasisConfidence)
	}
}

func TestStateUpdate_LanguageCue(t *testing.T) {
	cfg := validConfig()
	s := NewState()
	s = s.Update(nil, &Offer{}, "Payment terms matter most for our cash flow", nil, 1, cfg)
	if s.VendorEmphasis != EmphasisTerms {
		t.Errorf("VendorEmphasis = %s, want terms from language cue", s.VendorEmphasis)
	}
}

func TestStateUpdate_EmphasisDampedNotFlipped(t *testing.T) {
	cfg := validConfig()
	s := NewState()
	s.VendorEmphasis = EmphasisTerms
	s.EmphasisConfidence = 0.9

	// One mild price concession must not immediately flip a confident
	// terms inference.
	prev := &Offer{TotalPrice: fp(1200), PaymentTerms: "Net 30"}
	next := &Offer{TotalPrice: fp(1190), PaymentTerms: "Net 30"}
	s2 := s.Update(prev, next, "", nil, 3, cfg)
	if s2.VendorEmphasis != EmphasisTerms {
		t.Errorf("VendorEmphasis flipped to %s on weak evidence", s2.VendorEmphasis)
	}
	if s2.EmphasisConfidence >= s.EmphasisConfidence {
		t.Errorf("EmphasisConfidence = %v, want decayed below %v", s2.EmphasisConfidence, s.EmphasisConfidence)
	}
}

func TestRecordMesoSelection_DirectEvidence(t *testing.T) {
	s := NewState()
	s2 := s.RecordMesoSelection(MesoInitial, "opt-1", EmphasisTerms, 3)
	if s2.VendorEmphasis != EmphasisTerms {
		t.Errorf("VendorEmphasis = %s, want terms", s2.VendorEmphasis)
	}
	if s2.EmphasisConfidence < 0.6 {
		t.Errorf("EmphasisConfidence = %v, want >= 0.6", s2.EmphasisConfidence)
	}
	if len(s2.MesoSelections) != 1 {
		t.Errorf("MesoSelections = %v, want 1 entry", s2.MesoSelections)
	}
	if s2.ConsecutiveBalancedSelections != 0 {
		t.Error("non-balanced pick should reset the balanced run")
	}
}

func TestRecordMesoSelection_BalancedRunEntersExploration(t *testing.T) {
	s := NewState()
	for i := 0; i < 3; i++ {
		s = s.RecordMesoSelection(MesoDynamic, "opt-b", EmphasisBalanced, i+2)
	}
	if !s.IsInPreferenceExploration() {
		t.Fatal("three balanced picks did not enter preference exploration")
	}
	if s.ExplorationRoundsRemaining <= 0 {
		t.Errorf("ExplorationRoundsRemaining = %d, want positive", s.ExplorationRoundsRemaining)
	}

	// Exploration winds down as rounds pass.
	cfg := validConfig()
	remaining := s.ExplorationRoundsRemaining
	for i := 0; i < remaining; i++ {
		s = s.Update(nil, &Offer{}, "", nil, 6+i, cfg)
	}
	if s.IsInPreferenceExploration() {
		t.Error("exploration did not expire")
	}
}

func TestRecordUtilityScoreAndLastCounter(t *testing.T) {
	s := NewState()
	s = s.RecordUtilityScore(0.5)
	s = s.RecordUtilityScore(0.62)
	if len(s.UtilityHistory) != 2 || s.UtilityHistory[1] != 0.62 {
		t.Errorf("UtilityHistory = %v, want [0.5 0.62]", s.UtilityHistory)
	}

	if s.GetLastPmCounter() != nil {
		t.Error("GetLastPmCounter on fresh state should be nil")
	}
	counter := &Offer{TotalPrice: fp(900), PaymentTerms: "Net 90"}
	s2 := s.Update(nil, &Offer{}, "", counter, 2, validConfig())
	if got := s2.GetLastPmCounter(); got == nil || *got.TotalPrice != 900 {
		t.Errorf("GetLastPmCounter = %+v, want 900", got)
	}
}

func TestStateClone_Independence(t *testing.T) {
	s := NewState()
	s.PriceConcessions = []float64{10}
	s.ParameterHistories[ParamPrice] = []float64{1000}

	c := s.Clone()
	c.PriceConcessions[0] = 99
	c.ParameterHistories[ParamPrice][0] = 99

	if s.PriceConcessions[0] != 10 || s.ParameterHistories[ParamPrice][0] != 1000 {
		t.Error("Clone shares backing arrays with the original")
	}
}
