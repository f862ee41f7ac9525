package llm

import (
	"strings"
	"testing"

	"accordo/internal/negotiation"
)

func decisionWithAction(action negotiation.Action) *negotiation.Decision {
	price := 933.33
	dec := &negotiation.Decision{
		Action:       action,
		UtilityScore: 0.675,
		Explainability: negotiation.Explainability{
			Reason: "utility 0.675 between walkaway 0.30 and accept 0.70",
		},
	}
	if action == negotiation.ActionCounter {
		dec.CounterOffer = &negotiation.Offer{TotalPrice: &price, PaymentTerms: "Net 60"}
	}
	return dec
}

func TestFallbackResponse_PerAction(t *testing.T) {
	tests := []struct {
		action negotiation.Action
		want   string
	}{
		{negotiation.ActionAccept, "accept"},
		{negotiation.ActionCounter, "933.33"},
		{negotiation.ActionEscalate, "procurement manager"},
		{negotiation.ActionWalkAway, "closing this negotiation"},
		{negotiation.ActionAskClarify, "still need"},
	}
	for _, tt := range tests {
		t.Run(string(tt.action), func(t *testing.T) {
			got := FallbackResponse(decisionWithAction(tt.action), "")
			if got == "" {
				t.Fatal("empty fallback response")
			}
			if !strings.Contains(strings.ToLower(got), strings.ToLower(tt.want)) {
				t.Errorf("FallbackResponse(%s) = %q, want mention of %q", tt.action, got, tt.want)
			}
		})
	}
}

func TestFallbackResponse_AppendsStallPrompt(t *testing.T) {
	prompt := "Is this your final offer on price?"
	got := FallbackResponse(decisionWithAction(negotiation.ActionCounter), prompt)
	if !strings.Contains(got, prompt) {
		t.Errorf("stall prompt missing from %q", got)
	}
}

func TestFallbackResponse_ClarifyNamesMissingFields(t *testing.T) {
	dec := decisionWithAction(negotiation.ActionAskClarify)
	dec.Explainability.Reason = "offer is incomplete: missing total_price"
	got := FallbackResponse(dec, "")
	if !strings.Contains(got, "total_price") {
		t.Errorf("clarify response %q does not name the missing field", got)
	}
}

func TestDescribeOffer(t *testing.T) {
	price := 1250.5
	days := 14
	offer := &negotiation.Offer{TotalPrice: &price, PaymentTerms: "Net 90", DeliveryDays: &days}
	got := DescribeOffer(offer)
	for _, want := range []string{"1,250.5", "Net 90", "14 days"} {
		if !strings.Contains(got, want) {
			t.Errorf("DescribeOffer = %q, want %q included", got, want)
		}
	}
	if DescribeOffer(nil) == "" {
		t.Error("nil offer should still describe a position")
	}
}

func TestSystemPrompt_CarriesDecisionAndTitle(t *testing.T) {
	dec := decisionWithAction(negotiation.ActionCounter)
	got := SystemPrompt("Widget order", dec)
	if !strings.Contains(got, "COUNTER") {
		t.Errorf("prompt missing action: %q", got)
	}
	if !strings.Contains(got, "Widget order") {
		t.Errorf("prompt missing deal title: %q", got)
	}
}
