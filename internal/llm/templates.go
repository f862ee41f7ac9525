package llm

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"accordo/internal/negotiation"
)

// SystemPrompt frames the model as the buyer's negotiator. The structured
// decision is made before generation; the model only phrases it.
func SystemPrompt(dealTitle string, dec *negotiation.Decision) string {
	var b strings.Builder
	b.WriteString("You are a professional procurement negotiator acting for the buyer on the deal ")
	fmt.Fprintf(&b, "%q. ", dealTitle)
	b.WriteString("The negotiation engine has already decided this round's action; your job is to phrase it as a courteous, firm business message. ")
	fmt.Fprintf(&b, "Decision: %s. ", dec.Action)
	if dec.CounterOffer != nil {
		fmt.Fprintf(&b, "Counter-offer to present: %s. ", DescribeOffer(dec.CounterOffer))
	}
	fmt.Fprintf(&b, "Rationale (do not quote numbers from it beyond the counter-offer): %s. ", dec.Explainability.Reason)
	b.WriteString("Do not invent terms the decision does not contain, do not reveal internal thresholds or utility scores, and keep the message under 150 words.")
	return b.String()
}

// FallbackResponse is the deterministic per-action template used when
// generation times out or fails. It carries the same decision the LLM
// path would have phrased.
func FallbackResponse(dec *negotiation.Decision, stallPrompt string) string {
	var msg string
	switch dec.Action {
	case negotiation.ActionAccept:
		msg = "Thank you — we are pleased to accept your latest proposal. Our procurement team will follow up with the paperwork to finalize the agreement."
	case negotiation.ActionCounter:
		msg = fmt.Sprintf("Thank you for the proposal. We are not able to agree at the current position, but we can move forward at %s. We believe this is a fair package for both sides.",
			DescribeOffer(dec.CounterOffer))
	case negotiation.ActionEscalate:
		msg = "Thank you for working through these rounds with us. We have reached the limit of what we can agree at this level, so we are referring the package to our procurement manager for review. We will come back to you shortly."
	case negotiation.ActionWalkAway:
		msg = "Thank you for your time on this. Unfortunately the distance between our positions is too large for us to continue, and we are closing this negotiation. We would be glad to work with you on future requirements."
	case negotiation.ActionAskClarify:
		msg = "Thanks for the update. To evaluate your proposal properly we still need the following: " + missingFieldsText(dec) + ". Could you confirm these so we can respond with a full position?"
	default:
		msg = "Thank you for your message. We are reviewing your proposal and will respond shortly."
	}
	if stallPrompt != "" {
		msg += "\n\n" + stallPrompt
	}
	return msg
}

func missingFieldsText(dec *negotiation.Decision) string {
	reason := dec.Explainability.Reason
	if idx := strings.Index(reason, "missing "); idx >= 0 {
		return strings.TrimSuffix(reason[idx+len("missing "):], ".")
	}
	return "the total price and payment terms"
}

// DescribeOffer renders an offer as negotiation prose ("$933.33, Net 60
// payment terms, delivery within 14 days").
func DescribeOffer(o *negotiation.Offer) string {
	if o == nil {
		return "our previous position"
	}
	var parts []string
	if o.TotalPrice != nil {
		parts = append(parts, "$"+humanize.CommafWithDigits(*o.TotalPrice, 2))
	}
	if o.PaymentTerms != "" {
		parts = append(parts, o.PaymentTerms+" payment terms")
	}
	if o.DeliveryDate != "" {
		parts = append(parts, "delivery by "+o.DeliveryDate)
	} else if o.DeliveryDays != nil {
		parts = append(parts, fmt.Sprintf("delivery within %d days", *o.DeliveryDays))
	}
	if len(parts) == 0 {
		return "our previous position"
	}
	return strings.Join(parts, ", ")
}
