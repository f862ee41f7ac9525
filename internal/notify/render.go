package notify

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"accordo/internal/negotiation"
)

// Reporter renders a deal into a summary document. The engine only needs
// bytes it can hand to SendDealSummary; a PDF renderer can be swapped in
// behind the same interface.
type Reporter interface {
	RenderDealSummary(deal *negotiation.Deal, messages []negotiation.Message) ([]byte, error)
}

// TextReporter renders plain-text summaries.
type TextReporter struct{}

func (TextReporter) RenderDealSummary(deal *negotiation.Deal, messages []negotiation.Message) ([]byte, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Deal: %s\n", deal.Title)
	fmt.Fprintf(&b, "Status: %s after %d completed round(s)\n", deal.Status, deal.Round)
	if deal.LatestVendorOffer != nil && deal.LatestVendorOffer.TotalPrice != nil {
		fmt.Fprintf(&b, "Final vendor position: $%s", humanize.CommafWithDigits(*deal.LatestVendorOffer.TotalPrice, 2))
		if deal.LatestVendorOffer.PaymentTerms != "" {
			fmt.Fprintf(&b, " at %s", deal.LatestVendorOffer.PaymentTerms)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Final utility score: %.3f\n\n", deal.LatestUtility)

	b.WriteString("Transcript:\n")
	for _, msg := range messages {
		fmt.Fprintf(&b, "[round %d] %s: %s\n", msg.Round, msg.Role, strings.TrimSpace(msg.Content))
	}
	return []byte(b.String()), nil
}

func renderDealCreated(deal *negotiation.Deal) string {
	return fmt.Sprintf(
		"A new negotiation has been opened.\n\nDeal: %s\nVendor: %s\nPriority: %s\nMode: %s\n\nThe engine will negotiate on your stance and notify you of the outcome.",
		deal.Title, deal.VendorID, deal.Priority, deal.Mode)
}

func renderContinued(deal *negotiation.Deal) string {
	return fmt.Sprintf(
		"The escalated negotiation %q has been resumed and is negotiating again.\n\nCompleted rounds so far: %d.",
		deal.Title, deal.Round)
}

func renderTerminal(deal *negotiation.Deal, dec *negotiation.Decision) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The negotiation %q has finished with status %s.\n\n", deal.Title, deal.Status)
	if dec != nil {
		fmt.Fprintf(&b, "Final utility score: %.3f\n", dec.UtilityScore)
		fmt.Fprintf(&b, "Reason: %s\n", dec.Explainability.Reason)
	}
	if deal.LatestVendorOffer != nil && deal.LatestVendorOffer.TotalPrice != nil {
		fmt.Fprintf(&b, "Last vendor offer: $%s", humanize.CommafWithDigits(*deal.LatestVendorOffer.TotalPrice, 2))
		if deal.LatestVendorOffer.PaymentTerms != "" {
			fmt.Fprintf(&b, " at %s", deal.LatestVendorOffer.PaymentTerms)
		}
		b.WriteString("\n")
	}
	return b.String()
}
