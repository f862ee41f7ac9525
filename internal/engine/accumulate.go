package engine

import (
	"accordo/internal/negotiation"
)

// Accumulate merges a newly parsed partial offer into the prior
// accumulation. A new offer carrying both a price and payment terms is a
// fresh complete offer and supersedes everything accumulated before it;
// otherwise fields merge with newer values winning.
func Accumulate(prior *negotiation.AccumulatedOffer, parsed *negotiation.Offer, sourceMessageID string) *negotiation.AccumulatedOffer {
	if parsed == nil {
		parsed = &negotiation.Offer{}
	}

	if parsed.HasPrice() && parsed.HasTerms() {
		acc := &negotiation.AccumulatedOffer{
			Offer:            *parsed.Clone(),
			SourceMessageIDs: []string{sourceMessageID},
		}
		finalize(acc)
		return acc
	}

	acc := &negotiation.AccumulatedOffer{}
	if prior != nil {
		acc.Offer = *prior.Offer.Clone()
		acc.SourceMessageIDs = append(acc.SourceMessageIDs, prior.SourceMessageIDs...)
	}

	if parsed.TotalPrice != nil {
		v := *parsed.TotalPrice
		acc.TotalPrice = &v
	}
	if parsed.PaymentTerms != "" {
		acc.PaymentTerms = parsed.PaymentTerms
	}
	if parsed.DeliveryDate != "" {
		acc.DeliveryDate = parsed.DeliveryDate
		acc.DeliveryDays = nil
	}
	if parsed.DeliveryDays != nil {
		v := *parsed.DeliveryDays
		acc.DeliveryDays = &v
		acc.DeliveryDate = ""
	}
	if parsed.AdvancePaymentPercent != nil {
		v := *parsed.AdvancePaymentPercent
		acc.AdvancePaymentPercent = &v
	}
	if parsed.WarrantyMonths != nil {
		v := *parsed.WarrantyMonths
		acc.WarrantyMonths = &v
	}

	if sourceMessageID != "" && !containsString(acc.SourceMessageIDs, sourceMessageID) {
		acc.SourceMessageIDs = append(acc.SourceMessageIDs, sourceMessageID)
	}
	finalize(acc)
	return acc
}

// finalize recomputes the provided/missing field lists and completeness.
// An offer is complete with price and terms; delivery is optional.
func finalize(acc *negotiation.AccumulatedOffer) {
	acc.ProvidedFields = acc.ProvidedFields[:0]
	acc.MissingFields = acc.MissingFields[:0]

	if acc.HasPrice() {
		acc.ProvidedFields = append(acc.ProvidedFields, "total_price")
	} else {
		acc.MissingFields = append(acc.MissingFields, "total_price")
	}
	if acc.HasTerms() {
		acc.ProvidedFields = append(acc.ProvidedFields, "payment_terms")
	} else {
		acc.MissingFields = append(acc.MissingFields, "payment_terms")
	}
	if acc.DeliveryDate != "" || acc.DeliveryDays != nil {
		acc.ProvidedFields = append(acc.ProvidedFields, "delivery")
	}
	if acc.AdvancePaymentPercent != nil {
		acc.ProvidedFields = append(acc.ProvidedFields, "advance_payment_percent")
	}
	if acc.WarrantyMonths != nil {
		acc.ProvidedFields = append(acc.ProvidedFields, "warranty_months")
	}

	acc.IsComplete = acc.HasPrice() && acc.HasTerms()
}

func containsString(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}
