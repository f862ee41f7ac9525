package engine

import (
	"time"

	"accordo/internal/negotiation"
)

// Evaluate computes the weighted multi-attribute utility of an offer in
// [0,1] plus its per-component breakdown. Missing attributes contribute
// zero at their full weight. `now` anchors relative delivery promises.
func Evaluate(offer *negotiation.Offer, cfg *negotiation.Config, now time.Time) (float64, negotiation.UtilityComponents) {
	comps := negotiation.UtilityComponents{}

	if offer.HasPrice() {
		comps.Price = priceUtility(*offer.TotalPrice, &cfg.Price)
	}
	if offer.HasTerms() {
		comps.Terms = cfg.Terms.Utility(offer.PaymentTerms)
	}

	total := cfg.Price.Weight*comps.Price + cfg.Terms.Weight*comps.Terms

	if cfg.Delivery != nil {
		du := deliveryUtility(offer, cfg.Delivery, now)
		comps.Delivery = &du
		total += cfg.Delivery.Weight * du
	}

	return clamp01(total), comps
}

// priceUtility is linear between the anchor (utility 1) and the reservation
// price (utility 0); the goal price sits on the same line. Values past the
// reservation clamp to 0, never negative.
func priceUtility(price float64, p *negotiation.PriceParameter) float64 {
	if price <= p.Anchor {
		return 1
	}
	if price >= p.MaxAcceptable {
		return 0
	}
	return (p.MaxAcceptable - price) / (p.MaxAcceptable - p.Anchor)
}

// priceForUtility inverts priceUtility: the price scoring exactly u.
func priceForUtility(u float64, p *negotiation.PriceParameter) float64 {
	u = clamp01(u)
	return p.MaxAcceptable - u*(p.MaxAcceptable-p.Anchor)
}

// deliveryUtility is 1 on or before the preferred date, 0 past
// required+maxLateDays, linear in between. An offer without any delivery
// promise contributes 0.
func deliveryUtility(offer *negotiation.Offer, d *negotiation.DeliveryParameter, now time.Time) float64 {
	promised, ok := resolveDeliveryDate(offer, now)
	if !ok {
		return 0
	}
	preferred, err1 := time.Parse("2006-01-02", d.PreferredDate)
	required, err2 := time.Parse("2006-01-02", d.RequiredDate)
	if err1 != nil || err2 != nil {
		return 0
	}
	deadline := required.AddDate(0, 0, d.MaxLateDays)
	if !promised.After(preferred) {
		return 1
	}
	if !promised.Before(deadline) {
		return 0
	}
	span := deadline.Sub(preferred).Hours()
	if span <= 0 {
		return 0
	}
	return clamp01(deadline.Sub(promised).Hours() / span)
}

// resolveDeliveryDate turns either form of delivery promise into a date.
func resolveDeliveryDate(offer *negotiation.Offer, now time.Time) (time.Time, bool) {
	if offer == nil {
		return time.Time{}, false
	}
	if offer.DeliveryDate != "" {
		d, err := time.Parse("2006-01-02", offer.DeliveryDate)
		if err != nil {
			return time.Time{}, false
		}
		return d, true
	}
	if offer.DeliveryDays != nil {
		return now.UTC().Truncate(24 * time.Hour).AddDate(0, 0, *offer.DeliveryDays), true
	}
	return time.Time{}, false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
