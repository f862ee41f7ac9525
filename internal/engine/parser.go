// Package engine implements the negotiation core: offer parsing and
// accumulation, the multi-attribute utility model, behavioral signals, the
// decision engine, MESO generation and config building. Everything here is
// a pure function over (config, offer, state); I/O lives in the pipeline.
package engine

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"accordo/internal/negotiation"
)

// validNetDays is the closed set of recognized payment-term day counts.
var validNetDays = map[int]bool{0: true, 7: true, 15: true, 30: true, 45: true, 60: true, 75: true, 90: true, 120: true}

// usdRates converts one unit of each supported currency to USD.
var usdRates = map[string]float64{
	"USD": 1.0,
	"EUR": 1.08,
	"GBP": 1.27,
	"INR": 0.012,
	"AUD": 0.66,
}

var currencySymbols = map[string]string{
	"$": "USD",
	"€": "EUR",
	"£": "GBP",
	"₹": "INR",
}

var (
	// A monetary amount: optional symbol or code, digits with optional
	// thousands separators and decimals, optional trailing code.
	reMoney = regexp.MustCompile(`(?i)(A\$|[$€£₹]|USD|INR|EUR|GBP|AUD)?\s*([0-9]{1,3}(?:,[0-9]{3})+(?:\.[0-9]+)?|[0-9]+(?:\.[0-9]+)?)\s*(USD|INR|EUR|GBP|AUD|k)?`)
	reNet   = regexp.MustCompile(`(?i)\bnet\s*-?\s*([0-9]{1,3})\b`)
	reCOD   = regexp.MustCompile(`(?i)\b(cash\s+on\s+delivery|on\s+delivery|cod)\b`)

	reAdvance  = regexp.MustCompile(`(?i)(?:advance(?:\s+payment)?\s+(?:of\s+)?([0-9]{1,3})\s*%|([0-9]{1,3})\s*%\s+(?:advance|upfront|up\s+front))`)
	reWarranty = regexp.MustCompile(`(?i)(?:([0-9]{1,3})[-\s]*month(?:s)?\s+warranty|warranty\s+of\s+([0-9]{1,3})\s+month)`)

	reRelDays  = regexp.MustCompile(`(?i)\b(?:in|within)\s+([0-9]{1,3})\s+(?:business\s+)?days?\b|\b([0-9]{1,3})\s+days?\s+(?:delivery|lead\s*time)\b`)
	reRelWeeks = regexp.MustCompile(`(?i)\b(?:in|within)\s+([0-9]{1,2})\s+weeks?\b`)

	reISODate   = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	reUSDate    = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(\d{4})\b`)
	reWordDate  = regexp.MustCompile(`(?i)\b(Jan(?:uary)?|Feb(?:ruary)?|Mar(?:ch)?|Apr(?:il)?|May|Jun(?:e)?|Jul(?:y)?|Aug(?:ust)?|Sep(?:tember)?|Oct(?:ober)?|Nov(?:ember)?|Dec(?:ember)?)\.?\s+(\d{1,2})(?:st|nd|rd|th)?,?\s+(\d{4})\b`)
	reNumberish = regexp.MustCompile(`[0-9]`)
)

// minPlausiblePrice filters out counts, percentages and day figures that
// slip through the money pattern without an explicit currency marker.
const minPlausiblePrice = 50

// ParseOffer extracts a partial offer from free-form vendor text. Prices
// are converted into the requisition currency; unparseable fields stay
// absent. The parser is idempotent and never fabricates values.
func ParseOffer(text, requisitionCurrency string) *negotiation.Offer {
	offer := &negotiation.Offer{}
	if requisitionCurrency == "" {
		requisitionCurrency = "USD"
	}
	if !reNumberish.MatchString(text) && !reCOD.MatchString(text) {
		return offer
	}

	parseTerms(text, offer)
	parseDelivery(text, offer)
	parseExtras(text, offer)
	parsePrice(text, requisitionCurrency, offer)
	return offer
}

func parsePrice(text, targetCurrency string, offer *negotiation.Offer) {
	// Blank out spans already claimed by non-price patterns so "Net 60" or
	// "in 14 days" never reads as a price.
	masked := text
	for _, re := range []*regexp.Regexp{reNet, reAdvance, reWarranty, reRelDays, reRelWeeks, reISODate, reUSDate, reWordDate} {
		masked = re.ReplaceAllStringFunc(masked, func(m string) string {
			return strings.Repeat(" ", len(m))
		})
	}

	type candidate struct {
		value    float64
		currency string
		marked   bool
	}
	var candidates []candidate
	for _, m := range reMoney.FindAllStringSubmatch(masked, -1) {
		raw := strings.ReplaceAll(m[2], ",", "")
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v <= 0 {
			continue
		}
		cur := ""
		if sym := m[1]; sym != "" {
			if strings.EqualFold(sym, "A$") {
				cur = "AUD"
			} else if c, ok := currencySymbols[sym]; ok {
				cur = c
			} else {
				cur = strings.ToUpper(sym)
			}
		}
		if suffix := m[3]; suffix != "" {
			if strings.EqualFold(suffix, "k") {
				v *= 1000
			} else if cur == "" {
				cur = strings.ToUpper(suffix)
			}
		}
		candidates = append(candidates, candidate{value: v, currency: cur, marked: cur != ""})
	}

	best := candidate{}
	found := false
	for _, c := range candidates {
		if !c.marked && c.value < minPlausiblePrice {
			continue
		}
		// Currency-marked amounts outrank bare numbers; among equals the
		// largest plausible value wins.
		if !found || (c.marked && !best.marked) || (c.marked == best.marked && c.value > best.value) {
			best, found = c, true
		}
	}
	if !found {
		return
	}

	cur := best.currency
	if cur == "" {
		cur = targetCurrency
	}
	price := convertCurrency(best.value, cur, targetCurrency)
	offer.TotalPrice = &price
}

func convertCurrency(v float64, from, to string) float64 {
	if from == to {
		return v
	}
	fromRate, okF := usdRates[from]
	toRate, okT := usdRates[to]
	if !okF || !okT {
		return v
	}
	return v * fromRate / toRate
}

func parseTerms(text string, offer *negotiation.Offer) {
	if m := reNet.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && validNetDays[n] {
			offer.PaymentTerms = fmt.Sprintf("Net %d", n)
			return
		}
	}
	if reCOD.MatchString(text) {
		offer.PaymentTerms = "Net 0"
	}
}

func parseDelivery(text string, offer *negotiation.Offer) {
	if m := reISODate.FindStringSubmatch(text); m != nil {
		if d, err := time.Parse("2006-01-02", m[0]); err == nil {
			offer.DeliveryDate = d.Format("2006-01-02")
			return
		}
	}
	if m := reUSDate.FindStringSubmatch(text); m != nil {
		if d, err := time.Parse("1/2/2006", m[0]); err == nil {
			offer.DeliveryDate = d.Format("2006-01-02")
			return
		}
	}
	if m := reWordDate.FindStringSubmatch(text); m != nil {
		day, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[3])
		if mon := monthByName(m[1]); mon != 0 && day >= 1 && day <= 31 {
			d := time.Date(year, mon, day, 0, 0, 0, 0, time.UTC)
			if d.Day() == day {
				offer.DeliveryDate = d.Format("2006-01-02")
				return
			}
		}
	}
	if m := reRelDays.FindStringSubmatch(text); m != nil {
		raw := m[1]
		if raw == "" {
			raw = m[2]
		}
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			offer.DeliveryDays = &n
			return
		}
	}
	if m := reRelWeeks.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n >= 0 {
			days := n * 7
			offer.DeliveryDays = &days
		}
	}
}

func parseExtras(text string, offer *negotiation.Offer) {
	if m := reAdvance.FindStringSubmatch(text); m != nil {
		raw := m[1]
		if raw == "" {
			raw = m[2]
		}
		if n, err := strconv.ParseFloat(raw, 64); err == nil && n >= 0 && n <= 100 {
			offer.AdvancePaymentPercent = &n
		}
	}
	if m := reWarranty.FindStringSubmatch(text); m != nil {
		raw := m[1]
		if raw == "" {
			raw = m[2]
		}
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			offer.WarrantyMonths = &n
		}
	}
}

func monthByName(name string) time.Month {
	switch strings.ToLower(name[:3]) {
	case "jan":
		return time.January
	case "feb":
		return time.February
	case "mar":
		return time.March
	case "apr":
		return time.April
	case "may":
		return time.May
	case "jun":
		return time.June
	case "jul":
		return time.July
	case "aug":
		return time.August
	case "sep":
		return time.September
	case "oct":
		return time.October
	case "nov":
		return time.November
	case "dec":
		return time.December
	}
	return 0
}

// FormatOffer renders the canonical subset (price, terms, delivery days) of
// an offer as vendor-style text. ParseOffer(FormatOffer(o)) round-trips
// that subset.
func FormatOffer(o *negotiation.Offer) string {
	var parts []string
	if o.HasPrice() {
		parts = append(parts, fmt.Sprintf("$%.2f", *o.TotalPrice))
	}
	if o.HasTerms() {
		parts = append(parts, o.PaymentTerms)
	}
	if o.DeliveryDays != nil {
		parts = append(parts, fmt.Sprintf("delivery in %d days", *o.DeliveryDays))
	} else if o.DeliveryDate != "" {
		parts = append(parts, "delivery by "+o.DeliveryDate)
	}
	return strings.Join(parts, ", ")
}
