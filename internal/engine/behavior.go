package engine

import (
	"math"
	"strings"

	"accordo/internal/negotiation"
)

// Behavioral analysis tuning.
const (
	momentumAlpha    = 0.5   // EWMA smoothing for the momentum signal
	momentumScale    = 0.05  // a 5% per-round concession saturates momentum
	stallEpsilon     = 0.005 // relative price change below this counts as no movement
	stallWindow      = 3     // rounds of no movement → stalling
	convergeMinRate  = 0.10  // mean gap closure per round to count as converging
	aggressivenessLo = 0.5
	aggressivenessHi = 1.5
)

// Signals are the behavioral measurements derived from offer history.
type Signals struct {
	ConcessionVelocity float64               `json:"concession_velocity"`
	ConvergenceRate    float64               `json:"convergence_rate"`
	Momentum           float64               `json:"momentum"`
	IsStalling         bool                  `json:"is_stalling"`
	IsConverging       bool                  `json:"is_converging"`
	IsDiverging        bool                  `json:"is_diverging"`
	LatestSentiment    negotiation.Sentiment `json:"latest_sentiment"`
}

// StrategyResult is the adaptive strategy derived from the signals.
type StrategyResult struct {
	Strategy           negotiation.Strategy `json:"strategy"`
	Aggressiveness     float64              `json:"aggressiveness"`
	ShouldExtendRounds bool                 `json:"should_extend_rounds"`
	Signals            Signals              `json:"signals"`
}

// ComputeSignals derives momentum, convergence and stall measurements from
// the per-round vendor prices and PM counter prices, oldest first.
func ComputeSignals(vendorPrices, pmPrices []float64, latestVendorText string) Signals {
	sig := Signals{LatestSentiment: analyzeSentiment(latestVendorText)}

	// Signed per-round concession rates: positive when the vendor moves
	// toward the buyer.
	var rates []float64
	for i := 1; i < len(vendorPrices); i++ {
		prev, next := vendorPrices[i-1], vendorPrices[i]
		if prev <= 0 {
			continue
		}
		rates = append(rates, (prev-next)/prev)
	}
	if len(rates) > 0 {
		var sum, ewma float64
		for i, r := range rates {
			sum += r
			if i == 0 {
				ewma = r
			} else {
				ewma = momentumAlpha*r + (1-momentumAlpha)*ewma
			}
		}
		sig.ConcessionVelocity = sum / float64(len(rates))
		sig.Momentum = clampRange(ewma/momentumScale, -1, 1)
		sig.IsDiverging = rates[len(rates)-1] < -stallEpsilon
	}

	// Fractional closure of the vendor−PM gap per round.
	n := len(vendorPrices)
	if len(pmPrices) < n {
		n = len(pmPrices)
	}
	var closures []float64
	for i := 1; i < n; i++ {
		prevGap := vendorPrices[i-1] - pmPrices[i-1]
		gap := vendorPrices[i] - pmPrices[i]
		if prevGap <= 0 {
			continue
		}
		closures = append(closures, (prevGap-gap)/prevGap)
	}
	if len(closures) > 0 {
		var sum float64
		for _, c := range closures {
			sum += c
		}
		sig.ConvergenceRate = sum / float64(len(closures))
	}
	sig.IsConverging = sig.ConvergenceRate > convergeMinRate

	// Stalling: no meaningful vendor movement across the trailing window.
	if len(vendorPrices) >= stallWindow {
		stalled := true
		tail := vendorPrices[len(vendorPrices)-stallWindow:]
		for i := 1; i < len(tail); i++ {
			if tail[i-1] <= 0 {
				continue
			}
			if math.Abs(tail[i]-tail[i-1])/tail[i-1] > stallEpsilon {
				stalled = false
				break
			}
		}
		sig.IsStalling = stalled
	}

	return sig
}

// ComputeAdaptiveStrategy maps signals to a concession strategy and an
// aggressiveness multiplier applied to the configured concession step.
// Extension past max_rounds is only offered while converging and within
// the dynamic hard cap.
func ComputeAdaptiveStrategy(sig Signals, cfg *negotiation.Config, round int) StrategyResult {
	res := StrategyResult{
		Strategy:       negotiation.StrategyMatchPace,
		Aggressiveness: 1.0,
		Signals:        sig,
	}

	dyn := cfg.DynamicRounds
	if dyn != nil && dyn.AutoExtendEnabled && sig.IsConverging &&
		round >= cfg.MaxRounds && round < dyn.HardMax {
		res.Strategy = negotiation.StrategyExtend
		res.ShouldExtendRounds = true
		res.Aggressiveness = 1.1
		return res
	}

	switch {
	case sig.IsStalling:
		// A stalled vendor gets nothing for free.
		res.Strategy = negotiation.StrategyHoldFirm
		res.Aggressiveness = aggressivenessLo
	case sig.IsDiverging:
		res.Strategy = negotiation.StrategyHoldFirm
		res.Aggressiveness = aggressivenessLo
	case sig.Momentum > 0.5:
		// Vendor is conceding fast; slow down and let them come.
		res.Strategy = negotiation.StrategySlowConcede
		res.Aggressiveness = 0.7
	case !sig.IsConverging && sig.LatestSentiment == negotiation.SentimentNegative:
		// Deal is at risk with no movement: buy progress.
		res.Strategy = negotiation.StrategyFastConcede
		res.Aggressiveness = aggressivenessHi
	default:
		res.Strategy = negotiation.StrategyMatchPace
		res.Aggressiveness = 1.0
	}
	return res
}

var (
	positiveCues = []string{"great", "happy", "pleased", "deal", "agree", "works for us", "confirm", "excellent", "thank"}
	negativeCues = []string{"cannot", "can't", "unfortunately", "impossible", "final offer", "no further", "refuse", "walk away", "last offer", "take it or leave"}
)

func analyzeSentiment(text string) negotiation.Sentiment {
	t := strings.ToLower(text)
	pos, neg := 0, 0
	for _, c := range positiveCues {
		if strings.Contains(t, c) {
			pos++
		}
	}
	for _, c := range negativeCues {
		if strings.Contains(t, c) {
			neg++
		}
	}
	switch {
	case neg > pos:
		return negotiation.SentimentNegative
	case pos > neg:
		return negotiation.SentimentPositive
	default:
		return negotiation.SentimentNeutral
	}
}

func clampRange(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
