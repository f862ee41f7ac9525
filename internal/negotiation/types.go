// Package negotiation holds the domain model shared by the engine, the
// pipeline and the store: deals, messages, offers, the PM's configured
// stance and the per-deal adaptive state.
package negotiation

import (
	"time"

	"github.com/google/uuid"
)

// Mode selects how a deal surfaces to the buyer.
type Mode string

const (
	ModeInsights     Mode = "INSIGHTS"
	ModeConversation Mode = "CONVERSATION"
)

// Status is the deal lifecycle state.
type Status string

const (
	StatusNegotiating Status = "NEGOTIATING"
	StatusAccepted    Status = "ACCEPTED"
	StatusWalkedAway  Status = "WALKED_AWAY"
	StatusEscalated   Status = "ESCALATED"
)

// Terminal reports whether a status ends the negotiation.
func (s Status) Terminal() bool {
	return s == StatusAccepted || s == StatusWalkedAway || s == StatusEscalated
}

// Priority is the buyer-assigned deal priority.
type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityMedium Priority = "MEDIUM"
	PriorityLow    Priority = "LOW"
)

// Role identifies the author of a message within a deal.
type Role string

const (
	RoleVendor  Role = "VENDOR"
	RoleAccordo Role = "ACCORDO"
	RoleSystem  Role = "SYSTEM"
)

// Action is the engine's per-round decision.
type Action string

const (
	ActionAccept     Action = "ACCEPT"
	ActionCounter    Action = "COUNTER"
	ActionEscalate   Action = "ESCALATE"
	ActionWalkAway   Action = "WALK_AWAY"
	ActionAskClarify Action = "ASK_CLARIFY"
)

// Emphasis is the parameter the vendor appears to care about most.
type Emphasis string

const (
	EmphasisPrice    Emphasis = "price"
	EmphasisTerms    Emphasis = "terms"
	EmphasisDelivery Emphasis = "delivery"
	EmphasisBalanced Emphasis = "balanced"
)

// MesoType distinguishes the three MESO generation modes.
type MesoType string

const (
	MesoInitial MesoType = "initial"
	MesoDynamic MesoType = "dynamic"
	MesoFinal   MesoType = "final"
)

// Strategy is the adaptive concession strategy label.
type Strategy string

const (
	StrategyMatchPace   Strategy = "MATCH_PACE"
	StrategySlowConcede Strategy = "SLOW_CONCEDE"
	StrategyFastConcede Strategy = "FAST_CONCEDE"
	StrategyHoldFirm    Strategy = "HOLD_FIRM"
	StrategyExtend      Strategy = "EXTEND"
)

// Sentiment is the keyword-derived tone of the latest vendor message.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// NewID returns an opaque 128-bit identifier.
func NewID() string {
	return uuid.NewString()
}

// Offer is a structured counterparty proposal. Any field may be absent;
// absent numeric fields are nil, absent terms are the empty string.
type Offer struct {
	TotalPrice            *float64 `json:"total_price,omitempty"`
	PaymentTerms          string   `json:"payment_terms,omitempty"` // canonical "Net N"
	DeliveryDate          string   `json:"delivery_date,omitempty"` // ISO date (2006-01-02)
	DeliveryDays          *int     `json:"delivery_days,omitempty"`
	AdvancePaymentPercent *float64 `json:"advance_payment_percent,omitempty"`
	WarrantyMonths        *int     `json:"warranty_months,omitempty"`
}

// HasPrice reports whether the offer carries a price.
func (o *Offer) HasPrice() bool {
	return o != nil && o.TotalPrice != nil
}

// HasTerms reports whether the offer carries payment terms.
func (o *Offer) HasTerms() bool {
	return o != nil && o.PaymentTerms != ""
}

// Clone returns a deep copy of the offer.
func (o *Offer) Clone() *Offer {
	if o == nil {
		return nil
	}
	c := *o
	if o.TotalPrice != nil {
		v := *o.TotalPrice
		c.TotalPrice = &v
	}
	if o.DeliveryDays != nil {
		v := *o.DeliveryDays
		c.DeliveryDays = &v
	}
	if o.AdvancePaymentPercent != nil {
		v := *o.AdvancePaymentPercent
		c.AdvancePaymentPercent = &v
	}
	if o.WarrantyMonths != nil {
		v := *o.WarrantyMonths
		c.WarrantyMonths = &v
	}
	return &c
}

// AccumulatedOffer is an Offer merged across one or more vendor messages.
type AccumulatedOffer struct {
	Offer
	IsComplete       bool     `json:"is_complete"`
	ProvidedFields   []string `json:"provided_fields"`
	MissingFields    []string `json:"missing_fields"`
	SourceMessageIDs []string `json:"source_message_ids"`
}

// Deal is one negotiation session with a vendor.
type Deal struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Mode     Mode     `json:"mode"`
	Status   Status   `json:"status"`
	Round    int      `json:"round"` // completed rounds
	Priority Priority `json:"priority"`

	BuyerID       string `json:"buyer_id"`
	VendorID      string `json:"vendor_id"`
	RequisitionID string `json:"requisition_id"`
	ContractID    string `json:"contract_id,omitempty"`

	Config            *Config           `json:"config,omitempty"`
	State             *State            `json:"state,omitempty"`
	LatestVendorOffer *AccumulatedOffer `json:"latest_vendor_offer,omitempty"`
	LatestCounter     *Offer            `json:"latest_counter,omitempty"`
	LatestUtility     float64 `json:"latest_utility"`
	LatestAction      Action  `json:"latest_action,omitempty"`

	// Degraded marks a deal whose persisted config was malformed and has
	// been rebuilt from the requisition.
	Degraded bool `json:"degraded,omitempty"`

	CreatedAt     time.Time  `json:"created_at"`
	LastMessageAt time.Time  `json:"last_message_at"`
	ArchivedAt    *time.Time `json:"archived_at,omitempty"`
	DeletedAt     *time.Time `json:"deleted_at,omitempty"`
}

// Message is one ordered event within a deal. Messages are append-only.
type Message struct {
	ID        string    `json:"id"`
	DealID    string    `json:"deal_id"`
	Role      Role      `json:"role"`
	Round     int       `json:"round"`
	Content   string    `json:"content"`
	Offer     *Offer    `json:"offer,omitempty"`    // extracted vendor offer
	Decision  *Decision `json:"decision,omitempty"` // engine decision (ACCORDO messages)
	CreatedAt time.Time `json:"created_at"`
}

// Decision is the engine's structured output for one round.
type Decision struct {
	Action         Action         `json:"action"`
	UtilityScore   float64        `json:"utilityScore"`
	CounterOffer   *Offer         `json:"counterOffer,omitempty"`
	Explainability Explainability `json:"explainability"`
}

// Explainability carries the rationale behind a decision.
type Explainability struct {
	Components UtilityComponents `json:"components"`
	Thresholds Thresholds        `json:"thresholds"`
	Reason     string            `json:"reason"`
	Behavioral *BehavioralTrace  `json:"behavioral,omitempty"`
	Meso       *MesoTrace        `json:"meso,omitempty"`
}

// UtilityComponents is the per-attribute utility breakdown.
type UtilityComponents struct {
	Price    float64  `json:"price"`
	Terms    float64  `json:"terms"`
	Delivery *float64 `json:"delivery,omitempty"`
}

// Thresholds echoes the active decision thresholds.
type Thresholds struct {
	Accept   float64 `json:"accept"`
	Escalate float64 `json:"escalate"`
	Walkaway float64 `json:"walkaway"`
}

// BehavioralTrace summarizes the adaptive signals behind a decision.
type BehavioralTrace struct {
	Momentum           float64  `json:"momentum"`
	Strategy           Strategy `json:"strategy"`
	ConvergenceRate    float64  `json:"convergenceRate"`
	ConcessionVelocity float64  `json:"concessionVelocity"`
	Aggressiveness     float64  `json:"aggressiveness"`
	ExtendedRounds     bool     `json:"extendedRounds,omitempty"`
}

// MesoTrace summarizes a generated MESO bundle on the decision payload.
type MesoTrace struct {
	Options       []MesoOption `json:"options"`
	TargetUtility float64      `json:"targetUtility"`
	Variance      float64      `json:"variance"`
	IsFinal       bool         `json:"isFinal"`
	StallPrompt   string       `json:"stallPrompt,omitempty"`
}

// MesoOption is one bundle within a MESO round.
type MesoOption struct {
	ID      string   `json:"id"`
	Label   Emphasis `json:"label"` // the parameter the option favors
	Offer   Offer    `json:"offer"`
	Utility float64  `json:"utility"`
	// DeltaFromCurrent is optionUtility − currentOfferUtility.
	DeltaFromCurrent float64 `json:"delta_from_current"`
}

// MesoRound is one persisted round of equi-utility options.
type MesoRound struct {
	ID                  string         `json:"id"`
	DealID              string         `json:"deal_id"`
	Round               int            `json:"round"`
	Type                MesoType       `json:"type"`
	Options             []MesoOption   `json:"options"`
	TargetUtility       float64        `json:"target_utility"`
	Variance            float64        `json:"variance"`
	SelectedOptionID    string         `json:"selected_option_id,omitempty"`
	InferredPreferences *MesoInference `json:"inferred_preferences,omitempty"`
	CreatedAt           time.Time      `json:"created_at"`
}

// MesoInference records what a MESO selection implied about the vendor.
type MesoInference struct {
	Emphasis   Emphasis `json:"emphasis"`
	Confidence float64  `json:"confidence"`
}

// VendorProfile is the persistent cross-deal record for one vendor.
type VendorProfile struct {
	VendorID          string    `json:"vendor_id"`
	DealCount         int       `json:"deal_count"`
	AcceptedCount     int       `json:"accepted_count"`
	MeanFinalDiscount float64   `json:"mean_final_discount"` // fraction of opening price conceded by deal end
	BehaviorTag       string    `json:"behavior_tag,omitempty"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// AcceptRate is AcceptedCount/DealCount, zero when no deals are recorded.
func (p *VendorProfile) AcceptRate() float64 {
	if p == nil || p.DealCount == 0 {
		return 0
	}
	return float64(p.AcceptedCount) / float64(p.DealCount)
}

// Requisition is the slice of the purchasing domain the engine reads.
type Requisition struct {
	ID       string    `json:"id"`
	Currency string    `json:"currency"` // ISO 4217, e.g. "USD"
	Products []Product `json:"products"`
	// RequiredBy bounds delivery; zero means no delivery constraint.
	RequiredBy string `json:"required_by,omitempty"` // ISO date
}

// Product is one requisition line item.
type Product struct {
	Name       string  `json:"name"`
	Quantity   float64 `json:"quantity"`
	UnitTarget float64 `json:"unit_target"` // goal unit price in requisition currency
}

// TotalTarget is Σ(quantity·unitTarget) across the requisition.
func (r *Requisition) TotalTarget() float64 {
	var sum float64
	for _, p := range r.Products {
		sum += p.Quantity * p.UnitTarget
	}
	return sum
}
