package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"accordo/internal/config"
	"accordo/internal/engine"
	"accordo/internal/llm"
	"accordo/internal/logger"
	"accordo/internal/negotiation"
	"accordo/internal/notify"
)

// llmHistoryWindow bounds how many prior messages are handed to the model.
const llmHistoryWindow = 8

// precomputeTimeout bounds the background suggestion warm for one round.
const precomputeTimeout = 10 * time.Second

// Pipeline couples the pure engine with the store, the LLM, and the
// notification side effects. All per-deal entry points serialize on a
// per-deal lock.
type Pipeline struct {
	store    Store
	llm      llm.Client // nil when no LLM is configured
	notifier notify.Notifier
	reporter notify.Reporter
	cfg      *config.Config

	locks       dealLocks
	suggestions *SuggestionCache
	hooks       *hookPool
	nowFn       func() time.Time
}

// New wires a pipeline. llmClient may be nil; the template fallback then
// serves every response.
func New(store Store, llmClient llm.Client, notifier notify.Notifier, reporter notify.Reporter, cfg *config.Config) *Pipeline {
	if cfg == nil {
		cfg = config.Default()
	}
	if notifier == nil {
		notifier = notify.NopNotifier{}
	}
	if reporter == nil {
		reporter = notify.TextReporter{}
	}
	return &Pipeline{
		store:       store,
		llm:         llmClient,
		notifier:    notifier,
		reporter:    reporter,
		cfg:         cfg,
		suggestions: NewSuggestionCache(cfg.SuggestionTTL, cfg.SuggestionCacheLimit),
		hooks:       newHookPool(),
		nowFn:       time.Now,
	}
}

// Close stops the background hook workers.
func (p *Pipeline) Close() {
	p.hooks.close()
}

// Suggestions exposes the per-round suggestion cache.
func (p *Pipeline) Suggestions() *SuggestionCache {
	return p.suggestions
}

// CreateDealParams are the inputs for opening a negotiation.
type CreateDealParams struct {
	Title       string                   `json:"title"`
	Mode        negotiation.Mode         `json:"mode"`
	Priority    negotiation.Priority     `json:"priority"`
	BuyerID     string                   `json:"buyer_id"`
	VendorID    string                   `json:"vendor_id"`
	ContractID  string                   `json:"contract_id"`
	Requisition *negotiation.Requisition `json:"requisition"`
	Wizard      *engine.WizardPayload    `json:"wizard,omitempty"`
}

// CreateDeal builds the stance from the requisition and wizard inputs,
// applies the vendor's historical anchor adjustment, and opens the deal.
func (p *Pipeline) CreateDeal(ctx context.Context, params CreateDealParams) (*negotiation.Deal, error) {
	if strings.TrimSpace(params.Title) == "" {
		return nil, fmt.Errorf("%w: title is required", negotiation.ErrValidation)
	}
	if params.VendorID == "" {
		return nil, fmt.Errorf("%w: vendor_id is required", negotiation.ErrValidation)
	}
	if params.Requisition == nil {
		return nil, fmt.Errorf("%w: requisition is required", negotiation.ErrValidation)
	}

	cfg := engine.BuildConfig(params.Requisition)
	cfg = engine.ApplyWizard(cfg, params.Wizard)
	if profile, err := p.store.GetVendorProfile(ctx, params.VendorID); err == nil {
		cfg = engine.ApplyHistoricalAnchor(cfg, profile)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	mode := params.Mode
	if mode == "" {
		mode = negotiation.ModeConversation
	}
	priority := params.Priority
	if priority == "" {
		priority = cfg.Priority
	}

	now := p.nowFn().UTC()
	deal := &negotiation.Deal{
		ID:            negotiation.NewID(),
		Title:         params.Title,
		Mode:          mode,
		Status:        negotiation.StatusNegotiating,
		Priority:      priority,
		BuyerID:       params.BuyerID,
		VendorID:      params.VendorID,
		RequisitionID: params.Requisition.ID,
		ContractID:    params.ContractID,
		Config:        cfg,
		State:         negotiation.NewState(),
		CreatedAt:     now,
		LastMessageAt: now,
	}
	if err := p.store.CreateDeal(ctx, deal, params.Requisition); err != nil {
		return nil, err
	}

	created := *deal
	p.hooks.submit("deal-created", func() {
		p.notifier.SendDealCreated(&created)
	})
	logger.Success("DEAL", fmt.Sprintf("Created %s (%s)", deal.ID, deal.Title))
	return deal, nil
}

// SaveVendorMessage is Phase 1: parse and accumulate the vendor's text,
// persist the message under the in-progress round, and warm the next
// round's suggestions. The deal's round counter does not advance here.
func (p *Pipeline) SaveVendorMessage(ctx context.Context, dealID, text string) (*negotiation.Message, *negotiation.AccumulatedOffer, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil, fmt.Errorf("%w: message content is empty", negotiation.ErrValidation)
	}
	if len(text) > p.cfg.MaxVendorMessageBytes {
		return nil, nil, fmt.Errorf("%w: message exceeds %d bytes", negotiation.ErrValidation, p.cfg.MaxVendorMessageBytes)
	}

	unlock := p.locks.lock(dealID)
	defer unlock()

	deal, err := p.loadDeal(ctx, dealID)
	if err != nil {
		return nil, nil, err
	}
	if deal.Status != negotiation.StatusNegotiating {
		return nil, nil, fmt.Errorf("%w: deal is %s", negotiation.ErrConflict, deal.Status)
	}

	now := p.nowFn().UTC()
	parsed := engine.ParseOffer(text, deal.Config.Currency)
	round := deal.Round + 1
	msg := &negotiation.Message{
		ID:        negotiation.NewID(),
		DealID:    deal.ID,
		Role:      negotiation.RoleVendor,
		Round:     round,
		Content:   text,
		Offer:     parsed,
		CreatedAt: now,
	}
	acc := engine.Accumulate(deal.LatestVendorOffer, parsed, msg.ID)

	err = p.store.Transaction(ctx, func(tx Store) error {
		if err := tx.CreateMessage(ctx, msg); err != nil {
			return err
		}
		deal.LatestVendorOffer = acc
		deal.LastMessageAt = now
		return tx.UpdateDeal(ctx, deal)
	})
	if err != nil {
		return nil, nil, err
	}

	go p.precomputeSuggestions(deal.ID, round)
	return msg, acc, nil
}

// GeneratePMResponse is Phase 2: evaluate the pending vendor message,
// decide, generate the response text (LLM with template fallback), and
// commit the PM message together with the deal update. Exactly one Phase 2
// runs per Phase 1; a second call for the same round conflicts.
func (p *Pipeline) GeneratePMResponse(ctx context.Context, dealID string) (*negotiation.Message, error) {
	unlock := p.locks.lock(dealID)
	defer unlock()

	deal, err := p.loadDeal(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if deal.Status != negotiation.StatusNegotiating {
		return nil, fmt.Errorf("%w: deal is %s", negotiation.ErrConflict, deal.Status)
	}

	vendorMsg, err := p.store.GetLastMessage(ctx, dealID, negotiation.RoleVendor, false)
	if errors.Is(err, negotiation.ErrNotFound) {
		return nil, fmt.Errorf("%w: no vendor message awaiting a response", negotiation.ErrConflict)
	}
	if err != nil {
		return nil, err
	}
	round := vendorMsg.Round
	if round != deal.Round+1 {
		return nil, fmt.Errorf("%w: round %d already has a response", negotiation.ErrConflict, round)
	}

	msgs, err := p.store.ListMessages(ctx, dealID)
	if err != nil {
		return nil, err
	}
	acc, prevOffer, vendorPrices, pmPrices := replayOffers(msgs)

	cfg := deal.Config
	state := deal.State
	if state == nil {
		state = negotiation.NewState()
	}
	state = state.Update(prevOffer, &acc.Offer, vendorMsg.Content, nil, round, cfg)

	var strategy *engine.StrategyResult
	if cfg.AdaptiveEnabled() {
		sig := engine.ComputeSignals(vendorPrices, pmPrices, vendorMsg.Content)
		st := engine.ComputeAdaptiveStrategy(sig, cfg, round)
		strategy = &st
	}

	dec := engine.Decide(cfg, acc, round, state, strategy, p.nowFn())

	stallPrompt := ""
	if dec.Action == negotiation.ActionCounter {
		if param, stalled := engine.DetectStall(state.ParameterHistories); stalled {
			stallPrompt = engine.StallPrompt(param)
		}
	}

	var mesoRound *negotiation.MesoRound
	if dec.Action == negotiation.ActionCounter {
		prevRounds, err := p.store.ListMesoRounds(ctx, dealID)
		if err == nil && engine.ShouldUseMeso(round, cfg, prevRounds) {
			var prev *negotiation.MesoRound
			if len(prevRounds) > 0 {
				prev = &prevRounds[len(prevRounds)-1]
			}
			mesoRound = engine.GenerateMeso(cfg, &acc.Offer, dec.UtilityScore, round, prev, state, p.nowFn().UTC())
			mesoRound.DealID = dealID
			dec.Explainability.Meso = &negotiation.MesoTrace{
				Options:       mesoRound.Options,
				TargetUtility: mesoRound.TargetUtility,
				Variance:      mesoRound.Variance,
				IsFinal:       mesoRound.Type == negotiation.MesoFinal,
				StallPrompt:   stallPrompt,
			}
		}
	}
	if stallPrompt != "" && dec.Explainability.Meso == nil {
		dec.Explainability.Meso = &negotiation.MesoTrace{StallPrompt: stallPrompt}
	}

	text := p.generateResponseText(ctx, deal, msgs, dec, stallPrompt)

	state = state.RecordUtilityScore(dec.UtilityScore)
	if dec.CounterOffer != nil {
		state.LastPmCounter = dec.CounterOffer.Clone()
	}

	now := p.nowFn().UTC()
	pmMsg := &negotiation.Message{
		ID:        negotiation.NewID(),
		DealID:    dealID,
		Role:      negotiation.RoleAccordo,
		Round:     round,
		Content:   text,
		Decision:  dec,
		CreatedAt: now,
	}

	newStatus := statusForAction(dec.Action)
	err = p.store.Transaction(ctx, func(tx Store) error {
		if err := tx.CreateMessage(ctx, pmMsg); err != nil {
			return err
		}
		if mesoRound != nil {
			if err := tx.CreateMesoRound(ctx, mesoRound); err != nil {
				return err
			}
		}
		deal.Round = round
		deal.Status = newStatus
		deal.State = state
		deal.Config = cfg
		deal.LatestCounter = dec.CounterOffer
		deal.LatestUtility = dec.UtilityScore
		deal.LatestAction = dec.Action
		deal.LastMessageAt = now
		return tx.UpdateDeal(ctx, deal)
	})
	if err != nil {
		return nil, err
	}

	p.suggestions.Invalidate(dealID)

	if newStatus.Terminal() {
		p.runTerminalHooks(deal, dec, vendorPrices)
	}
	return pmMsg, nil
}

// replayOffers folds the message history into the current accumulated
// offer, the accumulation before the latest vendor message, and the
// per-round vendor/PM price series used by the behavioral analyzer.
func replayOffers(msgs []negotiation.Message) (acc *negotiation.AccumulatedOffer, prevOffer *negotiation.Offer, vendorPrices, pmPrices []float64) {
	var prevAcc *negotiation.AccumulatedOffer
	for i := range msgs {
		m := &msgs[i]
		switch m.Role {
		case negotiation.RoleVendor:
			prevAcc = acc
			acc = engine.Accumulate(acc, m.Offer, m.ID)
			if acc.HasPrice() {
				vendorPrices = append(vendorPrices, *acc.TotalPrice)
			}
		case negotiation.RoleAccordo:
			if m.Decision != nil && m.Decision.CounterOffer.HasPrice() {
				pmPrices = append(pmPrices, *m.Decision.CounterOffer.TotalPrice)
			}
		}
	}
	if acc == nil {
		acc = engine.Accumulate(nil, nil, "")
	}
	if prevAcc != nil {
		prevOffer = &prevAcc.Offer
	}
	return acc, prevOffer, vendorPrices, pmPrices
}

// generateResponseText races the LLM against its timeout and falls back
// to the deterministic template. Both paths carry the same decision.
func (p *Pipeline) generateResponseText(ctx context.Context, deal *negotiation.Deal, msgs []negotiation.Message, dec *negotiation.Decision, stallPrompt string) string {
	if p.llm == nil {
		return llm.FallbackResponse(dec, stallPrompt)
	}

	history := make([]llm.Turn, 0, llmHistoryWindow)
	start := len(msgs) - llmHistoryWindow
	if start < 0 {
		start = 0
	}
	for _, m := range msgs[start:] {
		role := llm.TurnVendor
		if m.Role == negotiation.RoleAccordo {
			role = llm.TurnPM
		}
		history = append(history, llm.Turn{Role: role, Content: m.Content})
	}

	text, err := p.llm.Generate(ctx, llm.SystemPrompt(deal.Title, dec), history, llm.Options{
		Temperature: p.cfg.Temperature,
		MaxTokens:   p.cfg.LLMMaxTokens,
		Timeout:     p.cfg.LLMTimeout,
	})
	if err != nil || strings.TrimSpace(text) == "" {
		logger.Warn("LLM", fmt.Sprintf("Generation failed for deal %s, using template: %v", deal.ID, err))
		return llm.FallbackResponse(dec, stallPrompt)
	}
	if stallPrompt != "" {
		text += "\n\n" + stallPrompt
	}
	return text
}

// runTerminalHooks fires the off-critical-path side effects of a deal
// reaching a terminal status. Failures are logged and swallowed.
func (p *Pipeline) runTerminalHooks(deal *negotiation.Deal, dec *negotiation.Decision, vendorPrices []float64) {
	snapshot := *deal
	accepted := deal.Status == negotiation.StatusAccepted

	finalDiscount := 0.0
	if len(vendorPrices) >= 2 && vendorPrices[0] > 0 {
		finalDiscount = (vendorPrices[0] - vendorPrices[len(vendorPrices)-1]) / vendorPrices[0]
		if finalDiscount < 0 {
			finalDiscount = 0
		}
	}

	p.hooks.submit("vendor-profile", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		tag := behaviorTag(finalDiscount, accepted)
		if err := p.store.UpsertVendorProfile(ctx, snapshot.VendorID, accepted, finalDiscount, tag); err != nil {
			logger.Warn("HOOK", fmt.Sprintf("Vendor profile update failed for %s: %v", snapshot.VendorID, err))
		}
	})
	p.hooks.submit("contract-sync", func() {
		// Contract status lives in an external system; record the intent.
		logger.Info("SYNC", fmt.Sprintf("Deal %s finished %s; contract %s status sync requested", snapshot.ID, snapshot.Status, snapshot.ContractID))
	})
	p.hooks.submit("terminal-notify", func() {
		p.notifier.SendPmTerminalStatus(&snapshot, dec)
	})
	p.hooks.submit("deal-summary", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		msgs, err := p.store.ListMessages(ctx, snapshot.ID)
		if err != nil {
			logger.Warn("HOOK", fmt.Sprintf("Summary listing failed for %s: %v", snapshot.ID, err))
			return
		}
		summary, err := p.reporter.RenderDealSummary(&snapshot, msgs)
		if err != nil {
			logger.Warn("HOOK", fmt.Sprintf("Summary rendering failed for %s: %v", snapshot.ID, err))
			return
		}
		p.notifier.SendDealSummary(&snapshot, summary)
	})
}

func behaviorTag(finalDiscount float64, accepted bool) string {
	switch {
	case !accepted:
		return "hard"
	case finalDiscount >= 0.15:
		return "flexible"
	case finalDiscount >= 0.05:
		return "moderate"
	default:
		return "firm"
	}
}

// ResumeDeal re-opens an escalated deal. This is the only path back to
// NEGOTIATING from a terminal status.
func (p *Pipeline) ResumeDeal(ctx context.Context, dealID string) (*negotiation.Deal, error) {
	unlock := p.locks.lock(dealID)
	defer unlock()

	deal, err := p.loadDeal(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if deal.Status != negotiation.StatusEscalated {
		return nil, fmt.Errorf("%w: resume requires ESCALATED, deal is %s", negotiation.ErrConflict, deal.Status)
	}
	deal.Status = negotiation.StatusNegotiating
	if err := p.store.UpdateDeal(ctx, deal); err != nil {
		return nil, err
	}

	snapshot := *deal
	p.hooks.submit("resume-notify", func() {
		p.notifier.SendContinuedNegotiation(&snapshot)
	})
	logger.Info("DEAL", fmt.Sprintf("Resumed %s", dealID))
	return deal, nil
}

// ArchiveDeal sets the soft archive flag.
func (p *Pipeline) ArchiveDeal(ctx context.Context, dealID string) error {
	unlock := p.locks.lock(dealID)
	defer unlock()

	deal, err := p.loadDeal(ctx, dealID)
	if err != nil {
		return err
	}
	now := p.nowFn().UTC()
	deal.ArchivedAt = &now
	return p.store.UpdateDeal(ctx, deal)
}

// DeleteDeal sets the soft delete flag; the deal stops resolving through
// GetDeal but its rows remain for audit.
func (p *Pipeline) DeleteDeal(ctx context.Context, dealID string) error {
	unlock := p.locks.lock(dealID)
	defer unlock()

	deal, err := p.loadDeal(ctx, dealID)
	if err != nil {
		return err
	}
	now := p.nowFn().UTC()
	deal.DeletedAt = &now
	if err := p.store.UpdateDeal(ctx, deal); err != nil {
		return err
	}
	p.suggestions.Invalidate(dealID)
	return nil
}

// SelectMesoOption records the vendor's pick from a MESO round and folds
// the preference evidence into the deal state.
func (p *Pipeline) SelectMesoOption(ctx context.Context, dealID, mesoRoundID, optionID string) error {
	unlock := p.locks.lock(dealID)
	defer unlock()

	deal, err := p.loadDeal(ctx, dealID)
	if err != nil {
		return err
	}
	rounds, err := p.store.ListMesoRounds(ctx, dealID)
	if err != nil {
		return err
	}
	var target *negotiation.MesoRound
	var option *negotiation.MesoOption
	for i := range rounds {
		if rounds[i].ID != mesoRoundID {
			continue
		}
		target = &rounds[i]
		for j := range rounds[i].Options {
			if rounds[i].Options[j].ID == optionID {
				option = &rounds[i].Options[j]
				break
			}
		}
	}
	if target == nil || option == nil {
		return fmt.Errorf("%w: meso option %s", negotiation.ErrNotFound, optionID)
	}

	state := deal.State
	if state == nil {
		state = negotiation.NewState()
	}
	state = state.RecordMesoSelection(target.Type, optionID, option.Label, target.Round)
	prefs := &negotiation.MesoInference{
		Emphasis:   state.VendorEmphasis,
		Confidence: state.EmphasisConfidence,
	}

	return p.store.Transaction(ctx, func(tx Store) error {
		if err := tx.RecordMesoSelection(ctx, mesoRoundID, optionID, prefs); err != nil {
			return err
		}
		deal.State = state
		return tx.UpdateDeal(ctx, deal)
	})
}

// loadDeal fetches a deal and recovers from a malformed persisted config
// by rebuilding the stance from the requisition and flagging the deal
// degraded.
func (p *Pipeline) loadDeal(ctx context.Context, dealID string) (*negotiation.Deal, error) {
	deal, err := p.store.GetDeal(ctx, dealID)
	if err == nil {
		if deal.Config == nil {
			return p.rebuildConfig(ctx, deal)
		}
		return deal, nil
	}
	if deal != nil && errors.Is(err, negotiation.ErrValidation) {
		logger.Warn("DEAL", fmt.Sprintf("Deal %s has a malformed config, rebuilding from requisition: %v", dealID, err))
		return p.rebuildConfig(ctx, deal)
	}
	if errors.Is(err, negotiation.ErrNotFound) {
		return nil, fmt.Errorf("%w: deal %s", negotiation.ErrNotFound, dealID)
	}
	return nil, err
}

func (p *Pipeline) rebuildConfig(ctx context.Context, deal *negotiation.Deal) (*negotiation.Deal, error) {
	req, err := p.store.GetRequisition(ctx, deal.ID)
	if err != nil {
		return nil, fmt.Errorf("rebuild config for deal %s: %w", deal.ID, err)
	}
	deal.Config = engine.BuildConfig(req)
	deal.Degraded = true
	return deal, nil
}

// precomputeSuggestions warms the suggestion cache for the round a vendor
// message just opened. Best-effort: it checks the deal is still live and
// gives up silently on any failure.
func (p *Pipeline) precomputeSuggestions(dealID string, round int) {
	ctx, cancel := context.WithTimeout(context.Background(), precomputeTimeout)
	defer cancel()

	p.suggestions.Do(dealID, round, func() ([]string, string) {
		deal, err := p.store.GetDeal(ctx, dealID)
		if err != nil || deal.Status != negotiation.StatusNegotiating {
			return nil, ""
		}
		acc := deal.LatestVendorOffer
		if acc == nil || !acc.IsComplete {
			return []string{
				"Ask the vendor to confirm the total price and payment terms before responding.",
			}, SuggestionSourceFallback
		}

		now := p.nowFn()
		u, _ := engine.Evaluate(&acc.Offer, deal.Config, now)
		mr := engine.GenerateMeso(deal.Config, &acc.Offer, u, round, nil, deal.State, now.UTC())
		suggestions := make([]string, 0, len(mr.Options))
		for _, opt := range mr.Options {
			suggestions = append(suggestions, fmt.Sprintf("Counter with %s.", llm.DescribeOffer(&opt.Offer)))
		}
		return suggestions, SuggestionSourceFallback
	})
}

func statusForAction(action negotiation.Action) negotiation.Status {
	switch action {
	case negotiation.ActionAccept:
		return negotiation.StatusAccepted
	case negotiation.ActionEscalate:
		return negotiation.StatusEscalated
	case negotiation.ActionWalkAway:
		return negotiation.StatusWalkedAway
	default:
		return negotiation.StatusNegotiating
	}
}
