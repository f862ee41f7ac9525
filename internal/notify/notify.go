// Package notify delivers negotiation lifecycle notifications. Senders
// never propagate errors to the pipeline: every call returns a Result and
// failures are logged and swallowed.
package notify

import (
	"accordo/internal/negotiation"
)

// Result is the uniform outcome record for every notification attempt.
type Result struct {
	Success   bool   `json:"success"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Notifier is the outbound notification capability.
type Notifier interface {
	// SendDealCreated announces a new negotiation to the buyer.
	SendDealCreated(deal *negotiation.Deal) Result
	// SendContinuedNegotiation announces an escalated deal being resumed.
	SendContinuedNegotiation(deal *negotiation.Deal) Result
	// SendPmTerminalStatus announces a deal reaching a terminal status.
	SendPmTerminalStatus(deal *negotiation.Deal, dec *negotiation.Decision) Result
	// SendDealSummary delivers the rendered deal summary document.
	SendDealSummary(deal *negotiation.Deal, summary []byte) Result
}

// NopNotifier satisfies Notifier without delivering anything; used when
// email is not configured and in tests.
type NopNotifier struct{}

func (NopNotifier) SendDealCreated(*negotiation.Deal) Result { return Result{Success: true} }
func (NopNotifier) SendContinuedNegotiation(*negotiation.Deal) Result {
	return Result{Success: true}
}
func (NopNotifier) SendPmTerminalStatus(*negotiation.Deal, *negotiation.Decision) Result {
	return Result{Success: true}
}
func (NopNotifier) SendDealSummary(*negotiation.Deal, []byte) Result { return Result{Success: true} }
