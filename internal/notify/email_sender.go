package notify

import (
	"fmt"
	"time"

	gomail "gopkg.in/mail.v2"

	"accordo/internal/logger"
	"accordo/internal/negotiation"
)

// EmailConfig holds SMTP configuration for sending emails.
type EmailConfig struct {
	SMTPServer string
	SMTPPort   int
	SMTPUser   string
	SMTPPass   string
	FromEmail  string
	ToEmail    string
	Enabled    bool
}

// EmailNotifier delivers lifecycle notifications via SMTP.
type EmailNotifier struct {
	cfg EmailConfig
}

// NewEmailNotifier creates a notifier with the given SMTP configuration.
func NewEmailNotifier(cfg EmailConfig) *EmailNotifier {
	return &EmailNotifier{cfg: cfg}
}

func (s *EmailNotifier) SendDealCreated(deal *negotiation.Deal) Result {
	subject := fmt.Sprintf("Negotiation started: %s", deal.Title)
	return s.send(subject, renderDealCreated(deal), "")
}

func (s *EmailNotifier) SendContinuedNegotiation(deal *negotiation.Deal) Result {
	subject := fmt.Sprintf("Negotiation resumed: %s", deal.Title)
	return s.send(subject, renderContinued(deal), "")
}

func (s *EmailNotifier) SendPmTerminalStatus(deal *negotiation.Deal, dec *negotiation.Decision) Result {
	subject := fmt.Sprintf("Negotiation %s: %s", deal.Status, deal.Title)
	return s.send(subject, renderTerminal(deal, dec), "")
}

func (s *EmailNotifier) SendDealSummary(deal *negotiation.Deal, summary []byte) Result {
	subject := fmt.Sprintf("Deal summary: %s", deal.Title)
	return s.send(subject, "The full negotiation summary is attached below.\n\n"+string(summary), "")
}

// send delivers one email. Errors are reported in the Result, never
// raised: notification failure must not fail a negotiation round.
func (s *EmailNotifier) send(subject, text, html string) Result {
	if !s.cfg.Enabled {
		return Result{Success: true}
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.cfg.FromEmail)
	m.SetHeader("To", s.cfg.ToEmail)
	m.SetHeader("Subject", subject)
	messageID := negotiation.NewID()
	m.SetHeader("Message-Id", fmt.Sprintf("<%s@accordo>", messageID))

	if html != "" {
		m.SetBody("text/plain", text)
		m.AddAlternative("text/html", html)
	} else {
		m.SetBody("text/plain", text)
	}

	dialer := gomail.NewDialer(s.cfg.SMTPServer, s.cfg.SMTPPort, s.cfg.SMTPUser, s.cfg.SMTPPass)
	dialer.Timeout = 10 * time.Second

	if err := dialer.DialAndSend(m); err != nil {
		logger.Warn("MAIL", fmt.Sprintf("Failed to send %q to %s: %v", subject, s.cfg.ToEmail, err))
		return Result{Success: false, Error: err.Error()}
	}
	logger.Info("MAIL", fmt.Sprintf("Sent %q", subject))
	return Result{Success: true, MessageID: messageID}
}
