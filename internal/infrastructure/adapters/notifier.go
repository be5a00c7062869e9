package adapters

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/rail-service/settlement_service/internal/infrastructure/config"
	"github.com/rail-service/settlement_service/pkg/logger"
)

// MailSender is the part of the SendGrid client the notifier uses
type MailSender interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// OperatorNotifier emails operators about settlements that need a human:
// float shortfalls, failed payouts and custody mismatches.
type OperatorNotifier struct {
	sender    MailSender
	fromName  string
	fromEmail string
	operators []string
	logger    *logger.Logger
}

// NewOperatorNotifier builds a SendGrid notifier. Without an API key or
// recipients it only logs.
func NewOperatorNotifier(cfg config.NotifyConfig, log *logger.Logger) *OperatorNotifier {
	var sender MailSender
	if strings.TrimSpace(cfg.SendGridAPIKey) != "" && len(cfg.OperatorEmails) > 0 {
		sender = sendgrid.NewSendClient(cfg.SendGridAPIKey)
	} else {
		log.Info("Operator email not configured, alerts will only be logged")
	}
	return NewOperatorNotifierWithSender(sender, cfg, log)
}

// NewOperatorNotifierWithSender wraps an existing sender
func NewOperatorNotifierWithSender(sender MailSender, cfg config.NotifyConfig, log *logger.Logger) *OperatorNotifier {
	fromName := cfg.FromName
	if fromName == "" {
		fromName = "Settlement Service"
	}
	return &OperatorNotifier{
		sender:    sender,
		fromName:  fromName,
		fromEmail: cfg.FromEmail,
		operators: cfg.OperatorEmails,
		logger:    log,
	}
}

// Notify sends subject and body to every operator address
func (n *OperatorNotifier) Notify(ctx context.Context, subject, body string) error {
	n.logger.Warn("Operator alert", "subject", subject, "body", body)
	if n.sender == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	from := mail.NewEmail(n.fromName, n.fromEmail)
	htmlContent := "<pre>" + html.EscapeString(body) + "</pre>"

	var failed []string
	for _, to := range n.operators {
		message := mail.NewSingleEmail(from, subject, mail.NewEmail("", to), body, htmlContent)
		response, err := n.sender.SendWithContext(ctx, message)
		if err != nil {
			n.logger.Error("Failed to send operator alert", "to", to, "subject", subject, "error", err)
			failed = append(failed, to)
			continue
		}
		if response.StatusCode >= 400 {
			n.logger.Error("Email service returned error",
				"to", to,
				"status_code", response.StatusCode,
				"response_body", response.Body)
			failed = append(failed, to)
		}
	}

	if len(failed) > 0 {
		return fmt.Errorf("operator alert not delivered to %s", strings.Join(failed, ", "))
	}
	return nil
}
