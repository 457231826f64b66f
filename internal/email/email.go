// Package email sends operator notifications via SendGrid
package email

import (
	"context"
	"fmt"
	"time"

	"leadflow/internal/models"

	"github.com/google/uuid"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// TriageService notifies operators about email records the engine rejected
type TriageService struct {
	apiKey      string
	triageEmail string
}

// NewTriageService creates a new triage notification service
func NewTriageService(apiKey, triageEmail string) *TriageService {
	if triageEmail == "" {
		triageEmail = "ops@leadflow.local"
	}
	return &TriageService{
		apiKey:      apiKey,
		triageEmail: triageEmail,
	}
}

// SendTriageAlert sends a rejected email record to the operations inbox so a
// human can look at it. email may be nil when the queue entry could not even
// be decoded.
func (ts *TriageService) SendTriageAlert(ctx context.Context, email *models.InboundEmail, reason string) error {
	if ts.apiKey == "" {
		return fmt.Errorf("SendGrid API key not configured")
	}

	reportID := uuid.NewString()
	from := mail.NewEmail("LeadFlow Engine", "noreply@leadflow.local")
	to := mail.NewEmail("Operations", ts.triageEmail)

	subject := fmt.Sprintf("Rejected email record [%s]", reportID)

	var details string
	if email != nil {
		details = fmt.Sprintf(`Message-ID: %s
Sender: %s
Subject: %s
Received: %s`,
			email.MessageID, email.SenderEmail, email.Subject, email.ReceivedAt.Format(time.RFC3339))
	} else {
		details = "The queue entry could not be decoded; see engine logs."
	}

	body := fmt.Sprintf(`An inbound email record was permanently rejected by the classification engine.

Report ID: %s
Rejected At: %s
Reason: %s

%s`, reportID, time.Now().Format(time.RFC3339), reason, details)

	message := mail.NewSingleEmail(from, subject, to, body, body)

	client := sendgrid.NewSendClient(ts.apiKey)
	response, err := client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("failed to send triage alert: %w", err)
	}

	if response.StatusCode >= 400 {
		return fmt.Errorf("SendGrid API error: status %d, body: %s", response.StatusCode, response.Body)
	}

	return nil
}
