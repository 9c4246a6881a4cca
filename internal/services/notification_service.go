// internal/services/notification_service.go
package services

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"

	"github.com/sirupsen/logrus"

	"github.com/javajoker/revshare-backend/internal/config"
	"github.com/javajoker/revshare-backend/internal/models"
)

// Mailer delivers one rendered email.
type Mailer interface {
	Send(to, subject, body string) error
}

type NotificationService struct {
	mailer Mailer
}

type EmailTemplate struct {
	Subject string
	Body    string
}

// NewNotificationService sends through SMTP when a host is configured and
// only logs otherwise.
func NewNotificationService(cfg config.EmailConfig) *NotificationService {
	if cfg.SMTPHost == "" {
		return &NotificationService{mailer: logMailer{}}
	}
	return &NotificationService{mailer: &smtpMailer{cfg: cfg}}
}

func NewNotificationServiceWithMailer(mailer Mailer) *NotificationService {
	return &NotificationService{mailer: mailer}
}

// SendClearanceRequested asks every reachable approver of the parent to vote
// on the derivative link.
func (s *NotificationService) SendClearanceRequested(link *models.ContentLink, approvers []Approver) error {
	if s == nil {
		return nil
	}
	var firstErr error
	for _, approver := range approvers {
		for _, email := range approver.Emails {
			data := map[string]interface{}{
				"LinkID":          link.ID.String(),
				"ParentContentID": link.ParentContentID.String(),
				"ChildContentID":  link.ChildContentID.String(),
				"Relation":        string(link.Relation),
				"WeightBps":       approver.WeightBps,
			}
			if err := s.send(email, "clearance_requested", data); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// SendClearanceDecided tells the derivative's owner how clearance ended.
func (s *NotificationService) SendClearanceDecided(ownerEmail string, link *models.ContentLink, auth *models.DerivativeAuthorization) error {
	if s == nil || ownerEmail == "" {
		return nil
	}
	var agreed int64
	if auth.AgreedRateBps != nil {
		agreed = *auth.AgreedRateBps
	}
	data := map[string]interface{}{
		"LinkID":           link.ID.String(),
		"Status":           string(auth.Status),
		"ApproveWeightBps": auth.ApproveWeightBps,
		"RejectWeightBps":  auth.RejectWeightBps,
		"AgreedRateBps":    agreed,
	}
	return s.send(ownerEmail, "clearance_decided", data)
}

// SendPayoutNotice informs email-only recipients of a settlement line.
func (s *NotificationService) SendPayoutNotice(settlement *models.Settlement) error {
	if s == nil {
		return nil
	}
	var firstErr error
	for _, line := range settlement.Lines {
		if line.Email == "" || line.AccountID != nil {
			continue
		}
		data := map[string]interface{}{
			"Amount":          line.Amount,
			"Currency":        settlement.Currency,
			"Role":            line.Role,
			"PaymentIntentID": settlement.PaymentIntentID.String(),
		}
		if err := s.send(line.Email, "payout_notice", data); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *NotificationService) send(to, templateType string, data interface{}) error {
	tmpl := s.getEmailTemplate(templateType)
	body, err := s.renderTemplate(tmpl.Body, data)
	if err != nil {
		return fmt.Errorf("failed to render email template: %w", err)
	}
	if err := s.mailer.Send(to, tmpl.Subject, body); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"to":       to,
			"template": templateType,
		}).Warn("Failed to send email")
		return err
	}
	return nil
}

func (s *NotificationService) renderTemplate(templateStr string, data interface{}) (string, error) {
	tmpl, err := template.New("email").Parse(templateStr)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}

	return buf.String(), nil
}

func (s *NotificationService) getEmailTemplate(templateType string) EmailTemplate {
	templates := map[string]EmailTemplate{
		"clearance_requested": {
			Subject: "Clearance requested for a derivative work",
			Body: `
<!DOCTYPE html>
<html>
<body>
	<h2>Your approval is requested</h2>
	<p>Content {{.ChildContentID}} is registered as a {{.Relation}} of {{.ParentContentID}}.</p>
	<p>Your vote carries {{.WeightBps}} bps. Vote on link {{.LinkID}} to approve or reject it.</p>
</body>
</html>`,
		},
		"clearance_decided": {
			Subject: "Clearance decision",
			Body: `
<!DOCTYPE html>
<html>
<body>
	<h2>Clearance {{.Status}}</h2>
	<p>Link {{.LinkID}}: {{.ApproveWeightBps}} bps approved, {{.RejectWeightBps}} bps rejected.</p>
	{{if .AgreedRateBps}}<p>Agreed upstream rate: {{.AgreedRateBps}} bps.</p>{{end}}
</body>
</html>`,
		},
		"payout_notice": {
			Subject: "You received a payout",
			Body: `
<!DOCTYPE html>
<html>
<body>
	<h2>Payout recorded</h2>
	<p>{{.Amount}} {{.Currency}} were allocated to you as {{.Role}} for payment {{.PaymentIntentID}}.</p>
</body>
</html>`,
		},
	}

	if tmpl, exists := templates[templateType]; exists {
		return tmpl
	}

	return EmailTemplate{
		Subject: "Notification",
		Body:    "<p>{{.}}</p>",
	}
}

type smtpMailer struct {
	cfg config.EmailConfig
}

func (m *smtpMailer) Send(to, subject, body string) error {
	auth := smtp.PlainAuth("", m.cfg.SMTPUsername, m.cfg.SMTPPassword, m.cfg.SMTPHost)
	from := m.cfg.FromEmail
	if m.cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", m.cfg.FromName, m.cfg.FromEmail)
	}
	msg := []byte(fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/html; charset=\"UTF-8\"\r\n\r\n%s", from, to, subject, body))
	addr := fmt.Sprintf("%s:%s", m.cfg.SMTPHost, m.cfg.SMTPPort)
	return smtp.SendMail(addr, auth, m.cfg.FromEmail, []string{to}, msg)
}

type logMailer struct{}

func (logMailer) Send(to, subject, _ string) error {
	logrus.WithFields(logrus.Fields{
		"to":      to,
		"subject": subject,
	}).Debug("Email not configured, skipping delivery")
	return nil
}
