// internal/services/notification_service.go
package services

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"

	"gorm.io/gorm"

	"github.com/opencohort/bootcamp-backend/internal/config"
	"github.com/opencohort/bootcamp-backend/internal/models"
)

type NotificationService struct {
	db     *gorm.DB
	config *config.Config
}

type EmailTemplate struct {
	Subject string
	Body    string
}

func NewNotificationService(db *gorm.DB, config *config.Config) *NotificationService {
	return &NotificationService{
		db:     db,
		config: config,
	}
}

// SendReceiptEmail mails a payment receipt for a fulfilled order.
func (s *NotificationService) SendReceiptEmail(order *models.Order) error {
	var user models.User
	if err := s.db.First(&user, order.UserID).Error; err != nil {
		return fmt.Errorf("failed to load order user: %w", err)
	}

	lines := make([]map[string]interface{}, 0, len(order.Lines))
	for _, line := range order.Lines {
		lines = append(lines, map[string]interface{}{
			"Description": line.Description,
			"Price":       fmt.Sprintf("$%.2f", line.Price),
		})
	}

	data := map[string]interface{}{
		"Username":      user.Username,
		"OrderID":       order.ID,
		"Total":         fmt.Sprintf("$%.2f", order.TotalPricePaid),
		"Lines":         lines,
		"StatementsURL": fmt.Sprintf("%s/payments", s.config.Frontend.BaseURL),
	}

	tpl := s.getEmailTemplate("payment_receipt")
	body, err := s.renderTemplate(tpl.Body, data)
	if err != nil {
		return fmt.Errorf("failed to render email template: %w", err)
	}

	return s.sendEmail(user.Email, tpl.Subject, body)
}

// SendRejectionEmail tells an applicant their application was rejected.
func (s *NotificationService) SendRejectionEmail(user *models.User, runTitle string) error {
	data := map[string]interface{}{
		"Username": user.Username,
		"RunTitle": runTitle,
	}

	tpl := s.getEmailTemplate("application_rejected")
	body, err := s.renderTemplate(tpl.Body, data)
	if err != nil {
		return fmt.Errorf("failed to render email template: %w", err)
	}

	return s.sendEmail(user.Email, tpl.Subject, body)
}

func (s *NotificationService) sendEmail(to, subject, body string) error {
	if s.config.Email.SMTPHost == "" {
		// Email not configured, just log
		fmt.Printf("Email would be sent to %s: %s\n", to, subject)
		return nil
	}

	// Setup authentication
	auth := smtp.PlainAuth("", s.config.Email.SMTPUsername, s.config.Email.SMTPPassword, s.config.Email.SMTPHost)

	// Compose message
	msg := []byte(fmt.Sprintf("To: %s\r\nSubject: %s\r\nContent-Type: text/html; charset=\"UTF-8\"\r\n\r\n%s", to, subject, body))

	// Send email
	addr := fmt.Sprintf("%s:%s", s.config.Email.SMTPHost, s.config.Email.SMTPPort)
	return smtp.SendMail(addr, auth, s.config.Email.FromEmail, []string{to}, msg)
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
	// In a real implementation, these would be loaded from files or database
	templates := map[string]EmailTemplate{
		"payment_receipt": {
			Subject: "Payment Receipt",
			Body: `
<!DOCTYPE html>
<html>
<body>
	<h2>Thank you, {{.Username}}!</h2>
	<p>We received your payment for order #{{.OrderID}}.</p>
	<ul>
	{{range .Lines}}
		<li>{{.Description}}: {{.Price}}</li>
	{{end}}
	</ul>
	<p>Total: {{.Total}}</p>
	<a href="{{.StatementsURL}}">View your payment statements</a>
</body>
</html>`,
		},
		"application_rejected": {
			Subject: "Application Update",
			Body: `
<!DOCTYPE html>
<html>
<body>
	<p>Hello {{.Username}},</p>
	<p>Unfortunately your application to {{.RunTitle}} was not accepted this time.</p>
</body>
</html>`,
		},
	}

	if template, exists := templates[templateType]; exists {
		return template
	}

	// Default template
	return EmailTemplate{
		Subject: "Notification",
		Body:    "<p>{{.Message}}</p>",
	}
}
