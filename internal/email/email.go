// Package email sends operational alert emails over SMTP.
package email

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"

	"go.uber.org/zap"
)

// Config holds email configuration
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	FromName string
	UseTLS   bool
}

// Enabled reports whether an SMTP host is configured.
func (c *Config) Enabled() bool {
	return c != nil && c.Host != ""
}

// sendFunc matches smtp.SendMail.
type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Service handles email sending
type Service struct {
	config    *Config
	templates map[string]*template.Template
	send      sendFunc
	log       *zap.Logger
}

// NewService creates a new email service
func NewService(config *Config, log *zap.Logger) *Service {
	s := &Service{
		config:    config,
		templates: make(map[string]*template.Template),
		log:       log.Named("email"),
	}
	s.send = s.sendSMTP
	s.loadTemplates()
	return s
}

// Email represents an email message
type Email struct {
	To       []string
	Subject  string
	Body     string
	HTMLBody string
}

// AlertEmailData holds data for alert emails
type AlertEmailData struct {
	Title     string
	Kind      string
	SchoolID  string
	MeetingID string
	Action    string
	EntityID  string
	Reason    string
	At        string
}

func (s *Service) loadTemplates() {
	s.templates["alert"] = template.Must(template.New("alert").Parse(`
<!DOCTYPE html>
<html>
<head>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, Helvetica, Arial, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { background: #ef4444; color: white; padding: 24px; border-radius: 8px 8px 0 0; }
        .content { background: #f9fafb; padding: 24px; border-radius: 0 0 8px 8px; }
        .card { background: white; border-radius: 8px; padding: 16px; margin: 16px 0; box-shadow: 0 2px 4px rgba(0,0,0,0.1); }
        .footer { margin-top: 24px; font-size: 12px; color: #6b7280; text-align: center; }
    </style>
</head>
<body>
<div class="container">
    <div class="header">
        <h2>{{.Title}}</h2>
    </div>
    <div class="content">
        <div class="card">
            <p><strong>Kind:</strong> {{.Kind}}</p>
            <p><strong>School:</strong> {{.SchoolID}}</p>
            <p><strong>Meeting:</strong> {{.MeetingID}}</p>
            {{if .Action}}<p><strong>Action:</strong> {{.Action}} {{.EntityID}}</p>{{end}}
            <p><strong>Reason:</strong> {{.Reason}}</p>
            <p><strong>At:</strong> {{.At}}</p>
        </div>
    </div>
    <div class="footer">
        ORA Meeting • Audit Monitoring
    </div>
</div>
</body>
</html>
`))
}

// Send sends an email. It is a no-op when no SMTP host is configured.
func (s *Service) Send(email *Email) error {
	if !s.config.Enabled() {
		s.log.Debug("email not configured, skipping send", zap.String("subject", email.Subject))
		return nil
	}
	if len(email.To) == 0 {
		return fmt.Errorf("email %q has no recipients", email.Subject)
	}

	var msg bytes.Buffer
	msg.WriteString(fmt.Sprintf("From: %s <%s>\r\n", s.config.FromName, s.config.From))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(email.To, ", ")))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", email.Subject))
	msg.WriteString("MIME-Version: 1.0\r\n")

	if email.HTMLBody != "" {
		msg.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
		msg.WriteString("\r\n")
		msg.WriteString(email.HTMLBody)
	} else {
		msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
		msg.WriteString("\r\n")
		msg.WriteString(email.Body)
	}

	var auth smtp.Auth
	if s.config.User != "" {
		auth = smtp.PlainAuth("", s.config.User, s.config.Password, s.config.Host)
	}
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	return s.send(addr, auth, s.config.From, email.To, msg.Bytes())
}

func (s *Service) sendSMTP(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
	if !s.config.UseTLS {
		return smtp.SendMail(addr, auth, from, to, msg)
	}

	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: s.config.Host})
	if err != nil {
		return fmt.Errorf("TLS dial error: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, s.config.Host)
	if err != nil {
		return fmt.Errorf("SMTP client error: %w", err)
	}
	defer client.Close()

	if auth != nil {
		if err = client.Auth(auth); err != nil {
			return fmt.Errorf("auth error: %w", err)
		}
	}
	if err = client.Mail(from); err != nil {
		return fmt.Errorf("mail error: %w", err)
	}
	for _, rcpt := range to {
		if err = client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("rcpt error: %w", err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data error: %w", err)
	}
	if _, err = w.Write(msg); err != nil {
		return fmt.Errorf("write error: %w", err)
	}
	if err = w.Close(); err != nil {
		return fmt.Errorf("close error: %w", err)
	}
	return client.Quit()
}

// SendWithTemplate sends an email using a template
func (s *Service) SendWithTemplate(to []string, subject, templateName string, data interface{}) error {
	tmpl, ok := s.templates[templateName]
	if !ok {
		return fmt.Errorf("template not found: %s", templateName)
	}

	var body bytes.Buffer
	if err := tmpl.Execute(&body, data); err != nil {
		return fmt.Errorf("template execution error: %w", err)
	}

	return s.Send(&Email{
		To:       to,
		Subject:  subject,
		HTMLBody: body.String(),
	})
}
