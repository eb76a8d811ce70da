package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"net/smtp"
	"strings"

	"go.uber.org/zap"
)

// Mailer delivers magic sign-in links.
type Mailer interface {
	SendMagicLink(ctx context.Context, email, link string) error
}

// MailConfig selects a delivery channel. SMTP wins when SMTPHost is set,
// Resend when ResendAPIKey is set, otherwise links are only logged.
type MailConfig struct {
	From         string `yaml:"from"`
	AppName      string `yaml:"app_name"`
	ResendAPIKey string `yaml:"resend_api_key"`
	SMTPHost     string `yaml:"smtp_host"`
	SMTPPort     string `yaml:"smtp_port"`
	SMTPUser     string `yaml:"smtp_user"`
	SMTPPass     string `yaml:"smtp_pass"`
}

// NewMailer picks the Mailer described by cfg.
func NewMailer(cfg MailConfig, log *zap.Logger) Mailer {
	switch {
	case cfg.SMTPHost != "":
		return &SMTPMailer{cfg: cfg}
	case cfg.ResendAPIKey != "":
		return &ResendMailer{cfg: cfg, client: http.DefaultClient, endpoint: resendEndpoint}
	default:
		return LogMailer{Log: log}
	}
}

func magicLinkMessage(appName, link string) (subject, body string) {
	if appName == "" {
		appName = "Scrub Notes"
	}
	subject = "Your " + appName + " sign-in link"
	body = fmt.Sprintf(
		`<p>Click the link below to sign in:</p>`+
			`<p><a href="%s">Sign in to %s</a></p>`+
			`<p>This link expires in 15 minutes and works once.</p>`,
		html.EscapeString(link), html.EscapeString(appName),
	)
	return subject, body
}

const resendEndpoint = "https://api.resend.com/emails"

// ResendMailer posts to the Resend HTTP API.
type ResendMailer struct {
	cfg      MailConfig
	client   *http.Client
	endpoint string
}

type resendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

func (m *ResendMailer) SendMagicLink(ctx context.Context, email, link string) error {
	subject, body := magicLinkMessage(m.cfg.AppName, link)
	payload, err := json.Marshal(resendRequest{From: m.cfg.From, To: []string{email}, Subject: subject, HTML: body})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.cfg.ResendAPIKey)
	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("resend API error: status %d", resp.StatusCode)
	}
	return nil
}

// SMTPMailer sends through an SMTP relay, with PLAIN auth when a user is set.
type SMTPMailer struct {
	cfg      MailConfig
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func (m *SMTPMailer) SendMagicLink(_ context.Context, email, link string) error {
	subject, body := magicLinkMessage(m.cfg.AppName, link)
	port := m.cfg.SMTPPort
	if port == "" {
		port = "587"
	}
	var msg strings.Builder
	msg.WriteString("From: " + m.cfg.From + "\r\n")
	msg.WriteString("To: " + email + "\r\n")
	msg.WriteString("Subject: " + subject + "\r\n")
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n\r\n")
	msg.WriteString(body)
	var auth smtp.Auth
	if m.cfg.SMTPUser != "" {
		auth = smtp.PlainAuth("", m.cfg.SMTPUser, m.cfg.SMTPPass, m.cfg.SMTPHost)
	}
	send := m.sendMail
	if send == nil {
		send = smtp.SendMail
	}
	if err := send(m.cfg.SMTPHost+":"+port, auth, m.cfg.From, []string{email}, []byte(msg.String())); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

// LogMailer writes the link to the log; used when no delivery is configured.
type LogMailer struct {
	Log *zap.Logger
}

func (m LogMailer) SendMagicLink(_ context.Context, email, link string) error {
	log := m.Log
	if log == nil {
		log = zap.NewNop()
	}
	log.Info("magic link (mail delivery not configured)", zap.String("email", email), zap.String("link", link))
	return nil
}
