package tools

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"

	"github.com/gema-dev/gema/internal/config"
)

// SendEmailTool sends mail through the configured SMTP account.
type SendEmailTool struct {
	cfg config.SMTPIntegration
}

// NewSendEmailTool returns nil when SMTP is not configured.
func NewSendEmailTool(cfg config.SMTPIntegration) *SendEmailTool {
	if cfg.Host == "" || cfg.FromEmail == "" {
		return nil
	}
	return &SendEmailTool{cfg: cfg}
}

func (t *SendEmailTool) Name() string { return "send_email" }

func (t *SendEmailTool) Description() string {
	return "Send a plain-text email via the configured SMTP account."
}

func (t *SendEmailTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"to": map[string]interface{}{
				"type":        "string",
				"description": "Recipient address. Multiple addresses comma-separated.",
			},
			"subject": map[string]interface{}{
				"type":        "string",
				"description": "Message subject.",
			},
			"body": map[string]interface{}{
				"type":        "string",
				"description": "Plain-text message body.",
			},
		},
		"required": []string{"to", "subject", "body"},
	}
}

func (t *SendEmailTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	to, _ := args["to"].(string)
	subject, _ := args["subject"].(string)
	body, _ := args["body"].(string)
	if to == "" || subject == "" {
		return ErrorResult("to and subject are required")
	}

	recipients := splitAddresses(to)
	if len(recipients) == 0 {
		return ErrorResult("no valid recipient addresses")
	}

	msg := buildMessage(t.cfg.FromEmail, recipients, subject, body)
	if err := t.send(recipients, msg); err != nil {
		return ErrorResult(fmt.Sprintf("send failed: %v", err))
	}
	return NewResult(fmt.Sprintf("email sent to %s", strings.Join(recipients, ", ")))
}

func (t *SendEmailTool) send(recipients []string, msg []byte) error {
	addr := net.JoinHostPort(t.cfg.Host, fmt.Sprintf("%d", t.cfg.Port))

	var auth smtp.Auth
	if t.cfg.Username != "" {
		auth = smtp.PlainAuth("", t.cfg.Username, t.cfg.Password, t.cfg.Host)
	}

	if !t.cfg.UseTLS {
		return smtp.SendMail(addr, auth, t.cfg.FromEmail, recipients, msg)
	}

	// Implicit TLS (port 465 style); STARTTLS is handled by SendMail above.
	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: t.cfg.Host})
	if err != nil {
		return fmt.Errorf("tls dial: %w", err)
	}
	client, err := smtp.NewClient(conn, t.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp client: %w", err)
	}
	defer client.Close()

	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := client.Mail(t.cfg.FromEmail); err != nil {
		return err
	}
	for _, rcpt := range recipients {
		if err := client.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}

func splitAddresses(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		addr := strings.TrimSpace(part)
		if addr != "" && strings.Contains(addr, "@") {
			out = append(out, addr)
		}
	}
	return out
}

func buildMessage(from string, to []string, subject, body string) []byte {
	var sb strings.Builder
	fmt.Fprintf(&sb, "From: %s\r\n", from)
	fmt.Fprintf(&sb, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&sb, "Subject: %s\r\n", subject)
	sb.WriteString("MIME-Version: 1.0\r\n")
	sb.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	sb.WriteString("\r\n")
	sb.WriteString(body)
	sb.WriteString("\r\n")
	return []byte(sb.String())
}
