// Package email implements a polling email channel: inbound mail is read
// from a maildir-style drop directory, replies go out over SMTP.
package email

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/mail"
	"net/smtp"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gema-dev/gema/internal/bus"
	"github.com/gema-dev/gema/internal/channels"
	"github.com/gema-dev/gema/internal/config"
)

// Channel is the email implementation of channels.Channel.
type Channel struct {
	*channels.BaseChannel
	config config.EmailConfig
	smtp   config.SMTPIntegration
}

// New creates an email channel; nil when disabled or unconfigured.
func New(cfg config.EmailConfig, smtpCfg config.SMTPIntegration, msgBus *bus.MessageBus) (*Channel, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.InboxDir == "" {
		return nil, fmt.Errorf("email inboxDir is required")
	}
	return &Channel{
		BaseChannel: channels.NewBaseChannel("email", msgBus, cfg.AllowFrom),
		config:      cfg,
		smtp:        smtpCfg,
	}, nil
}

// Start polls the inbox directory until ctx cancellation. Processed
// messages are moved to a "processed" subdirectory.
func (c *Channel) Start(ctx context.Context) error {
	poll := time.Duration(c.config.PollSeconds) * time.Second
	if poll <= 0 {
		poll = 60 * time.Second
	}
	if err := os.MkdirAll(filepath.Join(c.config.InboxDir, "processed"), 0o755); err != nil {
		return fmt.Errorf("create processed dir: %w", err)
	}

	c.SetRunning(true)
	slog.Info("email channel polling", "inbox", c.config.InboxDir, "interval", poll)

	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.pollOnce()
		}
	}
}

func (c *Channel) Stop(_ context.Context) error {
	c.SetRunning(false)
	return nil
}

func (c *Channel) pollOnce() {
	entries, err := os.ReadDir(c.config.InboxDir)
	if err != nil {
		slog.Warn("email inbox read failed", "error", err)
		return
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".eml") {
			continue
		}
		path := filepath.Join(c.config.InboxDir, name)
		if err := c.processFile(path); err != nil {
			slog.Warn("email message processing failed", "file", name, "error", err)
			continue
		}
		dest := filepath.Join(c.config.InboxDir, "processed", name)
		if err := os.Rename(path, dest); err != nil {
			slog.Warn("email message archive failed", "file", name, "error", err)
		}
	}
}

func (c *Channel) processFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	msg, err := mail.ReadMessage(f)
	if err != nil {
		return fmt.Errorf("parse message: %w", err)
	}

	from := msg.Header.Get("From")
	if addr, err := mail.ParseAddress(from); err == nil {
		from = addr.Address
	}
	subject := msg.Header.Get("Subject")

	body, err := io.ReadAll(io.LimitReader(msg.Body, 256*1024))
	if err != nil {
		return err
	}

	content := strings.TrimSpace(string(body))
	if subject != "" {
		content = "Subject: " + subject + "\n\n" + content
	}

	metadata := map[string]string{
		"message_id": msg.Header.Get("Message-Id"),
		"subject":    subject,
	}
	// Sessions key on the sender address so a thread stays together.
	c.HandleMessage(from, from, content, nil, metadata)
	return nil
}

// Send delivers a reply over SMTP. The chat id is the peer address.
func (c *Channel) Send(_ context.Context, msg bus.OutboundMessage) error {
	if c.smtp.Host == "" || c.smtp.FromEmail == "" {
		return fmt.Errorf("email send requires smtp configuration")
	}

	subject := msg.Metadata["subject"]
	if subject == "" {
		subject = "Re: your message"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "From: %s\r\n", c.smtp.FromEmail)
	fmt.Fprintf(&sb, "To: %s\r\n", msg.ChatID)
	fmt.Fprintf(&sb, "Subject: %s\r\n", subject)
	sb.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	sb.WriteString(msg.Content)
	sb.WriteString("\r\n")

	addr := fmt.Sprintf("%s:%d", c.smtp.Host, c.smtp.Port)
	var auth smtp.Auth
	if c.smtp.Username != "" {
		auth = smtp.PlainAuth("", c.smtp.Username, c.smtp.Password, c.smtp.Host)
	}
	if err := smtp.SendMail(addr, auth, c.smtp.FromEmail, []string{msg.ChatID}, []byte(sb.String())); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}
