// Package discord connects to the Discord gateway via discordgo.
package discord

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/bwmarrin/discordgo"

	"github.com/gema-dev/gema/internal/bus"
	"github.com/gema-dev/gema/internal/channels"
	"github.com/gema-dev/gema/internal/config"
)

// Channel is the Discord implementation of channels.Channel.
type Channel struct {
	*channels.BaseChannel
	session  *discordgo.Session
	config   config.DiscordConfig
	mediaDir string
	botID    string
}

// New creates a Discord channel; nil when disabled or unconfigured.
func New(cfg config.DiscordConfig, msgBus *bus.MessageBus, mediaDir string) (*Channel, error) {
	if !cfg.Enabled || cfg.Token == "" {
		return nil, nil
	}

	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent

	return &Channel{
		BaseChannel: channels.NewBaseChannel("discord", msgBus, cfg.AllowFrom),
		session:     session,
		config:      cfg,
		mediaDir:    mediaDir,
	}, nil
}

// Start opens the gateway connection and blocks until ctx cancellation.
func (c *Channel) Start(ctx context.Context) error {
	c.session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		c.handleMessage(ctx, m)
	})

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}
	if c.session.State != nil && c.session.State.User != nil {
		c.botID = c.session.State.User.ID
		slog.Info("discord bot connected", "user", c.session.State.User.Username)
	}
	c.SetRunning(true)

	<-ctx.Done()
	return nil
}

func (c *Channel) Stop(_ context.Context) error {
	c.SetRunning(false)
	if err := c.session.Close(); err != nil {
		return fmt.Errorf("close discord session: %w", err)
	}
	return nil
}

func (c *Channel) handleMessage(ctx context.Context, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.Author.ID == c.botID {
		return
	}

	senderID := m.Author.ID
	if m.Author.Username != "" {
		senderID = m.Author.ID + "|" + m.Author.Username
	}

	var media []string
	for _, att := range m.Attachments {
		path, err := c.downloadAttachment(ctx, att)
		if err != nil {
			slog.Warn("discord attachment download failed", "error", err)
			continue
		}
		media = append(media, path)
	}

	metadata := map[string]string{"message_id": m.ID}
	if m.GuildID != "" {
		metadata["is_group"] = "true"
	}

	c.HandleMessage(senderID, m.ChannelID, m.Content, media, metadata)
}

// Send delivers an outbound message, attaching media as files.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if len(msg.Media) > 0 {
		var files []*discordgo.File
		var handles []*os.File
		defer func() {
			for _, h := range handles {
				h.Close()
			}
		}()
		for _, path := range msg.Media {
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("open media %s: %w", path, err)
			}
			handles = append(handles, f)
			files = append(files, &discordgo.File{Name: filepath.Base(path), Reader: f})
		}
		_, err := c.session.ChannelMessageSendComplex(msg.ChatID, &discordgo.MessageSend{
			Content: msg.Content,
			Files:   files,
		})
		if err != nil {
			return fmt.Errorf("discord send with media: %w", err)
		}
		return nil
	}

	if msg.Content == "" {
		return nil
	}
	// Discord caps message length at 2000 chars.
	for _, chunk := range splitMessage(msg.Content, 2000) {
		if _, err := c.session.ChannelMessageSend(msg.ChatID, chunk); err != nil {
			return fmt.Errorf("discord send: %w", err)
		}
	}
	return nil
}

func (c *Channel) downloadAttachment(ctx context.Context, att *discordgo.MessageAttachment) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, att.URL, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("attachment status %d", resp.StatusCode)
	}

	if err := os.MkdirAll(c.mediaDir, 0o755); err != nil {
		return "", err
	}
	out, err := os.CreateTemp(c.mediaDir, "dc-*"+filepath.Ext(att.Filename))
	if err != nil {
		return "", err
	}
	defer out.Close()
	if _, err := io.Copy(out, resp.Body); err != nil {
		os.Remove(out.Name())
		return "", err
	}
	return out.Name(), nil
}

func splitMessage(s string, max int) []string {
	if len(s) <= max {
		return []string{s}
	}
	var out []string
	for len(s) > max {
		out = append(out, s[:max])
		s = s[max:]
	}
	if s != "" {
		out = append(out, s)
	}
	return out
}
