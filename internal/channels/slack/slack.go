// Package slack connects to Slack over Socket Mode.
package slack

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/gema-dev/gema/internal/bus"
	"github.com/gema-dev/gema/internal/channels"
	"github.com/gema-dev/gema/internal/config"
)

// Channel is the Slack implementation of channels.Channel.
type Channel struct {
	*channels.BaseChannel
	api    *slack.Client
	socket *socketmode.Client
	config config.SlackConfig
	botID  string
}

// New creates a Slack channel; nil when disabled or unconfigured.
func New(cfg config.SlackConfig, msgBus *bus.MessageBus) (*Channel, error) {
	if !cfg.Enabled || cfg.BotToken == "" || cfg.AppToken == "" {
		return nil, nil
	}

	api := slack.New(cfg.BotToken, slack.OptionAppLevelToken(cfg.AppToken))
	return &Channel{
		BaseChannel: channels.NewBaseChannel("slack", msgBus, cfg.AllowFrom),
		api:         api,
		socket:      socketmode.New(api),
		config:      cfg,
	}, nil
}

// Start runs the Socket Mode event loop until ctx cancellation.
func (c *Channel) Start(ctx context.Context) error {
	auth, err := c.api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth test: %w", err)
	}
	c.botID = auth.UserID
	c.SetRunning(true)
	slog.Info("slack bot connected", "user", auth.User)

	go func() {
		if err := c.socket.RunContext(ctx); err != nil && ctx.Err() == nil {
			slog.Warn("slack socket loop exited", "error", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-c.socket.Events:
			if !ok {
				return fmt.Errorf("slack socket events channel closed")
			}
			c.handleEvent(evt)
		}
	}
}

func (c *Channel) Stop(_ context.Context) error {
	c.SetRunning(false)
	return nil
}

func (c *Channel) handleEvent(evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnected:
		slog.Debug("slack socket connected")
	case socketmode.EventTypeEventsAPI:
		apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		c.socket.Ack(*evt.Request)

		if apiEvent.Type != slackevents.CallbackEvent {
			return
		}
		switch inner := apiEvent.InnerEvent.Data.(type) {
		case *slackevents.MessageEvent:
			c.handleMessage(inner)
		}
	}
}

func (c *Channel) handleMessage(ev *slackevents.MessageEvent) {
	// Ignore bot echoes and message edits.
	if ev.User == "" || ev.User == c.botID || ev.BotID != "" || ev.SubType != "" {
		return
	}

	metadata := map[string]string{
		"message_id": ev.TimeStamp,
		"timestamp":  ev.TimeStamp,
	}
	if ev.ChannelType != "im" {
		metadata["is_group"] = "true"
	}
	if ev.ThreadTimeStamp != "" {
		metadata["thread_ts"] = ev.ThreadTimeStamp
	}

	c.HandleMessage(ev.User, ev.Channel, ev.Text, nil, metadata)
}

// Send posts a message, uploading media as files first.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	for _, path := range msg.Media {
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("stat media %s: %w", path, err)
		}
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open media %s: %w", path, err)
		}
		_, err = c.api.UploadFileV2Context(ctx, slack.UploadFileV2Parameters{
			Channel:  msg.ChatID,
			Filename: info.Name(),
			FileSize: int(info.Size()),
			Reader:   f,
		})
		f.Close()
		if err != nil {
			return fmt.Errorf("slack file upload: %w", err)
		}
	}

	if msg.Content == "" {
		return nil
	}
	_, _, err := c.api.PostMessageContext(ctx, msg.ChatID,
		slack.MsgOptionText(msg.Content, false))
	if err != nil {
		return fmt.Errorf("slack post message: %w", err)
	}
	return nil
}
