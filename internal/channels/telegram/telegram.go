// Package telegram connects to the Telegram Bot API using long polling.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/mymmrac/telego"

	"github.com/gema-dev/gema/internal/bus"
	"github.com/gema-dev/gema/internal/channels"
	"github.com/gema-dev/gema/internal/config"
)

// Channel is the Telegram implementation of channels.Channel.
type Channel struct {
	*channels.BaseChannel
	bot        *telego.Bot
	config     config.TelegramConfig
	mediaDir   string
	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

// New creates a Telegram channel; nil when disabled or unconfigured.
func New(cfg config.TelegramConfig, msgBus *bus.MessageBus, mediaDir string) (*Channel, error) {
	if !cfg.Enabled || cfg.Token == "" {
		return nil, nil
	}

	var opts []telego.BotOption
	if cfg.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL %q: %w", cfg.Proxy, err)
		}
		opts = append(opts, telego.WithHTTPClient(&http.Client{
			Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
		}))
	}

	bot, err := telego.NewBot(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	return &Channel{
		BaseChannel: channels.NewBaseChannel("telegram", msgBus, cfg.AllowFrom),
		bot:         bot,
		config:      cfg,
		mediaDir:    mediaDir,
	}, nil
}

// Start begins long polling for updates. It blocks until the polling
// goroutine exits so the supervisor can observe failures.
func (c *Channel) Start(ctx context.Context) error {
	slog.Info("starting telegram bot (polling mode)")

	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	c.pollDone = make(chan struct{})

	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	c.SetRunning(true)
	slog.Info("telegram bot connected", "username", c.bot.Username())

	defer close(c.pollDone)
	for {
		select {
		case <-pollCtx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return fmt.Errorf("telegram updates channel closed")
			}
			if update.Message != nil {
				c.handleMessage(pollCtx, update.Message)
			}
		}
	}
}

// Stop cancels long polling and waits for the poll goroutine so Telegram
// releases the getUpdates lock before a restart.
func (c *Channel) Stop(_ context.Context) error {
	slog.Info("stopping telegram bot")
	c.SetRunning(false)
	if c.pollCancel != nil {
		c.pollCancel()
	}
	if c.pollDone != nil {
		select {
		case <-c.pollDone:
		case <-time.After(10 * time.Second):
			slog.Warn("telegram polling goroutine did not exit within timeout")
		}
	}
	return nil
}

func (c *Channel) handleMessage(ctx context.Context, msg *telego.Message) {
	if msg.From == nil {
		return
	}
	senderID := fmt.Sprintf("%d", msg.From.ID)
	if msg.From.Username != "" {
		senderID = fmt.Sprintf("%d|%s", msg.From.ID, msg.From.Username)
	}
	chatID := fmt.Sprintf("%d", msg.Chat.ID)

	content := msg.Text
	if content == "" {
		content = msg.Caption
	}

	var media []string
	if len(msg.Photo) > 0 {
		// Largest rendition is last.
		photo := msg.Photo[len(msg.Photo)-1]
		if path, err := c.downloadFile(ctx, photo.FileID, ".jpg"); err == nil {
			media = append(media, path)
		} else {
			slog.Warn("telegram photo download failed", "error", err)
		}
	}
	if msg.Voice != nil {
		if path, err := c.downloadFile(ctx, msg.Voice.FileID, ".ogg"); err == nil {
			media = append(media, path)
		} else {
			slog.Warn("telegram voice download failed", "error", err)
		}
	}
	if msg.Document != nil {
		if path, err := c.downloadFile(ctx, msg.Document.FileID, ""); err == nil {
			media = append(media, path)
		} else {
			slog.Warn("telegram document download failed", "error", err)
		}
	}

	metadata := map[string]string{
		"message_id": fmt.Sprintf("%d", msg.MessageID),
		"timestamp":  fmt.Sprintf("%d", msg.Date),
	}
	if msg.Chat.Type != "private" {
		metadata["is_group"] = "true"
	}

	c.HandleMessage(senderID, chatID, content, media, metadata)
}

// Send delivers an outbound message, honoring the media envelope.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	chatID, err := parseChatID(msg.ChatID)
	if err != nil {
		return fmt.Errorf("invalid telegram chat id %q: %w", msg.ChatID, err)
	}
	target := telego.ChatID{ID: chatID}

	for _, path := range msg.Media {
		if err := c.sendMedia(ctx, target, path, msg.Metadata); err != nil {
			return err
		}
	}

	if msg.Content != "" {
		_, err = c.bot.SendMessage(ctx, &telego.SendMessageParams{
			ChatID: target,
			Text:   msg.Content,
		})
		if err != nil {
			return fmt.Errorf("telegram send: %w", err)
		}
	}
	return nil
}

func (c *Channel) sendMedia(ctx context.Context, target telego.ChatID, path string, meta map[string]string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open media %s: %w", path, err)
	}
	defer f.Close()

	caption := meta[bus.MetaCaption]
	input := telego.InputFile{File: f}

	switch meta[bus.MetaMediaType] {
	case "voice", "audio":
		_, err = c.bot.SendVoice(ctx, &telego.SendVoiceParams{ChatID: target, Voice: input, Caption: caption})
	case "document":
		_, err = c.bot.SendDocument(ctx, &telego.SendDocumentParams{ChatID: target, Document: input, Caption: caption})
	default:
		_, err = c.bot.SendPhoto(ctx, &telego.SendPhotoParams{ChatID: target, Photo: input, Caption: caption})
	}
	if err != nil {
		return fmt.Errorf("telegram send media: %w", err)
	}
	return nil
}

// downloadFile fetches a Telegram file to the media dir and returns the
// local path.
func (c *Channel) downloadFile(ctx context.Context, fileID, ext string) (string, error) {
	file, err := c.bot.GetFile(ctx, &telego.GetFileParams{FileID: fileID})
	if err != nil {
		return "", fmt.Errorf("get file: %w", err)
	}

	fileURL := fmt.Sprintf("https://api.telegram.org/file/bot%s/%s", c.config.Token, file.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download file status %d", resp.StatusCode)
	}

	if err := os.MkdirAll(c.mediaDir, 0o755); err != nil {
		return "", err
	}
	out, err := os.CreateTemp(c.mediaDir, "tg-*"+ext)
	if err != nil {
		return "", err
	}
	defer out.Close()
	if _, err := out.ReadFrom(resp.Body); err != nil {
		os.Remove(out.Name())
		return "", fmt.Errorf("write file: %w", err)
	}
	return out.Name(), nil
}

func parseChatID(chatIDStr string) (int64, error) {
	var id int64
	_, err := fmt.Sscanf(chatIDStr, "%d", &id)
	return id, err
}
