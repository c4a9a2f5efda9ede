// Package whatsapp connects to a WhatsApp bridge process over WebSocket.
// The bridge handles the WhatsApp protocol; this channel exchanges JSON
// frames with it and renders pairing QR codes locally.
package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/gema-dev/gema/internal/bus"
	"github.com/gema-dev/gema/internal/channels"
	"github.com/gema-dev/gema/internal/config"
)

// Channel is the WhatsApp implementation of channels.Channel.
type Channel struct {
	*channels.BaseChannel
	config   config.WhatsAppConfig
	mediaDir string

	mu   sync.Mutex
	conn *websocket.Conn

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a WhatsApp channel; nil when disabled or unconfigured.
func New(cfg config.WhatsAppConfig, msgBus *bus.MessageBus, mediaDir string) (*Channel, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.BridgeURL == "" {
		return nil, fmt.Errorf("whatsapp bridgeUrl is required")
	}
	return &Channel{
		BaseChannel: channels.NewBaseChannel("whatsapp", msgBus, cfg.AllowFrom),
		config:      cfg,
		mediaDir:    mediaDir,
	}, nil
}

// Start connects to the bridge and runs the read loop with automatic
// reconnection. It blocks until ctx cancellation.
func (c *Channel) Start(ctx context.Context) error {
	slog.Info("starting whatsapp channel", "bridge_url", c.config.BridgeURL)
	c.ctx, c.cancel = context.WithCancel(ctx)

	if err := c.connect(); err != nil {
		// The read loop keeps retrying; a cold bridge is not fatal.
		slog.Warn("initial whatsapp bridge connection failed, will retry", "error", err)
	}

	c.SetRunning(true)
	c.listenLoop()
	return nil
}

func (c *Channel) Stop(_ context.Context) error {
	slog.Info("stopping whatsapp channel")
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.SetRunning(false)
	return nil
}

// Send writes an outbound frame to the bridge.
func (c *Channel) Send(_ context.Context, msg bus.OutboundMessage) error {
	payload := map[string]interface{}{
		"type":    "message",
		"to":      msg.ChatID,
		"content": msg.Content,
	}
	if len(msg.Media) > 0 {
		payload["media"] = msg.Media
		if mt := msg.Metadata[bus.MetaMediaType]; mt != "" {
			payload["media_type"] = mt
		}
		if caption := msg.Metadata[bus.MetaCaption]; caption != "" {
			payload["caption"] = caption
		}
	}
	return c.writeFrame(payload)
}

func (c *Channel) writeFrame(payload map[string]interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("whatsapp bridge not connected")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal whatsapp frame: %w", err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("send whatsapp frame: %w", err)
	}
	return nil
}

func (c *Channel) connect() error {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	header := http.Header{}
	if c.config.Token != "" {
		header.Set("Authorization", "Bearer "+c.config.Token)
	}

	conn, _, err := dialer.Dial(c.config.BridgeURL, header)
	if err != nil {
		return fmt.Errorf("dial whatsapp bridge %s: %w", c.config.BridgeURL, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	slog.Info("whatsapp bridge connected", "url", c.config.BridgeURL)
	return nil
}

// listenLoop reads bridge frames, reconnecting with backoff on failure.
func (c *Channel) listenLoop() {
	backoff := time.Second

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		if conn == nil {
			slog.Info("attempting whatsapp bridge reconnect", "backoff", backoff)
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(backoff):
			}
			if err := c.connect(); err != nil {
				slog.Warn("whatsapp bridge reconnect failed", "error", err)
				backoff = min(backoff*2, 30*time.Second)
				continue
			}
			backoff = time.Second
			continue
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			slog.Warn("whatsapp read error, will reconnect", "error", err)
			c.mu.Lock()
			if c.conn != nil {
				_ = c.conn.Close()
				c.conn = nil
			}
			c.mu.Unlock()
			continue
		}

		var frame map[string]interface{}
		if err := json.Unmarshal(message, &frame); err != nil {
			slog.Warn("invalid whatsapp frame JSON", "error", err)
			continue
		}

		switch frame["type"] {
		case "message":
			c.handleIncomingMessage(frame)
		case "qr":
			c.handleQR(frame)
		}
	}
}

// handleQR renders the bridge's pairing payload as a QR PNG the user can
// scan from the logs directory.
func (c *Channel) handleQR(frame map[string]interface{}) {
	data, _ := frame["data"].(string)
	if data == "" {
		return
	}
	if err := os.MkdirAll(c.mediaDir, 0o755); err != nil {
		slog.Warn("whatsapp qr dir create failed", "error", err)
		return
	}
	path := filepath.Join(c.mediaDir, "whatsapp-pairing-qr.png")
	if err := qrcode.WriteFile(data, qrcode.Medium, 512, path); err != nil {
		slog.Warn("whatsapp qr render failed", "error", err)
		return
	}
	slog.Info("whatsapp pairing qr written, scan to link device", "path", path)
}

// handleIncomingMessage processes a bridge message frame. Expected shape:
// {"type":"message","from":"...","chat":"...","content":"...","id":"...",
//  "from_name":"...","from_me":bool,"media":[...]}
func (c *Channel) handleIncomingMessage(frame map[string]interface{}) {
	senderID, ok := frame["from"].(string)
	if !ok || senderID == "" {
		return
	}
	chatID, _ := frame["chat"].(string)
	if chatID == "" {
		chatID = senderID
	}

	content, _ := frame["content"].(string)
	if content == "" {
		content = "[empty message]"
	}

	var media []string
	if mediaData, ok := frame["media"].([]interface{}); ok {
		for _, m := range mediaData {
			if path, ok := m.(string); ok {
				if _, err := os.Stat(path); err == nil {
					media = append(media, path)
				} else {
					slog.Warn("whatsapp media path missing, skipping", "path", path)
				}
			}
		}
	}

	metadata := map[string]string{}
	if messageID, ok := frame["id"].(string); ok {
		metadata["message_id"] = messageID
	}
	if userName, ok := frame["from_name"].(string); ok {
		metadata["user_name"] = userName
	}
	if fromMe, ok := frame["from_me"].(bool); ok && fromMe {
		metadata["from_me"] = "true"
	}
	// Groups have chat ids ending in "@g.us".
	if strings.HasSuffix(chatID, "@g.us") {
		metadata["is_group"] = "true"
	}

	slog.Debug("whatsapp message received",
		"sender_id", senderID,
		"chat_id", chatID,
		"preview", channels.Truncate(content, 50),
	)

	c.HandleMessage(senderID, chatID, content, media, metadata)
}
