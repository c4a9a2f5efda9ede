// Package feishu connects to Feishu/Lark via the event webhook and the
// Open API messaging endpoint.
package feishu

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gema-dev/gema/internal/bus"
	"github.com/gema-dev/gema/internal/channels"
	"github.com/gema-dev/gema/internal/config"
)

const (
	tokenEndpoint   = "https://open.feishu.cn/open-apis/auth/v3/tenant_access_token/internal"
	messageEndpoint = "https://open.feishu.cn/open-apis/im/v1/messages"
)

// Channel is the Feishu implementation of channels.Channel. It listens
// for event callbacks on a local HTTP endpoint and sends through the
// Open API with a cached tenant access token.
type Channel struct {
	*channels.BaseChannel
	config  config.FeishuConfig
	client  *http.Client
	server  *http.Server
	limiter *channels.WebhookRateLimiter

	tokenMu    sync.Mutex
	token      string
	tokenUntil time.Time
}

// New creates a Feishu channel; nil when disabled or unconfigured.
func New(cfg config.FeishuConfig, msgBus *bus.MessageBus) (*Channel, error) {
	if !cfg.Enabled || cfg.AppID == "" || cfg.AppSecret == "" {
		return nil, nil
	}
	return &Channel{
		BaseChannel: channels.NewBaseChannel("feishu", msgBus, cfg.AllowFrom),
		config:      cfg,
		client:      &http.Client{Timeout: 15 * time.Second},
		limiter:     channels.NewWebhookRateLimiter(),
	}, nil
}

// Start serves the event webhook until ctx cancellation.
func (c *Channel) Start(ctx context.Context) error {
	addr := c.config.WebhookAddr
	if addr == "" {
		addr = "127.0.0.1:18701"
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/feishu/events", c.handleEvent)
	c.server = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	c.SetRunning(true)
	slog.Info("feishu webhook listening", "addr", addr)

	errCh := make(chan error, 1)
	go func() { errCh <- c.server.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return fmt.Errorf("feishu webhook server: %w", err)
	}
}

func (c *Channel) Stop(ctx context.Context) error {
	c.SetRunning(false)
	if c.server != nil {
		return c.server.Shutdown(ctx)
	}
	return nil
}

// handleEvent answers URL verification challenges and forwards message
// events to the bus.
func (c *Channel) handleEvent(w http.ResponseWriter, r *http.Request) {
	if !c.limiter.Allow(r.RemoteAddr) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1024*1024))
	if err != nil {
		http.Error(w, "read failed", http.StatusBadRequest)
		return
	}

	var envelope struct {
		Challenge string `json:"challenge"`
		Header    struct {
			EventType string `json:"event_type"`
		} `json:"header"`
		Event struct {
			Sender struct {
				SenderID struct {
					OpenID string `json:"open_id"`
				} `json:"sender_id"`
			} `json:"sender"`
			Message struct {
				MessageID string `json:"message_id"`
				ChatID    string `json:"chat_id"`
				ChatType  string `json:"chat_type"`
				Content   string `json:"content"`
			} `json:"message"`
		} `json:"event"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	// URL verification handshake.
	if envelope.Challenge != "" {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"challenge": envelope.Challenge})
		return
	}

	w.WriteHeader(http.StatusOK)

	if envelope.Header.EventType != "im.message.receive_v1" {
		return
	}

	text := parseMessageContent(envelope.Event.Message.Content)
	if text == "" {
		return
	}

	metadata := map[string]string{"message_id": envelope.Event.Message.MessageID}
	if envelope.Event.Message.ChatType == "group" {
		metadata["is_group"] = "true"
	}

	c.HandleMessage(envelope.Event.Sender.SenderID.OpenID,
		envelope.Event.Message.ChatID, text, nil, metadata)
}

// parseMessageContent extracts text from a Feishu content payload, which
// is JSON like {"text":"hello"}.
func parseMessageContent(content string) string {
	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return strings.TrimSpace(content)
	}
	return strings.TrimSpace(parsed.Text)
}

// Send posts a text message through the Open API.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	token, err := c.tenantToken(ctx)
	if err != nil {
		return err
	}

	content, err := json.Marshal(map[string]string{"text": msg.Content})
	if err != nil {
		return err
	}
	payload, err := json.Marshal(map[string]string{
		"receive_id": msg.ChatID,
		"msg_type":   "text",
		"content":    string(content),
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		messageEndpoint+"?receive_id_type=chat_id", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("feishu send: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("feishu send status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// tenantToken returns a cached tenant access token, fetching a new one
// when near expiry.
func (c *Channel) tenantToken(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	if c.token != "" && time.Now().Before(c.tokenUntil.Add(-60*time.Second)) {
		return c.token, nil
	}

	payload, err := json.Marshal(map[string]string{
		"app_id":     c.config.AppID,
		"app_secret": c.config.AppSecret,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenEndpoint, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("feishu token fetch: %w", err)
	}
	defer resp.Body.Close()

	var parsed struct {
		Code              int    `json:"code"`
		Msg               string `json:"msg"`
		TenantAccessToken string `json:"tenant_access_token"`
		Expire            int    `json:"expire"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("parse feishu token response: %w", err)
	}
	if parsed.Code != 0 {
		return "", fmt.Errorf("feishu token error %d: %s", parsed.Code, parsed.Msg)
	}
	c.token = parsed.TenantAccessToken
	c.tokenUntil = time.Now().Add(time.Duration(parsed.Expire) * time.Second)
	return c.token, nil
}
