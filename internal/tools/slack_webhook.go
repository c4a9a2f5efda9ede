package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// SlackWebhookTool posts a message to a configured incoming webhook.
type SlackWebhookTool struct {
	webhookURL string
	client     *http.Client
}

// NewSlackWebhookTool returns nil when no webhook is configured.
func NewSlackWebhookTool(webhookURL string) *SlackWebhookTool {
	if webhookURL == "" {
		return nil
	}
	return &SlackWebhookTool{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 15 * time.Second},
	}
}

func (t *SlackWebhookTool) Name() string { return "slack_webhook" }

func (t *SlackWebhookTool) Description() string {
	return "Post a message to the configured Slack incoming webhook."
}

func (t *SlackWebhookTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"text": map[string]interface{}{
				"type":        "string",
				"description": "Message text, Slack mrkdwn allowed.",
			},
		},
		"required": []string{"text"},
	}
}

func (t *SlackWebhookTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	text, _ := args["text"].(string)
	if strings.TrimSpace(text) == "" {
		return ErrorResult("text is required")
	}

	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return ErrorResult(fmt.Sprintf("encode payload: %v", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return ErrorResult(fmt.Sprintf("build request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return ErrorResult(fmt.Sprintf("webhook post failed: %v", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return ErrorResult(fmt.Sprintf("webhook status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}
	return SilentResult("posted to slack webhook")
}
