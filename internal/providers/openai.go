package providers

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

const defaultHTTPTimeout = 120 * time.Second

// OpenAIClient talks to any OpenAI-compatible chat completions endpoint.
// Both the local proxy gateway and direct providers speak this dialect.
type OpenAIClient struct {
	name         string
	apiKey       string
	apiBase      string
	model        string
	extraHeaders map[string]string
	httpClient   *http.Client
}

// NewOpenAIClient creates a provider client for one endpoint.
func NewOpenAIClient(name, apiKey, apiBase, defaultModel string, extraHeaders map[string]string) *OpenAIClient {
	if apiBase == "" {
		apiBase = "https://api.openai.com/v1"
	}
	return &OpenAIClient{
		name:         name,
		apiKey:       apiKey,
		apiBase:      strings.TrimRight(apiBase, "/"),
		model:        defaultModel,
		extraHeaders: extraHeaders,
		httpClient:   &http.Client{Timeout: defaultHTTPTimeout},
	}
}

func (c *OpenAIClient) Name() string         { return c.name }
func (c *OpenAIClient) DefaultModel() string { return c.model }

// wire types for the chat completions payload
type oaMessage struct {
	Role       string       `json:"role"`
	Content    interface{}  `json:"content"`
	ToolCalls  []oaToolCall `json:"tool_calls,omitempty"`
	ToolCallID string       `json:"tool_call_id,omitempty"`
	Name       string       `json:"name,omitempty"`
}

type oaToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type oaRequest struct {
	Model       string           `json:"model"`
	Messages    []oaMessage      `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Temperature float64          `json:"temperature,omitempty"`
}

type oaResponse struct {
	Choices []struct {
		Message      oaMessage `json:"message"`
		FinishReason string    `json:"finish_reason"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
}

// Chat sends a chat completion request and normalizes the response.
func (c *OpenAIClient) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	body := oaRequest{
		Model:       model,
		Messages:    encodeMessages(req.Messages),
		Tools:       req.Tools,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.apiBase+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, v := range c.extraHeaders {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", c.name, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read provider response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &UpstreamError{Status: resp.StatusCode, Provider: c.name, Body: string(raw)}
	}

	var parsed oaResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode provider response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("provider %s returned no choices", c.name)
	}

	choice := parsed.Choices[0]
	out := &ChatResponse{
		FinishReason: choice.FinishReason,
		Usage:        parsed.Usage,
	}
	if s, ok := choice.Message.Content.(string); ok {
		out.Content = s
	}
	for _, tc := range choice.Message.ToolCalls {
		args := map[string]interface{}{}
		if tc.Function.Arguments != "" {
			// Malformed arguments are passed through as raw text so the
			// loop can surface a usable error to the model.
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				args = map[string]interface{}{"_raw": tc.Function.Arguments}
			}
		}
		out.ToolCalls = append(out.ToolCalls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: args})
	}

	return out, nil
}

// encodeMessages converts internal messages to the wire format, embedding
// images as data-URL content parts on user turns.
func encodeMessages(msgs []Message) []oaMessage {
	out := make([]oaMessage, 0, len(msgs))
	for _, m := range msgs {
		om := oaMessage{Role: m.Role, ToolCallID: m.ToolCallID, Name: m.Name}

		if len(m.Images) > 0 {
			parts := []map[string]interface{}{}
			if m.Content != "" {
				parts = append(parts, map[string]interface{}{"type": "text", "text": m.Content})
			}
			for _, img := range m.Images {
				parts = append(parts, map[string]interface{}{
					"type": "image_url",
					"image_url": map[string]string{
						"url": "data:" + img.MimeType + ";base64," + img.Data,
					},
				})
			}
			om.Content = parts
		} else {
			om.Content = m.Content
		}

		for _, tc := range m.ToolCalls {
			argsJSON, _ := json.Marshal(tc.Arguments)
			otc := oaToolCall{ID: tc.ID, Type: "function"}
			otc.Function.Name = tc.Name
			otc.Function.Arguments = string(argsJSON)
			om.ToolCalls = append(om.ToolCalls, otc)
		}

		out = append(out, om)
	}
	return out
}
