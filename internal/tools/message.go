package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/gema-dev/gema/internal/bus"
)

// MessageTool sends a message through the outbound bus, either to the
// current conversation or to an explicit channel/chat pair.
type MessageTool struct {
	bus *bus.MessageBus
}

func NewMessageTool(mb *bus.MessageBus) *MessageTool {
	return &MessageTool{bus: mb}
}

func (t *MessageTool) Name() string { return "message" }

func (t *MessageTool) Description() string {
	return "Send a message to a chat. Defaults to the current conversation; pass channel and chat_id to target another one."
}

func (t *MessageTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"content": map[string]interface{}{
				"type":        "string",
				"description": "Message text to send.",
			},
			"channel": map[string]interface{}{
				"type":        "string",
				"description": "Target channel name. Defaults to the current channel.",
			},
			"chat_id": map[string]interface{}{
				"type":        "string",
				"description": "Target chat id. Defaults to the current chat.",
			},
		},
		"required": []string{"content"},
	}
}

func (t *MessageTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	content, _ := args["content"].(string)
	if strings.TrimSpace(content) == "" {
		return ErrorResult("content is required")
	}

	channel, _ := args["channel"].(string)
	chatID, _ := args["chat_id"].(string)
	if channel == "" {
		channel = ToolChannelFromCtx(ctx)
	}
	if chatID == "" {
		chatID = ToolChatIDFromCtx(ctx)
	}
	if channel == "" || chatID == "" {
		return ErrorResult("no target: channel and chat_id are unknown")
	}

	t.bus.PublishOutbound(bus.OutboundMessage{Channel: channel, ChatID: chatID, Content: content})
	return SilentResult(fmt.Sprintf("message sent to %s:%s", channel, chatID))
}
