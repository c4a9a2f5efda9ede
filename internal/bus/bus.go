// Package bus provides the in-process message queues connecting channels
// to the agent runtime. Two FIFO queues are carried: inbound (channel →
// agent) and outbound (agent → channel dispatcher). Messages are not
// persisted; in-flight messages at shutdown may be dropped.
package bus

import (
	"context"
	"log/slog"
)

const queueCapacity = 256

// InboundMessage represents a message received from a channel
// (Telegram, WhatsApp, Discord, etc.), normalized by the channel.
type InboundMessage struct {
	Channel  string            `json:"channel"`
	SenderID string            `json:"sender_id"`
	ChatID   string            `json:"chat_id"`
	Content  string            `json:"content"`
	Media    []string          `json:"media,omitempty"` // ordered local file paths
	Metadata map[string]string `json:"metadata,omitempty"`
}

// SessionKey derives the canonical session key for this message.
func (m InboundMessage) SessionKey() string {
	return m.Channel + ":" + m.ChatID
}

// OutboundMessage represents a message to be delivered to a channel.
type OutboundMessage struct {
	Channel  string            `json:"channel"`
	ChatID   string            `json:"chat_id"`
	Content  string            `json:"content"`
	Media    []string          `json:"media,omitempty"` // ordered local file paths
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Well-known metadata keys on OutboundMessage.
const (
	MetaMediaType      = "media_type" // image, voice, audio, sticker, document
	MetaMimeType       = "mime_type"
	MetaCaption        = "caption"
	MetaIdempotencyKey = "idempotency_key"
)

// IdempotencyKey returns the outbound dedup key, empty when unset.
func (m OutboundMessage) IdempotencyKey() string {
	return m.Metadata[MetaIdempotencyKey]
}

// MessageBus carries the two in-process queues. Publish never blocks the
// producer; a full queue drops the message with a warning. Consume blocks
// until a message arrives or the context is cancelled.
type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage
}

func New() *MessageBus {
	return &MessageBus{
		inbound:  make(chan InboundMessage, queueCapacity),
		outbound: make(chan OutboundMessage, queueCapacity),
	}
}

// PublishInbound enqueues a message from a channel for the agent loop.
func (b *MessageBus) PublishInbound(msg InboundMessage) {
	select {
	case b.inbound <- msg:
	default:
		slog.Warn("inbound queue full, dropping message",
			"channel", msg.Channel, "chat_id", msg.ChatID)
	}
}

// ConsumeInbound blocks until an inbound message is available.
// Returns ok=false when ctx is cancelled.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case <-ctx.Done():
		return InboundMessage{}, false
	case msg := <-b.inbound:
		return msg, true
	}
}

// PublishOutbound enqueues a reply for the outbound dispatcher.
func (b *MessageBus) PublishOutbound(msg OutboundMessage) {
	select {
	case b.outbound <- msg:
	default:
		slog.Warn("outbound queue full, dropping message",
			"channel", msg.Channel, "chat_id", msg.ChatID)
	}
}

// ConsumeOutbound blocks until an outbound message is available.
// Returns ok=false when ctx is cancelled.
func (b *MessageBus) ConsumeOutbound(ctx context.Context) (OutboundMessage, bool) {
	select {
	case <-ctx.Done():
		return OutboundMessage{}, false
	case msg := <-b.outbound:
		return msg, true
	}
}

// InboundDepth reports the number of queued inbound messages.
func (b *MessageBus) InboundDepth() int { return len(b.inbound) }

// OutboundDepth reports the number of queued outbound messages.
func (b *MessageBus) OutboundDepth() int { return len(b.outbound) }
