// Package channels connects external messaging platforms to the agent
// runtime via the message bus.
package channels

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/gema-dev/gema/internal/bus"
)

// ChannelSystem is the synthetic origin channel used by the scheduler;
// its chat ids carry the real destination as "{channel}:{chat_id}".
const ChannelSystem = "system"

// InternalChannels are system channels excluded from outbound dispatch.
var InternalChannels = map[string]bool{
	"cli":         true,
	ChannelSystem: true,
	"subagent":    true,
}

// IsInternalChannel checks if a channel name is internal.
func IsInternalChannel(name string) bool {
	return InternalChannels[name]
}

// Channel defines the interface that all channel implementations must satisfy.
type Channel interface {
	// Name returns the channel identifier (e.g., "telegram", "discord").
	Name() string

	// Start begins listening for messages. Should be non-blocking after setup.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the channel.
	Stop(ctx context.Context) error

	// Send delivers an outbound message to the channel.
	Send(ctx context.Context, msg bus.OutboundMessage) error

	// IsRunning returns whether the channel is actively processing messages.
	IsRunning() bool

	// IsAllowed checks if a sender is permitted by the channel's allowlist.
	IsAllowed(senderID string) bool
}

// BaseChannel provides shared functionality for channel implementations.
// The running flag is written from channel goroutines and read by the
// manager, so it is atomic.
type BaseChannel struct {
	name      string
	bus       *bus.MessageBus
	running   atomic.Bool
	allowList []string
}

func NewBaseChannel(name string, msgBus *bus.MessageBus, allowList []string) *BaseChannel {
	return &BaseChannel{name: name, bus: msgBus, allowList: allowList}
}

// Name returns the channel name.
func (c *BaseChannel) Name() string { return c.name }

// IsRunning returns whether the channel is running.
func (c *BaseChannel) IsRunning() bool { return c.running.Load() }

// SetRunning updates the running state.
func (c *BaseChannel) SetRunning(running bool) { c.running.Store(running) }

// Bus returns the message bus reference.
func (c *BaseChannel) Bus() *bus.MessageBus { return c.bus }

// IsAllowed checks a sender against the allowlist by intersecting
// identity variants. An empty allowlist allows everyone.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowList) == 0 {
		return true
	}
	senderVariants := IdentityVariants(senderID)
	for _, allowed := range c.allowList {
		for av := range IdentityVariants(allowed) {
			if senderVariants[av] {
				return true
			}
		}
	}
	return false
}

// IdentityVariants derives the comparable forms of a sender identifier:
// each "|"-separated part, the prefix before "@", a digit-only form, and
// for Indonesian phone numbers the 0-prefixed and 62-prefixed twins.
func IdentityVariants(id string) map[string]bool {
	variants := map[string]bool{}
	add := func(v string) {
		v = strings.TrimSpace(v)
		if v != "" {
			variants[v] = true
		}
	}

	for _, part := range strings.Split(id, "|") {
		part = strings.TrimSpace(part)
		add(part)
		add(strings.TrimPrefix(part, "@"))

		if idx := strings.IndexByte(part, '@'); idx > 0 {
			add(part[:idx])
		}

		digits := digitsOnly(part)
		if digits != "" {
			add(digits)
			// Indonesian numbers are written either 08xx or 628xx.
			if strings.HasPrefix(digits, "0") {
				add("62" + digits[1:])
			}
			if strings.HasPrefix(digits, "62") {
				add("0" + digits[2:])
			}
		}
	}
	return variants
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// HandleMessage publishes a received message to the bus after the
// allowlist check. Messages authored by the bot itself (from_me) bypass
// the allowlist so self-directed commands keep working.
func (c *BaseChannel) HandleMessage(senderID, chatID, content string, media []string, metadata map[string]string) {
	fromMe := metadata != nil && metadata["from_me"] == "true"
	if !fromMe && !c.IsAllowed(senderID) {
		return
	}

	c.bus.PublishInbound(bus.InboundMessage{
		Channel:  c.name,
		SenderID: senderID,
		ChatID:   chatID,
		Content:  content,
		Media:    media,
		Metadata: metadata,
	})
}

// Truncate shortens a string to maxLen, appending "..." if truncated.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
