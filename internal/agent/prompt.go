package agent

import (
	"strings"
	"time"

	"github.com/gema-dev/gema/internal/providers"
)

const basePrompt = `You are gema, a personal assistant running on the user's own machine.

You have persistent memory: facts, a user profile, lessons, session
summaries, and daily notes live under the memory directory and survive
restarts. Use the remember, recall, and update_profile tools to keep
them current. Never claim you cannot remember things.

You can act through tools: files, shell, web search and fetch, a
browser, messaging, scheduling, email, calendar, and Google Workspace.
Prefer doing the work over describing how it could be done. Keep
replies concise; this is a chat surface, not a document.`

const subagentSystemPrompt = `You are a focused subagent. Complete the given task using the available
tools and reply with the final answer only. You have no conversation
history and cannot message the user directly.`

// buildMessages assembles the provider message list for one turn:
// system prompt + memory context, then history, then the user turn.
func (l *Loop) buildMessages(history []providers.Message, userMsg providers.Message) []providers.Message {
	var sb strings.Builder
	sb.WriteString(basePrompt)
	sb.WriteString("\n\nCurrent time: ")
	sb.WriteString(time.Now().Format("Monday, 2 January 2006 15:04 MST"))

	if memCtx := l.memory.BuildContext(memoryContextChars); memCtx != "" {
		sb.WriteString("\n\n# What you know about the user\n\n")
		sb.WriteString(memCtx)
	}

	messages := make([]providers.Message, 0, len(history)+2)
	messages = append(messages, providers.Message{Role: "system", Content: sb.String()})
	messages = append(messages, history...)
	messages = append(messages, userMsg)
	return messages
}
