// Package agent implements the serial agent worker: it drains the inbound
// queue, runs the think/act/observe cycle against the provider, executes
// tools under policy, and publishes replies to the outbound dispatcher.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gema-dev/gema/internal/bus"
	"github.com/gema-dev/gema/internal/channels"
	"github.com/gema-dev/gema/internal/checkpoint"
	"github.com/gema-dev/gema/internal/config"
	"github.com/gema-dev/gema/internal/memory"
	"github.com/gema-dev/gema/internal/metrics"
	"github.com/gema-dev/gema/internal/providers"
	"github.com/gema-dev/gema/internal/sessions"
	"github.com/gema-dev/gema/internal/tools"
)

const (
	defaultMaxIterations = 20
	defaultMaxTokens     = 8192
	memoryContextChars   = 8000
)

// Loop is the single serial agent worker.
type Loop struct {
	provider    providers.Provider
	defaults    config.AgentDefaults
	toolsCfg    *config.ToolsConfig
	bus         *bus.MessageBus
	sessions    *sessions.Manager
	memory      *memory.Engine
	registry    *tools.Registry
	policy      *tools.PolicyEngine
	checkpoints *checkpoint.Store
	metrics     *metrics.Store
	transcriber channels.Transcriber
}

// Config wires a new Loop.
type Config struct {
	Provider    providers.Provider
	Defaults    config.AgentDefaults
	ToolsCfg    *config.ToolsConfig
	Bus         *bus.MessageBus
	Sessions    *sessions.Manager
	Memory      *memory.Engine
	Registry    *tools.Registry
	Policy      *tools.PolicyEngine
	Checkpoints *checkpoint.Store
	Metrics     *metrics.Store
	Transcriber channels.Transcriber // optional
}

func NewLoop(cfg Config) *Loop {
	d := cfg.Defaults
	if d.MaxToolIterations <= 0 {
		d.MaxToolIterations = defaultMaxIterations
	}
	if d.MaxTokens <= 0 {
		d.MaxTokens = defaultMaxTokens
	}
	return &Loop{
		provider:    cfg.Provider,
		defaults:    d,
		toolsCfg:    cfg.ToolsCfg,
		bus:         cfg.Bus,
		sessions:    cfg.Sessions,
		memory:      cfg.Memory,
		registry:    cfg.Registry,
		policy:      cfg.Policy,
		checkpoints: cfg.Checkpoints,
		metrics:     cfg.Metrics,
		transcriber: cfg.Transcriber,
	}
}

// Start drains the inbound queue until ctx cancellation. Messages are
// processed strictly one at a time.
func (l *Loop) Start(ctx context.Context) {
	slog.Info("agent loop started", "model", l.defaults.Model, "max_iterations", l.defaults.MaxToolIterations)
	for {
		msg, ok := l.bus.ConsumeInbound(ctx)
		if !ok {
			slog.Info("agent loop stopped")
			return
		}
		l.processMessage(ctx, msg)
	}
}

// processMessage runs one inbound message end to end and publishes the
// reply. Processing errors become an apology on the origin channel.
func (l *Loop) processMessage(ctx context.Context, msg bus.InboundMessage) {
	reply, err := l.run(ctx, msg)
	channel, chatID := l.routeReply(msg)
	if err != nil {
		slog.Error("agent run failed", "session", sessions.Key(channel, chatID), "error", err)
		l.publish(channel, chatID, "Sorry, something went wrong: "+shortError(err))
		return
	}
	if reply != "" {
		l.publish(channel, chatID, reply)
	}
}

// ProcessDirect runs a synthetic message through the loop and returns the
// reply instead of publishing it. Used by the cron engine.
func (l *Loop) ProcessDirect(ctx context.Context, msg bus.InboundMessage) (string, error) {
	return l.run(ctx, msg)
}

// routeReply maps an inbound message to its reply destination. System
// messages carry the real origin in chat_id as "{channel}:{chat_id}".
func (l *Loop) routeReply(msg bus.InboundMessage) (channel, chatID string) {
	if msg.Channel == channels.ChannelSystem {
		if origin, rest, ok := strings.Cut(msg.ChatID, ":"); ok && origin != "" {
			return origin, rest
		}
	}
	return msg.Channel, msg.ChatID
}

func (l *Loop) publish(channel, chatID, content string) {
	l.bus.PublishOutbound(bus.OutboundMessage{
		Channel: channel,
		ChatID:  chatID,
		Content: content,
		Metadata: map[string]string{
			bus.MetaIdempotencyKey: uuid.NewString(),
		},
	})
}

// run executes the full pipeline for one message and returns the final
// user-facing reply, possibly empty for silent turns.
func (l *Loop) run(ctx context.Context, msg bus.InboundMessage) (string, error) {
	channel, chatID := l.routeReply(msg)
	sessionKey := sessions.Key(channel, chatID)

	content := strings.TrimSpace(msg.Content)
	content = l.transcribeAudio(ctx, msg, content)
	if content == "" && len(msg.Media) == 0 {
		return "", nil
	}

	// Routing context for channel-dependent tools.
	ctx = tools.WithToolChannel(ctx, channel)
	ctx = tools.WithToolChatID(ctx, chatID)
	ctx = tools.WithToolSenderID(ctx, msg.SenderID)
	if l.defaults.Workspace != "" {
		ctx = tools.WithToolWorkspace(ctx, l.defaults.Workspace)
	}

	// Approval intent is parsed once per message.
	approval := tools.ParseApproval(content)
	if approval.All {
		l.policy.GrantAll(sessionKey)
	}

	if pack, rest, ok := DetectPack(content); ok {
		content = pack.Synthesize(rest)
		slog.Info("workflow pack matched", "pack", pack.Name, "session", sessionKey)
	}

	kind := "chat"
	if msg.Channel == channels.ChannelSystem {
		kind = "system"
	}
	task, err := l.checkpoints.Start(kind, channel, chatID, msg.SenderID, content)
	if err != nil {
		slog.Warn("checkpoint open failed", "session", sessionKey, "error", err)
	}

	reply, iterations, toolsUsed, runErr := l.iterate(ctx, sessionKey, msg, channel, content, approval, task)
	if task != nil {
		l.checkpoints.Finish(task, reply, iterations, runErr)
	}
	if runErr != nil {
		return "", runErr
	}

	reply = l.postprocess(ctx, channel, msg.SenderID, content, reply, toolsUsed)

	if err := l.memory.AppendDaily(channel, "assistant", reply); err != nil {
		slog.Warn("daily note write failed", "error", err)
	}
	if err := l.sessions.Save(sessionKey); err != nil {
		slog.Warn("session save failed", "session", sessionKey, "error", err)
	}
	l.maybeSummarize(ctx, sessionKey)

	return reply, nil
}

// iterate runs the provider/tool cycle for one turn. It appends the turn
// messages to the session as it goes; the caller persists them.
func (l *Loop) iterate(ctx context.Context, sessionKey string, msg bus.InboundMessage,
	channel, content string, approval tools.Approval, task *checkpoint.Task) (reply string, iterations int, toolsUsed []string, err error) {

	l.sessions.GetOrCreate(sessionKey)
	history := l.sessions.History(sessionKey)

	userMsg := providers.Message{Role: "user", Content: content}
	userMsg.Images = loadImages(msg.Media)

	messages := l.buildMessages(history, userMsg)
	l.sessions.Append(sessionKey, userMsg)

	if err := l.memory.AppendDaily(channel, "user", content); err != nil {
		slog.Warn("daily note write failed", "error", err)
	}

	defs := l.registry.Definitions()

	completed := false
	for iterations < l.defaults.MaxToolIterations {
		iterations++

		resp, callErr := l.chat(ctx, providers.ChatRequest{
			Messages:    messages,
			Tools:       defs,
			Model:       l.defaults.Model,
			MaxTokens:   l.defaults.MaxTokens,
			Temperature: l.defaults.Temperature,
		})
		if callErr != nil {
			return "", iterations, toolsUsed, fmt.Errorf("provider call (iteration %d): %w", iterations, callErr)
		}

		if len(resp.ToolCalls) == 0 {
			reply = strings.TrimSpace(resp.Content)
			completed = true
			break
		}

		assistantMsg := providers.Message{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls}
		messages = append(messages, assistantMsg)
		l.sessions.Append(sessionKey, assistantMsg)

		for _, tc := range resp.ToolCalls {
			result := l.executeTool(ctx, channel, msg.SenderID, sessionKey, tc, approval)
			toolsUsed = append(toolsUsed, tc.Name)
			if task != nil {
				detail := tc.Name
				if result.IsError {
					detail += ": " + result.ForLLM
				}
				l.checkpoints.AddEvent(task, "tool", detail)
			}
			toolMsg := providers.Message{Role: "tool", Content: result.ForLLM, ToolCallID: tc.ID, Name: tc.Name}
			messages = append(messages, toolMsg)
			l.sessions.Append(sessionKey, toolMsg)
		}
	}

	if !completed {
		slog.Warn("tool iteration limit reached", "session", sessionKey, "iterations", iterations)
		reply = "I hit the tool-call limit before finishing. Progress so far is saved; ask me to continue."
	}

	l.sessions.Append(sessionKey, providers.Message{Role: "assistant", Content: reply})
	return reply, iterations, toolsUsed, nil
}

// chat wraps provider.Chat with latency and token metrics.
func (l *Loop) chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	start := time.Now()
	resp, err := l.provider.Chat(ctx, req)
	inTokens, outTokens := 0, 0
	if resp != nil && resp.Usage != nil {
		inTokens = resp.Usage.PromptTokens
		outTokens = resp.Usage.CompletionTokens
	}
	l.metrics.RecordLLM(l.provider.Name(), req.Model, time.Since(start), inTokens, outTokens, err)
	return resp, err
}

// executeTool resolves policy, runs the tool, and retries once on a
// transient failure.
func (l *Loop) executeTool(ctx context.Context, channel, senderID, sessionKey string,
	tc providers.ToolCall, approval tools.Approval) *tools.Result {

	switch l.policy.Resolve(channel, senderID, tc.Name) {
	case tools.DecisionDeny:
		slog.Info("tool denied by policy", "tool", tc.Name, "channel", channel, "sender", senderID)
		return tools.ErrorResult(fmt.Sprintf("tool %s is denied by policy", tc.Name))
	case tools.DecisionAsk:
		if !approval.Approves(tc.Name) && !l.policy.AllGranted(sessionKey) {
			return tools.ErrorResult(fmt.Sprintf(
				"tool %s needs approval; ask the user to reply with 'approve %s'", tc.Name, tc.Name))
		}
	}

	start := time.Now()
	result := l.registry.Execute(ctx, tc.Name, tc.Arguments)
	if result.IsError && isTransientToolErr(result) && ctx.Err() == nil {
		slog.Warn("transient tool failure, retrying once", "tool", tc.Name, "error", result.ForLLM)
		result = l.registry.Execute(ctx, tc.Name, tc.Arguments)
	}

	var recErr error
	if result.IsError {
		recErr = result.Err
		if recErr == nil {
			recErr = fmt.Errorf("%s", result.ForLLM)
		}
	}
	l.metrics.RecordTool(tc.Name, time.Since(start), recErr)
	return result
}

var transientToolMarkers = []string{
	"timeout", "timed out", "connection refused", "connection reset",
	"temporarily unavailable", "try again", "eof",
}

func isTransientToolErr(r *tools.Result) bool {
	text := strings.ToLower(r.ForLLM)
	if r.Err != nil {
		text += " " + strings.ToLower(r.Err.Error())
	}
	for _, marker := range transientToolMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

// transcribeAudio replaces empty content with a transcript of the first
// audio attachment when a transcriber is configured.
func (l *Loop) transcribeAudio(ctx context.Context, msg bus.InboundMessage, content string) string {
	if content != "" || l.transcriber == nil {
		return content
	}
	for _, path := range msg.Media {
		if !isAudioPath(path) {
			continue
		}
		return channels.TranscribeOrFallback(ctx, l.transcriber, path, "[voice message]")
	}
	return content
}

func isAudioPath(path string) bool {
	lower := strings.ToLower(path)
	for _, ext := range []string{".ogg", ".oga", ".mp3", ".m4a", ".wav", ".opus"} {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// RunSubagent executes a one-shot task with no conversation history and
// no messaging or spawn tools, satisfying tools.SubagentRunner.
func (l *Loop) RunSubagent(ctx context.Context, taskText string) (string, error) {
	defs := l.subagentDefs()
	messages := []providers.Message{
		{Role: "system", Content: subagentSystemPrompt},
		{Role: "user", Content: taskText},
	}

	maxIter := l.defaults.MaxToolIterations / 2
	if maxIter < 5 {
		maxIter = 5
	}

	for i := 0; i < maxIter; i++ {
		resp, err := l.chat(ctx, providers.ChatRequest{
			Messages:    messages,
			Tools:       defs,
			Model:       l.defaults.Model,
			MaxTokens:   l.defaults.MaxTokens,
			Temperature: l.defaults.Temperature,
		})
		if err != nil {
			return "", fmt.Errorf("subagent provider call: %w", err)
		}
		if len(resp.ToolCalls) == 0 {
			return strings.TrimSpace(resp.Content), nil
		}
		messages = append(messages, providers.Message{
			Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls,
		})
		for _, tc := range resp.ToolCalls {
			start := time.Now()
			result := l.registry.Execute(ctx, tc.Name, tc.Arguments)
			var recErr error
			if result.IsError {
				recErr = fmt.Errorf("%s", result.ForLLM)
			}
			l.metrics.RecordTool(tc.Name, time.Since(start), recErr)
			messages = append(messages, providers.Message{
				Role: "tool", Content: result.ForLLM, ToolCallID: tc.ID, Name: tc.Name,
			})
		}
	}
	return "", fmt.Errorf("subagent exceeded %d iterations", maxIter)
}

// Tools a subagent may not use: anything that messages the user or
// recurses into another subagent.
var subagentExcluded = map[string]bool{"message": true, "spawn": true}

func (l *Loop) subagentDefs() []providers.ToolDefinition {
	var out []providers.ToolDefinition
	for _, def := range l.registry.Definitions() {
		if subagentExcluded[def.Function.Name] {
			continue
		}
		out = append(out, def)
	}
	return out
}

// maybeSummarize appends a compact session summary to SUMMARIES.md every
// summaryInterval assistant turns, tracked via session metadata.
func (l *Loop) maybeSummarize(ctx context.Context, sessionKey string) {
	interval := l.defaults.SummaryInterval
	if interval <= 0 {
		return
	}
	turns := l.sessions.AssistantTurns(sessionKey)
	if turns == 0 || turns%interval != 0 {
		return
	}
	if l.sessions.GetMeta(sessionKey, "last_summary_turn") == fmt.Sprintf("%d", turns) {
		return
	}

	history := l.sessions.History(sessionKey)
	var sb strings.Builder
	start := 0
	if len(history) > 2*interval {
		start = len(history) - 2*interval
	}
	for _, m := range history[start:] {
		if m.Role != "user" && m.Role != "assistant" {
			continue
		}
		fmt.Fprintf(&sb, "%s: %s\n", m.Role, truncate(m.Content, 400))
	}

	resp, err := l.chat(ctx, providers.ChatRequest{
		Messages: []providers.Message{
			{Role: "system", Content: "Summarize the conversation below in 3-5 bullet points. Capture decisions, facts about the user, and open items. Output only the bullets."},
			{Role: "user", Content: sb.String()},
		},
		Model:     l.defaults.Model,
		MaxTokens: 512,
	})
	if err != nil {
		slog.Warn("session summarization failed", "session", sessionKey, "error", err)
		return
	}
	if err := l.memory.AppendSummary(sessionKey, resp.Content); err != nil {
		slog.Warn("summary write failed", "session", sessionKey, "error", err)
		return
	}
	l.sessions.SetMeta(sessionKey, "last_summary_turn", fmt.Sprintf("%d", turns))
	slog.Info("session summarized", "session", sessionKey, "turns", turns)
}

func shortError(err error) string {
	return truncate(err.Error(), 160)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
