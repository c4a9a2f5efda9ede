package tools

import "context"

// Tool execution context keys. Routing values are injected into context
// by the agent loop so tools stay stateless across concurrent sessions.

type toolContextKey string

const (
	ctxChannel   toolContextKey = "tool_channel"
	ctxChatID    toolContextKey = "tool_chat_id"
	ctxSenderID  toolContextKey = "tool_sender_id"
	ctxWorkspace toolContextKey = "tool_workspace"
)

func WithToolChannel(ctx context.Context, channel string) context.Context {
	return context.WithValue(ctx, ctxChannel, channel)
}

func ToolChannelFromCtx(ctx context.Context) string {
	v, _ := ctx.Value(ctxChannel).(string)
	return v
}

func WithToolChatID(ctx context.Context, chatID string) context.Context {
	return context.WithValue(ctx, ctxChatID, chatID)
}

func ToolChatIDFromCtx(ctx context.Context) string {
	v, _ := ctx.Value(ctxChatID).(string)
	return v
}

func WithToolSenderID(ctx context.Context, senderID string) context.Context {
	return context.WithValue(ctx, ctxSenderID, senderID)
}

func ToolSenderIDFromCtx(ctx context.Context) string {
	v, _ := ctx.Value(ctxSenderID).(string)
	return v
}

func WithToolWorkspace(ctx context.Context, ws string) context.Context {
	return context.WithValue(ctx, ctxWorkspace, ws)
}

func ToolWorkspaceFromCtx(ctx context.Context) string {
	v, _ := ctx.Value(ctxWorkspace).(string)
	return v
}
