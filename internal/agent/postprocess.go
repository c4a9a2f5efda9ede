package agent

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/gema-dev/gema/internal/memory"
	"github.com/gema-dev/gema/internal/providers"
)

// reflectionSentinel is what the reviewer returns to keep the draft as-is.
const reflectionSentinel = "KEEP"

// postprocess applies the fixed pipeline to the model's final draft:
// sanitize, reflect, enforce memory truth, auto-remember, align memory
// claims, and recover denied media intents.
func (l *Loop) postprocess(ctx context.Context, channel, senderID, userContent, draft string, toolsUsed []string) string {
	draft = sanitizeDraft(draft)
	if isSilentReply(draft) {
		return ""
	}

	if l.defaults.EnableReflection && (len(toolsUsed) > 0 || len(userContent) > 400) {
		draft = l.reflect(ctx, userContent, draft)
	}

	draft = l.enforceMemoryTruth(draft)
	draft = l.autoRemember(userContent, draft, toolsUsed)
	draft = l.alignMemoryClaims(draft, toolsUsed)
	draft = l.recoverMediaIntent(channel, senderID, userContent, draft)

	return strings.TrimSpace(draft)
}

// reflect runs a reviewer pass over the draft. The reviewer returns the
// sentinel to accept the draft unchanged, otherwise its revision wins.
func (l *Loop) reflect(ctx context.Context, userContent, draft string) string {
	resp, err := l.chat(ctx, providers.ChatRequest{
		Messages: []providers.Message{
			{Role: "system", Content: "You review an assistant's draft reply before it is sent. " +
				"If the draft answers the user's message well, respond with exactly " + reflectionSentinel + ". " +
				"Otherwise respond with an improved reply and nothing else."},
			{Role: "user", Content: "User message:\n" + truncate(userContent, 2000) +
				"\n\nDraft reply:\n" + truncate(draft, 4000)},
		},
		Model:     l.defaults.Model,
		MaxTokens: l.defaults.MaxTokens,
	})
	if err != nil {
		slog.Warn("reflection pass failed, keeping draft", "error", err)
		return draft
	}
	revision := strings.TrimSpace(resp.Content)
	if revision == "" || strings.EqualFold(revision, reflectionSentinel) {
		return draft
	}
	slog.Debug("reflection revised draft", "draft_len", len(draft), "revision_len", len(revision))
	return revision
}

// Marker phrases asserting the assistant has no persistent memory. Kept
// as a data table so new locales can be added without code changes.
var noMemoryMarkers = []string{
	"i don't have memory",
	"i do not have memory",
	"i don't have persistent memory",
	"i have no memory",
	"i cannot remember",
	"i can't remember previous",
	"i don't retain information",
	"each conversation starts fresh",
	"saya tidak punya memori",
	"saya tidak bisa mengingat",
}

// enforceMemoryTruth replaces a draft that denies having memory with the
// canonical answer listing the memory files, when memory actually exists.
func (l *Loop) enforceMemoryTruth(draft string) string {
	if !l.memory.HasMemory() {
		return draft
	}
	lower := strings.ToLower(draft)
	for _, marker := range noMemoryMarkers {
		if strings.Contains(lower, marker) {
			slog.Info("memory truth enforced, draft replaced")
			var sb strings.Builder
			sb.WriteString("I do have persistent memory. My memory files live at:\n")
			for _, p := range l.memory.MemoryPaths() {
				sb.WriteString("- " + p + "\n")
			}
			sb.WriteString("Ask me to recall something, or tell me what to remember.")
			return sb.String()
		}
	}
	return draft
}

// Categories for common keyed facts, so the deterministic fallback
// stores them with the same type the remember tool would pick.
var factKeyTypes = map[string]string{
	"timezone": "identity",
	"name":     "identity",
	"birthday": "identity",
	"location": "identity",
	"language": "preference",
	"email":    "identity",
	"phone":    "identity",
}

// Remember-request shapes. The capture group is the fact payload.
var rememberPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(?:please\s+)?remember\s+(?:that\s+)?(.+)$`),
	regexp.MustCompile(`(?i)^(?:please\s+)?don'?t\s+forget\s+(?:that\s+)?(.+)$`),
	regexp.MustCompile(`(?i)^note\s+that\s+(.+)$`),
	regexp.MustCompile(`(?i)^(?:tolong\s+)?ingat\s+(?:bahwa\s+)?(.+)$`),
}

// autoRemember persists an explicit remember request when the model never
// called a memory tool for it, and appends a confirmation.
func (l *Loop) autoRemember(userContent, draft string, toolsUsed []string) string {
	for _, name := range toolsUsed {
		if name == "remember" || name == "update_profile" {
			return draft
		}
	}

	payload := ""
	for _, re := range rememberPatterns {
		if m := re.FindStringSubmatch(strings.TrimSpace(userContent)); m != nil {
			payload = strings.TrimSpace(m[1])
			break
		}
	}
	if payload == "" {
		return draft
	}

	category := factKeyTypes[memory.ExtractFactKey(payload)]
	res := l.memory.RememberFact(payload, category, "auto_remember", 0)
	if !res.OK {
		slog.Warn("auto-remember failed", "error", res.Error)
		return draft
	}
	slog.Info("auto-remember persisted fact", "fact_id", res.FactID, "status", res.Status)
	if draft == "" {
		return "Noted, I'll remember that."
	}
	return draft + "\n\n(Saved to memory.)"
}

var profileClaimRe = regexp.MustCompile(`(?i)(updated?|saved to)\s+(your\s+)?profile`)

// alignMemoryClaims corrects a draft that claims a profile update when
// only a plain remember happened.
func (l *Loop) alignMemoryClaims(draft string, toolsUsed []string) string {
	if !profileClaimRe.MatchString(draft) {
		return draft
	}
	profileCalled, rememberCalled := false, false
	for _, name := range toolsUsed {
		switch name {
		case "update_profile":
			profileCalled = true
		case "remember":
			rememberCalled = true
		}
	}
	if profileCalled {
		return draft
	}
	if rememberCalled {
		return draft + "\n\n(Correction: this went into MEMORY.md as a fact, not the profile.)"
	}
	return draft + "\n\n(Correction: nothing was actually written; ask me again and I'll use the memory tools.)"
}

// Media-intent cues in the user's message and denial phrases in the draft.
var mediaIntentCues = []string{
	"voice note", "voice message", "send a voice", "as audio", "read it aloud",
	"send a picture", "send an image", "send a photo", "send a sticker", "selfie",
}

var mediaDenialMarkers = []string{
	"i can't send voice", "i cannot send voice", "i can't send audio",
	"i cannot send audio", "i can't send images", "i cannot send images",
	"i'm unable to send", "i am unable to send", "i'm a text-based",
	"i am a text-based", "only respond with text",
}

// recoverMediaIntent rewrites a draft that wrongly denies media capability
// when the user asked for a voice/image/sticker delivery. Behavior follows
// tools.mediaDenialFallback: "text" rewrites the denial, "keep" leaves it.
func (l *Loop) recoverMediaIntent(channel, senderID, userContent, draft string) string {
	if l.toolsCfg != nil && l.toolsCfg.MediaDenialFallback == "keep" {
		return draft
	}

	lowerUser := strings.ToLower(userContent)
	wantsMedia := false
	for _, cue := range mediaIntentCues {
		if strings.Contains(lowerUser, cue) {
			wantsMedia = true
			break
		}
	}
	if !wantsMedia {
		return draft
	}

	lowerDraft := strings.ToLower(draft)
	for _, marker := range mediaDenialMarkers {
		if strings.Contains(lowerDraft, marker) {
			slog.Info("media denial recovered", "channel", channel, "sender", senderID)
			return "I can deliver media on this channel, but generating that content " +
				"isn't set up yet. Here's the text version instead:\n\n" + stripDenialLines(draft)
		}
	}
	return draft
}

// stripDenialLines drops the lines carrying the denial so the rewrite
// keeps any useful remainder.
func stripDenialLines(draft string) string {
	var kept []string
	for _, line := range strings.Split(draft, "\n") {
		lower := strings.ToLower(line)
		denial := false
		for _, marker := range mediaDenialMarkers {
			if strings.Contains(lower, marker) {
				denial = true
				break
			}
		}
		if !denial {
			kept = append(kept, line)
		}
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

var thinkingTagPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<think>.*?</think>`),
	regexp.MustCompile(`(?is)<thinking>.*?</thinking>`),
	regexp.MustCompile(`(?is)<thought>.*?</thought>`),
}

var finalTagRe = regexp.MustCompile(`(?i)<\s*/?\s*final\s*>`)

// sanitizeDraft strips reasoning tags and <final> wrappers some models
// leak into text content.
func sanitizeDraft(content string) string {
	lower := strings.ToLower(content)
	if strings.Contains(lower, "<think") || strings.Contains(lower, "<thought") {
		for _, re := range thinkingTagPatterns {
			content = re.ReplaceAllString(content, "")
		}
	}
	if strings.Contains(lower, "final") {
		content = finalTagRe.ReplaceAllString(content, "")
	}
	return strings.TrimSpace(content)
}

// isSilentReply reports whether the draft is the NO_REPLY token, alone or
// at a word boundary.
func isSilentReply(text string) bool {
	const token = "NO_REPLY"
	trimmed := strings.TrimSpace(text)
	if trimmed == token {
		return true
	}
	if strings.HasPrefix(trimmed, token) {
		rest := trimmed[len(token):]
		if rest == "" || !isWordChar(rune(rest[0])) {
			return true
		}
	}
	return false
}

func isWordChar(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_'
}
