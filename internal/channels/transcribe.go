package channels

import (
	"context"
	"log/slog"
	"os"
)

// Transcriber turns an audio file into text. Channels call it when an
// inbound attachment looks like a voice note; on failure the original
// payload is forwarded untouched.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

// TranscribeOrFallback runs the transcriber if one is set and the file
// exists, returning the transcript or the fallback text.
func TranscribeOrFallback(ctx context.Context, t Transcriber, audioPath, fallback string) string {
	if t == nil {
		return fallback
	}
	if _, err := os.Stat(audioPath); err != nil {
		slog.Warn("audio attachment missing, skipping transcription", "path", audioPath)
		return fallback
	}
	text, err := t.Transcribe(ctx, audioPath)
	if err != nil {
		slog.Warn("transcription failed, using original payload", "path", audioPath, "error", err)
		return fallback
	}
	if text == "" {
		return fallback
	}
	return text
}
