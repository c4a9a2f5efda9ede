package agent

import (
	"strconv"
	"strings"
	"testing"
)

func TestDetectPack(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		wantPack string
		wantRest string
		wantOK   bool
	}{
		{"slash syntax", "/pack daily-brief", "daily-brief", "", true},
		{"run syntax", "run pack research quantum batteries", "research", "quantum batteries", true},
		{"case insensitive", "/PACK Review-Day", "review-day", "", true},
		{"flags kept in rest", "/pack daily-brief --silent", "daily-brief", "--silent", true},
		{"unknown pack", "/pack launch-rockets", "", "", false},
		{"plain chat", "what packs do you support?", "", "", false},
		{"pack mid sentence", "can you run pack daily-brief later", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pack, rest, ok := DetectPack(tt.content)
			if ok != tt.wantOK {
				t.Fatalf("DetectPack(%q) ok = %v, want %v", tt.content, ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if pack.Name != tt.wantPack {
				t.Errorf("pack = %q, want %q", pack.Name, tt.wantPack)
			}
			if rest != tt.wantRest {
				t.Errorf("rest = %q, want %q", rest, tt.wantRest)
			}
		})
	}
}

func TestSynthesize(t *testing.T) {
	pack := builtinPacks["research"]

	t.Run("numbered steps", func(t *testing.T) {
		out := pack.Synthesize("")
		if !strings.Contains(out, `Run the "research" workflow.`) {
			t.Errorf("missing header: %q", out)
		}
		for i, step := range pack.Steps {
			want := strconv.Itoa(i+1) + ". " + step
			if !strings.Contains(out, want) {
				t.Errorf("missing step %q", want)
			}
		}
	})

	t.Run("extra text", func(t *testing.T) {
		out := pack.Synthesize("focus on solid-state designs")
		if !strings.Contains(out, "Additional instructions: focus on solid-state designs") {
			t.Errorf("extra text not threaded: %q", out)
		}
	})

	t.Run("silent flag", func(t *testing.T) {
		out := pack.Synthesize("--silent")
		if !strings.Contains(out, "reply NO_REPLY unless something needs attention") {
			t.Errorf("silent instruction missing: %q", out)
		}
		if strings.Contains(out, "--silent") {
			t.Errorf("flag leaked into prompt: %q", out)
		}
	})

	t.Run("voice flag", func(t *testing.T) {
		out := pack.Synthesize("topic here --voice")
		if !strings.Contains(out, "Preferred delivery: voice.") {
			t.Errorf("delivery preference missing: %q", out)
		}
		if !strings.Contains(out, "Additional instructions: topic here") {
			t.Errorf("extra text lost around flag: %q", out)
		}
	})
}
