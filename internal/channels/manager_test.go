package channels

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gema-dev/gema/internal/bus"
)

// fakeChannel records sends for dispatcher tests.
type fakeChannel struct {
	name string

	mu      sync.Mutex
	sent    []bus.OutboundMessage
	sendErr error
	running bool
}

func (f *fakeChannel) Name() string                    { return f.name }
func (f *fakeChannel) Start(ctx context.Context) error { <-ctx.Done(); return nil }
func (f *fakeChannel) Stop(ctx context.Context) error  { return nil }
func (f *fakeChannel) IsRunning() bool                 { return f.running }
func (f *fakeChannel) IsAllowed(senderID string) bool  { return true }

func (f *fakeChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeChannel) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestDispatchDeliversToChannel(t *testing.T) {
	mb := bus.New()
	m := NewManager(mb)
	ch := &fakeChannel{name: "telegram"}
	m.Register(ch)

	ctx, cancel := context.WithCancel(context.Background())
	m.StartAll(ctx)

	mb.PublishOutbound(bus.OutboundMessage{Channel: "telegram", ChatID: "42", Content: "hello"})
	waitFor(t, 2*time.Second, func() bool { return ch.sentCount() == 1 })

	cancel()
	m.StopAll()
}

func TestDispatchDropsDuplicateIdempotencyKey(t *testing.T) {
	mb := bus.New()
	m := NewManager(mb)
	ch := &fakeChannel{name: "telegram"}
	m.Register(ch)

	ctx, cancel := context.WithCancel(context.Background())
	m.StartAll(ctx)

	msg := bus.OutboundMessage{
		Channel:  "telegram",
		ChatID:   "42",
		Content:  "reminder",
		Metadata: map[string]string{bus.MetaIdempotencyKey: "reminder:ev1:30"},
	}
	mb.PublishOutbound(msg)
	mb.PublishOutbound(msg)
	mb.PublishOutbound(bus.OutboundMessage{
		Channel:  "telegram",
		ChatID:   "42",
		Content:  "different",
		Metadata: map[string]string{bus.MetaIdempotencyKey: "reminder:ev1:10"},
	})

	waitFor(t, 2*time.Second, func() bool { return ch.sentCount() == 2 })
	time.Sleep(50 * time.Millisecond)
	if got := ch.sentCount(); got != 2 {
		t.Errorf("sent %d messages, want 2 after dedup", got)
	}

	cancel()
	m.StopAll()
}

func TestDispatchUnknownChannelDropped(t *testing.T) {
	mb := bus.New()
	m := NewManager(mb)
	ch := &fakeChannel{name: "telegram"}
	m.Register(ch)

	ctx, cancel := context.WithCancel(context.Background())
	m.StartAll(ctx)

	mb.PublishOutbound(bus.OutboundMessage{Channel: "missing", Content: "x"})
	mb.PublishOutbound(bus.OutboundMessage{Channel: "telegram", Content: "y"})

	waitFor(t, 2*time.Second, func() bool { return ch.sentCount() == 1 })

	cancel()
	m.StopAll()
}

func TestRegisterIgnoresNil(t *testing.T) {
	m := NewManager(bus.New())
	m.Register(nil)
	if len(m.Names()) != 0 {
		t.Errorf("names = %v", m.Names())
	}
}

func TestIsTransientSendErr(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"timeout text", errors.New("request timed out"), true},
		{"rate limit", errors.New("429 Too Many Requests"), true},
		{"connection reset", errors.New("read: connection reset by peer"), true},
		{"auth failure", errors.New("401 unauthorized"), false},
		{"bad request", errors.New("invalid chat id"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isTransientSendErr(tt.err); got != tt.want {
				t.Errorf("isTransientSendErr(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIdentityVariants(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want []string
	}{
		{"plain id", "12345", []string{"12345"}},
		{"at prefix", "@alice", []string{"alice", "@alice"}},
		{"email-like jid", "628123@s.whatsapp.net", []string{"628123", "628123@s.whatsapp.net"}},
		{"indonesian zero prefix", "08123456", []string{"08123456", "628123456"}},
		{"indonesian country prefix", "628123456", []string{"628123456", "08123456"}},
		{"pipe separated", "alice|12345", []string{"alice", "12345"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IdentityVariants(tt.id)
			for _, want := range tt.want {
				if !got[want] {
					t.Errorf("IdentityVariants(%q) missing %q: %v", tt.id, want, got)
				}
			}
		})
	}
}

func TestIsAllowed(t *testing.T) {
	mb := bus.New()

	t.Run("empty allowlist allows everyone", func(t *testing.T) {
		c := NewBaseChannel("telegram", mb, nil)
		if !c.IsAllowed("anyone") {
			t.Error("empty allowlist rejected a sender")
		}
	})

	t.Run("listed sender allowed", func(t *testing.T) {
		c := NewBaseChannel("telegram", mb, []string{"12345", "@alice"})
		if !c.IsAllowed("12345") {
			t.Error("listed id rejected")
		}
		if !c.IsAllowed("alice") {
			t.Error("@-form in allowlist must match bare username")
		}
		if c.IsAllowed("99999") {
			t.Error("unlisted sender allowed")
		}
	})

	t.Run("phone variants intersect", func(t *testing.T) {
		c := NewBaseChannel("whatsapp", mb, []string{"08123456"})
		if !c.IsAllowed("628123456@s.whatsapp.net") {
			t.Error("country-prefixed JID must match zero-prefixed allowlist entry")
		}
	})
}

func TestHandleMessage(t *testing.T) {
	t.Run("allowed sender published", func(t *testing.T) {
		mb := bus.New()
		c := NewBaseChannel("telegram", mb, []string{"100"})
		c.HandleMessage("100", "chat1", "hello", nil, nil)
		if mb.InboundDepth() != 1 {
			t.Error("message not published")
		}
	})

	t.Run("blocked sender dropped", func(t *testing.T) {
		mb := bus.New()
		c := NewBaseChannel("telegram", mb, []string{"100"})
		c.HandleMessage("999", "chat1", "hello", nil, nil)
		if mb.InboundDepth() != 0 {
			t.Error("blocked message published")
		}
	})

	t.Run("from_me bypasses allowlist", func(t *testing.T) {
		mb := bus.New()
		c := NewBaseChannel("whatsapp", mb, []string{"100"})
		c.HandleMessage("999", "chat1", "note to self", nil, map[string]string{"from_me": "true"})
		if mb.InboundDepth() != 1 {
			t.Error("self message dropped")
		}
	})
}

func TestRunningFlagConcurrent(t *testing.T) {
	// SetRunning is called from channel goroutines while the manager
	// polls IsRunning; the flag must be race-free.
	c := NewBaseChannel("telegram", bus.New(), nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				c.SetRunning((n+j)%2 == 0)
				c.IsRunning()
			}
		}(i)
	}
	wg.Wait()
}

func TestTruncate(t *testing.T) {
	if got := Truncate("hello", 10); got != "hello" {
		t.Errorf("short string changed: %q", got)
	}
	if got := Truncate("hello world", 5); got != "hello..." {
		t.Errorf("truncated = %q", got)
	}
}
