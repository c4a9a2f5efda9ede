package bus

import (
	"context"
	"strconv"
	"testing"
	"time"
)

func TestInboundFIFO(t *testing.T) {
	b := New()
	for i := 0; i < 5; i++ {
		b.PublishInbound(InboundMessage{Channel: "telegram", ChatID: "42", Content: strconv.Itoa(i)})
	}
	if got := b.InboundDepth(); got != 5 {
		t.Fatalf("depth = %d, want 5", got)
	}

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		msg, ok := b.ConsumeInbound(ctx)
		if !ok {
			t.Fatal("consume returned not ok")
		}
		if msg.Content != strconv.Itoa(i) {
			t.Errorf("message %d out of order: %q", i, msg.Content)
		}
	}
}

func TestConsumeCancelled(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, ok := b.ConsumeInbound(ctx); ok {
		t.Error("ConsumeInbound returned ok on cancelled context")
	}
	if _, ok := b.ConsumeOutbound(ctx); ok {
		t.Error("ConsumeOutbound returned ok on cancelled context")
	}
}

func TestConsumeBlocksUntilPublish(t *testing.T) {
	b := New()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go func() {
		time.Sleep(20 * time.Millisecond)
		b.PublishOutbound(OutboundMessage{Channel: "telegram", Content: "late"})
	}()

	msg, ok := b.ConsumeOutbound(ctx)
	if !ok || msg.Content != "late" {
		t.Errorf("got (%+v, %v)", msg, ok)
	}
}

func TestPublishFullQueueDrops(t *testing.T) {
	b := New()
	for i := 0; i < queueCapacity+10; i++ {
		b.PublishInbound(InboundMessage{Content: strconv.Itoa(i)})
	}
	// Overflow is dropped, not blocking and not replacing.
	if got := b.InboundDepth(); got != queueCapacity {
		t.Errorf("depth = %d, want %d", got, queueCapacity)
	}
}

func TestSessionKey(t *testing.T) {
	msg := InboundMessage{Channel: "telegram", ChatID: "42"}
	if got := msg.SessionKey(); got != "telegram:42" {
		t.Errorf("SessionKey = %q", got)
	}
}

func TestIdempotencyKey(t *testing.T) {
	msg := OutboundMessage{Metadata: map[string]string{MetaIdempotencyKey: "abc"}}
	if got := msg.IdempotencyKey(); got != "abc" {
		t.Errorf("IdempotencyKey = %q", got)
	}
	if got := (OutboundMessage{}).IdempotencyKey(); got != "" {
		t.Errorf("empty metadata key = %q", got)
	}
}
