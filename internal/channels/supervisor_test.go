package channels

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type countingChannel struct {
	fakeChannel
	starts   atomic.Int32
	startErr error
}

func (c *countingChannel) Start(ctx context.Context) error {
	c.starts.Add(1)
	if c.startErr != nil {
		return c.startErr
	}
	<-ctx.Done()
	return nil
}

func TestSuperviseExitsOnCancel(t *testing.T) {
	ch := &countingChannel{fakeChannel: fakeChannel{name: "telegram"}}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		supervise(ctx, ch)
		close(done)
	}()

	waitFor(t, time.Second, func() bool { return ch.starts.Load() == 1 })
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("supervise did not return after cancel")
	}
	if got := ch.starts.Load(); got != 1 {
		t.Errorf("starts = %d, want 1", got)
	}
}

func TestSuperviseWaitsBeforeRestart(t *testing.T) {
	// A channel that fails immediately must not be restarted in a tight
	// loop; the supervisor holds it in backoff until cancellation.
	ch := &countingChannel{
		fakeChannel: fakeChannel{name: "discord"},
		startErr:    errors.New("token rejected"),
	}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		supervise(ctx, ch)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	if got := ch.starts.Load(); got != 1 {
		t.Errorf("starts = %d within backoff window, want 1", got)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("supervise did not return after cancel")
	}
}
