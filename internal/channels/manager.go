package channels

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"github.com/gema-dev/gema/internal/bus"
)

const (
	idempotencyTTL     = 120 * time.Second
	idempotencyEntries = 512

	sendRetryBase     = 2 * time.Second
	sendRetryMax      = 30 * time.Second
	sendRetryAttempts = 4
)

// Manager owns the channel instances, their supervisors, and the single
// outbound dispatcher.
type Manager struct {
	bus      *bus.MessageBus
	mu       sync.RWMutex
	channels map[string]Channel

	seen    *expirable.LRU[string, time.Time]
	limiter *rate.Limiter

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewManager(mb *bus.MessageBus) *Manager {
	return &Manager{
		bus:      mb,
		channels: make(map[string]Channel),
		seen:     expirable.NewLRU[string, time.Time](idempotencyEntries, nil, idempotencyTTL),
		// Outbound sends across all channels share one rate budget.
		limiter: rate.NewLimiter(rate.Limit(5), 10),
	}
}

// Register adds a channel; nil channels from conditional constructors
// are ignored.
func (m *Manager) Register(ch Channel) {
	if ch == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.Name()] = ch
	slog.Info("channel registered", "channel", ch.Name())
}

// Get returns a channel by name.
func (m *Manager) Get(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	return ch, ok
}

// Names returns the registered channel names.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	return names
}

// StartAll launches every channel under a supervisor and starts the
// outbound dispatcher.
func (m *Manager) StartAll(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.mu.RLock()
	for _, ch := range m.channels {
		ch := ch
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			supervise(runCtx, ch)
		}()
	}
	m.mu.RUnlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.dispatchLoop(runCtx)
	}()
}

// StopAll cancels supervisors and the dispatcher, then stops each
// channel with a bounded grace period.
func (m *Manager) StopAll() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ch := range m.channels {
		if err := ch.Stop(stopCtx); err != nil {
			slog.Warn("channel stop failed", "channel", ch.Name(), "error", err)
		}
	}
}

// dispatchLoop consumes outbound messages and delivers them serially,
// preserving per-channel ordering.
func (m *Manager) dispatchLoop(ctx context.Context) {
	slog.Info("outbound dispatcher started")
	for {
		msg, ok := m.bus.ConsumeOutbound(ctx)
		if !ok {
			slog.Info("outbound dispatcher stopped")
			return
		}
		m.dispatch(ctx, msg)
	}
}

func (m *Manager) dispatch(ctx context.Context, msg bus.OutboundMessage) {
	if key := msg.IdempotencyKey(); key != "" {
		if _, dup := m.seen.Get(key); dup {
			slog.Debug("duplicate outbound dropped", "channel", msg.Channel, "key", key)
			return
		}
		m.seen.Add(key, time.Now())
	}

	ch, ok := m.Get(msg.Channel)
	if !ok {
		if !IsInternalChannel(msg.Channel) {
			slog.Warn("outbound for unknown channel dropped", "channel", msg.Channel)
		}
		return
	}

	if err := m.limiter.Wait(ctx); err != nil {
		return
	}

	err := ch.Send(ctx, msg)
	if err == nil {
		m.cleanupMedia(msg)
		return
	}

	if !isTransientSendErr(err) {
		slog.Error("outbound send failed permanently", "channel", msg.Channel, "error", err)
		m.cleanupMedia(msg)
		return
	}

	// Retry in the background so the dispatcher keeps draining. The
	// idempotency key is already recorded, so a duplicate publish of
	// this message during the retry window is still dropped.
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.retrySend(ctx, ch, msg, err)
		m.cleanupMedia(msg)
	}()
}

func (m *Manager) retrySend(ctx context.Context, ch Channel, msg bus.OutboundMessage, firstErr error) {
	backoff := sendRetryBase
	lastErr := firstErr
	for attempt := 1; attempt <= sendRetryAttempts; attempt++ {
		slog.Warn("outbound send retry scheduled",
			"channel", msg.Channel, "attempt", attempt, "backoff", backoff, "error", lastErr)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		if err := ch.Send(ctx, msg); err == nil {
			return
		} else if !isTransientSendErr(err) {
			slog.Error("outbound send failed permanently", "channel", msg.Channel, "error", err)
			return
		} else {
			lastErr = err
		}

		backoff *= 2
		if backoff > sendRetryMax {
			backoff = sendRetryMax
		}
	}
	slog.Error("outbound send abandoned after retries", "channel", msg.Channel, "error", lastErr)
}

// cleanupMedia removes temp media files once delivery is settled.
func (m *Manager) cleanupMedia(msg bus.OutboundMessage) {
	for _, path := range msg.Media {
		if strings.Contains(path, os.TempDir()) {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				slog.Debug("media cleanup failed", "path", path, "error", err)
			}
		}
	}
}

var transientMarkers = []string{
	"timeout", "timed out", "temporarily", "connection reset",
	"connection refused", "rate limit", "too many requests",
	"bad gateway", "service unavailable", "retry", "eof",
}

// isTransientSendErr classifies delivery errors worth retrying.
func isTransientSendErr(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	text := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}
