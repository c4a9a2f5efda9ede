package cron

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gema-dev/gema/internal/bus"
)

// EventSource supplies upcoming calendar events for proactive reminders.
type EventSource interface {
	UpcomingEvents(ctx context.Context, horizon time.Duration) ([]CalendarEvent, error)
}

// CalendarWatcher periodically scans the calendar and publishes lead-time
// reminders. Quiet hours suppress delivery; the dedup store still records
// suppressed keys so a reminder never fires twice.
type CalendarWatcher struct {
	source   EventSource
	store    *ProactiveStore
	bus      *bus.MessageBus
	recorder Recorder
	quiet    QuietHours

	every   time.Duration
	horizon time.Duration
	leads   []int
	channel string
	chatID  string
}

// CalendarWatcherConfig wires a watcher.
type CalendarWatcherConfig struct {
	Source       EventSource
	Store        *ProactiveStore
	Bus          *bus.MessageBus
	Recorder     Recorder
	Quiet        QuietHours
	EveryMinutes int
	HorizonMin   int
	LeadMinutes  []int
	Channel      string // delivery target; reminders are logged only when empty
	ChatID       string
}

func NewCalendarWatcher(cfg CalendarWatcherConfig) *CalendarWatcher {
	every := time.Duration(cfg.EveryMinutes) * time.Minute
	if every <= 0 {
		every = 5 * time.Minute
	}
	horizon := time.Duration(cfg.HorizonMin) * time.Minute
	if horizon <= 0 {
		horizon = 45 * time.Minute
	}
	return &CalendarWatcher{
		source:   cfg.Source,
		store:    cfg.Store,
		bus:      cfg.Bus,
		recorder: cfg.Recorder,
		quiet:    cfg.Quiet,
		every:    every,
		horizon:  horizon,
		leads:    cfg.LeadMinutes,
		channel:  cfg.Channel,
		chatID:   cfg.ChatID,
	}
}

// Start runs the scan loop until ctx cancellation.
func (w *CalendarWatcher) Start(ctx context.Context) {
	slog.Info("calendar watcher started", "every", w.every, "horizon", w.horizon, "leads", w.leads)
	ticker := time.NewTicker(w.every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("calendar watcher stopped")
			return
		case <-ticker.C:
			w.scan(ctx)
		}
	}
}

func (w *CalendarWatcher) scan(ctx context.Context) {
	events, err := w.source.UpcomingEvents(ctx, w.horizon)
	if err != nil {
		slog.Warn("calendar fetch failed", "error", err)
		w.recorder.RecordCron("calendar_watch", true, err)
		return
	}
	if len(events) == 0 {
		return
	}

	// The scan window matches the tick interval so a reminder lands on
	// exactly one tick.
	due, err := w.store.DueReminders(events, w.leads, w.every)
	if err != nil {
		slog.Warn("reminder computation failed", "error", err)
		w.recorder.RecordCron("calendar_watch", true, err)
		return
	}

	for _, r := range due {
		if w.quiet.IsQuiet(time.Now()) {
			slog.Info("reminder suppressed by quiet hours", "key", r.Key)
			continue
		}
		w.deliver(r)
		w.recorder.RecordCron("calendar_watch", true, nil)
	}
}

func (w *CalendarWatcher) deliver(r Reminder) {
	text := fmt.Sprintf("Reminder: \"%s\" starts in %d minutes (%s).",
		r.Event.Summary, r.LeadMinutes, r.Event.Start.Local().Format("15:04"))
	if w.channel == "" || w.chatID == "" {
		slog.Info("calendar reminder (no delivery target configured)", "text", text)
		return
	}
	w.bus.PublishOutbound(bus.OutboundMessage{
		Channel: w.channel,
		ChatID:  w.chatID,
		Content: text,
		Metadata: map[string]string{
			bus.MetaIdempotencyKey: "reminder:" + r.Key,
		},
	})
}
