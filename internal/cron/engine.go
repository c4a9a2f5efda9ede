package cron

import (
	"context"
	"log/slog"
	"time"

	"github.com/gema-dev/gema/internal/bus"
)

// DirectRunner lets the engine self-ingest a job payload through the
// agent without a round-trip over the bus.
type DirectRunner interface {
	ProcessDirect(ctx context.Context, msg bus.InboundMessage) (string, error)
}

// Recorder receives run outcomes, usually the metrics store.
type Recorder interface {
	RecordCron(jobID string, proactive bool, err error)
}

// Engine drives the job store: a tick loop fires due jobs either onto
// the bus (delivered to a channel) or straight through the agent.
type Engine struct {
	store    *Store
	bus      *bus.MessageBus
	runner   DirectRunner
	recorder Recorder
	quiet    QuietHours
	interval time.Duration
	now      func() time.Time
}

func NewEngine(store *Store, mb *bus.MessageBus, runner DirectRunner, recorder Recorder, quiet QuietHours) *Engine {
	return &Engine{
		store:    store,
		bus:      mb,
		runner:   runner,
		recorder: recorder,
		quiet:    quiet,
		interval: 30 * time.Second,
		now:      time.Now,
	}
}

// Start runs the tick loop until ctx is cancelled.
func (e *Engine) Start(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	slog.Info("cron engine started", "interval", e.interval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("cron engine stopped")
			return
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

// tick fires every due job once and advances its schedule.
func (e *Engine) tick(ctx context.Context) {
	now := e.now()
	for _, job := range e.store.due(now) {
		err := e.runJob(ctx, job, now)
		if err != nil {
			slog.Warn("cron job failed", "job", job.Name, "error", err)
		}
		if e.recorder != nil {
			e.recorder.RecordCron(job.ID, job.Payload.Kind == KindDigest, err)
		}
		if err := e.store.markRun(job, now, err); err != nil {
			slog.Warn("cron store update failed", "job", job.Name, "error", err)
		}
	}
}

func (e *Engine) runJob(ctx context.Context, job *Job, now time.Time) error {
	// Proactive output is held during quiet hours; the schedule still
	// advances so the job fires at its next slot instead of piling up.
	if job.Deliver && e.quiet.IsQuiet(now) {
		slog.Debug("cron job suppressed by quiet hours", "job", job.Name)
		return nil
	}

	msg := bus.InboundMessage{
		Channel:  "system",
		SenderID: "cron",
		ChatID:   job.Channel + ":" + job.ChatID,
		Content:  job.Payload.Message,
		Metadata: map[string]string{"cron_job": job.Name, "kind": job.Payload.Kind},
	}

	if job.Deliver && e.runner != nil {
		reply, err := e.runner.ProcessDirect(ctx, msg)
		if err != nil {
			return err
		}
		if reply != "" {
			e.bus.PublishOutbound(bus.OutboundMessage{
				Channel: job.Channel,
				ChatID:  job.ChatID,
				Content: reply,
			})
		}
		return nil
	}

	// Self-ingest: the agent processes the synthetic message like any
	// other inbound; routing metadata decides where a reply goes.
	e.bus.PublishInbound(msg)
	return nil
}
