package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gema-dev/gema/internal/agent"
	"github.com/gema-dev/gema/internal/bus"
	"github.com/gema-dev/gema/internal/channels"
	"github.com/gema-dev/gema/internal/channels/discord"
	"github.com/gema-dev/gema/internal/channels/email"
	"github.com/gema-dev/gema/internal/channels/feishu"
	"github.com/gema-dev/gema/internal/channels/slack"
	"github.com/gema-dev/gema/internal/channels/telegram"
	"github.com/gema-dev/gema/internal/channels/whatsapp"
	"github.com/gema-dev/gema/internal/checkpoint"
	"github.com/gema-dev/gema/internal/config"
	"github.com/gema-dev/gema/internal/cron"
	"github.com/gema-dev/gema/internal/memory"
	"github.com/gema-dev/gema/internal/metrics"
	"github.com/gema-dev/gema/internal/plugins"
	"github.com/gema-dev/gema/internal/providers"
	"github.com/gema-dev/gema/internal/sessions"
	"github.com/gema-dev/gema/internal/tools"
)

// compiledPlugins is the plugin set linked into this binary. Empty by
// default; forks append here.
var compiledPlugins []plugins.Plugin

func runGateway() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	dataDir := config.DataDir()
	paths := map[string]string{
		"memory":   filepath.Join(dataDir, "memory"),
		"sessions": filepath.Join(dataDir, "sessions"),
		"tasks":    filepath.Join(dataDir, "state", "tasks"),
		"metrics":  filepath.Join(dataDir, "state", "metrics"),
		"media":    filepath.Join(dataDir, "media"),
	}
	for _, dir := range paths {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			slog.Error("failed to create data directory", "dir", dir, "error", err)
			os.Exit(1)
		}
	}
	if err := os.MkdirAll(cfg.Agents.Defaults.Workspace, 0o755); err != nil {
		slog.Error("failed to create workspace", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Hot reload: env overrides reapply on every change.
	go func() {
		if err := config.Watch(ctx, cfgPath, cfg, func(next *config.Config) {
			slog.Info("config reloaded")
		}); err != nil {
			slog.Warn("config watcher unavailable", "error", err)
		}
	}()

	messageBus := bus.New()

	router := providers.NewRouter(cfg.Agents.Defaults.Routing, cfg.Providers)
	provider := providers.NewFallbackProvider(router, cfg.Agents.Defaults.Model)

	memEngine, err := memory.NewEngine(paths["memory"])
	if err != nil {
		slog.Error("memory engine init failed", "error", err)
		os.Exit(1)
	}
	sessionMgr, err := sessions.NewManager(paths["sessions"])
	if err != nil {
		slog.Error("sessions init failed", "error", err)
		os.Exit(1)
	}
	checkpoints, err := checkpoint.NewStore(paths["tasks"])
	if err != nil {
		slog.Error("checkpoint store init failed", "error", err)
		os.Exit(1)
	}
	metricsStore, err := metrics.NewStore(paths["metrics"])
	if err != nil {
		slog.Error("metrics store init failed", "error", err)
		os.Exit(1)
	}
	cronStore, err := cron.NewStore(filepath.Join(dataDir, "jobs.json"))
	if err != nil {
		slog.Error("cron store init failed", "error", err)
		os.Exit(1)
	}

	policy := tools.NewPolicyEngine(&cfg.Tools)
	registry := buildRegistry(cfg, messageBus, memEngine, metricsStore, cronStore, paths["media"])

	loop := agent.NewLoop(agent.Config{
		Provider:    provider,
		Defaults:    cfg.Agents.Defaults,
		ToolsCfg:    &cfg.Tools,
		Bus:         messageBus,
		Sessions:    sessionMgr,
		Memory:      memEngine,
		Registry:    registry,
		Policy:      policy,
		Checkpoints: checkpoints,
		Metrics:     metricsStore,
	})
	registry.Register(tools.NewSpawnTool(loop))

	manager := channels.NewManager(messageBus)
	registerChannels(cfg, messageBus, manager, paths["media"])

	host := plugins.NewHost(registry, manager)
	if err := plugins.Validate(compiledPlugins); err != nil {
		slog.Error("plugin validation failed", "error", err)
		os.Exit(1)
	}
	plugins.Load(cfg.Tools.Plugins, host, compiledPlugins)

	quiet := cron.QuietHours{
		Enabled:  cfg.Proactive.QuietHours.Enabled,
		Start:    cfg.Proactive.QuietHours.Start,
		End:      cfg.Proactive.QuietHours.End,
		Timezone: cfg.Proactive.QuietHours.Timezone,
	}
	cronEngine := cron.NewEngine(cronStore, messageBus, loop, metricsStore, quiet)

	// Interrupted runs from a previous process are taken over as their
	// sessions see new traffic; log them so the operator knows.
	if running, err := checkpoints.Running(); err == nil && len(running) > 0 {
		slog.Warn("found interrupted agent runs from previous start", "count", len(running))
	}

	go loop.Start(ctx)
	go cronEngine.Start(ctx)
	manager.StartAll(ctx)

	startCalendarWatcher(ctx, cfg, messageBus, metricsStore, quiet, dataDir)

	if cfg.Gateway.Port > 0 {
		server := metrics.NewServer(metricsStore)
		addr := fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port)
		go func() {
			if err := server.Start(ctx, addr); err != nil {
				slog.Warn("metrics server failed", "addr", addr, "error", err)
			}
		}()
	}

	slog.Info("gema gateway running",
		"data_dir", dataDir,
		"model", cfg.Agents.Defaults.Model,
		"channels", manager.Names(),
		"tools", len(registry.List()),
	)

	<-ctx.Done()
	slog.Info("shutting down")
	manager.StopAll()
	time.Sleep(200 * time.Millisecond) // let in-flight log lines land
}

// buildRegistry registers the built-in tool set. Conditional tools
// register only when configured; their constructors return nil otherwise.
func buildRegistry(cfg *config.Config, messageBus *bus.MessageBus, memEngine *memory.Engine,
	metricsStore *metrics.Store, cronStore *cron.Store, mediaDir string) *tools.Registry {

	registry := tools.NewRegistry()
	ws := cfg.Agents.Defaults.Workspace
	restrict := cfg.Tools.RestrictToWorkspace

	registry.Register(tools.NewReadFileTool(ws, restrict))
	registry.Register(tools.NewWriteFileTool(ws, restrict))
	registry.Register(tools.NewEditFileTool(ws, restrict))
	registry.Register(tools.NewListFilesTool(ws, restrict))
	registry.Register(tools.NewExecTool(ws, cfg.Tools.Exec.Timeout))

	registry.Register(tools.NewWebSearchTool(cfg.Tools.Web.Search.APIKey, cfg.Tools.Web.Search.MaxResults))
	registry.Register(tools.NewWebFetchTool())
	registry.Register(tools.NewBrowserTool(
		cfg.Tools.Browser.AllowDomains,
		cfg.Tools.Browser.DenyDomains,
		cfg.Tools.Browser.TimeoutSeconds,
		cfg.Tools.Browser.MaxHTMLChars,
		mediaDir,
	))

	registry.Register(tools.NewMessageTool(messageBus))
	registry.Register(tools.NewCronTool(cronStore))

	registry.Register(tools.NewRememberTool(memEngine))
	registry.Register(tools.NewRecallTool(memEngine, metricsStore))
	registry.Register(tools.NewUpdateProfileTool(memEngine))
	registry.Register(tools.NewLogFeedbackTool(memEngine))

	registry.Register(tools.NewCreateICSTool(ws))

	if t := tools.NewSlackWebhookTool(cfg.Integrations.Slack.WebhookURL); t != nil {
		registry.Register(t)
	}
	if t := tools.NewSendEmailTool(cfg.Integrations.SMTP); t != nil {
		registry.Register(t)
	}
	if t := tools.NewGoogleTool(&cfg.Integrations.Google); t != nil {
		registry.Register(t)
	}

	return registry
}

// registerChannels constructs every configured channel. A misconfigured
// channel logs and is skipped; the gateway still starts.
func registerChannels(cfg *config.Config, messageBus *bus.MessageBus, manager *channels.Manager, mediaDir string) {
	if ch, err := telegram.New(cfg.Channels.Telegram, messageBus, mediaDir); err != nil {
		slog.Error("telegram channel init failed", "error", err)
	} else if ch != nil {
		manager.Register(ch)
	}
	if ch, err := whatsapp.New(cfg.Channels.WhatsApp, messageBus, mediaDir); err != nil {
		slog.Error("whatsapp channel init failed", "error", err)
	} else if ch != nil {
		manager.Register(ch)
	}
	if ch, err := discord.New(cfg.Channels.Discord, messageBus, mediaDir); err != nil {
		slog.Error("discord channel init failed", "error", err)
	} else if ch != nil {
		manager.Register(ch)
	}
	if ch, err := slack.New(cfg.Channels.Slack, messageBus); err != nil {
		slog.Error("slack channel init failed", "error", err)
	} else if ch != nil {
		manager.Register(ch)
	}
	if ch, err := feishu.New(cfg.Channels.Feishu, messageBus); err != nil {
		slog.Error("feishu channel init failed", "error", err)
	} else if ch != nil {
		manager.Register(ch)
	}
	if ch, err := email.New(cfg.Channels.Email, cfg.Integrations.SMTP, messageBus); err != nil {
		slog.Error("email channel init failed", "error", err)
	} else if ch != nil {
		manager.Register(ch)
	}
}

// startCalendarWatcher wires proactive calendar reminders when the
// feature and the Google integration are both configured.
func startCalendarWatcher(ctx context.Context, cfg *config.Config, messageBus *bus.MessageBus,
	metricsStore *metrics.Store, quiet cron.QuietHours, dataDir string) {

	if !cfg.Proactive.CalendarWatchEnabled {
		return
	}
	source := tools.NewGoogleTool(&cfg.Integrations.Google)
	if source == nil {
		slog.Warn("calendar watch enabled but google integration is not configured")
		return
	}

	watcher := cron.NewCalendarWatcher(cron.CalendarWatcherConfig{
		Source:       source,
		Store:        cron.NewProactiveStore(filepath.Join(dataDir, "state", "proactive-state.json")),
		Bus:          messageBus,
		Recorder:     metricsStore,
		Quiet:        quiet,
		EveryMinutes: cfg.Proactive.CalendarWatchEveryMinutes,
		HorizonMin:   cfg.Proactive.CalendarWatchHorizonMinutes,
		LeadMinutes:  cfg.Proactive.CalendarWatchLeadMinutes,
		Channel:      cfg.Proactive.ReminderChannel,
		ChatID:       cfg.Proactive.ReminderChatID,
	})
	go watcher.Start(ctx)
}
