// Package plugins provides the startup-time extension seam. A plugin is a
// Go value compiled into the binary; the host applies allow/deny config
// and lets accepted plugins register tools, channels, and providers.
// There is no dynamic loading.
package plugins

import (
	"fmt"
	"log/slog"

	"github.com/gema-dev/gema/internal/channels"
	"github.com/gema-dev/gema/internal/config"
	"github.com/gema-dev/gema/internal/providers"
	"github.com/gema-dev/gema/internal/tools"
)

// Plugin is implemented by compiled-in extensions.
type Plugin interface {
	Name() string
	Register(host *Host) error
}

// Host is what a plugin registers against.
type Host struct {
	tools     *tools.Registry
	channels  *channels.Manager
	providers map[string]providers.Provider
}

func NewHost(toolReg *tools.Registry, chanMgr *channels.Manager) *Host {
	return &Host{
		tools:     toolReg,
		channels:  chanMgr,
		providers: make(map[string]providers.Provider),
	}
}

// AddTool registers a tool in the shared registry.
func (h *Host) AddTool(t tools.Tool) {
	h.tools.Register(t)
}

// AddChannel registers a channel with the manager.
func (h *Host) AddChannel(c channels.Channel) {
	h.channels.Register(c)
}

// AddProvider exposes an extra model provider by name.
func (h *Host) AddProvider(name string, p providers.Provider) {
	if name == "" || p == nil {
		return
	}
	h.providers[name] = p
}

// Provider returns a plugin-registered provider, if any.
func (h *Host) Provider(name string) (providers.Provider, bool) {
	p, ok := h.providers[name]
	return p, ok
}

// Load applies allow/deny config and registers each accepted plugin. A
// failing plugin is skipped with an error log; it never aborts startup.
func Load(cfg config.PluginsConfig, host *Host, available []Plugin) []string {
	if !cfg.Enabled {
		return nil
	}

	var loaded []string
	for _, p := range available {
		if p == nil {
			continue
		}
		name := p.Name()
		if !accepted(cfg, name) {
			slog.Debug("plugin filtered by config", "plugin", name)
			continue
		}
		if err := p.Register(host); err != nil {
			slog.Error("plugin registration failed", "plugin", name, "error", err)
			continue
		}
		slog.Info("plugin loaded", "plugin", name)
		loaded = append(loaded, name)
	}
	return loaded
}

// accepted applies deny-then-allow filtering: deny always wins; an empty
// allow list accepts everything not denied.
func accepted(cfg config.PluginsConfig, name string) bool {
	for _, d := range cfg.Deny {
		if d == name {
			return false
		}
	}
	if len(cfg.Allow) == 0 {
		return true
	}
	for _, a := range cfg.Allow {
		if a == name {
			return true
		}
	}
	return false
}

// Validate checks a plugin set for duplicate names before loading.
func Validate(available []Plugin) error {
	seen := map[string]bool{}
	for _, p := range available {
		if p == nil {
			continue
		}
		if seen[p.Name()] {
			return fmt.Errorf("duplicate plugin name %q", p.Name())
		}
		seen[p.Name()] = true
	}
	return nil
}
