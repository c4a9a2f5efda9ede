package providers

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gema-dev/gema/internal/config"
)

// Route is the resolved destination for a given model string.
type Route struct {
	Mode           string // "proxy" or "direct" after resolution
	Provider       string
	APIKey         string
	APIBase        string
	Model          string
	ExtraHeaders   map[string]string
	FallbackModels []string
}

// Known direct provider endpoints, used when the config entry omits apiBase.
var providerBases = map[string]string{
	"openai":     "https://api.openai.com/v1",
	"anthropic":  "https://api.anthropic.com/v1",
	"openrouter": "https://openrouter.ai/api/v1",
	"groq":       "https://api.groq.com/openai/v1",
	"deepseek":   "https://api.deepseek.com/v1",
	"gemini":     "https://generativelanguage.googleapis.com/v1beta/openai",
}

// Model prefixes that hint at a provider ("openai/gpt-4.1" style).
var providerPrefixes = []string{"openai", "anthropic", "openrouter", "groq", "deepseek", "gemini"}

// Router resolves model strings to provider routes.
type Router struct {
	routing   config.RoutingConfig
	providers map[string]config.ProviderConfig
}

func NewRouter(routing config.RoutingConfig, providers map[string]config.ProviderConfig) *Router {
	return &Router{routing: routing, providers: providers}
}

// Resolve maps a model string to a Route. Mode "proxy" targets the local
// OpenAI-compatible gateway; "direct" infers the provider from a model
// prefix or explicit provider name; "auto" prefers the proxy when one is
// configured and the model carries no provider prefix.
func (r *Router) Resolve(model string) (Route, error) {
	mode := r.routing.Mode
	if mode == "" {
		mode = "auto"
	}

	prefix, bare := splitModelPrefix(model)

	if mode == "proxy" || (mode == "auto" && r.routing.ProxyBase != "" && prefix == "") {
		return Route{
			Mode:           "proxy",
			Provider:       "proxy",
			APIBase:        r.routing.ProxyBase,
			Model:          model,
			FallbackModels: r.routing.FallbackModels,
		}, nil
	}

	name := prefix
	if name == "" {
		name = inferProvider(model)
	}
	if name == "" {
		name = r.firstConfiguredProvider()
	}
	if name == "" {
		return Route{}, fmt.Errorf("no provider configured for model %q", model)
	}

	pc, ok := r.providers[name]
	if !ok || pc.APIKey == "" {
		return Route{}, fmt.Errorf("provider %q has no API key", name)
	}

	base := pc.APIBase
	if base == "" {
		base = providerBases[name]
	}

	return Route{
		Mode:           "direct",
		Provider:       name,
		APIKey:         pc.APIKey,
		APIBase:        base,
		Model:          bare,
		ExtraHeaders:   pc.ExtraHeaders,
		FallbackModels: r.routing.FallbackModels,
	}, nil
}

// ProviderFor builds a Provider client for the given route.
func ProviderFor(route Route) Provider {
	return NewOpenAIClient(route.Provider, route.APIKey, route.APIBase, route.Model, route.ExtraHeaders)
}

func splitModelPrefix(model string) (prefix, bare string) {
	if idx := strings.IndexByte(model, '/'); idx > 0 {
		p := model[:idx]
		for _, known := range providerPrefixes {
			if p == known {
				return p, model[idx+1:]
			}
		}
	}
	return "", model
}

// inferProvider guesses the provider from well-known model name shapes.
func inferProvider(model string) string {
	low := strings.ToLower(model)
	switch {
	case strings.HasPrefix(low, "claude"):
		return "anthropic"
	case strings.HasPrefix(low, "gpt") || strings.HasPrefix(low, "o1") || strings.HasPrefix(low, "o3"):
		return "openai"
	case strings.HasPrefix(low, "gemini"):
		return "gemini"
	case strings.HasPrefix(low, "deepseek"):
		return "deepseek"
	case strings.HasPrefix(low, "llama") || strings.HasPrefix(low, "mixtral"):
		return "groq"
	}
	return ""
}

// firstConfiguredProvider returns the first provider with an API key,
// in stable name order.
func (r *Router) firstConfiguredProvider() string {
	names := make([]string, 0, len(r.providers))
	for name, pc := range r.providers {
		if pc.APIKey != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	if len(names) == 0 {
		return ""
	}
	return names[0]
}
