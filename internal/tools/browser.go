package tools

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// sensitiveQueryParams are redacted before URLs are echoed back to the
// model or logged.
var sensitiveQueryParams = map[string]bool{
	"token": true, "access_token": true, "api_key": true, "apikey": true,
	"key": true, "secret": true, "password": true, "auth": true,
	"session": true, "sid": true, "code": true,
}

// BrowserTool drives a headless browser session. The session is stateful
// across calls: open once, then snapshot/click/type/extract against the
// current page.
type BrowserTool struct {
	allowDomains []string
	denyDomains  []string
	timeout      time.Duration
	maxHTMLChars int
	shotDir      string

	mu      sync.Mutex
	browser *rod.Browser
	page    *rod.Page
}

func NewBrowserTool(allowDomains, denyDomains []string, timeoutSeconds, maxHTMLChars int, shotDir string) *BrowserTool {
	if timeoutSeconds <= 0 {
		timeoutSeconds = 30
	}
	if maxHTMLChars <= 0 {
		maxHTMLChars = 60000
	}
	return &BrowserTool{
		allowDomains: allowDomains,
		denyDomains:  denyDomains,
		timeout:      time.Duration(timeoutSeconds) * time.Second,
		maxHTMLChars: maxHTMLChars,
		shotDir:      shotDir,
	}
}

func (t *BrowserTool) Name() string { return "browser" }

func (t *BrowserTool) Description() string {
	return "Control a headless browser: open a URL, snapshot visible text, click elements, type into fields, extract by selector, or take a screenshot. State persists across calls."
}

func (t *BrowserTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"action": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"open", "snapshot", "click", "type", "extract", "screenshot", "close"},
				"description": "Browser action to perform.",
			},
			"url": map[string]interface{}{
				"type":        "string",
				"description": "URL for the open action.",
			},
			"selector": map[string]interface{}{
				"type":        "string",
				"description": "CSS selector for click, type, and extract.",
			},
			"text": map[string]interface{}{
				"type":        "string",
				"description": "Text for the type action.",
			},
		},
		"required": []string{"action"},
	}
}

func (t *BrowserTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	action, _ := args["action"].(string)

	t.mu.Lock()
	defer t.mu.Unlock()

	switch action {
	case "open":
		return t.open(args)
	case "snapshot":
		return t.withPage(func(p *rod.Page) *Result { return t.snapshot(p) })
	case "click":
		return t.withPage(func(p *rod.Page) *Result { return t.click(p, args) })
	case "type":
		return t.withPage(func(p *rod.Page) *Result { return t.typeText(p, args) })
	case "extract":
		return t.withPage(func(p *rod.Page) *Result { return t.extract(p, args) })
	case "screenshot":
		return t.withPage(func(p *rod.Page) *Result { return t.screenshot(p) })
	case "close":
		t.closeLocked()
		return NewResult("browser closed")
	default:
		return ErrorResult(fmt.Sprintf("unknown browser action: %s", action))
	}
}

func (t *BrowserTool) withPage(fn func(*rod.Page) *Result) *Result {
	if t.page == nil {
		return ErrorResult("no page open; use the open action first")
	}
	return fn(t.page)
}

func (t *BrowserTool) open(args map[string]interface{}) *Result {
	raw, _ := args["url"].(string)
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return ErrorResult("a valid http(s) url is required")
	}
	if !t.hostAllowed(u.Hostname()) {
		return ErrorResult(fmt.Sprintf("domain not allowed: %s", u.Hostname()))
	}

	if t.browser == nil {
		controlURL, err := launcher.New().Headless(true).Launch()
		if err != nil {
			return ErrorResult(fmt.Sprintf("launch browser: %v", err))
		}
		b := rod.New().ControlURL(controlURL)
		if err := b.Connect(); err != nil {
			return ErrorResult(fmt.Sprintf("connect browser: %v", err))
		}
		t.browser = b
	}

	if t.page == nil {
		page, err := t.browser.Page(proto.TargetCreateTarget{})
		if err != nil {
			return ErrorResult(fmt.Sprintf("create page: %v", err))
		}
		t.page = page
	}

	page := t.page.Timeout(t.timeout)
	if err := page.Navigate(raw); err != nil {
		return ErrorResult(fmt.Sprintf("navigate failed: %v", err))
	}
	if err := page.WaitLoad(); err != nil {
		slog.Debug("browser page load wait incomplete", "url", RedactURL(raw), "error", err)
	}
	return NewResult("opened " + RedactURL(raw))
}

func (t *BrowserTool) snapshot(p *rod.Page) *Result {
	page := p.Timeout(t.timeout)
	info, err := page.Info()
	if err != nil {
		return ErrorResult(fmt.Sprintf("page info: %v", err))
	}
	body, err := page.Element("body")
	if err != nil {
		return ErrorResult(fmt.Sprintf("page body: %v", err))
	}
	text, err := body.Text()
	if err != nil {
		return ErrorResult(fmt.Sprintf("read text: %v", err))
	}
	if len(text) > t.maxHTMLChars {
		text = text[:t.maxHTMLChars] + "\n[snapshot truncated]"
	}
	return NewResult(fmt.Sprintf("URL: %s\nTitle: %s\n\n%s", RedactURL(info.URL), info.Title, text))
}

func (t *BrowserTool) click(p *rod.Page, args map[string]interface{}) *Result {
	selector, _ := args["selector"].(string)
	if selector == "" {
		return ErrorResult("selector is required")
	}
	el, err := p.Timeout(t.timeout).Element(selector)
	if err != nil {
		return ErrorResult(fmt.Sprintf("element not found: %s", selector))
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return ErrorResult(fmt.Sprintf("click failed: %v", err))
	}
	return NewResult("clicked " + selector)
}

func (t *BrowserTool) typeText(p *rod.Page, args map[string]interface{}) *Result {
	selector, _ := args["selector"].(string)
	text, _ := args["text"].(string)
	if selector == "" {
		return ErrorResult("selector is required")
	}
	el, err := p.Timeout(t.timeout).Element(selector)
	if err != nil {
		return ErrorResult(fmt.Sprintf("element not found: %s", selector))
	}
	if err := el.Input(text); err != nil {
		return ErrorResult(fmt.Sprintf("type failed: %v", err))
	}
	return NewResult(fmt.Sprintf("typed %d chars into %s", len(text), selector))
}

func (t *BrowserTool) extract(p *rod.Page, args map[string]interface{}) *Result {
	selector, _ := args["selector"].(string)
	if selector == "" {
		return ErrorResult("selector is required")
	}
	els, err := p.Timeout(t.timeout).Elements(selector)
	if err != nil || len(els) == 0 {
		return ErrorResult(fmt.Sprintf("no elements match: %s", selector))
	}
	var sb strings.Builder
	for i, el := range els {
		if i >= 20 {
			sb.WriteString("[more elements omitted]\n")
			break
		}
		text, err := el.Text()
		if err != nil {
			continue
		}
		sb.WriteString(strings.TrimSpace(text))
		sb.WriteByte('\n')
	}
	out := sb.String()
	if len(out) > t.maxHTMLChars {
		out = out[:t.maxHTMLChars] + "\n[extract truncated]"
	}
	return NewResult(out)
}

func (t *BrowserTool) screenshot(p *rod.Page) *Result {
	data, err := p.Timeout(t.timeout).Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return ErrorResult(fmt.Sprintf("screenshot failed: %v", err))
	}
	if err := os.MkdirAll(t.shotDir, 0o755); err != nil {
		return ErrorResult(fmt.Sprintf("create screenshot dir: %v", err))
	}
	path := filepath.Join(t.shotDir, fmt.Sprintf("shot-%d.png", time.Now().UnixNano()))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return ErrorResult(fmt.Sprintf("write screenshot: %v", err))
	}
	return NewResult("screenshot saved: " + path)
}

func (t *BrowserTool) closeLocked() {
	if t.page != nil {
		_ = t.page.Close()
		t.page = nil
	}
	if t.browser != nil {
		_ = t.browser.Close()
		t.browser = nil
	}
}

// hostAllowed matches host suffixes: "example.com" covers the apex and
// all subdomains. Deny wins over allow; an empty allow list allows all.
func (t *BrowserTool) hostAllowed(host string) bool {
	host = strings.ToLower(host)
	for _, d := range t.denyDomains {
		if hostMatches(host, d) {
			return false
		}
	}
	if len(t.allowDomains) == 0 {
		return true
	}
	for _, d := range t.allowDomains {
		if hostMatches(host, d) {
			return true
		}
	}
	return false
}

func hostMatches(host, domain string) bool {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return false
	}
	return host == domain || strings.HasSuffix(host, "."+domain)
}

// RedactURL masks sensitive query parameter values.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	changed := false
	for key := range q {
		if sensitiveQueryParams[strings.ToLower(key)] {
			q.Set(key, "REDACTED")
			changed = true
		}
	}
	if changed {
		u.RawQuery = q.Encode()
	}
	return u.String()
}
