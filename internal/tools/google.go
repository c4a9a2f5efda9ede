package tools

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gema-dev/gema/internal/config"
	"github.com/gema-dev/gema/internal/cron"
)

const googleTokenEndpoint = "https://oauth2.googleapis.com/token"

// Error classifications surfaced to the model so it can explain the
// problem instead of retrying blindly.
const (
	googleErrExpiredGrant      = "google account needs re-authorization (refresh token expired or revoked)"
	googleErrInsufficientScope = "google account lacks the OAuth scope for this operation"
)

// googleTokenCache holds the current access token and refreshes it from
// the refresh token when needed.
type googleTokenCache struct {
	mu          sync.Mutex
	cfg         *config.GoogleIntegration
	accessToken string
	expiresAt   time.Time
	client      *http.Client
}

func newGoogleTokenCache(cfg *config.GoogleIntegration, client *http.Client) *googleTokenCache {
	return &googleTokenCache{cfg: cfg, accessToken: cfg.AccessToken, client: client}
}

// token returns a usable access token, refreshing when the cached one is
// missing or near expiry.
func (c *googleTokenCache) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accessToken != "" && time.Now().Before(c.expiresAt.Add(-30*time.Second)) {
		return c.accessToken, nil
	}
	return c.refreshLocked(ctx)
}

// forceRefresh drops the cached token and fetches a fresh one.
func (c *googleTokenCache) forceRefresh(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshLocked(ctx)
}

func (c *googleTokenCache) refreshLocked(ctx context.Context) (string, error) {
	if c.cfg.RefreshToken == "" {
		if c.accessToken != "" {
			return c.accessToken, nil
		}
		return "", fmt.Errorf("no google refresh token configured")
	}

	form := url.Values{
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
		"refresh_token": {c.cfg.RefreshToken},
		"grant_type":    {"refresh_token"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, googleTokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("token refresh: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode != http.StatusOK {
		if strings.Contains(string(body), "invalid_grant") {
			return "", fmt.Errorf("%s", googleErrExpiredGrant)
		}
		return "", fmt.Errorf("token refresh status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("parse token response: %w", err)
	}
	c.accessToken = parsed.AccessToken
	c.expiresAt = time.Now().Add(time.Duration(parsed.ExpiresIn) * time.Second)
	return c.accessToken, nil
}

// GoogleTool exposes Gmail, Calendar, Drive, and Contacts over their
// REST APIs with a shared token cache.
type GoogleTool struct {
	cfg    *config.GoogleIntegration
	tokens *googleTokenCache
	client *http.Client
}

// NewGoogleTool returns nil when no Google credentials are configured.
func NewGoogleTool(cfg *config.GoogleIntegration) *GoogleTool {
	if cfg == nil || (cfg.RefreshToken == "" && cfg.AccessToken == "") {
		return nil
	}
	client := &http.Client{Timeout: 30 * time.Second}
	return &GoogleTool{cfg: cfg, tokens: newGoogleTokenCache(cfg, client), client: client}
}

func (t *GoogleTool) Name() string { return "google" }

func (t *GoogleTool) Description() string {
	return "Access the linked Google account: list or send Gmail, list or create Calendar events, search Drive files, list Contacts."
}

func (t *GoogleTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"action": map[string]interface{}{
				"type": "string",
				"enum": []string{
					"gmail_list", "gmail_send",
					"calendar_list", "calendar_create",
					"drive_search", "contacts_list",
				},
				"description": "Operation to perform.",
			},
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Search query (gmail_list, drive_search).",
			},
			"to": map[string]interface{}{
				"type":        "string",
				"description": "Recipient for gmail_send.",
			},
			"subject": map[string]interface{}{
				"type":        "string",
				"description": "Subject for gmail_send.",
			},
			"body": map[string]interface{}{
				"type":        "string",
				"description": "Body for gmail_send.",
			},
			"summary": map[string]interface{}{
				"type":        "string",
				"description": "Event title for calendar_create.",
			},
			"start": map[string]interface{}{
				"type":        "string",
				"description": "Event start RFC3339 for calendar_create.",
			},
			"end": map[string]interface{}{
				"type":        "string",
				"description": "Event end RFC3339 for calendar_create.",
			},
		},
		"required": []string{"action"},
	}
}

func (t *GoogleTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	action, _ := args["action"].(string)
	switch action {
	case "gmail_list":
		query, _ := args["query"].(string)
		return t.gmailList(ctx, query)
	case "gmail_send":
		return t.gmailSend(ctx, args)
	case "calendar_list":
		return t.calendarList(ctx)
	case "calendar_create":
		return t.calendarCreate(ctx, args)
	case "drive_search":
		query, _ := args["query"].(string)
		return t.driveSearch(ctx, query)
	case "contacts_list":
		return t.contactsList(ctx)
	default:
		return ErrorResult(fmt.Sprintf("unknown google action: %s", action))
	}
}

// apiCall performs an authorized request with one refresh-and-retry on 401.
func (t *GoogleTool) apiCall(ctx context.Context, method, apiURL string, payload interface{}) ([]byte, error) {
	token, err := t.tokens.token(ctx)
	if err != nil {
		return nil, err
	}

	body, status, err := t.doOnce(ctx, method, apiURL, payload, token)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized {
		token, err = t.tokens.forceRefresh(ctx)
		if err != nil {
			return nil, err
		}
		body, status, err = t.doOnce(ctx, method, apiURL, payload, token)
		if err != nil {
			return nil, err
		}
	}

	if status >= 400 {
		if strings.Contains(string(body), "ACCESS_TOKEN_SCOPE_INSUFFICIENT") {
			return nil, fmt.Errorf("%s", googleErrInsufficientScope)
		}
		if strings.Contains(string(body), "invalid_grant") {
			return nil, fmt.Errorf("%s", googleErrExpiredGrant)
		}
		return nil, fmt.Errorf("google api status %d: %s", status, truncate(string(body), 300))
	}
	return body, nil
}

func (t *GoogleTool) doOnce(ctx context.Context, method, apiURL string, payload interface{}, token string) ([]byte, int, error) {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, err
		}
		reqBody = strings.NewReader(string(data))
	}
	req, err := http.NewRequestWithContext(ctx, method, apiURL, reqBody)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 2*1024*1024))
	return body, resp.StatusCode, err
}

func (t *GoogleTool) gmailList(ctx context.Context, query string) *Result {
	apiURL := "https://gmail.googleapis.com/gmail/v1/users/me/messages?maxResults=10"
	if query != "" {
		apiURL += "&q=" + url.QueryEscape(query)
	}
	body, err := t.apiCall(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return ErrorResult(err.Error())
	}

	var list struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		return ErrorResult(fmt.Sprintf("parse message list: %v", err))
	}
	if len(list.Messages) == 0 {
		return NewResult("no messages found")
	}

	var sb strings.Builder
	for _, m := range list.Messages {
		detail, err := t.apiCall(ctx, http.MethodGet,
			"https://gmail.googleapis.com/gmail/v1/users/me/messages/"+m.ID+"?format=metadata&metadataHeaders=From&metadataHeaders=Subject&metadataHeaders=Date", nil)
		if err != nil {
			continue
		}
		var msg struct {
			Snippet string `json:"snippet"`
			Payload struct {
				Headers []struct {
					Name  string `json:"name"`
					Value string `json:"value"`
				} `json:"headers"`
			} `json:"payload"`
		}
		if err := json.Unmarshal(detail, &msg); err != nil {
			continue
		}
		from, subject := "", ""
		for _, h := range msg.Payload.Headers {
			switch h.Name {
			case "From":
				from = h.Value
			case "Subject":
				subject = h.Value
			}
		}
		fmt.Fprintf(&sb, "- %s | %s\n  %s\n", from, subject, truncate(msg.Snippet, 150))
	}
	return NewResult(sb.String())
}

func (t *GoogleTool) gmailSend(ctx context.Context, args map[string]interface{}) *Result {
	to, _ := args["to"].(string)
	subject, _ := args["subject"].(string)
	body, _ := args["body"].(string)
	if to == "" || subject == "" {
		return ErrorResult("to and subject are required")
	}

	raw := fmt.Sprintf("To: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s", to, subject, body)
	payload := map[string]string{"raw": base64.URLEncoding.EncodeToString([]byte(raw))}

	if _, err := t.apiCall(ctx, http.MethodPost,
		"https://gmail.googleapis.com/gmail/v1/users/me/messages/send", payload); err != nil {
		return ErrorResult(err.Error())
	}
	return NewResult("email sent to " + to)
}

func (t *GoogleTool) calendarList(ctx context.Context) *Result {
	calendarID := t.cfg.CalendarID
	if calendarID == "" {
		calendarID = "primary"
	}
	now := time.Now().UTC()
	apiURL := fmt.Sprintf(
		"https://www.googleapis.com/calendar/v3/calendars/%s/events?timeMin=%s&timeMax=%s&singleEvents=true&orderBy=startTime&maxResults=20",
		url.PathEscape(calendarID),
		url.QueryEscape(now.Format(time.RFC3339)),
		url.QueryEscape(now.AddDate(0, 0, 7).Format(time.RFC3339)),
	)
	body, err := t.apiCall(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return ErrorResult(err.Error())
	}

	var list struct {
		Items []struct {
			ID      string `json:"id"`
			Summary string `json:"summary"`
			Start   struct {
				DateTime string `json:"dateTime"`
				Date     string `json:"date"`
			} `json:"start"`
		} `json:"items"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		return ErrorResult(fmt.Sprintf("parse events: %v", err))
	}
	if len(list.Items) == 0 {
		return NewResult("no upcoming events in the next 7 days")
	}
	var sb strings.Builder
	for _, ev := range list.Items {
		start := ev.Start.DateTime
		if start == "" {
			start = ev.Start.Date
		}
		fmt.Fprintf(&sb, "- %s: %s\n", start, ev.Summary)
	}
	return NewResult(sb.String())
}

// UpcomingEvents returns structured events starting within the horizon.
// The calendar watcher uses this for proactive reminders.
func (t *GoogleTool) UpcomingEvents(ctx context.Context, horizon time.Duration) ([]cron.CalendarEvent, error) {
	calendarID := t.cfg.CalendarID
	if calendarID == "" {
		calendarID = "primary"
	}
	now := time.Now().UTC()
	apiURL := fmt.Sprintf(
		"https://www.googleapis.com/calendar/v3/calendars/%s/events?timeMin=%s&timeMax=%s&singleEvents=true&orderBy=startTime&maxResults=50",
		url.PathEscape(calendarID),
		url.QueryEscape(now.Format(time.RFC3339)),
		url.QueryEscape(now.Add(horizon).Format(time.RFC3339)),
	)
	body, err := t.apiCall(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, err
	}

	var list struct {
		Items []struct {
			ID      string `json:"id"`
			Summary string `json:"summary"`
			Start   struct {
				DateTime string `json:"dateTime"`
			} `json:"start"`
		} `json:"items"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("parse events: %w", err)
	}

	var out []cron.CalendarEvent
	for _, item := range list.Items {
		// All-day events have no dateTime and get no lead-time reminders.
		start, err := time.Parse(time.RFC3339, item.Start.DateTime)
		if err != nil {
			continue
		}
		out = append(out, cron.CalendarEvent{ID: item.ID, Summary: item.Summary, Start: start})
	}
	return out, nil
}

func (t *GoogleTool) calendarCreate(ctx context.Context, args map[string]interface{}) *Result {
	summary, _ := args["summary"].(string)
	start, _ := args["start"].(string)
	end, _ := args["end"].(string)
	if summary == "" || start == "" {
		return ErrorResult("summary and start are required")
	}
	if end == "" {
		if st, err := time.Parse(time.RFC3339, start); err == nil {
			end = st.Add(time.Hour).Format(time.RFC3339)
		}
	}

	calendarID := t.cfg.CalendarID
	if calendarID == "" {
		calendarID = "primary"
	}
	payload := map[string]interface{}{
		"summary": summary,
		"start":   map[string]string{"dateTime": start},
		"end":     map[string]string{"dateTime": end},
	}
	if _, err := t.apiCall(ctx, http.MethodPost,
		"https://www.googleapis.com/calendar/v3/calendars/"+url.PathEscape(calendarID)+"/events", payload); err != nil {
		return ErrorResult(err.Error())
	}
	return NewResult(fmt.Sprintf("event created: %s at %s", summary, start))
}

func (t *GoogleTool) driveSearch(ctx context.Context, query string) *Result {
	if query == "" {
		return ErrorResult("query is required")
	}
	q := fmt.Sprintf("name contains '%s' and trashed = false", strings.ReplaceAll(query, "'", `\'`))
	apiURL := "https://www.googleapis.com/drive/v3/files?pageSize=15&fields=files(id,name,mimeType,modifiedTime)&q=" + url.QueryEscape(q)
	body, err := t.apiCall(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return ErrorResult(err.Error())
	}

	var list struct {
		Files []struct {
			Name         string `json:"name"`
			MimeType     string `json:"mimeType"`
			ModifiedTime string `json:"modifiedTime"`
		} `json:"files"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		return ErrorResult(fmt.Sprintf("parse file list: %v", err))
	}
	if len(list.Files) == 0 {
		return NewResult("no files found")
	}
	var sb strings.Builder
	for _, f := range list.Files {
		fmt.Fprintf(&sb, "- %s (%s, modified %s)\n", f.Name, f.MimeType, f.ModifiedTime)
	}
	return NewResult(sb.String())
}

func (t *GoogleTool) contactsList(ctx context.Context) *Result {
	apiURL := "https://people.googleapis.com/v1/people/me/connections?personFields=names,emailAddresses&pageSize=30"
	body, err := t.apiCall(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return ErrorResult(err.Error())
	}

	var list struct {
		Connections []struct {
			Names []struct {
				DisplayName string `json:"displayName"`
			} `json:"names"`
			EmailAddresses []struct {
				Value string `json:"value"`
			} `json:"emailAddresses"`
		} `json:"connections"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		return ErrorResult(fmt.Sprintf("parse contacts: %v", err))
	}
	if len(list.Connections) == 0 {
		return NewResult("no contacts found")
	}
	var sb strings.Builder
	for _, c := range list.Connections {
		name, email := "", ""
		if len(c.Names) > 0 {
			name = c.Names[0].DisplayName
		}
		if len(c.EmailAddresses) > 0 {
			email = c.EmailAddresses[0].Value
		}
		fmt.Fprintf(&sb, "- %s <%s>\n", name, email)
	}
	return NewResult(sb.String())
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
