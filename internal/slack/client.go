package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

const defaultBaseURL = "https://slack.com/api"

// MaxMessageLen is the transport cap on a message body. Longer text is
// truncated before posting or updating.
const MaxMessageLen = 40000

const maxFileBytes int64 = 20 << 20 // 20 MiB

type Client struct {
	http     *http.Client
	baseURL  string
	botToken string
}

func New(httpClient *http.Client, baseURL, botToken string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	baseURL = strings.TrimSpace(strings.TrimRight(baseURL, "/"))
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		http:     httpClient,
		baseURL:  baseURL,
		botToken: strings.TrimSpace(botToken),
	}
}

// Truncate caps text at MaxMessageLen without splitting a rune.
func Truncate(text string) string {
	if len(text) <= MaxMessageLen {
		return text
	}
	cut := MaxMessageLen
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

type postMessageResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	TS    string `json:"ts,omitempty"`
}

// PostMessage posts text into the given channel/thread and returns the
// timestamp identifying the new message.
func (c *Client) PostMessage(ctx context.Context, channelID, text, threadTS string) (string, error) {
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return "", fmt.Errorf("channel_id is required")
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("text is required")
	}
	payload := map[string]string{
		"channel": channelID,
		"text":    Truncate(text),
	}
	if strings.TrimSpace(threadTS) != "" {
		payload["thread_ts"] = threadTS
	}
	var out postMessageResponse
	if err := c.callJSON(ctx, "/chat.postMessage", payload, &out); err != nil {
		return "", err
	}
	return out.TS, nil
}

// UpdateMessage replaces the body of an already-posted message in place.
func (c *Client) UpdateMessage(ctx context.Context, channelID, ts, text string) error {
	if strings.TrimSpace(channelID) == "" || strings.TrimSpace(ts) == "" {
		return fmt.Errorf("channel_id and ts are required")
	}
	payload := map[string]string{
		"channel": channelID,
		"ts":      ts,
		"text":    Truncate(text),
	}
	var out postMessageResponse
	return c.callJSON(ctx, "/chat.update", payload, &out)
}

type repliesResponse struct {
	OK       bool      `json:"ok"`
	Error    string    `json:"error,omitempty"`
	Messages []Message `json:"messages"`
}

// ListReplies fetches up to limit messages of a thread, oldest first.
func (c *Client) ListReplies(ctx context.Context, channelID, threadTS string, limit int) ([]Message, error) {
	if strings.TrimSpace(channelID) == "" || strings.TrimSpace(threadTS) == "" {
		return nil, fmt.Errorf("channel_id and thread_ts are required")
	}
	if limit <= 0 {
		limit = 20
	}
	q := url.Values{}
	q.Set("channel", channelID)
	q.Set("ts", threadTS)
	q.Set("limit", strconv.Itoa(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/conversations.replies?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	raw, status, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("slack conversations.replies http %d", status)
	}
	var out repliesResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode conversations.replies: %w", err)
	}
	if !out.OK {
		return nil, apiError("conversations.replies", out.Error)
	}
	return out.Messages, nil
}

// FetchFile downloads a private file URL with bearer auth and returns the
// raw bytes plus the declared content type.
func (c *Client) FetchFile(ctx context.Context, fileURL string) ([]byte, string, error) {
	if strings.TrimSpace(fileURL) == "" {
		return nil, "", fmt.Errorf("file url is required")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.botToken)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("fetch file http %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxFileBytes))
	if err != nil {
		return nil, "", err
	}
	return raw, resp.Header.Get("Content-Type"), nil
}

type authTestResponse struct {
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
	UserID string `json:"user_id,omitempty"`
	BotID  string `json:"bot_id,omitempty"`
	Team   string `json:"team,omitempty"`
}

// Identity is the bot's own identity as reported by auth.test.
type Identity struct {
	UserID string
	BotID  string
	Team   string
}

func (c *Client) AuthTest(ctx context.Context) (Identity, error) {
	var out authTestResponse
	if err := c.callJSON(ctx, "/auth.test", struct{}{}, &out); err != nil {
		return Identity{}, err
	}
	return Identity{
		UserID: strings.TrimSpace(out.UserID),
		BotID:  strings.TrimSpace(out.BotID),
		Team:   strings.TrimSpace(out.Team),
	}, nil
}

// OpenSocketURL requests a Socket Mode websocket URL. Requires an app-level
// token, not the bot token.
func (c *Client) OpenSocketURL(ctx context.Context, appToken string) (string, error) {
	if strings.TrimSpace(appToken) == "" {
		return "", fmt.Errorf("slack app token is required")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/apps.connections.open", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(appToken))
	raw, status, err := c.do(req)
	if err != nil {
		return "", err
	}
	if status < 200 || status >= 300 {
		return "", fmt.Errorf("slack apps.connections.open http %d", status)
	}
	var out struct {
		OK    bool   `json:"ok"`
		Error string `json:"error,omitempty"`
		URL   string `json:"url,omitempty"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", err
	}
	if !out.OK {
		return "", apiError("apps.connections.open", out.Error)
	}
	if strings.TrimSpace(out.URL) == "" {
		return "", fmt.Errorf("slack apps.connections.open returned empty url")
	}
	return out.URL, nil
}

// callJSON posts a JSON body to a Web API method, retrying on 429 and 5xx
// (honoring Retry-After), and decodes the ok/error envelope into out.
func (c *Client) callJSON(ctx context.Context, path string, payload any, out interface{ ok() (bool, string) }) error {
	if c.botToken == "" {
		return fmt.Errorf("slack bot token is required")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	const maxAttempts = 3
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return err
		}
		raw, status, retryAfter, doErr := c.doWithRetryAfter(req)
		if doErr != nil {
			lastErr = doErr
		} else if unmarshalErr := json.Unmarshal(raw, out); unmarshalErr != nil {
			lastErr = fmt.Errorf("decode slack%s: %w", path, unmarshalErr)
		} else if status < 200 || status >= 300 {
			lastErr = fmt.Errorf("slack%s http %d", path, status)
		} else if ok, code := out.ok(); ok {
			return nil
		} else {
			lastErr = apiError(path, code)
			// ok:false is not retryable
			return lastErr
		}

		if attempt >= maxAttempts {
			break
		}
		wait, retryable := retryDelay(status, attempt)
		if !retryable {
			break
		}
		if retryAfter > wait {
			wait = retryAfter
		}
		if err := sleepWithContext(ctx, wait); err != nil {
			return err
		}
	}
	return lastErr
}

// do sends the request with bot auth and reads the body.
func (c *Client) do(req *http.Request) (raw []byte, status int, err error) {
	raw, status, _, err = c.doWithRetryAfter(req)
	return raw, status, err
}

func (c *Client) doWithRetryAfter(req *http.Request) (raw []byte, status int, retryAfter time.Duration, err error) {
	if req.Header.Get("Authorization") == "" {
		req.Header.Set("Authorization", "Bearer "+c.botToken)
	}
	if req.Body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, 0, err
	}
	defer resp.Body.Close()
	if secs, parseErr := strconv.Atoi(strings.TrimSpace(resp.Header.Get("Retry-After"))); parseErr == nil && secs > 0 {
		retryAfter = time.Duration(secs) * time.Second
	}
	raw, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, retryAfter, err
	}
	return raw, resp.StatusCode, retryAfter, nil
}

func (r postMessageResponse) ok() (bool, string) { return r.OK, r.Error }
func (r authTestResponse) ok() (bool, string)    { return r.OK, r.Error }

func apiError(method, code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		code = "unknown_error"
	}
	return fmt.Errorf("slack %s failed: %s", strings.TrimPrefix(method, "/"), code)
}

func retryDelay(status int, attempt int) (time.Duration, bool) {
	switch {
	case status == http.StatusTooManyRequests:
		return time.Duration(attempt) * time.Second, true
	case status == 0 || (status >= 500 && status <= 599):
		switch attempt {
		case 1:
			return 300 * time.Millisecond, true
		default:
			return 1 * time.Second, true
		}
	default:
		return 0, false
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
