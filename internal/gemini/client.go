package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrNotConfigured is returned when no API key is available. Callers log it
// and degrade instead of crashing.
var ErrNotConfigured = errors.New("gemini api key not configured")

const maxResponseBytes int64 = 32 << 20 // 32 MiB

type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
	model   string
}

func NewClient(httpClient *http.Client, baseURL, apiKey, model string, timeout time.Duration) *Client {
	if httpClient == nil {
		if timeout <= 0 {
			timeout = 90 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL = strings.TrimSpace(strings.TrimRight(baseURL, "/"))
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	if strings.TrimSpace(model) == "" {
		model = "gemini-2.5-flash"
	}
	return &Client{
		http:    httpClient,
		baseURL: baseURL,
		apiKey:  strings.TrimSpace(apiKey),
		model:   strings.TrimSpace(model),
	}
}

// Generate performs a single-shot generateContent call and returns the text
// of the first candidate.
func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	raw, err := c.post(ctx, "generateContent", req)
	if err != nil {
		return "", err
	}
	var out Response
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode gemini response: %w", err)
	}
	if out.Error != nil {
		return "", fmt.Errorf("gemini: %s", out.Error.Message)
	}
	if out.PromptFeedback != nil && out.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("gemini blocked prompt: %s", out.PromptFeedback.BlockReason)
	}
	if len(out.Candidates) == 0 {
		return "", errors.New("gemini returned no candidates")
	}
	var sb strings.Builder
	for _, p := range out.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", errors.New("gemini candidate carried no text")
	}
	return text, nil
}

// GenerateChunked requests chunked generation and returns the complete raw
// body. There is no live transport here: the call blocks until the model is
// done and the body arrives in one piece, internally structured as a
// sequence of JSON chunk objects for the reassembler to scan.
func (c *Client) GenerateChunked(ctx context.Context, req Request) ([]byte, error) {
	return c.post(ctx, "streamGenerateContent", req)
}

func (c *Client) post(ctx context.Context, verb string, req Request) ([]byte, error) {
	if c.apiKey == "" {
		return nil, ErrNotConfigured
	}
	contents := req.Contents[:0:0]
	for _, content := range req.Contents {
		if content.IsEmpty() {
			continue
		}
		contents = append(contents, content)
	}
	if len(contents) == 0 {
		return nil, errors.New("no usable conversation turns")
	}
	req.Contents = contents

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal gemini request: %w", err)
	}
	url := fmt.Sprintf("%s/models/%s:%s", c.baseURL, c.model, verb)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gemini %s: %w", verb, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read gemini response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if reason := ExtractErrorReason(raw); reason != "" {
			return nil, fmt.Errorf("gemini %s http %d: %s", verb, resp.StatusCode, reason)
		}
		return nil, fmt.Errorf("gemini %s http %d", verb, resp.StatusCode)
	}
	return raw, nil
}
