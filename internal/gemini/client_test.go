package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestGenerateParsesFirstCandidate(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, ":generateContent") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("x-goog-api-key") != "k" {
			t.Errorf("missing api key header")
		}
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(req.Contents) != 1 {
			t.Errorf("contents = %d, want 1 (empty turn must be dropped)", len(req.Contents))
		}
		_ = json.NewEncoder(w).Encode(Response{
			Candidates: []Candidate{{Content: Content{Role: RoleModel, Parts: []Part{{Text: "an "}, {Text: "answer"}}}}},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), srv.URL, "k", "gemini-2.5-flash", 0)
	got, err := c.Generate(context.Background(), Request{Contents: []Content{
		{Role: RoleUser, Parts: []Part{{Text: "q"}}},
		{Role: RoleUser}, // zero parts, dropped before the call
	}})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "an answer" {
		t.Errorf("Generate = %q", got)
	}
}

func TestGenerateSurfacesBlockReason(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(Response{PromptFeedback: &PromptFeedback{BlockReason: "SAFETY"}})
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), srv.URL, "k", "", 0)
	_, err := c.Generate(context.Background(), Request{Contents: []Content{{Parts: []Part{{Text: "q"}}}}})
	if err == nil || !strings.Contains(err.Error(), "SAFETY") {
		t.Errorf("err = %v, want block reason", err)
	}
}

func TestGenerateChunkedReturnsRawBody(t *testing.T) {
	t.Parallel()
	body := `[{"candidates":[{"content":{"parts":[{"text":"hi"}]}}]}]`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, ":streamGenerateContent") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), srv.URL, "k", "", 0)
	raw, err := c.GenerateChunked(context.Background(), Request{Contents: []Content{{Parts: []Part{{Text: "q"}}}}})
	if err != nil {
		t.Fatalf("GenerateChunked: %v", err)
	}
	if string(raw) != body {
		t.Errorf("raw = %q", raw)
	}
}

func TestGenerateWithoutKey(t *testing.T) {
	t.Parallel()
	c := NewClient(nil, "", "", "", 0)
	_, err := c.Generate(context.Background(), Request{Contents: []Content{{Parts: []Part{{Text: "q"}}}}})
	if err != ErrNotConfigured {
		t.Errorf("err = %v, want ErrNotConfigured", err)
	}
}

func TestGenerateHTTPErrorIncludesReason(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":400,"message":"API key not valid","status":"INVALID_ARGUMENT"}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), srv.URL, "k", "", 0)
	_, err := c.Generate(context.Background(), Request{Contents: []Content{{Parts: []Part{{Text: "q"}}}}})
	if err == nil || !strings.Contains(err.Error(), "API key not valid") {
		t.Errorf("err = %v", err)
	}
}
