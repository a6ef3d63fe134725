package relay

import (
	"context"
	"errors"
	"testing"

	"github.com/gembotai/gembot/internal/gemini"
	"github.com/gembotai/gembot/internal/slack"
)

type fakeHistory struct {
	messages []slack.Message
	listErr  error
	files    map[string][]byte
	fetchErr error
}

func (f *fakeHistory) ListReplies(_ context.Context, _, _ string, _ int) ([]slack.Message, error) {
	return f.messages, f.listErr
}

func (f *fakeHistory) FetchFile(_ context.Context, url string) ([]byte, string, error) {
	if f.fetchErr != nil {
		return nil, "", f.fetchErr
	}
	raw, ok := f.files[url]
	if !ok {
		return nil, "", errors.New("not found")
	}
	return raw, "image/png", nil
}

func TestStripMentions(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		text   string
		botIDs []string
		want   string
	}{
		{"all known mentions", "<@U1> <@U2> hello", []string{"U1", "U2"}, "hello"},
		{"mention mid-text", "hey <@U1> what is X?", []string{"U1"}, "hey what is X?"},
		{"no ids strips one leading token", "<@U1> <@U2> hello", nil, "<@U2> hello"},
		{"no mention", "plain question", []string{"U1"}, "plain question"},
		{"unknown id untouched", "<@U9> hi", []string{"U1"}, "<@U9> hi"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := StripMentions(tc.text, tc.botIDs); got != tc.want {
				t.Errorf("StripMentions(%q, %v) = %q, want %q", tc.text, tc.botIDs, got, tc.want)
			}
		})
	}
}

func TestBuildTurnsRolesAndExclusion(t *testing.T) {
	t.Parallel()
	h := &fakeHistory{messages: []slack.Message{
		{User: "U7", Text: "<@BOT> what is X?", TS: "100.1"},
		{BotID: "B1", Text: "X is a thing.", TS: "100.2"},
		{User: "BOT", Text: "bot-user reply", TS: "100.3"},
		{User: "U7", Text: "and Y?", TS: "100.4"}, // triggering message
	}}
	b := NewContextBuilder(nil, h, 20)

	turns, err := b.BuildTurns(context.Background(), "C1", "100.1", "100.4", []string{"BOT"})
	if err != nil {
		t.Fatalf("BuildTurns: %v", err)
	}
	if len(turns) != 3 {
		t.Fatalf("turns = %d, want 3 (trigger excluded)", len(turns))
	}
	if turns[0].Role != gemini.RoleUser || turns[0].Parts[0].Text != "what is X?" {
		t.Errorf("turn 0 = %+v", turns[0])
	}
	if turns[1].Role != gemini.RoleModel {
		t.Errorf("bot_id message must map to model role, got %q", turns[1].Role)
	}
	if turns[2].Role != gemini.RoleModel {
		t.Errorf("bot-user message must map to model role, got %q", turns[2].Role)
	}
}

func TestBuildTurnsOmitsEmptyMessages(t *testing.T) {
	t.Parallel()
	h := &fakeHistory{
		messages: []slack.Message{
			{User: "U1", Text: "", Files: []slack.File{{ID: "F1", Mimetype: "application/pdf", URLPrivate: "u1"}}, TS: "1.1"},
			{User: "U2", Text: "", Files: []slack.File{{ID: "F2", Mimetype: "image/png", URLPrivate: "u2"}}, TS: "1.2"},
		},
		files: map[string][]byte{"u2": {1, 2, 3}},
	}
	b := NewContextBuilder(nil, h, 20)

	turns, err := b.BuildTurns(context.Background(), "C1", "1.1", "", nil)
	if err != nil {
		t.Fatalf("BuildTurns: %v", err)
	}
	if len(turns) != 1 {
		t.Fatalf("turns = %d, want 1 (unsupported-attachment message dropped)", len(turns))
	}
	if len(turns[0].Parts) != 1 || turns[0].Parts[0].InlineData == nil {
		t.Fatalf("turn parts = %+v, want one inline_media part", turns[0].Parts)
	}
	if turns[0].Parts[0].Text != "" {
		t.Error("image-only turn must carry zero text parts")
	}
}

func TestAttachmentPartsFetchFailureDropsOnlyThatFile(t *testing.T) {
	t.Parallel()
	h := &fakeHistory{files: map[string][]byte{"ok": {9}}}
	b := NewContextBuilder(nil, h, 20)

	parts := b.AttachmentParts(context.Background(), []slack.File{
		{ID: "F1", Mimetype: "image/png", URLPrivate: "missing"},
		{ID: "F2", Mimetype: "image/jpeg", URLPrivate: "ok"},
	})
	if len(parts) != 1 {
		t.Fatalf("parts = %d, want 1", len(parts))
	}
}

func TestBuildTurnsPropagatesListError(t *testing.T) {
	t.Parallel()
	h := &fakeHistory{listErr: errors.New("rate limited")}
	b := NewContextBuilder(nil, h, 20)
	if _, err := b.BuildTurns(context.Background(), "C1", "1.1", "", nil); err == nil {
		t.Error("expected error")
	}
}
