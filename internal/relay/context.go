package relay

import (
	"context"
	"encoding/base64"
	"log/slog"
	"regexp"
	"slices"
	"strings"

	"github.com/gembotai/gembot/internal/gemini"
	"github.com/gembotai/gembot/internal/slack"
)

// historyClient is the slice of the Slack client the builder needs.
type historyClient interface {
	ListReplies(ctx context.Context, channelID, threadTS string, limit int) ([]slack.Message, error)
	FetchFile(ctx context.Context, fileURL string) ([]byte, string, error)
}

// Only media Gemini accepts inline; everything else is skipped.
var imageMIMEs = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
	"image/webp": true,
}

var leadingMentionRe = regexp.MustCompile(`^<@[^>]+>\s*`)

// ContextBuilder reconstructs model-ready conversation turns from a flat
// Slack thread history.
type ContextBuilder struct {
	logger     *slog.Logger
	slack      historyClient
	maxHistory int
}

func NewContextBuilder(log *slog.Logger, client historyClient, maxHistory int) *ContextBuilder {
	if log == nil {
		log = slog.Default()
	}
	if maxHistory <= 0 {
		maxHistory = 20
	}
	return &ContextBuilder{
		logger:     log.With(slog.String("component", "context_builder")),
		slack:      client,
		maxHistory: maxHistory,
	}
}

// BuildTurns fetches the thread and converts it to turns, oldest first. The
// triggering message (sourceTS) is excluded: it is supplied separately as
// the current turn. Messages contributing neither text nor a convertible
// attachment are omitted.
func (b *ContextBuilder) BuildTurns(ctx context.Context, channel, threadTS, sourceTS string, botIDs []string) ([]gemini.Content, error) {
	msgs, err := b.slack.ListReplies(ctx, channel, threadTS, b.maxHistory)
	if err != nil {
		return nil, err
	}
	var turns []gemini.Content
	for _, m := range msgs {
		if sourceTS != "" && m.TS == sourceTS {
			continue
		}
		role := gemini.RoleUser
		if m.BotID != "" || (m.User != "" && slices.Contains(botIDs, m.User)) {
			role = gemini.RoleModel
		}
		var parts []gemini.Part
		if text := StripMentions(m.Text, botIDs); text != "" {
			parts = append(parts, gemini.Part{Text: text})
		}
		parts = append(parts, b.AttachmentParts(ctx, m.Files)...)
		if len(parts) == 0 {
			continue
		}
		turns = append(turns, gemini.Content{Role: role, Parts: parts})
	}
	return turns, nil
}

// AttachmentParts converts allow-listed image attachments to inline media.
// Unsupported types are skipped and a failed fetch drops only that
// attachment, never the whole turn.
func (b *ContextBuilder) AttachmentParts(ctx context.Context, files []slack.File) []gemini.Part {
	var parts []gemini.Part
	for _, f := range files {
		mime := strings.TrimSpace(strings.ToLower(f.Mimetype))
		if !imageMIMEs[mime] {
			b.logger.Info("skipping unsupported attachment", slog.String("file", f.ID), slog.String("mime", mime))
			continue
		}
		if strings.TrimSpace(f.URLPrivate) == "" {
			continue
		}
		raw, fetchedMime, err := b.slack.FetchFile(ctx, f.URLPrivate)
		if err != nil {
			b.logger.Warn("attachment fetch failed, dropping it", slog.String("file", f.ID), slog.Any("error", err))
			continue
		}
		if imageMIMEs[strings.ToLower(fetchedMime)] {
			mime = strings.ToLower(fetchedMime)
		}
		parts = append(parts, gemini.Part{InlineData: &gemini.InlineData{
			MIMEType: mime,
			Data:     base64.StdEncoding.EncodeToString(raw),
		}})
	}
	return parts
}

// StripMentions removes every known bot mention token (`<@id>` plus
// trailing whitespace) wherever it appears. With no known ids it falls back
// to stripping a single leading mention token.
func StripMentions(text string, botIDs []string) string {
	if len(botIDs) == 0 {
		return strings.TrimSpace(leadingMentionRe.ReplaceAllString(text, ""))
	}
	for _, id := range botIDs {
		re := regexp.MustCompile(`<@` + regexp.QuoteMeta(id) + `>\s*`)
		text = re.ReplaceAllString(text, "")
	}
	return strings.TrimSpace(text)
}
