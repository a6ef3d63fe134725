package relay

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gembotai/gembot/internal/gemini"
)

// Publisher performs one outward edit carrying the full accumulated text.
type Publisher func(ctx context.Context, text string) error

const apologyText = "Sorry, I could not generate an answer. Please try again later."

// flush boundaries: sentence terminators and newline.
const boundaryRunes = ".!?\n。！？"

// Reassembler parses a complete-but-chunk-structured model response into
// ordered text fragments and emits them as a bounded number of cumulative
// edits, simulating a live incrementally-typed reply.
type Reassembler struct {
	logger       *slog.Logger
	threshold    int
	editInterval time.Duration
	now          func() time.Time
}

func NewReassembler(log *slog.Logger, threshold int, editInterval time.Duration) *Reassembler {
	if log == nil {
		log = slog.Default()
	}
	if threshold <= 0 {
		threshold = 30
	}
	return &Reassembler{
		logger:       log.With(slog.String("component", "reassembler")),
		threshold:    threshold,
		editInterval: editInterval,
		now:          time.Now,
	}
}

// flushBoundary returns the cut position for the buffer: just past the last
// sentence terminator or newline, or the whole buffer when no boundary
// exists (a mid-sentence cut beats stalling).
func flushBoundary(s string) int {
	if idx := strings.LastIndexAny(s, boundaryRunes); idx >= 0 {
		_, width := utf8.DecodeRuneInString(s[idx:])
		return idx + width
	}
	return len(s)
}

// Flushes turns a finite chunk sequence into cumulative text snapshots.
// Each yielded value is the full text so far, cut at a natural boundary
// once the pending tail reaches the threshold; the last snapshot is always
// the complete text. Snapshots are strictly non-decreasing in length. The
// sequence is single-use.
func (r *Reassembler) Flushes(chunks iter.Seq[string]) iter.Seq[string] {
	return func(yield func(string) bool) {
		var acc strings.Builder
		tail := ""
		for chunk := range chunks {
			tail += chunk
			for utf8.RuneCountInString(tail) >= r.threshold {
				cut := flushBoundary(tail)
				acc.WriteString(tail[:cut])
				tail = tail[cut:]
				if !yield(acc.String()) {
					return
				}
			}
		}
		if tail != "" {
			acc.WriteString(tail)
			yield(acc.String())
		}
	}
}

// Run reassembles the raw chunked body and publishes cumulative edits,
// throttled to the edit interval; the terminal edit (full text) is always
// published. When no chunk yields usable text it publishes an apology
// carrying any upstream-provided reason and returns an error.
func (r *Reassembler) Run(ctx context.Context, raw []byte, publish Publisher) (string, error) {
	var lastEdit time.Time
	published := ""
	final := ""
	for snapshot := range r.Flushes(gemini.Chunks(raw)) {
		final = snapshot
		if !lastEdit.IsZero() && r.now().Sub(lastEdit) < r.editInterval {
			continue
		}
		if err := publish(ctx, snapshot); err != nil {
			r.logger.Warn("incremental edit failed", slog.Any("error", err))
			continue
		}
		published = snapshot
		lastEdit = r.now()
	}

	if strings.TrimSpace(final) == "" {
		msg := apologyText
		var err error
		if reason := gemini.ExtractErrorReason(raw); reason != "" {
			msg = fmt.Sprintf("%s (%s)", apologyText, reason)
			err = fmt.Errorf("model returned no text: %s", reason)
		} else {
			err = fmt.Errorf("model returned no text")
		}
		if pubErr := publish(ctx, msg); pubErr != nil {
			r.logger.Error("terminal error edit failed", slog.Any("error", pubErr))
		}
		return "", err
	}

	if published != final {
		if err := publish(ctx, final); err != nil {
			return final, fmt.Errorf("terminal edit failed: %w", err)
		}
	}
	return final, nil
}
