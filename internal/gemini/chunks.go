package gemini

import (
	"encoding/json"
	"iter"
	"regexp"
)

// The chunked body is a JSON array of candidate objects, but its exact
// nesting varies across API revisions. Scanning for the text fields in
// appearance order is stable against all of them.
var (
	textFieldRe  = regexp.MustCompile(`"text"\s*:\s*("(?:[^"\\]|\\.)*")`)
	errorFieldRe = regexp.MustCompile(`"(?:message|blockReason)"\s*:\s*("(?:[^"\\]|\\.)*")`)
)

// Chunks lazily yields every "text" chunk in the raw chunked body, in
// appearance order, JSON-unescaped. The sequence is finite and single-use.
func Chunks(raw []byte) iter.Seq[string] {
	return func(yield func(string) bool) {
		rest := raw
		for {
			loc := textFieldRe.FindSubmatchIndex(rest)
			if loc == nil {
				return
			}
			quoted := rest[loc[2]:loc[3]]
			rest = rest[loc[1]:]
			var text string
			if err := json.Unmarshal(quoted, &text); err != nil {
				continue
			}
			if !yield(text) {
				return
			}
		}
	}
}

// ExtractErrorReason pulls a human-readable failure reason out of a raw
// response body: an API error message or a safety block reason. Returns ""
// when nothing usable is found.
func ExtractErrorReason(raw []byte) string {
	m := errorFieldRe.FindSubmatch(raw)
	if m == nil {
		return ""
	}
	var reason string
	if err := json.Unmarshal(m[1], &reason); err != nil {
		return ""
	}
	return reason
}
