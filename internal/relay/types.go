// Package relay turns Slack thread questions into Gemini answers delivered
// as incrementally edited thread replies.
package relay

import "github.com/gembotai/gembot/internal/slack"

// PendingReply is the payload carried across the handler/continuation
// boundary: everything the slow phase needs to produce and publish one
// answer. Created when the placeholder is posted, consumed exactly once.
type PendingReply struct {
	Question      string       `json:"question"`
	Channel       string       `json:"channel"`
	ThreadTS      string       `json:"thread_ts"`
	SourceTS      string       `json:"source_ts,omitempty"`
	PlaceholderTS string       `json:"placeholder_ts,omitempty"`
	Files         []slack.File `json:"files,omitempty"`
	BotIDs        []string     `json:"bot_ids,omitempty"`
}
