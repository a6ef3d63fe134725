// Package slack provides the Slack Events API envelope types and a Web API
// client used by the relay.
package slack

import (
	"slices"
	"strings"
)

// EventEnvelope is the outer body of an Events API delivery. The same shape
// arrives over the HTTP webhook and inside a Socket Mode events_api payload.
type EventEnvelope struct {
	Type           string          `json:"type"`
	Challenge      string          `json:"challenge,omitempty"`
	EventID        string          `json:"event_id,omitempty"`
	TeamID         string          `json:"team_id,omitempty"`
	Event          *Event          `json:"event,omitempty"`
	AuthedUsers    []string        `json:"authed_users,omitempty"`
	Authorizations []Authorization `json:"authorizations,omitempty"`
}

const (
	EnvelopeTypeURLVerification = "url_verification"
	EnvelopeTypeEventCallback   = "event_callback"

	EventTypeAppMention = "app_mention"
	EventTypeMessage    = "message"
)

type Authorization struct {
	UserID string `json:"user_id"`
}

// Event is the inner event of an event_callback delivery.
type Event struct {
	Type     string `json:"type"`
	User     string `json:"user,omitempty"`
	BotID    string `json:"bot_id,omitempty"`
	Text     string `json:"text,omitempty"`
	Channel  string `json:"channel,omitempty"`
	TS       string `json:"ts,omitempty"`
	ThreadTS string `json:"thread_ts,omitempty"`
	Files    []File `json:"files,omitempty"`
}

// ThreadAnchor returns the timestamp anchoring the thread this event belongs
// to: the parent thread_ts when replying inside a thread, otherwise the
// event's own ts (starting a new thread).
func (e Event) ThreadAnchor() string {
	if strings.TrimSpace(e.ThreadTS) != "" {
		return e.ThreadTS
	}
	return e.TS
}

// File is a Slack file attachment reference.
type File struct {
	ID         string `json:"id,omitempty"`
	Name       string `json:"name,omitempty"`
	Mimetype   string `json:"mimetype,omitempty"`
	URLPrivate string `json:"url_private,omitempty"`
}

// Message is one element of a conversations.replies page.
type Message struct {
	Type     string `json:"type"`
	User     string `json:"user,omitempty"`
	BotID    string `json:"bot_id,omitempty"`
	Text     string `json:"text,omitempty"`
	TS       string `json:"ts,omitempty"`
	ThreadTS string `json:"thread_ts,omitempty"`
	Files    []File `json:"files,omitempty"`
}

// BotUserIDs merges authed_users and authorizations into a deduplicated
// list of identities the platform attributes to this bot installation.
func (e EventEnvelope) BotUserIDs() []string {
	var ids []string
	add := func(id string) {
		id = strings.TrimSpace(id)
		if id == "" || slices.Contains(ids, id) {
			return
		}
		ids = append(ids, id)
	}
	for _, id := range e.AuthedUsers {
		add(id)
	}
	for _, a := range e.Authorizations {
		add(a.UserID)
	}
	return ids
}
