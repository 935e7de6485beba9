// Package state provides the persisted session state: one live session per
// channel plus per-channel default working directories, held in a single JSON
// document with debounced writes.
package state

import "time"

// Session is one ongoing conversation with the agent, bound to a channel.
// The session identity rotates on resume failure and on working-directory
// change; an identity is never reused.
type Session struct {
	SessionID  string    `json:"sessionId"`
	ChannelID  string    `json:"channelId"`
	Topic      string    `json:"topicName"`
	WorkingDir string    `json:"projectPath"`
	CreatedAt  time.Time `json:"createdAt"`

	// MessageCount is the number of completed turns. Zero means the next
	// agent call starts fresh; anything above zero resumes.
	MessageCount int `json:"messageCount"`

	// LastAlertPercent is the highest usage percentage already announced.
	// Monotonic non-decreasing; prevents duplicate threshold alerts.
	LastAlertPercent int `json:"lastAlertPercent"`
}

// ShortID returns the first 8 characters of the session identity for display.
func (s *Session) ShortID() string {
	if len(s.SessionID) <= 8 {
		return s.SessionID
	}
	return s.SessionID[:8]
}

// document is the wholesale-persisted state file layout.
type document struct {
	Sessions   map[string]*Session `json:"sessions"`
	ChannelCwd map[string]string   `json:"channelCwd"`
}

func newDocument() document {
	return document{
		Sessions:   make(map[string]*Session),
		ChannelCwd: make(map[string]string),
	}
}
