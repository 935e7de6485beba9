// Package platform defines the chat-platform port. The orchestration layer
// talks to the platform exclusively through these interfaces; the discord
// subpackage provides the production adapter.
package platform

import (
	"context"
	"errors"
)

// ErrTimeout is returned by Await* calls when no interaction arrives before
// the context deadline.
var ErrTimeout = errors.New("interaction wait timed out")

// Message is a message the bot has sent or received.
type Message struct {
	ID        string
	ChannelID string
	Content   string
}

// File is an outbound attachment.
type File struct {
	Name string
	Data []byte
}

// ButtonStyle selects the visual style of an interactive button.
type ButtonStyle int

const (
	ButtonPrimary ButtonStyle = iota
	ButtonSecondary
	ButtonSuccess
	ButtonDanger
)

// Button is one interactive affordance attached to a message.
type Button struct {
	ID    string
	Label string
	Style ButtonStyle
}

// SendOptions carries the optional parts of an outbound message.
type SendOptions struct {
	// ReplyTo makes the message a reply to an existing message ID.
	ReplyTo string
	// Files are attached to the message.
	Files []File
	// Buttons are attached as interactive components.
	Buttons []Button
}

// Messenger is the outbound message surface of the chat platform plus the
// interaction waits the approval and choice flows depend on. Implementations
// must be safe for concurrent use; waits for distinct messages never
// interfere with each other.
type Messenger interface {
	// Send posts a message to a channel.
	Send(ctx context.Context, channelID, content string, opts *SendOptions) (*Message, error)

	// Edit replaces a message's content and buttons. An empty button slice
	// removes all components.
	Edit(ctx context.Context, channelID, messageID, content string, buttons []Button) error

	// Delete removes a message. Deleting an already-deleted message is not
	// an error.
	Delete(ctx context.Context, channelID, messageID string) error

	// React adds an emoji reaction to a message.
	React(ctx context.Context, channelID, messageID, emoji string) error

	// ClearReactions removes all reactions from a message.
	ClearReactions(ctx context.Context, channelID, messageID string) error

	// Pin pins a message in its channel.
	Pin(ctx context.Context, channelID, messageID string) error

	// Pins lists the messages currently pinned in a channel.
	Pins(ctx context.Context, channelID string) ([]Message, error)

	// Typing shows a typing indicator in the channel.
	Typing(ctx context.Context, channelID string) error

	// AwaitButton blocks until one of the given buttons on messageID is
	// clicked and returns its custom ID, or ErrTimeout / ctx.Err() when the
	// context ends first.
	AwaitButton(ctx context.Context, messageID string, buttonIDs []string) (string, error)

	// CollectButtons registers a handler invoked on every click of the given
	// buttons on messageID until the returned stop function is called. Used
	// for toggles that fire more than once.
	CollectButtons(messageID string, buttonIDs []string, fn func(buttonID string)) (stop func())

	// AwaitReaction blocks until a user (not the bot) adds one of the given
	// emojis to messageID and returns the emoji, or ErrTimeout / ctx.Err().
	AwaitReaction(ctx context.Context, messageID string, emojis []string) (string, error)
}
