// Package dispatch delivers arbitrarily long response text as one or more
// bounded outbound messages, attaching the full text as a file when it
// exceeds the split ceiling.
package dispatch

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"

	"github.com/agentcord/agentcord/internal/logging"
	"github.com/agentcord/agentcord/internal/platform"
)

const (
	// MaxMessageLength is the platform's per-message content ceiling.
	MaxMessageLength = 2000

	// splitCeiling is the largest response delivered as sequential chunks;
	// anything longer becomes a preview plus a file attachment.
	splitCeiling = 6000

	// previewReserve leaves room for the truncation notice in the preview.
	previewReserve = 60

	truncationNotice = "\n\n... (full response attached)"

	attachmentName = "response.md"
)

// sendRetries bounds retry attempts for transient platform send failures.
const sendRetries = 2

// Dispatcher sends long-form responses through the platform messenger.
type Dispatcher struct {
	messenger platform.Messenger
}

// NewDispatcher creates a dispatcher over the given messenger.
func NewDispatcher(messenger platform.Messenger) *Dispatcher {
	return &Dispatcher{messenger: messenger}
}

// Send delivers content to a channel, splitting or attaching as needed.
// The first message replies to replyTo when given; subsequent chunks are
// independent sends. The ordered list of sent messages is returned so the
// caller can anchor further interaction on the last one. A partial list
// comes back alongside the error when a later chunk fails.
func (d *Dispatcher) Send(ctx context.Context, channelID, content, replyTo string) ([]platform.Message, error) {
	switch {
	case len(content) <= MaxMessageLength:
		msg, err := d.sendWithRetry(ctx, channelID, content, &platform.SendOptions{ReplyTo: replyTo})
		if err != nil {
			return nil, err
		}
		return []platform.Message{*msg}, nil

	case len(content) <= splitCeiling:
		return d.sendSplit(ctx, channelID, content, replyTo)

	default:
		preview := truncateAtRune(content, MaxMessageLength-previewReserve) + truncationNotice
		msg, err := d.sendWithRetry(ctx, channelID, preview, &platform.SendOptions{
			ReplyTo: replyTo,
			Files:   []platform.File{{Name: attachmentName, Data: []byte(content)}},
		})
		if err != nil {
			return nil, err
		}
		return []platform.Message{*msg}, nil
	}
}

// sendSplit delivers content as sequential chunks of at most
// MaxMessageLength, breaking on newline, then space, then a hard cut.
func (d *Dispatcher) sendSplit(ctx context.Context, channelID, content, replyTo string) ([]platform.Message, error) {
	var messages []platform.Message
	remaining := content
	first := true

	for len(remaining) > 0 {
		var chunk string
		if len(remaining) <= MaxMessageLength {
			chunk = remaining
			remaining = ""
		} else {
			idx := splitIndex(remaining)
			chunk = remaining[:idx]
			remaining = strings.TrimLeft(remaining[idx:], " \t\n\r")
		}

		opts := &platform.SendOptions{}
		if first {
			opts.ReplyTo = replyTo
		}
		msg, err := d.sendWithRetry(ctx, channelID, chunk, opts)
		if err != nil {
			return messages, err
		}
		messages = append(messages, *msg)
		first = false
	}

	return messages, nil
}

// splitIndex finds where to cut the next chunk from s (len > MaxMessageLength).
// A newline close to the boundary wins; a cut landing before 30% of the max
// falls through to space, then to a hard cut at the boundary.
func splitIndex(s string) int {
	const threshold = MaxMessageLength * 3 / 10

	window := s[:MaxMessageLength+1]
	if idx := strings.LastIndex(window, "\n"); idx >= threshold {
		return idx
	}
	if idx := strings.LastIndex(window, " "); idx >= threshold {
		return idx
	}
	// Hard cut; never inside a rune.
	idx := MaxMessageLength
	for idx > 0 && !utf8.RuneStart(s[idx]) {
		idx--
	}
	return idx
}

// truncateAtRune cuts s to at most n bytes on a rune boundary.
func truncateAtRune(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// sendWithRetry retries transient platform failures a bounded number of
// times before giving up.
func (d *Dispatcher) sendWithRetry(ctx context.Context, channelID, content string, opts *platform.SendOptions) (*platform.Message, error) {
	var msg *platform.Message

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(200*time.Millisecond),
	), sendRetries), ctx)

	err := backoff.Retry(func() error {
		var sendErr error
		msg, sendErr = d.messenger.Send(ctx, channelID, content, opts)
		return sendErr
	}, policy)
	if err != nil {
		logging.Error().Err(err).Str("channel", channelID).Msg("message send failed")
		return nil, err
	}
	return msg, nil
}
