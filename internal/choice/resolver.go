package choice

import (
	"context"
	"fmt"
	"time"

	"github.com/agentcord/agentcord/internal/logging"
	"github.com/agentcord/agentcord/internal/platform"
)

// SelectionTimeout is how long a choice round waits for a reaction.
const SelectionTimeout = 120 * time.Second

var numberEmojis = []string{"1️⃣", "2️⃣", "3️⃣", "4️⃣", "5️⃣", "6️⃣", "7️⃣", "8️⃣", "9️⃣"}

// Resolver runs one interactive selection round per response message.
type Resolver struct {
	messenger platform.Messenger

	// timeout is SelectionTimeout in production; tests shorten it.
	timeout time.Duration
}

// NewResolver creates a resolver over the given messenger.
func NewResolver(messenger platform.Messenger) *Resolver {
	return &Resolver{messenger: messenger, timeout: SelectionTimeout}
}

// Resolve attaches numbered reactions for the choices to msg and awaits one
// selection. On selection the message records the chosen option and the
// option text is returned with ok=true; on timeout the message is marked
// expired and ok is false. Exactly one round runs per message.
func (r *Resolver) Resolve(ctx context.Context, msg *platform.Message, choices []string) (string, bool) {
	if len(choices) < MinChoices || len(choices) > MaxChoices {
		return "", false
	}

	logging.Info().
		Str("channel", msg.ChannelID).
		Int("count", len(choices)).
		Msg("choice block detected")

	for i := range choices {
		if err := r.messenger.React(ctx, msg.ChannelID, msg.ID, numberEmojis[i]); err != nil {
			logging.Warn().Err(err).Int("index", i).Msg("failed to add choice reaction")
		}
	}

	waitCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	emoji, err := r.messenger.AwaitReaction(waitCtx, msg.ID, numberEmojis[:len(choices)])
	if err != nil {
		r.expire(ctx, msg)
		return "", false
	}

	idx := indexOfEmoji(emoji)
	if idx < 0 || idx >= len(choices) {
		r.expire(ctx, msg)
		return "", false
	}

	selected := choices[idx]
	edited := fmt.Sprintf("%s\n\n**Selected:** %s %s", msg.Content, emoji, selected)
	if err := r.messenger.Edit(ctx, msg.ChannelID, msg.ID, edited, nil); err != nil {
		logging.Warn().Err(err).Msg("failed to record selection")
	}
	if err := r.messenger.ClearReactions(ctx, msg.ChannelID, msg.ID); err != nil {
		logging.Warn().Err(err).Msg("failed to clear choice reactions")
	}

	logging.Info().Str("channel", msg.ChannelID).Str("selected", logging.Preview(selected, 100)).Msg("choice selected")
	return selected, true
}

func (r *Resolver) expire(ctx context.Context, msg *platform.Message) {
	edited := msg.Content + "\n\n⏰ selection expired"
	if err := r.messenger.Edit(ctx, msg.ChannelID, msg.ID, edited, nil); err != nil {
		logging.Warn().Err(err).Msg("failed to mark choice expired")
	}
	if err := r.messenger.ClearReactions(ctx, msg.ChannelID, msg.ID); err != nil {
		logging.Warn().Err(err).Msg("failed to clear choice reactions")
	}
}

func indexOfEmoji(emoji string) int {
	for i, e := range numberEmojis {
		if e == emoji {
			return i
		}
	}
	return -1
}
