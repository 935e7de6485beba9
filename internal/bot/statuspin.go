package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/agentcord/agentcord/internal/logging"
	"github.com/agentcord/agentcord/internal/state"
)

// statusTag marks the bot's pinned status message.
const statusTag = "[agentcord-status]"

// buildStatusMessage renders the pinned session status.
func buildStatusMessage(sess state.Session) string {
	return strings.Join([]string{
		statusTag,
		fmt.Sprintf("**Session:** `%s`", sess.ShortID()),
		fmt.Sprintf("**CWD:** `%s`", sess.WorkingDir),
		fmt.Sprintf("**Started:** %s", sess.CreatedAt.Format(time.RFC1123)),
	}, "\n")
}

// removeStatusPin deletes any previously pinned status message in the channel.
func (b *Bot) removeStatusPin(ctx context.Context, channelID string) {
	pins, err := b.messenger.Pins(ctx, channelID)
	if err != nil {
		logging.Debug().Err(err).Str("channel", channelID).Msg("failed to list pins")
		return
	}
	for _, msg := range pins {
		if strings.HasPrefix(msg.Content, statusTag) {
			if err := b.messenger.Delete(ctx, channelID, msg.ID); err != nil {
				logging.Debug().Err(err).Msg("failed to delete old status pin")
			}
		}
	}
}

// pinStatus replaces the channel's pinned status message with the session's
// current state.
func (b *Bot) pinStatus(ctx context.Context, sess state.Session) {
	b.removeStatusPin(ctx, sess.ChannelID)

	msg, err := b.messenger.Send(ctx, sess.ChannelID, buildStatusMessage(sess), nil)
	if err != nil {
		logging.Warn().Err(err).Msg("failed to send status message")
		return
	}
	if err := b.messenger.Pin(ctx, sess.ChannelID, msg.ID); err != nil {
		logging.Warn().Err(err).Msg("failed to pin status message")
	}
}
