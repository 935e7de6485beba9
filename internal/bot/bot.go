// Package bot routes inbound chat traffic: prefix commands go to the command
// registry, everything else in a session channel becomes an agent prompt.
package bot

import (
	"context"
	"strings"
	"sync"

	"github.com/agentcord/agentcord/internal/config"
	"github.com/agentcord/agentcord/internal/event"
	"github.com/agentcord/agentcord/internal/logging"
	"github.com/agentcord/agentcord/internal/platform"
	"github.com/agentcord/agentcord/internal/state"
)

// commandPrefix marks a message as a command invocation.
const commandPrefix = "!"

// Inbound is one user message as seen by the router.
type Inbound struct {
	Message     platform.Message
	AuthorID    string
	ChannelName string
}

// Prompter runs the conversation loop for an inbound message. Satisfied by
// the orchestrator.
type Prompter interface {
	HandlePrompt(ctx context.Context, trigger platform.Message)
}

// Bot dispatches inbound messages for one guild.
type Bot struct {
	messenger platform.Messenger
	store     *state.Store
	cfg       *config.Config
	prompter  Prompter
	bus       *event.Bus

	mu   sync.Mutex
	busy map[string]bool
}

// New creates the message router.
func New(messenger platform.Messenger, store *state.Store, cfg *config.Config, prompter Prompter, bus *event.Bus) *Bot {
	return &Bot{
		messenger: messenger,
		store:     store,
		cfg:       cfg,
		prompter:  prompter,
		bus:       bus,
		busy:      make(map[string]bool),
	}
}

// Allowed reports whether a user may talk to the bot. An empty allowlist
// admits everyone.
func (b *Bot) Allowed(userID string) bool {
	if len(b.cfg.Discord.AllowedUserIDs) == 0 {
		return true
	}
	for _, id := range b.cfg.Discord.AllowedUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// HandleInbound routes one user message. Commands dispatch to their handler;
// plain messages in a channel with a live session run a conversation turn.
// A channel already running a turn drops the new message.
func (b *Bot) HandleInbound(ctx context.Context, in Inbound) {
	if !b.Allowed(in.AuthorID) {
		return
	}

	if strings.HasPrefix(in.Message.Content, commandPrefix) {
		if b.dispatchCommand(ctx, in) {
			return
		}
	}

	if _, ok := b.store.Get(in.Message.ChannelID); !ok {
		return
	}

	if !b.tryAcquire(in.Message.ChannelID) {
		logging.Warn().
			Str("channel", in.Message.ChannelID).
			Msg("turn already running, message dropped")
		return
	}
	defer b.release(in.Message.ChannelID)

	b.prompter.HandlePrompt(ctx, in.Message)
}

func (b *Bot) tryAcquire(channelID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.busy[channelID] {
		return false
	}
	b.busy[channelID] = true
	return true
}

func (b *Bot) release(channelID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.busy, channelID)
}
