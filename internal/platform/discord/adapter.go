// Package discord adapts the chat-platform port onto Discord.
package discord

import (
	"bytes"
	"context"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/agentcord/agentcord/internal/logging"
	"github.com/agentcord/agentcord/internal/platform"
)

// Adapter implements platform.Messenger over a discordgo session. Component
// clicks and reactions arrive on gateway handlers and are fanned out to the
// waiters registered per message.
type Adapter struct {
	session   *discordgo.Session
	botUserID string

	mu        sync.Mutex
	buttons   map[string][]*buttonWaiter
	reactions map[string][]*reactionWaiter
}

type buttonWaiter struct {
	ids map[string]bool
	// ch receives one click for Await; fn fires repeatedly for Collect.
	ch chan string
	fn func(buttonID string)
}

type reactionWaiter struct {
	emojis map[string]bool
	ch     chan string
}

var _ platform.Messenger = (*Adapter)(nil)

// NewAdapter wraps a connected discordgo session. The gateway handlers are
// registered here; the caller owns session lifecycle.
func NewAdapter(session *discordgo.Session, botUserID string) *Adapter {
	a := &Adapter{
		session:   session,
		botUserID: botUserID,
		buttons:   make(map[string][]*buttonWaiter),
		reactions: make(map[string][]*reactionWaiter),
	}
	session.AddHandler(a.onInteraction)
	session.AddHandler(a.onReactionAdd)
	return a
}

func buttonStyle(style platform.ButtonStyle) discordgo.ButtonStyle {
	switch style {
	case platform.ButtonSecondary:
		return discordgo.SecondaryButton
	case platform.ButtonSuccess:
		return discordgo.SuccessButton
	case platform.ButtonDanger:
		return discordgo.DangerButton
	default:
		return discordgo.PrimaryButton
	}
}

// buildComponents renders buttons as a single action row.
func buildComponents(buttons []platform.Button) []discordgo.MessageComponent {
	if len(buttons) == 0 {
		return []discordgo.MessageComponent{}
	}
	row := discordgo.ActionsRow{}
	for _, b := range buttons {
		row.Components = append(row.Components, discordgo.Button{
			CustomID: b.ID,
			Label:    b.Label,
			Style:    buttonStyle(b.Style),
		})
	}
	return []discordgo.MessageComponent{row}
}

func toMessage(m *discordgo.Message) *platform.Message {
	return &platform.Message{ID: m.ID, ChannelID: m.ChannelID, Content: m.Content}
}

func (a *Adapter) Send(ctx context.Context, channelID, content string, opts *platform.SendOptions) (*platform.Message, error) {
	send := &discordgo.MessageSend{
		Content: content,
		Flags:   discordgo.MessageFlagsSuppressEmbeds,
	}
	if opts != nil {
		if opts.ReplyTo != "" {
			send.Reference = &discordgo.MessageReference{MessageID: opts.ReplyTo, ChannelID: channelID}
		}
		for _, f := range opts.Files {
			send.Files = append(send.Files, &discordgo.File{Name: f.Name, Reader: bytes.NewReader(f.Data)})
		}
		send.Components = buildComponents(opts.Buttons)
	}

	msg, err := a.session.ChannelMessageSendComplex(channelID, send, discordgo.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	return toMessage(msg), nil
}

func (a *Adapter) Edit(ctx context.Context, channelID, messageID, content string, buttons []platform.Button) error {
	edit := discordgo.NewMessageEdit(channelID, messageID).SetContent(content)
	components := buildComponents(buttons)
	edit.Components = &components

	_, err := a.session.ChannelMessageEditComplex(edit, discordgo.WithContext(ctx))
	return err
}

func (a *Adapter) Delete(ctx context.Context, channelID, messageID string) error {
	return a.session.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx))
}

func (a *Adapter) React(ctx context.Context, channelID, messageID, emoji string) error {
	return a.session.MessageReactionAdd(channelID, messageID, emoji, discordgo.WithContext(ctx))
}

func (a *Adapter) ClearReactions(ctx context.Context, channelID, messageID string) error {
	return a.session.MessageReactionsRemoveAll(channelID, messageID, discordgo.WithContext(ctx))
}

func (a *Adapter) Pin(ctx context.Context, channelID, messageID string) error {
	return a.session.ChannelMessagePin(channelID, messageID, discordgo.WithContext(ctx))
}

func (a *Adapter) Pins(ctx context.Context, channelID string) ([]platform.Message, error) {
	msgs, err := a.session.ChannelMessagesPinned(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	out := make([]platform.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, *toMessage(m))
	}
	return out, nil
}

func (a *Adapter) Typing(ctx context.Context, channelID string) error {
	return a.session.ChannelTyping(channelID, discordgo.WithContext(ctx))
}

func (a *Adapter) AwaitButton(ctx context.Context, messageID string, buttonIDs []string) (string, error) {
	w := &buttonWaiter{ids: idSet(buttonIDs), ch: make(chan string, 1)}
	a.addButtonWaiter(messageID, w)
	defer a.removeButtonWaiter(messageID, w)

	select {
	case id := <-w.ch:
		return id, nil
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return "", platform.ErrTimeout
		}
		return "", ctx.Err()
	}
}

func (a *Adapter) CollectButtons(messageID string, buttonIDs []string, fn func(buttonID string)) func() {
	w := &buttonWaiter{ids: idSet(buttonIDs), fn: fn}
	a.addButtonWaiter(messageID, w)
	return func() { a.removeButtonWaiter(messageID, w) }
}

func (a *Adapter) AwaitReaction(ctx context.Context, messageID string, emojis []string) (string, error) {
	w := &reactionWaiter{emojis: idSet(emojis), ch: make(chan string, 1)}

	a.mu.Lock()
	a.reactions[messageID] = append(a.reactions[messageID], w)
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.reactions[messageID] = removeWaiter(a.reactions[messageID], w)
		a.mu.Unlock()
	}()

	select {
	case emoji := <-w.ch:
		return emoji, nil
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return "", platform.ErrTimeout
		}
		return "", ctx.Err()
	}
}

func (a *Adapter) addButtonWaiter(messageID string, w *buttonWaiter) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buttons[messageID] = append(a.buttons[messageID], w)
}

func (a *Adapter) removeButtonWaiter(messageID string, w *buttonWaiter) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buttons[messageID] = removeWaiter(a.buttons[messageID], w)
}

// onInteraction acknowledges component clicks and routes them to waiters.
func (a *Adapter) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionMessageComponent || i.Message == nil {
		return
	}
	customID := i.MessageComponentData().CustomID
	messageID := i.Message.ID

	// Deferred update keeps the interaction token happy; actual edits go
	// through the regular message API.
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredMessageUpdate,
	}); err != nil {
		logging.Debug().Err(err).Msg("failed to acknowledge component click")
	}

	a.mu.Lock()
	waiters := append([]*buttonWaiter(nil), a.buttons[messageID]...)
	a.mu.Unlock()

	for _, w := range waiters {
		if !w.ids[customID] {
			continue
		}
		if w.fn != nil {
			go w.fn(customID)
			continue
		}
		select {
		case w.ch <- customID:
		default:
		}
	}
}

// onReactionAdd routes user reactions to waiters, ignoring the bot's own.
func (a *Adapter) onReactionAdd(_ *discordgo.Session, r *discordgo.MessageReactionAdd) {
	if r.UserID == a.botUserID {
		return
	}

	a.mu.Lock()
	waiters := append([]*reactionWaiter(nil), a.reactions[r.MessageID]...)
	a.mu.Unlock()

	for _, w := range waiters {
		if !w.emojis[r.Emoji.Name] {
			continue
		}
		select {
		case w.ch <- r.Emoji.Name:
		default:
		}
	}
}

func idSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

func removeWaiter[T comparable](waiters []T, target T) []T {
	for i, w := range waiters {
		if w == target {
			return append(waiters[:i], waiters[i+1:]...)
		}
	}
	return waiters
}
