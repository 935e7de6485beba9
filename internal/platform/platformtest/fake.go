// Package platformtest provides an in-memory Messenger for tests.
package platformtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/agentcord/agentcord/internal/platform"
)

// SentMessage records one Send call.
type SentMessage struct {
	Message platform.Message
	Opts    platform.SendOptions
}

// EditRecord records one Edit call.
type EditRecord struct {
	ChannelID string
	MessageID string
	Content   string
	Buttons   []platform.Button
}

// Fake is an in-memory platform.Messenger. Button clicks and reactions are
// scripted through the Click and React channels keyed by message ID, or by
// the Script* helpers.
type Fake struct {
	mu sync.Mutex

	nextID    int
	Sent      []SentMessage
	Edits     []EditRecord
	Deleted   []string
	Reactions map[string][]string // messageID -> emojis added by the bot
	Pinned    []string

	// SendErr, when set, fails every Send with this error.
	SendErr error
	// SendErrOnce fails only the next Send.
	SendErrOnce error

	buttonScripts   map[string]chan string // messageID -> clicked button ID
	reactionScripts map[string]chan string // messageID -> emoji

	// AnyButton and AnyReaction are consulted when no per-message script
	// exists. Useful when the message ID is not known in advance.
	AnyButton   chan string
	AnyReaction chan string
}

// NewFake creates an empty fake messenger.
func NewFake() *Fake {
	return &Fake{
		Reactions:       make(map[string][]string),
		buttonScripts:   make(map[string]chan string),
		reactionScripts: make(map[string]chan string),
		AnyButton:       make(chan string, 8),
		AnyReaction:     make(chan string, 8),
	}
}

var _ platform.Messenger = (*Fake)(nil)

// ScriptButton queues a button click for a message.
func (f *Fake) ScriptButton(messageID, buttonID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.buttonScripts[messageID]
	if !ok {
		ch = make(chan string, 8)
		f.buttonScripts[messageID] = ch
	}
	ch <- buttonID
}

// ScriptReaction queues a reaction for a message.
func (f *Fake) ScriptReaction(messageID, emoji string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.reactionScripts[messageID]
	if !ok {
		ch = make(chan string, 8)
		f.reactionScripts[messageID] = ch
	}
	ch <- emoji
}

// LastSent returns the most recently sent message, or nil.
func (f *Fake) LastSent() *SentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Sent) == 0 {
		return nil
	}
	return &f.Sent[len(f.Sent)-1]
}

func (f *Fake) Send(ctx context.Context, channelID, content string, opts *platform.SendOptions) (*platform.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.SendErrOnce != nil {
		err := f.SendErrOnce
		f.SendErrOnce = nil
		return nil, err
	}
	if f.SendErr != nil {
		return nil, f.SendErr
	}

	f.nextID++
	msg := platform.Message{
		ID:        fmt.Sprintf("msg-%d", f.nextID),
		ChannelID: channelID,
		Content:   content,
	}
	var o platform.SendOptions
	if opts != nil {
		o = *opts
	}
	f.Sent = append(f.Sent, SentMessage{Message: msg, Opts: o})
	return &msg, nil
}

func (f *Fake) Edit(ctx context.Context, channelID, messageID, content string, buttons []platform.Button) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Edits = append(f.Edits, EditRecord{ChannelID: channelID, MessageID: messageID, Content: content, Buttons: buttons})
	return nil
}

func (f *Fake) Delete(ctx context.Context, channelID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Deleted = append(f.Deleted, messageID)
	return nil
}

func (f *Fake) React(ctx context.Context, channelID, messageID, emoji string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Reactions[messageID] = append(f.Reactions[messageID], emoji)
	return nil
}

func (f *Fake) ClearReactions(ctx context.Context, channelID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.Reactions, messageID)
	return nil
}

func (f *Fake) Pin(ctx context.Context, channelID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Pinned = append(f.Pinned, messageID)
	return nil
}

func (f *Fake) Pins(ctx context.Context, channelID string) ([]platform.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	deleted := make(map[string]bool, len(f.Deleted))
	for _, id := range f.Deleted {
		deleted[id] = true
	}

	var pins []platform.Message
	for _, id := range f.Pinned {
		if deleted[id] {
			continue
		}
		for _, s := range f.Sent {
			if s.Message.ID == id && s.Message.ChannelID == channelID {
				pins = append(pins, s.Message)
			}
		}
	}
	return pins, nil
}

func (f *Fake) Typing(ctx context.Context, channelID string) error {
	return nil
}

func (f *Fake) AwaitButton(ctx context.Context, messageID string, buttonIDs []string) (string, error) {
	f.mu.Lock()
	ch, ok := f.buttonScripts[messageID]
	if !ok {
		ch = make(chan string, 8)
		f.buttonScripts[messageID] = ch
	}
	f.mu.Unlock()

	select {
	case id := <-ch:
		return id, nil
	case id := <-f.AnyButton:
		return id, nil
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return "", platform.ErrTimeout
		}
		return "", ctx.Err()
	}
}

func (f *Fake) CollectButtons(messageID string, buttonIDs []string, fn func(buttonID string)) func() {
	done := make(chan struct{})
	f.mu.Lock()
	ch, ok := f.buttonScripts[messageID]
	if !ok {
		ch = make(chan string, 8)
		f.buttonScripts[messageID] = ch
	}
	f.mu.Unlock()

	go func() {
		for {
			select {
			case id := <-ch:
				fn(id)
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}

func (f *Fake) AwaitReaction(ctx context.Context, messageID string, emojis []string) (string, error) {
	f.mu.Lock()
	ch, ok := f.reactionScripts[messageID]
	if !ok {
		ch = make(chan string, 8)
		f.reactionScripts[messageID] = ch
	}
	f.mu.Unlock()

	select {
	case emoji := <-ch:
		return emoji, nil
	case emoji := <-f.AnyReaction:
		return emoji, nil
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return "", platform.ErrTimeout
		}
		return "", ctx.Err()
	}
}
