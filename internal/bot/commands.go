package bot

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentcord/agentcord/internal/config"
	"github.com/agentcord/agentcord/internal/event"
	"github.com/agentcord/agentcord/internal/logging"
	"github.com/agentcord/agentcord/internal/platform"
	"github.com/agentcord/agentcord/internal/state"
)

// mkdirConfirmTimeout bounds the directory-creation confirmation.
const mkdirConfirmTimeout = 30 * time.Second

// Confirmation button IDs on the cwd mkdir prompt.
const (
	buttonMkdirYes = "cwd_mkdir_yes"
	buttonMkdirNo  = "cwd_mkdir_no"
)

type commandHandler func(ctx context.Context, b *Bot, in Inbound, args string)

// commandDef describes one registered command.
type commandDef struct {
	name        string
	usage       string
	description string
	category    string
	handler     commandHandler
}

var commandRegistry []commandDef

// Populated in init to break the declaration cycle through cmdHelp/HelpText.
func init() {
	commandRegistry = []commandDef{
		{name: "start", usage: "!start", description: "Start an agent session in this channel (channel name becomes the topic)", category: "Session", handler: cmdStart},
		{name: "stop", usage: "!stop", description: "Stop this channel's session", category: "Session", handler: cmdStop},
		{name: "cwd", usage: "!cwd <path>", description: "Change the working directory (no argument shows the current one)", category: "Settings", handler: cmdCwd},
		{name: "help", usage: "!help", description: "Show this help", category: "Misc", handler: cmdHelp},
	}
}

// HelpText renders the command reference grouped by category.
func HelpText() string {
	sections := []string{"**Agentcord commands:**"}
	seen := map[string]bool{}
	for _, cmd := range commandRegistry {
		if seen[cmd.category] {
			continue
		}
		seen[cmd.category] = true
		sections = append(sections, fmt.Sprintf("\n**%s**", cmd.category))
		for _, c := range commandRegistry {
			if c.category == cmd.category {
				sections = append(sections, fmt.Sprintf("`%s`: %s", c.usage, c.description))
			}
		}
	}
	return strings.Join(sections, "\n")
}

// parseCommand splits "!name args". Returns ok=false for non-commands.
func parseCommand(content string) (name, args string, ok bool) {
	if !strings.HasPrefix(content, commandPrefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(content, commandPrefix)
	name, args, _ = strings.Cut(rest, " ")
	if name == "" {
		return "", "", false
	}
	return name, strings.TrimSpace(args), true
}

// dispatchCommand runs a registered command. Returns false when the message
// is not a known command, letting it fall through to session routing.
func (b *Bot) dispatchCommand(ctx context.Context, in Inbound) bool {
	name, args, ok := parseCommand(in.Message.Content)
	if !ok {
		return false
	}
	for _, cmd := range commandRegistry {
		if cmd.name == name {
			logging.Info().Str("command", name).Str("channel", in.Message.ChannelID).Msg("command dispatched")
			cmd.handler(ctx, b, in, args)
			return true
		}
	}
	return false
}

// reply sends a message into the command's channel, replying to the trigger.
func (b *Bot) reply(ctx context.Context, in Inbound, content string) {
	if _, err := b.messenger.Send(ctx, in.Message.ChannelID, content, &platform.SendOptions{ReplyTo: in.Message.ID}); err != nil {
		logging.Warn().Err(err).Msg("failed to send command reply")
	}
}

func cmdStart(ctx context.Context, b *Bot, in Inbound, _ string) {
	channelID := in.Message.ChannelID

	if existing, ok := b.store.Get(channelID); ok {
		b.reply(ctx, in, fmt.Sprintf(
			"**A session is already active.**\n**Topic:** %s\n**Session:** `%s`\n**CWD:** `%s`\n**Messages:** %d",
			existing.Topic, existing.ShortID(), existing.WorkingDir, existing.MessageCount))
		return
	}

	cwd, ok := b.store.ChannelCwd(channelID)
	if !ok {
		cwd = b.cfg.Cwd.Default
	}

	sess := state.Session{
		SessionID:  uuid.NewString(),
		ChannelID:  channelID,
		Topic:      in.ChannelName,
		WorkingDir: cwd,
		CreatedAt:  time.Now(),
	}
	b.store.Put(sess)

	b.bus.Publish(event.Event{Type: event.SessionCreated, Data: event.SessionData{
		SessionID: sess.SessionID, ChannelID: channelID, Topic: sess.Topic,
	}})

	b.reply(ctx, in, fmt.Sprintf("Agent session started.\n**Topic:** %s\nSend a message to talk to the agent.", sess.Topic))
	b.pinStatus(ctx, sess)
}

func cmdStop(ctx context.Context, b *Bot, in Inbound, _ string) {
	removed, ok := b.store.Remove(in.Message.ChannelID)
	if !ok {
		b.reply(ctx, in, "No active session in this channel.")
		return
	}

	b.removeStatusPin(ctx, in.Message.ChannelID)
	b.bus.Publish(event.Event{Type: event.SessionStopped, Data: event.SessionData{
		SessionID: removed.SessionID, ChannelID: removed.ChannelID, Topic: removed.Topic,
	}})

	b.reply(ctx, in, fmt.Sprintf("Session stopped.\n**Topic:** %s\n**Messages:** %d", removed.Topic, removed.MessageCount))
}

func cmdCwd(ctx context.Context, b *Bot, in Inbound, args string) {
	channelID := in.Message.ChannelID

	if args == "" {
		if current, ok := b.store.ChannelCwd(channelID); ok {
			b.reply(ctx, in, fmt.Sprintf("Current working directory: `%s`", current))
		} else {
			b.reply(ctx, in, "No working directory set. Usage: `!cwd /path/to/project`")
		}
		return
	}

	dirPath := config.ExpandPath(args)
	if err := b.cfg.ValidateCwd(dirPath); err != nil {
		b.reply(ctx, in, fmt.Sprintf("❌ %v", err))
		return
	}

	if info, err := os.Stat(dirPath); err == nil {
		if !info.IsDir() {
			b.reply(ctx, in, fmt.Sprintf("Path is not a directory: `%s`", dirPath))
			return
		}
	} else if !b.confirmMkdir(ctx, in, dirPath) {
		return
	}

	b.store.SetChannelCwd(channelID, dirPath)

	// A live session is tied to its path; rotate it onto the new directory.
	sess, ok := b.store.Get(channelID)
	if !ok {
		b.reply(ctx, in, fmt.Sprintf("Working directory set to: `%s`", dirPath))
		return
	}

	sess.WorkingDir = dirPath
	sess.SessionID = uuid.NewString()
	sess.MessageCount = 0
	sess.LastAlertPercent = 0
	b.store.Put(sess)

	b.bus.Publish(event.Event{Type: event.SessionReset, Data: event.SessionData{
		SessionID: sess.SessionID, ChannelID: channelID, Topic: sess.Topic,
	}})

	b.pinStatus(ctx, sess)
	b.reply(ctx, in, fmt.Sprintf("Working directory changed to: `%s`\nA new session starts here (`%s`).", dirPath, sess.ShortID()))
}

// confirmMkdir asks whether to create a missing directory and creates it on
// confirmation. Reports whether the cwd change may proceed.
func (b *Bot) confirmMkdir(ctx context.Context, in Inbound, dirPath string) bool {
	channelID := in.Message.ChannelID

	msg, err := b.messenger.Send(ctx, channelID,
		fmt.Sprintf("Directory does not exist: `%s`\nCreate it?", dirPath),
		&platform.SendOptions{
			ReplyTo: in.Message.ID,
			Buttons: []platform.Button{
				{ID: buttonMkdirYes, Label: "Yes", Style: platform.ButtonSuccess},
				{ID: buttonMkdirNo, Label: "No", Style: platform.ButtonSecondary},
			},
		})
	if err != nil {
		logging.Warn().Err(err).Msg("failed to send mkdir confirmation")
		return false
	}

	waitCtx, cancel := context.WithTimeout(ctx, mkdirConfirmTimeout)
	defer cancel()

	clicked, err := b.messenger.AwaitButton(waitCtx, msg.ID, []string{buttonMkdirYes, buttonMkdirNo})
	if err != nil {
		b.edit(ctx, channelID, msg.ID, "Working directory change timed out and was canceled.")
		return false
	}
	if clicked == buttonMkdirNo {
		b.edit(ctx, channelID, msg.ID, "Working directory change canceled.")
		return false
	}

	if err := os.MkdirAll(dirPath, 0755); err != nil {
		b.edit(ctx, channelID, msg.ID, fmt.Sprintf("Failed to create directory: %v", err))
		return false
	}
	b.edit(ctx, channelID, msg.ID, fmt.Sprintf("Directory created: `%s`", dirPath))
	return true
}

func (b *Bot) edit(ctx context.Context, channelID, messageID, content string) {
	if err := b.messenger.Edit(ctx, channelID, messageID, content, nil); err != nil {
		logging.Debug().Err(err).Msg("failed to edit message")
	}
}

func cmdHelp(ctx context.Context, b *Bot, in Inbound, _ string) {
	b.reply(ctx, in, HelpText())
}
