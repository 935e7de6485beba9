package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/agentcord/agentcord/internal/agent"
	"github.com/agentcord/agentcord/internal/bot"
	"github.com/agentcord/agentcord/internal/logging"
)

// System channel names maintained in the guild.
const (
	adminChannelName = "agent-admin"
	alertChannelName = "agent-alerts"
	guideChannelName = "agent-guide"
)

// bootstrap ensures the system channels exist, refreshes the guide text and
// reports the agent CLI health check to the admin and alert channels.
func (g *Gateway) bootstrap(ctx context.Context, runner *agent.Runner) error {
	guildID := g.cfg.Discord.GuildID

	adminID, err := g.ensureChannel(guildID, adminChannelName, false)
	if err != nil {
		return err
	}
	g.adminChannelID = adminID

	alertID, err := g.ensureChannel(guildID, alertChannelName, false)
	if err != nil {
		return err
	}
	g.alertChannelID = alertID

	guideID, err := g.ensureChannel(guildID, guideChannelName, true)
	if err != nil {
		return err
	}
	g.refreshGuide(ctx, guideID)

	g.reportHealth(ctx, runner)
	return nil
}

// ensureChannel finds or creates a guild text channel. Read-only channels
// deny sends to everyone but the bot.
func (g *Gateway) ensureChannel(guildID, name string, readOnly bool) (string, error) {
	channels, err := g.session.GuildChannels(guildID)
	if err != nil {
		return "", fmt.Errorf("failed to list guild channels: %w", err)
	}
	for _, ch := range channels {
		if ch.Type == discordgo.ChannelTypeGuildText && ch.Name == name {
			return ch.ID, nil
		}
	}

	data := discordgo.GuildChannelCreateData{
		Name: name,
		Type: discordgo.ChannelTypeGuildText,
	}
	if readOnly {
		// The everyone role shares the guild's ID.
		data.PermissionOverwrites = []*discordgo.PermissionOverwrite{
			{
				ID:    guildID,
				Type:  discordgo.PermissionOverwriteTypeRole,
				Deny:  discordgo.PermissionSendMessages,
				Allow: discordgo.PermissionViewChannel | discordgo.PermissionReadMessageHistory,
			},
			{
				ID:    g.session.State.User.ID,
				Type:  discordgo.PermissionOverwriteTypeMember,
				Allow: discordgo.PermissionSendMessages | discordgo.PermissionManageMessages,
			},
		}
	}

	ch, err := g.session.GuildChannelCreateComplex(guildID, data)
	if err != nil {
		return "", fmt.Errorf("failed to create channel %s: %w", name, err)
	}
	logging.Info().Str("channel", name).Msg("created system channel")
	return ch.ID, nil
}

// refreshGuide clears the guide channel and re-posts the command reference.
func (g *Gateway) refreshGuide(ctx context.Context, channelID string) {
	msgs, err := g.session.ChannelMessages(channelID, 100, "", "", "")
	if err == nil && len(msgs) > 0 {
		ids := make([]string, 0, len(msgs))
		for _, m := range msgs {
			ids = append(ids, m.ID)
		}
		if err := g.session.ChannelMessagesBulkDelete(channelID, ids); err != nil {
			for _, id := range ids {
				if err := g.session.ChannelMessageDelete(channelID, id); err != nil {
					logging.Debug().Err(err).Msg("failed to clear guide message")
				}
			}
		}
	}

	if _, err := g.adapter.Send(ctx, channelID, bot.HelpText(), nil); err != nil {
		logging.Warn().Err(err).Msg("failed to post guide text")
	}
}

// reportHealth verifies the agent CLI binary and its credentials, then
// announces the outcome.
func (g *Gateway) reportHealth(ctx context.Context, runner *agent.Runner) {
	version, err := runner.CheckCLI(ctx)
	if err != nil {
		g.announce(ctx, g.adminChannelID, fmt.Sprintf("⚠️ **Agent CLI unavailable**: %v", err))
		g.announce(ctx, g.alertChannelID, "⚠️ **Agent CLI unavailable**: check the admin channel.")
		return
	}

	probe := runner.Invoke(ctx, agent.Options{
		Prompt:      "Reply with only: ok",
		WorkingDir:  g.cfg.Cwd.Default,
		Permissions: agent.AutoBypass{},
	}).Wait()
	if !probe.Success {
		g.announce(ctx, g.adminChannelID,
			fmt.Sprintf("⚠️ Agent CLI found (%s) but the auth probe failed:\n%s", version, probe.Output))
		g.announce(ctx, g.alertChannelID, "⚠️ **Agent CLI unavailable**: check the admin channel.")
		return
	}

	g.announce(ctx, g.adminChannelID, fmt.Sprintf("✅ Agent CLI healthy (%s)", version))
	g.announce(ctx, g.alertChannelID, "**Agentcord is now online**")
}

func (g *Gateway) announce(ctx context.Context, channelID, content string) {
	if channelID == "" {
		return
	}
	if _, err := g.adapter.Send(ctx, channelID, content, nil); err != nil {
		logging.Warn().Err(err).Msg("failed to send system announcement")
	}
}
