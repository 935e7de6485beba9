package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/agentcord/agentcord/internal/agent"
	"github.com/agentcord/agentcord/internal/bot"
	"github.com/agentcord/agentcord/internal/config"
	"github.com/agentcord/agentcord/internal/event"
	"github.com/agentcord/agentcord/internal/logging"
)

// Gateway owns the Discord connection: it feeds inbound messages to the
// router and maintains the guild's system channels.
type Gateway struct {
	cfg     *config.Config
	session *discordgo.Session
	adapter *Adapter
	bus     *event.Bus

	router *bot.Bot

	alertChannelID string
	adminChannelID string
}

// Connect opens the gateway session. Start must be called once the router is
// built around the adapter.
func Connect(cfg *config.Config, bus *event.Bus) (*Gateway, error) {
	session, err := discordgo.New("Bot " + cfg.Discord.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsMessageContent |
		discordgo.IntentsGuildMessageReactions

	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("failed to open discord gateway: %w", err)
	}

	logging.Info().Str("user", session.State.User.Username).Msg("discord gateway connected")

	return &Gateway{
		cfg:     cfg,
		session: session,
		adapter: NewAdapter(session, session.State.User.ID),
		bus:     bus,
	}, nil
}

// Adapter returns the platform port implementation for this connection.
func (g *Gateway) Adapter() *Adapter {
	return g.adapter
}

// Start registers message routing and runs the guild bootstrap: system
// channels, guide text, agent CLI health check and the usage-alert mirror.
func (g *Gateway) Start(ctx context.Context, router *bot.Bot, runner *agent.Runner) error {
	g.router = router
	g.session.AddHandler(g.onMessageCreate)

	if g.cfg.Discord.GuildID != "" {
		if err := g.bootstrap(ctx, runner); err != nil {
			return err
		}
	}

	g.bus.Subscribe(event.UsageAlert, func(e event.Event) {
		data, ok := e.Data.(event.UsageAlertData)
		if !ok {
			return
		}
		channelID := g.alertChannelID
		if channelID == "" {
			channelID = data.ChannelID
		}
		if _, err := g.adapter.Send(context.Background(), channelID, data.Message, nil); err != nil {
			logging.Warn().Err(err).Msg("failed to deliver usage alert")
		}
	})

	return nil
}

func (g *Gateway) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	if g.cfg.Discord.GuildID != "" && m.GuildID != g.cfg.Discord.GuildID {
		return
	}

	channelName := ""
	if ch, err := s.State.Channel(m.ChannelID); err == nil {
		channelName = ch.Name
	} else if ch, err := s.Channel(m.ChannelID); err == nil {
		channelName = ch.Name
	}

	in := bot.Inbound{
		Message:     *toMessage(m.Message),
		AuthorID:    m.Author.ID,
		ChannelName: channelName,
	}
	// Each inbound message runs independently; the router drops overlapping
	// turns per channel.
	go g.router.HandleInbound(context.Background(), in)
}

// Close disconnects the gateway.
func (g *Gateway) Close() error {
	return g.session.Close()
}
