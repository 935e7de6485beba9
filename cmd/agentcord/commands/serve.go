package commands

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentcord/agentcord/internal/agent"
	"github.com/agentcord/agentcord/internal/bot"
	"github.com/agentcord/agentcord/internal/config"
	"github.com/agentcord/agentcord/internal/event"
	"github.com/agentcord/agentcord/internal/logging"
	"github.com/agentcord/agentcord/internal/orchestrator"
	"github.com/agentcord/agentcord/internal/platform/discord"
	"github.com/agentcord/agentcord/internal/server"
	"github.com/agentcord/agentcord/internal/state"
	"github.com/agentcord/agentcord/internal/usage"
)

var (
	servePort   int
	serveNoHTTP bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bot",
	Long: `Connect to the chat platform and serve agent sessions until
interrupted. Also exposes a read-only HTTP status API.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8080, "Status API port")
	serveCmd.Flags().BoolVar(&serveNoHTTP, "no-http", false, "Disable the status API")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	store := state.NewStore(cfg.StateFilePath)
	if err := store.Load(); err != nil {
		return err
	}
	logging.Info().
		Int("sessions", len(store.All())).
		Str("stateFile", cfg.StateFilePath).
		Msg("state loaded")

	bus := event.NewBus()
	defer bus.Close()

	runner := agent.NewRunner(cfg.Agent)

	var tracker orchestrator.UsageChecker
	if cfg.Session.TokenLimit > 0 {
		tracker = usage.NewTracker(cfg.AgentDataDir, int(cfg.Session.TokenLimit), store, bus)
	}

	gateway, err := discord.Connect(cfg, bus)
	if err != nil {
		return err
	}
	defer gateway.Close()

	orch := orchestrator.New(gateway.Adapter(), runner, store, tracker, bus)
	router := bot.New(gateway.Adapter(), store, cfg, orch, bus)

	ctx := context.Background()
	if err := gateway.Start(ctx, router, runner); err != nil {
		return err
	}

	var srv *server.Server
	if !serveNoHTTP {
		serverConfig := server.DefaultConfig()
		serverConfig.Port = servePort
		srv = server.New(serverConfig, store, bus, Version)
		go func() {
			logging.Info().Int("port", servePort).Msg("status API listening")
			if err := srv.Start(); err != nil && err != http.ErrServerClosed {
				logging.Fatal().Err(err).Msg("status API failed")
			}
		}()
	}

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Info().Msg("shutting down")

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.Warn().Err(err).Msg("status API shutdown error")
		}
	}

	// Pending debounced writes must hit disk before exit.
	if err := store.Flush(); err != nil {
		logging.Error().Err(err).Msg("final state flush failed")
	}

	logging.Info().Msg("stopped")
	return nil
}
