package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentcord/agentcord/internal/agent"
	"github.com/agentcord/agentcord/internal/config"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify the agent CLI is reachable",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		runner := agent.NewRunner(cfg.Agent)
		version, err := runner.CheckCLI(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("agent CLI ok: %s\n", version)
		return nil
	},
}
