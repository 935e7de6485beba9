// Package main provides the entry point for the agentcord bot.
package main

import (
	"fmt"
	"os"

	"github.com/agentcord/agentcord/cmd/agentcord/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
