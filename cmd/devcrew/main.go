package main

import (
	"os"

	"devcrew/cmd/devcrew/agents"
	"devcrew/cmd/devcrew/develop"
	"devcrew/cmd/devcrew/serve"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "devcrew",
		Short:        "devcrew runs a crew of LLM agents that develops software from a problem statement",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringP("config", "c", "", "path to config.toml (default $XDG_CONFIG_HOME/devcrew/config.toml)")

	rootCmd.AddCommand(serve.Cmd)
	rootCmd.AddCommand(develop.Cmd)
	rootCmd.AddCommand(agents.Cmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
