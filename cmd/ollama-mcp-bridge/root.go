package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/probichaux/ollama-mcp-bridge/bridge"
	"github.com/probichaux/ollama-mcp-bridge/observability"
)

type rootFlags struct {
	configFile string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:           "ollama-mcp-bridge",
		Short:         "Bridge a local Ollama model to MCP tool servers",
		Long:          "ollama-mcp-bridge spawns the MCP servers from your config file, aggregates their tools, and drives an Ollama model through a tool-calling conversation loop.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringVarP(&flags.configFile, "config", "c", "bridge_config.json", "path to the JSONC config file")
	rootCmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "log peer traffic and loop events to stderr")

	rootCmd.AddCommand(
		newVersionCmd(),
		newToolsCmd(flags),
		newAskCmd(flags),
		newChatCmd(flags),
	)

	return rootCmd
}

// newBridge wires a Bridge from the config file and the verbosity flag.
// The caller owns the returned bridge and must Close it.
func newBridge(cmd *cobra.Command, flags *rootFlags) (*bridge.Bridge, error) {
	cfg, err := bridge.LoadConfig(flags.configFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	level := slog.LevelWarn
	if flags.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	observer := observability.NewSlogObserver(logger)

	b, err := bridge.New(cmd.Context(), cfg, bridge.WithObserver(observer))
	if err != nil {
		return nil, fmt.Errorf("start bridge: %w", err)
	}
	return b, nil
}
