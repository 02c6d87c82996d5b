// Package main is the foreman binary: it compiles workflow files into
// graphs and drives them through the orchestration engine.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/foremanlabs/foreman/internal/blueprint"
	"github.com/foremanlabs/foreman/internal/config"
	"github.com/foremanlabs/foreman/internal/dag"
)

const version = "0.1.0"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type rootFlags struct {
	configPath string
	logLevel   string
}

func rootCmd() *cobra.Command {
	var flags rootFlags

	cmd := &cobra.Command{
		Use:   "foreman",
		Short: "Agent task orchestrator",
		Long: `Foreman coordinates autonomous coding agents: it dispatches tasks
under a concurrency cap, verifies finished work, retries with review
feedback, and executes workflow graphs with fan-out, fan-in, and
approval gates.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "project config file (default .foreman/config.json)")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	cmd.AddCommand(runCmd(&flags))
	cmd.AddCommand(validateCmd())
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "foreman version %s\n", version)
		},
	})

	return cmd
}

// buildLogger installs a text handler at the requested level and returns
// it. It is also set as the process default.
func buildLogger(levelStr string, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(levelStr) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

// configPaths resolves the global and project config locations. The
// --config flag replaces the project path only.
func (f *rootFlags) configPaths() (globalPath, projectPath string) {
	projectPath = f.configPath
	if projectPath == "" {
		projectPath = filepath.Join(".foreman", "config.json")
	}
	if home, err := os.UserHomeDir(); err == nil {
		globalPath = filepath.Join(home, ".foreman", "config.json")
	}
	return globalPath, projectPath
}

func (f *rootFlags) loadConfig() (cfg *config.Config, globalPath, projectPath string, err error) {
	globalPath, projectPath = f.configPaths()
	cfg, err = config.Load(globalPath, projectPath)
	if err != nil {
		return nil, "", "", err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", "", fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, globalPath, projectPath, nil
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <workflow.yaml>",
		Short: "Check a workflow file without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bp, err := blueprint.Load(args[0])
			if err != nil {
				return err
			}
			order, err := dag.Validate(bp.Nodes, bp.Edges)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d nodes, %d edges\nexecution order: %s\n",
				bp.Name, len(bp.Nodes), len(bp.Edges), strings.Join(order, " -> "))
			return nil
		},
	}
}
