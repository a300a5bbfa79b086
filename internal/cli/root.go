// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jeranaias/ollamabro/internal/config"
	"github.com/jeranaias/ollamabro/internal/logging"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// globalOpts holds the persistent flags.
type globalOpts struct {
	ConfigPath string
	Model      string
	LogLevel   string
}

// app is what PersistentPreRunE hands to every subcommand.
type app struct {
	opts *globalOpts
	cfg  *config.Config
	log  *slog.Logger
}

// NewRootCmd builds the ollamabro command tree.
func NewRootCmd() *cobra.Command {
	opts := &globalOpts{}
	a := &app{opts: opts}

	root := &cobra.Command{
		Use:           "ollamabro",
		Short:         "Chat with local Ollama models",
		Long:          "ollamabro runs a loopback CORS relay in front of Ollama and a terminal chat client with per-model conversation history.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd.ErrOrStderr())
		},
	}

	root.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "config file (default ~/.ollamabro/config.toml)")
	root.PersistentFlags().StringVarP(&opts.Model, "model", "m", "", "model to chat with (overrides config)")
	root.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "debug, info, warn or error")

	root.AddCommand(
		newRelayCmd(a),
		newChatCmd(a),
		newModelsCmd(a),
		newHistoryCmd(a),
		newConfigCmd(a),
		newVersionCmd(),
	)
	return root
}

// setup loads configuration and installs the default logger.
func (a *app) setup(stderr io.Writer) error {
	var (
		cfg *config.Config
		err error
	)
	if a.opts.ConfigPath != "" {
		cfg, err = config.LoadFromPath(a.opts.ConfigPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if a.opts.Model != "" {
		cfg.Client.Model = a.opts.Model
	}
	if a.opts.LogLevel != "" {
		cfg.Log.Level = a.opts.LogLevel
	}
	a.cfg = cfg

	logOpts := logging.DefaultOptions()
	logOpts.Level = logging.ParseLevel(cfg.Log.Level)
	logOpts.NoColor = cfg.Log.NoColor || !ColorsEnabled()
	a.log = logging.Setup(stderr, logOpts)
	return nil
}

// Execute runs root and returns the process exit code.
func Execute(ctx context.Context, root *cobra.Command) int {
	if err := root.ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return 130
		}
		fmt.Fprintln(os.Stderr, ErrorStyle.Render("Error:")+" "+err.Error())
		return 1
	}
	return 0
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		// Skip config loading so a broken config still reports a version.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ollamabro %s (commit %s, built %s)\n", Version, GitCommit, BuildDate)
		},
	}
}
