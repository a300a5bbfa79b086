// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jeranaias/ollamabro/internal/relay"
	"github.com/jeranaias/ollamabro/internal/service"
)

func newRelayCmd(a *app) *cobra.Command {
	var opts struct {
		Listen        string
		Upstream      string
		AllowedOrigin string
	}

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run the loopback CORS relay in front of Ollama",
		Long: `Forward /proxy/api/{chat,generate,tags,show} to the local Ollama runtime,
answering CORS preflights for the configured extension origin.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg.Relay
			if opts.Listen != "" {
				cfg.Listen = opts.Listen
			}
			if opts.Upstream != "" {
				cfg.Upstream = opts.Upstream
			}
			if opts.AllowedOrigin != "" {
				cfg.AllowedOrigin = opts.AllowedOrigin
			}

			srv, err := relay.NewServer(cfg, a.log)
			if err != nil {
				return err
			}
			a.log.Info("relay starting", "listen", cfg.Listen, "upstream", cfg.Upstream, "origin", cfg.AllowedOrigin)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return service.Group{service.Func{Label: "relay", Fn: srv.Run}}.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "listen address (default from config, 127.0.0.1:3000)")
	cmd.Flags().StringVar(&opts.Upstream, "upstream", "", "Ollama base URL (must be loopback)")
	cmd.Flags().StringVar(&opts.AllowedOrigin, "origin", "", "the one browser origin allowed by CORS")
	return cmd
}
