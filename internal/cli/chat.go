// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	chatcore "github.com/jeranaias/ollamabro/internal/chat"
	"github.com/jeranaias/ollamabro/internal/logging"
	uichat "github.com/jeranaias/ollamabro/internal/ui/chat"
	"github.com/jeranaias/ollamabro/internal/ui/styles"
)

func newChatCmd(a *app) *cobra.Command {
	var opts struct {
		Plain bool
	}

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat",
		Long: `Chat with a local model. Conversations are kept per model and restored
on the next start.

The full-screen UI needs a terminal; --plain runs a line-oriented REPL
that also works over pipes.`,
		Example: `  ollamabro chat
  ollamabro chat -m llava:13b
  ollamabro chat --plain`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Plain {
				return runPlainChat(cmd.Context(), a, cmd)
			}
			if err := RequiresTTY("start the chat UI"); err != nil {
				return err
			}
			return runTUIChat(cmd.Context(), a)
		},
	}

	cmd.Flags().BoolVar(&opts.Plain, "plain", false, "use the line REPL instead of the full-screen UI")
	return cmd
}

// runTUIChat starts the Bubble Tea UI. Logs go to a file so they do not
// draw over the screen.
func runTUIChat(ctx context.Context, a *app) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM)
	defer stop()

	logPath, err := a.cfg.LogPath()
	if err != nil {
		return err
	}
	logFile, err := logging.OpenFile(logPath)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	logOpts := logging.DefaultOptions()
	logOpts.Level = logging.ParseLevel(a.cfg.Log.Level)
	logOpts.NoColor = true
	log := logging.Setup(logFile, logOpts)

	rt, err := newRuntime(a.cfg, log)
	if err != nil {
		return err
	}

	presenter := uichat.NewPresenter()
	rt.controller.SetRefreshFunc(presenter.ConversationsChanged)
	session, dispatcher := newSession(rt, presenter, log)

	m := uichat.New(ctx, uichat.Deps{
		Dispatcher:    dispatcher,
		Conversations: rt.controller,
		Capabilities:  rt.classifier,
		Models:        rt.client,
		Presenter:     presenter,
		Theme:         styles.NewTheme(),
		Logger:        log,
	})

	log.Info("chat ui starting", "model", session.Model(), "relay", rt.client.BaseURL())
	runErr := rt.runWith(ctx, "ui", func(ctx context.Context) error {
		return uichat.Run(ctx, m)
	})
	return shutdown(rt, session, runErr)
}

// newSession wires a session and dispatcher for the configured model.
func newSession(rt *runtime, presenter chatcore.Presenter, log *slog.Logger) (*chatcore.Session, *chatcore.Dispatcher) {
	session := chatcore.NewSession(chatcore.SessionConfig{
		Model:         rt.cfg.Client.Model,
		Streamer:      rt.client,
		Conversations: rt.controller,
		Capabilities:  rt.classifier,
		Presenter:     presenter,
		Logger:        log,
	})
	// a model picked by flag or config never goes through SwitchModel
	if name := session.Model(); name != "" {
		rt.classifier.Refresh(name)
	}
	return session, chatcore.NewDispatcher(session, rt.controller, rt.classifier, presenter)
}

// shutdown stops any reply still in flight, waits for it to be persisted,
// then closes the runtime.
func shutdown(rt *runtime, session *chatcore.Session, runErr error) error {
	session.Cancel()
	session.Wait()
	closeErr := rt.Close()
	if runErr != nil {
		return runErr
	}
	return closeErr
}
