// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/ollamabro/internal/export"
	"github.com/jeranaias/ollamabro/internal/model"
	"github.com/jeranaias/ollamabro/internal/storage"
	"github.com/jeranaias/ollamabro/internal/util"
)

var errNoModel = errors.New("no model given; pass --model or set client.model")

func newHistoryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "history",
		Aliases: []string{"hist"},
		Short:   "Inspect stored conversations",
		Long: `Conversations are stored per model. Without --model, "history list"
shows which models have history; the other subcommands act on one model.`,
	}
	cmd.AddCommand(
		newHistoryListCmd(a),
		newHistoryShowCmd(a),
		newHistoryExportCmd(a),
		newHistoryDeleteCmd(a),
		newHistoryClearCmd(a),
	)
	return cmd
}

// withStore opens storage for one command.
func withStore(a *app, fn func(*storage.Store) error) error {
	store, err := storage.Open(a.cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

func newHistoryListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List conversations for a model, or models with history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			return withStore(a, func(store *storage.Store) error {
				ctx := cmd.Context()
				if name := a.cfg.Client.Model; name != "" {
					fmt.Fprintln(out, TitleStyle.Render(name))
					fmt.Fprint(out, storage.FormatConversationList(store.Load(ctx, name)))
					return nil
				}

				names, err := store.Models(ctx)
				if err != nil {
					return err
				}
				if len(names) == 0 {
					fmt.Fprintln(out, "No conversations stored.")
					return nil
				}
				for _, name := range names {
					state := store.Load(ctx, name)
					fmt.Fprintln(out, util.PadRight(name, 32)+" "+fmt.Sprintf("%d conversations", state.Len()))
				}
				return nil
			})
		},
	}
}

func newHistoryShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Print a conversation as Markdown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := a.cfg.Client.Model
			if name == "" {
				return errNoModel
			}
			return withStore(a, func(store *storage.Store) error {
				conv, err := findConversation(store.Load(cmd.Context(), name), args[0])
				if err != nil {
					return err
				}
				opts := export.DefaultOptions()
				opts.IncludeMetadata = false
				body, err := export.NewMarkdownExporter(opts).Export(name, conv)
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(body)
				return err
			})
		},
	}
}

func newHistoryExportCmd(a *app) *cobra.Command {
	opts := export.DefaultOptions()
	var format string
	cmd := &cobra.Command{
		Use:   "export ID",
		Short: "Write a conversation to a Markdown, JSON or HTML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := a.cfg.Client.Model
			if name == "" {
				return errNoModel
			}
			exporter, err := export.ForFormat(format, opts)
			if err != nil {
				return err
			}
			return withStore(a, func(store *storage.Store) error {
				conv, err := findConversation(store.Load(cmd.Context(), name), args[0])
				if err != nil {
					return err
				}
				path, err := export.ToFile(name, conv, exporter, opts)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), SuccessStyle.Render("Exported")+" "+path)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "md", "output format: "+strings.Join(export.Formats, ", "))
	cmd.Flags().StringVar(&opts.OutputDir, "dir", ".", "output directory")
	cmd.Flags().StringVar(&opts.Theme, "theme", "dark", "HTML theme: dark or light")
	return cmd
}

func newHistoryDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete one conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := a.cfg.Client.Model
			if name == "" {
				return errNoModel
			}
			rt, err := newRuntime(a.cfg, a.log)
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx := cmd.Context()
			conv, err := findConversation(rt.store.Load(ctx, name), args[0])
			if err != nil {
				return err
			}
			rt.controller.DeleteConversation(ctx, name, conv.ID)
			fmt.Fprintln(cmd.OutOrStdout(), SuccessStyle.Render("Deleted")+" "+conv.ID.String())
			return nil
		},
	}
}

func newHistoryClearCmd(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every conversation for a model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			name := a.cfg.Client.Model
			if name == "" {
				return errNoModel
			}
			if !yes {
				return fmt.Errorf("this deletes all %s conversations; rerun with --yes", name)
			}
			rt, err := newRuntime(a.cfg, a.log)
			if err != nil {
				return err
			}
			defer rt.Close()
			rt.controller.ClearAll(cmd.Context(), name)
			fmt.Fprintln(cmd.OutOrStdout(), SuccessStyle.Render("Cleared")+" "+name)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm")
	return cmd
}

// findConversation matches a full id or a unique prefix of one, as printed
// by "history list".
func findConversation(state model.ModelState, ref string) (*model.Conversation, error) {
	ref = strings.ToLower(strings.TrimSpace(ref))
	if ref == "" {
		return nil, errors.New("empty conversation id")
	}
	var found *model.Conversation
	for _, conv := range state.Sorted() {
		if !strings.HasPrefix(conv.ID.String(), ref) {
			continue
		}
		if found != nil {
			return nil, fmt.Errorf("conversation id %q is ambiguous", ref)
		}
		found = conv
	}
	if found == nil {
		return nil, fmt.Errorf("no conversation %q", ref)
	}
	return found, nil
}
