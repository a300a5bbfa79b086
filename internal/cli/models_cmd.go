// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/ollamabro/internal/capability"
	"github.com/jeranaias/ollamabro/internal/ollama"
	"github.com/jeranaias/ollamabro/internal/util"
)

func newModelsCmd(a *app) *cobra.Command {
	var opts struct {
		Detect bool
	}

	cmd := &cobra.Command{
		Use:   "models",
		Short: "List installed models and their capabilities",
		Long: `List the models the runtime reports. Without --detect the vision and
reasoning columns come from name heuristics; --detect asks the runtime for
each model's metadata.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(a.cfg, a.log)
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx := cmd.Context()
			models, err := rt.client.ListModels(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(models) == 0 {
				fmt.Fprintln(out, "No models installed. Pull one with: ollama pull llama3.2")
				return nil
			}

			fmt.Fprintln(out, util.PadRight("NAME", 32)+" "+util.PadRight("SIZE", 8)+" "+util.PadRight("VISION", 7)+" "+util.PadRight("REASONING", 10)+" SOURCE")
			for _, m := range models {
				var rec capability.Record
				if opts.Detect {
					rec = rt.classifier.DetectCapabilities(ctx, m.Name)
				} else {
					rec = rt.classifier.Lookup(m.Name)
				}
				source := string(rec.Source)
				if rec.Error != "" {
					source += " (" + rec.Error + ")"
				}
				fmt.Fprintln(out, util.PadRight(util.TruncateWidth(m.Name, 32), 32)+" "+
					util.PadRight(m.Details.ParameterSize, 8)+" "+
					util.PadRight(yesNo(rec.Vision), 7)+" "+
					util.PadRight(yesNo(rec.Reasoning), 10)+" "+
					source)
			}
			if name := a.cfg.Client.Model; name != "" && !hasModel(models, name) {
				fmt.Fprintln(out, WarningStyle.Render(fmt.Sprintf("Configured model %s is not installed.", name)))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&opts.Detect, "detect", false, "query model metadata instead of using name heuristics")
	return cmd
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func hasModel(models []ollama.ModelInfo, name string) bool {
	for _, m := range models {
		if strings.EqualFold(m.Name, name) {
			return true
		}
	}
	return false
}
