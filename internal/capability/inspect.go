// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package capability

import (
	"strings"

	"github.com/jeranaias/ollamabro/internal/ollama"
)

var (
	visionMetadataFamilies = []string{"clip", "mllama", "vision", "siglip"}
	visionMarkers          = []string{"<image>", "projector", "[img]", "<|image|>"}
	reasoningMarkers       = []string{"<think>", "</think>", "<|thinking|>", ".thinking"}
)

// Inspect derives an authoritative verdict from /api/show metadata. The name
// still feeds the reasoning families and the vision-only exclusion.
func (h *Heuristics) Inspect(name string, info *ollama.ShowModelResponse) Record {
	families := make([]string, 0, len(info.Details.Families)+1)
	if f := fold(info.Details.Family); f != "" {
		families = append(families, f)
	}
	families = append(families, foldAll(info.Details.Families)...)

	text := fold(info.Template + "\n" + info.System + "\n" + info.Modelfile + "\n" + info.Parameters)

	vision := hasCapability(info.Capabilities, "vision") ||
		anyFamily(families, visionMetadataFamilies) ||
		anyFamily(families, h.VisionFamilies) ||
		matchKeyword(text, visionMarkers)

	visionOnly := h.IsVisionOnly(name) || anyFamily(families, h.VisionOnlyFamilies)

	reasoning := false
	if !visionOnly {
		reasoning = hasCapability(info.Capabilities, "thinking") ||
			matchKeyword(text, reasoningMarkers) ||
			anyFamily(families, h.ReasoningFamilies) ||
			h.reasoningSignal(fold(name))
		if !reasoning && !vision && h.ReasoningMinParamsB > 0 {
			reasoning = ParseParameterSize(info.Details.ParameterSize) >= h.ReasoningMinParamsB
		}
	}

	return Record{
		Vision:    vision,
		Reasoning: reasoning,
		Source:    SourceAuthoritative,
	}
}

func anyFamily(families, known []string) bool {
	for _, f := range families {
		for _, k := range known {
			if strings.Contains(f, k) {
				return true
			}
		}
	}
	return false
}

func hasCapability(caps []string, want string) bool {
	for _, c := range caps {
		if strings.EqualFold(c, want) {
			return true
		}
	}
	return false
}
