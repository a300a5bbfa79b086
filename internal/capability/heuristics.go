// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package capability

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"golang.org/x/text/cases"
)

//go:embed heuristics.toml
var defaultHeuristicsTOML []byte

// HeuristicsVersion is the newest document version this build understands.
const HeuristicsVersion = 1

// Heuristics is the versioned rule set used for name-based classification.
type Heuristics struct {
	Version             int      `toml:"version"`
	VisionFamilies      []string `toml:"vision_families"`
	VisionOnlyFamilies  []string `toml:"vision_only_families"`
	ReasoningFamilies   []string `toml:"reasoning_families"`
	VisionKeywords      []string `toml:"vision_keywords"`
	ReasoningKeywords   []string `toml:"reasoning_keywords"`
	ReasoningMinParamsB float64  `toml:"reasoning_min_params_b"`
}

// DefaultHeuristics returns the embedded rule set.
func DefaultHeuristics() *Heuristics {
	h, err := ParseHeuristics(defaultHeuristicsTOML)
	if err != nil {
		panic(fmt.Sprintf("capability: embedded heuristics invalid: %v", err))
	}
	return h
}

// LoadHeuristics reads a heuristics TOML file.
func LoadHeuristics(path string) (*Heuristics, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading heuristics: %w", err)
	}
	h, err := ParseHeuristics(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return h, nil
}

// ParseHeuristics decodes and normalizes a heuristics document.
func ParseHeuristics(data []byte) (*Heuristics, error) {
	var h Heuristics
	if _, err := toml.Decode(string(data), &h); err != nil {
		return nil, fmt.Errorf("parsing heuristics: %w", err)
	}
	if h.Version < 1 || h.Version > HeuristicsVersion {
		return nil, fmt.Errorf("unsupported heuristics version %d", h.Version)
	}
	if h.ReasoningMinParamsB < 0 {
		return nil, fmt.Errorf("reasoning_min_params_b must not be negative")
	}
	h.VisionFamilies = foldAll(h.VisionFamilies)
	h.VisionOnlyFamilies = foldAll(h.VisionOnlyFamilies)
	h.ReasoningFamilies = foldAll(h.ReasoningFamilies)
	h.VisionKeywords = foldAll(h.VisionKeywords)
	h.ReasoningKeywords = foldAll(h.ReasoningKeywords)
	return &h, nil
}

// =============================================================================
// NAME MATCHING
// =============================================================================

var folder = cases.Fold()

func fold(s string) string {
	return folder.String(strings.TrimSpace(s))
}

func foldAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if f := fold(s); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// squash drops the separators users and registries disagree on.
func squash(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ':', '-', '.', '_', '/', ' ':
			return -1
		}
		return r
	}, s)
}

// matchFamily reports whether a folded name contains family directly or once
// separators are removed from both.
func matchFamily(name string, families []string) bool {
	squashed := squash(name)
	for _, f := range families {
		if strings.Contains(name, f) {
			return true
		}
		if sf := squash(f); sf != "" && strings.Contains(squashed, sf) {
			return true
		}
	}
	return false
}

func matchKeyword(name string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(name, k) {
			return true
		}
	}
	return false
}

// paramSizeRe finds a parameter-count tag such as ":70b", "-32b" or "_1.5b".
var paramSizeRe = regexp.MustCompile(`(?:^|[:\-_/ ])(\d+(?:\.\d+)?)b(?:$|[^a-z0-9])`)

// NameParamsB extracts a parameter count in billions from a model name.
// It returns 0 when the name carries no size tag.
func NameParamsB(name string) float64 {
	m := paramSizeRe.FindStringSubmatch(fold(name))
	if len(m) < 2 {
		return 0
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	return v
}

// ParseParameterSize converts metadata sizes like "13B", "70.6B" or "137M"
// to billions.
func ParseParameterSize(s string) float64 {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 0
	}
	scale := 1.0
	switch s[len(s)-1] {
	case 'B':
		s = s[:len(s)-1]
	case 'M':
		scale = 1.0 / 1000
		s = s[:len(s)-1]
	case 'K':
		scale = 1.0 / 1_000_000
		s = s[:len(s)-1]
	case 'T':
		scale = 1000
		s = s[:len(s)-1]
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v * scale
}

// IsVisionOnly reports whether name belongs to an image-only family.
func (h *Heuristics) IsVisionOnly(name string) bool {
	return matchFamily(fold(name), h.VisionOnlyFamilies)
}

// Vision classifies name by families and keywords.
func (h *Heuristics) Vision(name string) bool {
	n := fold(name)
	return matchFamily(n, h.VisionFamilies) ||
		matchFamily(n, h.VisionOnlyFamilies) ||
		matchKeyword(n, h.VisionKeywords)
}

// Reasoning classifies name by families, keywords and parameter size. A
// vision-only family is never reasoning, and the size signal alone never
// promotes a vision model.
func (h *Heuristics) Reasoning(name string) bool {
	n := fold(name)
	if matchFamily(n, h.VisionOnlyFamilies) {
		return false
	}
	if h.reasoningSignal(n) {
		return true
	}
	if h.ReasoningMinParamsB > 0 && !h.Vision(name) {
		return NameParamsB(name) >= h.ReasoningMinParamsB
	}
	return false
}

func (h *Heuristics) reasoningSignal(folded string) bool {
	return matchFamily(folded, h.ReasoningFamilies) || matchKeyword(folded, h.ReasoningKeywords)
}

// Classify returns the heuristic record for name.
func (h *Heuristics) Classify(name string) Record {
	return Record{
		Vision:    h.Vision(name),
		Reasoning: h.Reasoning(name),
		Source:    SourceHeuristic,
	}
}
