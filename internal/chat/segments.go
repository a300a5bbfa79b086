// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import "strings"

const (
	ThinkOpen  = "<think>"
	ThinkClose = "</think>"
)

// SegmentKind separates reasoning from the visible answer.
type SegmentKind int

const (
	SegmentPlain SegmentKind = iota
	SegmentReasoning
)

// Segment is one styled run of an assistant reply.
type Segment struct {
	Kind SegmentKind
	Text string
	// Open marks a reasoning segment whose closing marker has not arrived.
	Open bool
}

// ParseSegments splits a raw reply into plain and reasoning runs. It is
// re-run on the whole buffer after every chunk because a marker may span
// chunks. An unterminated reasoning run becomes an Open segment, and a
// trailing partial marker is held back rather than shown as text.
func ParseSegments(raw string) []Segment {
	return parseSegments(raw, false)
}

// ParseFinalSegments parses a finished reply; nothing is held back.
func ParseFinalSegments(raw string) []Segment {
	return parseSegments(raw, true)
}

func parseSegments(raw string, final bool) []Segment {
	trim := trimPartialMarker
	if final {
		trim = func(s, _ string) string { return s }
	}

	var out []Segment
	emit := func(kind SegmentKind, text string, open bool) {
		if text == "" && !open {
			return
		}
		out = append(out, Segment{Kind: kind, Text: text, Open: open})
	}

	rest := raw
	for rest != "" {
		i := strings.Index(rest, ThinkOpen)
		if i < 0 {
			emit(SegmentPlain, trim(rest, ThinkOpen), false)
			break
		}
		emit(SegmentPlain, rest[:i], false)
		rest = rest[i+len(ThinkOpen):]

		j := strings.Index(rest, ThinkClose)
		if j < 0 {
			emit(SegmentReasoning, trim(rest, ThinkClose), true)
			break
		}
		emit(SegmentReasoning, rest[:j], false)
		rest = rest[j+len(ThinkClose):]
	}
	return out
}

// trimPartialMarker drops a suffix of s that is a proper prefix of marker.
func trimPartialMarker(s, marker string) string {
	for n := len(marker) - 1; n > 0; n-- {
		if strings.HasSuffix(s, marker[:n]) {
			return s[:len(s)-n]
		}
	}
	return s
}
