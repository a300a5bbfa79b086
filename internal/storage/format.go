// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"strconv"
	"strings"

	"github.com/jeranaias/ollamabro/internal/model"
	"github.com/jeranaias/ollamabro/internal/util"
)

// =============================================================================
// CONVERSATION LIST FORMATTING
// =============================================================================

// FormatConversationList renders a state's conversations as a table, newest
// first, marking the active one with '*'.
func FormatConversationList(state model.ModelState) string {
	convs := state.Sorted()
	if len(convs) == 0 {
		return "No conversations found."
	}

	var active string
	if state.ActiveConversationID != nil {
		active = state.ActiveConversationID.String()
	}

	var sb strings.Builder
	sb.WriteString("  " + util.PadRight("ID", 10) + " " + util.PadRight("Last activity", 18) + " " + util.PadRight("Msgs", 5) + " Summary\n")
	sb.WriteString(strings.Repeat("-", 72) + "\n")

	for _, c := range convs {
		marker := "  "
		if c.ID.String() == active {
			marker = "* "
		}
		sb.WriteString(marker +
			util.PadRight(c.ID.String()[:8], 10) + " " +
			util.PadRight(c.LastActivity.Local().Format("2006-01-02 15:04"), 18) + " " +
			util.PadRight(strconv.Itoa(len(c.Messages)), 5) + " " +
			util.TruncateWidth(c.Summary, 40) + "\n")
	}
	return sb.String()
}
