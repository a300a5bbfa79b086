// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import (
	"testing"

	"github.com/muesli/termenv"
)

func TestGlamourStyle(t *testing.T) {
	tests := []struct {
		profile termenv.Profile
		dark    bool
		want    string
	}{
		{termenv.Ascii, true, "notty"},
		{termenv.TrueColor, true, "dark"},
		{termenv.ANSI256, false, "light"},
	}
	for _, tc := range tests {
		if got := NewThemeFor(tc.profile, tc.dark).GlamourStyle(); got != tc.want {
			t.Errorf("GlamourStyle(%v, dark=%v) = %q, want %q", tc.profile, tc.dark, got, tc.want)
		}
	}
}
