// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"os"
	"sync"

	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// IsTTY reports whether stdin is a terminal.
func IsTTY() bool { return term.IsTerminal(int(os.Stdin.Fd())) }

// IsStdoutTTY reports whether stdout is a terminal.
func IsStdoutTTY() bool { return term.IsTerminal(int(os.Stdout.Fd())) }

// TTYRequiredError is returned when an operation needs an interactive
// terminal on both stdin and stdout.
type TTYRequiredError struct {
	Operation string
}

func (e *TTYRequiredError) Error() string {
	if e.Operation == "" {
		return "not a terminal"
	}
	return "not a terminal; cannot " + e.Operation + " (try --plain)"
}

// RequiresTTY returns a *TTYRequiredError unless stdin and stdout are both
// terminals.
func RequiresTTY(operation string) error {
	if IsTTY() && IsStdoutTTY() {
		return nil
	}
	return &TTYRequiredError{Operation: operation}
}

// ColorsEnabled reports whether stdout should be colored. NO_COLOR wins over
// FORCE_COLOR, which wins over TTY detection. The answer is fixed at first
// use.
var ColorsEnabled = sync.OnceValue(func() bool {
	switch {
	case os.Getenv("NO_COLOR") != "":
		return false
	case os.Getenv("FORCE_COLOR") != "":
		return true
	default:
		return IsStdoutTTY()
	}
})

// GetColorProfile returns Ascii when colors are disabled and the detected
// profile otherwise.
func GetColorProfile() termenv.Profile {
	if !ColorsEnabled() {
		return termenv.Ascii
	}
	return termenv.ColorProfile()
}
