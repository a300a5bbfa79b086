// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"fmt"
	"strconv"
	"strings"

	chatcore "github.com/jeranaias/ollamabro/internal/chat"
)

// Action is a slash command that is handled by the view itself.
type Action int

const (
	ActionNone Action = iota
	ActionHelp
	ActionQuit
	ActionRefreshModels
	ActionDeleteActive
	ActionOpen // open the Nth chat in the sidebar (1-based)
	ActionListChats
)

// Command is a parsed slash command. Exactly one of Intent and Action is
// set.
type Command struct {
	Intent chatcore.Intent
	Action Action
	Index  int
}

// CommandHelp lists the slash commands.
const CommandHelp = "/new  /chats  /open N  /delete  /model NAME  /models  /recheck  /attach PATH  /help  /quit"

// ParseCommand parses a line starting with "/". ok is false for ordinary
// prompts.
func ParseCommand(line string) (cmd Command, ok bool, err error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return Command{}, false, nil
	}
	name, arg, _ := strings.Cut(line[1:], " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(name) {
	case "new":
		return Command{Intent: chatcore.NewConversation{}}, true, nil
	case "model", "m":
		if arg == "" {
			return Command{}, true, fmt.Errorf("usage: /model NAME")
		}
		return Command{Intent: chatcore.SwitchModel{Model: arg}}, true, nil
	case "attach", "a":
		if arg == "" {
			return Command{}, true, fmt.Errorf("usage: /attach PATH")
		}
		return Command{Intent: chatcore.AttachImage{Path: arg}}, true, nil
	case "stop":
		return Command{Intent: chatcore.CancelStream{}}, true, nil
	case "recheck":
		return Command{Intent: chatcore.RecheckModel{}}, true, nil
	case "open", "o":
		n, perr := strconv.Atoi(arg)
		if perr != nil || n < 1 {
			return Command{}, true, fmt.Errorf("usage: /open N")
		}
		return Command{Action: ActionOpen, Index: n}, true, nil
	case "chats", "ls":
		return Command{Action: ActionListChats}, true, nil
	case "delete":
		return Command{Action: ActionDeleteActive}, true, nil
	case "models":
		return Command{Action: ActionRefreshModels}, true, nil
	case "help", "?":
		return Command{Action: ActionHelp}, true, nil
	case "quit", "q", "exit":
		return Command{Action: ActionQuit}, true, nil
	default:
		return Command{}, true, fmt.Errorf("unknown command /%s", name)
	}
}
