// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/jeranaias/ollamabro/internal/capability"
	chatcore "github.com/jeranaias/ollamabro/internal/chat"
	"github.com/jeranaias/ollamabro/internal/config"
	"github.com/jeranaias/ollamabro/internal/conversation"
	uichat "github.com/jeranaias/ollamabro/internal/ui/chat"
	"github.com/jeranaias/ollamabro/internal/util"
)

// =============================================================================
// INPUT HISTORY
// =============================================================================

// lineReader reads one line of input. *liner.State satisfies it.
type lineReader interface {
	Prompt(prompt string) (string, error)
}

// lineEditor wraps liner with a history file under the config directory.
type lineEditor struct {
	*liner.State
	historyFile string
}

func newLineEditor() *lineEditor {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	e := &lineEditor{State: line, historyFile: filepath.Join(dir, "chat_history")}
	if f, err := os.Open(e.historyFile); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	return e
}

// Prompt reads a line and records it in history.
func (e *lineEditor) Prompt(prompt string) (string, error) {
	input, err := e.State.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		e.AppendHistory(input)
	}
	return input, nil
}

// Close saves history (0600) and restores the terminal.
func (e *lineEditor) Close() error {
	_ = util.AtomicWrite(e.historyFile, 0600, func(w io.Writer) error {
		_, err := e.WriteHistory(w)
		return err
	})
	return e.State.Close()
}

// =============================================================================
// REPLY PRINTER
// =============================================================================

// replPrinter writes the streamed reply as it grows. The session reports the
// whole parsed reply each time, so only the new suffix is printed.
type replPrinter struct {
	chatcore.NopPresenter

	mu     sync.Mutex
	out    io.Writer
	shown  string
	active bool
}

func (p *replPrinter) begin() {
	p.mu.Lock()
	p.shown = ""
	p.active = true
	p.mu.Unlock()
	fmt.Fprint(p.out, assistantStyle.Render("assistant>")+" ")
}

func (p *replPrinter) RenderAssistant(segments []chatcore.Segment) {
	text := replyText(segments)
	p.mu.Lock()
	defer p.mu.Unlock()
	if strings.HasPrefix(text, p.shown) {
		io.WriteString(p.out, text[len(p.shown):])
	} else {
		io.WriteString(p.out, "\n"+text)
	}
	p.shown = text
}

func (p *replPrinter) CapabilitiesChanged(modelID string, rec capability.Record) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active && !rec.Vision {
		fmt.Fprintln(p.out, "\n"+WarningStyle.Render(modelID+" rejected the image; attachments are off for this model."))
	}
}

// Finished ends the reply line. Cancel and error annotations are part of the
// final render, so they are already on screen.
func (p *replPrinter) Finished(chatcore.Outcome) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active = false
	fmt.Fprint(p.out, "\n\n")
}

// replyText flattens segments into append-only terminal text.
func replyText(segments []chatcore.Segment) string {
	var sb strings.Builder
	for _, seg := range segments {
		if seg.Kind != chatcore.SegmentReasoning {
			sb.WriteString(seg.Text)
			continue
		}
		sb.WriteString("[thinking] ")
		sb.WriteString(seg.Text)
		if !seg.Open {
			sb.WriteString("\n[/thinking]\n")
		}
	}
	return sb.String()
}

// =============================================================================
// REPL
// =============================================================================

// REPL is the line-oriented chat client.
type REPL struct {
	in         lineReader
	out        io.Writer
	dispatcher *chatcore.Dispatcher
	convs      *conversation.Controller
	caps       uichat.CapabilityLookup
	models     uichat.ModelLister
	printer    *replPrinter
}

// Run reads prompts until EOF, Ctrl+C at the prompt, or /quit.
func (r *REPL) Run(ctx context.Context) error {
	r.greet(ctx)
	for {
		if ctx.Err() != nil {
			return nil
		}
		input, err := r.in.Prompt(promptStyle.Render("you>") + " ")
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, liner.ErrPromptAborted) {
				fmt.Fprintln(r.out)
				return nil
			}
			return err
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		quit, err := r.handle(ctx, input)
		if err != nil {
			fmt.Fprintln(r.out, ErrorStyle.Render("[Error]")+" "+errorMessage(err))
		}
		if quit {
			return nil
		}
	}
}

func (r *REPL) model() string {
	return r.dispatcher.Session().Model()
}

// greet prints the greeting for a fresh conversation, or what is being
// resumed.
func (r *REPL) greet(ctx context.Context) {
	if r.model() == "" {
		return
	}
	conv := r.convs.Active(ctx, r.model())
	if conv.IsEmpty() {
		fmt.Fprintln(r.out, greetingStyle.Render(uichat.Greeting(r.model())))
		return
	}
	fmt.Fprintf(r.out, "%s %q (%d messages, /chats lists others)\n",
		MutedStyle.Render("Continuing"), conv.Summary, len(conv.Messages))
}

func (r *REPL) handle(ctx context.Context, input string) (quit bool, err error) {
	cmd, isCommand, err := uichat.ParseCommand(input)
	if err != nil {
		return false, err
	}
	if !isCommand {
		return false, r.submit(ctx, input)
	}

	switch in := cmd.Intent.(type) {
	case nil:
	case chatcore.NewConversation:
		if err := r.dispatcher.Dispatch(ctx, in); err != nil {
			return false, err
		}
		r.greet(ctx)
		return false, nil
	case chatcore.SwitchModel:
		if err := r.dispatcher.Dispatch(ctx, in); err != nil {
			return false, err
		}
		fmt.Fprintln(r.out, SuccessStyle.Render("Model:")+" "+in.Model+capabilityTags(r.caps.Lookup(in.Model)))
		r.greet(ctx)
		return false, nil
	case chatcore.AttachImage:
		if err := r.dispatcher.Dispatch(ctx, in); err != nil {
			return false, err
		}
		fmt.Fprintf(r.out, "Attached %s (%d staged)\n", filepath.Base(in.Path), len(r.dispatcher.Staged()))
		return false, nil
	case chatcore.CancelStream:
		fmt.Fprintln(r.out, MutedStyle.Render("Nothing to stop; press Ctrl+C while a reply streams."))
		return false, nil
	case chatcore.RecheckModel:
		if err := r.dispatcher.Dispatch(ctx, in); err != nil {
			return false, err
		}
		fmt.Fprintln(r.out, MutedStyle.Render("Rechecking")+" "+r.model()+capabilityTags(r.caps.Lookup(r.model())))
		return false, nil
	default:
		return false, r.dispatcher.Dispatch(ctx, in)
	}

	switch cmd.Action {
	case uichat.ActionQuit:
		return true, nil
	case uichat.ActionHelp:
		fmt.Fprintln(r.out, uichat.CommandHelp)
	case uichat.ActionRefreshModels:
		return false, r.printModels(ctx)
	case uichat.ActionListChats:
		r.printChats(ctx)
	case uichat.ActionOpen:
		rows := r.convs.List(ctx, r.model())
		if cmd.Index > len(rows) {
			return false, fmt.Errorf("no chat #%d", cmd.Index)
		}
		if err := r.dispatcher.Dispatch(ctx, chatcore.SwitchConversation{ID: rows[cmd.Index-1].ID}); err != nil {
			return false, err
		}
		r.greet(ctx)
	case uichat.ActionDeleteActive:
		conv := r.convs.Active(ctx, r.model())
		if err := r.dispatcher.Dispatch(ctx, chatcore.DeleteConversation{ID: conv.ID}); err != nil {
			return false, err
		}
		fmt.Fprintln(r.out, "Chat deleted.")
		r.greet(ctx)
	}
	return false, nil
}

func (r *REPL) submit(ctx context.Context, prompt string) error {
	if r.model() == "" {
		return errors.New("no model selected; use /model NAME")
	}
	r.printer.begin()
	err := r.dispatcher.Dispatch(ctx, chatcore.SubmitPrompt{Prompt: prompt})
	if err != nil && chatcore.IsValidation(err) {
		fmt.Fprintln(r.out)
	}
	return err
}

func (r *REPL) printChats(ctx context.Context) {
	rows := r.convs.List(ctx, r.model())
	for i, row := range rows {
		marker := " "
		if row.Active {
			marker = "*"
		}
		fmt.Fprintf(r.out, "%s %2d. %s %s\n", marker, i+1, row.Title,
			MutedStyle.Render(fmt.Sprintf("(%d messages)", row.MessageCount)))
	}
}

func (r *REPL) printModels(ctx context.Context) error {
	models, err := r.models.ListModels(ctx)
	if err != nil {
		return err
	}
	for _, m := range models {
		marker := " "
		if m.Name == r.model() {
			marker = "*"
		}
		fmt.Fprintln(r.out, marker+" "+m.Name+capabilityTags(r.caps.Lookup(m.Name)))
	}
	return nil
}

func capabilityTags(rec capability.Record) string {
	var tags []string
	if rec.Vision {
		tags = append(tags, "vision")
	}
	if rec.Reasoning {
		tags = append(tags, "reasoning")
	}
	if len(tags) == 0 {
		return ""
	}
	return " (" + strings.Join(tags, ", ") + ")"
}

func errorMessage(err error) string {
	var verr *chatcore.ValidationError
	if errors.As(err, &verr) {
		return verr.Message
	}
	return chatcore.ErrorText(err)
}

// =============================================================================
// COMMAND ENTRY
// =============================================================================

// runPlainChat runs the REPL on stdin/stdout. Ctrl+C while a reply streams
// stops that reply; at the prompt it exits.
func runPlainChat(ctx context.Context, a *app, cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(a.cfg, a.log)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	printer := &replPrinter{out: out}
	session, dispatcher := newSession(rt, printer, a.log)

	if session.Model() == "" {
		if models, lerr := rt.client.ListModels(ctx); lerr == nil && len(models) > 0 {
			if err := dispatcher.Dispatch(ctx, chatcore.SwitchModel{Model: models[0].Name}); err != nil {
				return shutdown(rt, session, err)
			}
		} else {
			fmt.Fprintln(out, WarningStyle.Render("No model configured and none could be listed; use /model NAME."))
		}
	}

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer func() {
		signal.Stop(interrupts)
		close(interrupts)
	}()
	go func() {
		for range interrupts {
			session.Cancel()
		}
	}()

	editor := newLineEditor()
	repl := &REPL{
		in:         editor,
		out:        out,
		dispatcher: dispatcher,
		convs:      rt.controller,
		caps:       rt.classifier,
		models:     rt.client,
		printer:    printer,
	}
	runErr := rt.runWith(ctx, "repl", repl.Run)
	editor.Close()
	return shutdown(rt, session, runErr)
}
