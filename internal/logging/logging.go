// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging provides the colored slog handler used by every ollamabro
// command, plus small helpers for error attributes and request ids.
package logging

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// =============================================================================
// OPTIONS
// =============================================================================

// Options configures a Handler.
type Options struct {
	// Level is the minimum level emitted (default: info).
	Level slog.Leveler

	// TimeFormat for the leading timestamp (default: time.DateTime).
	TimeFormat string

	// AddSource prints file:line of the call site.
	AddSource bool

	// NoColor disables ANSI colors, e.g. when writing to a file.
	NoColor bool
}

// DefaultOptions returns info-level colored output without source locations.
func DefaultOptions() Options {
	return Options{Level: slog.LevelInfo, TimeFormat: time.DateTime}
}

// =============================================================================
// HANDLER
// =============================================================================

// Handler renders records as "time LEVEL | message k=v ...".
type Handler struct {
	opts   Options
	attrs  []slog.Attr
	groups []string

	mu  *sync.Mutex
	out io.Writer

	timeColor  *color.Color
	keyColor   *color.Color
	errColor   *color.Color
	reqColor   *color.Color
	levelColor map[slog.Level]*color.Color
}

// NewHandler creates a Handler writing to out.
func NewHandler(out io.Writer, opts Options) *Handler {
	if opts.Level == nil {
		opts.Level = slog.LevelInfo
	}
	if opts.TimeFormat == "" {
		opts.TimeFormat = time.DateTime
	}
	h := &Handler{
		opts:      opts,
		mu:        &sync.Mutex{},
		out:       out,
		timeColor: color.New(color.Faint),
		keyColor:  color.New(color.FgCyan),
		errColor:  color.New(color.FgRed),
		reqColor:  color.New(color.FgMagenta),
		levelColor: map[slog.Level]*color.Color{
			slog.LevelDebug: color.New(color.BgCyan, color.FgHiWhite),
			slog.LevelInfo:  color.New(color.BgGreen, color.FgHiWhite),
			slog.LevelWarn:  color.New(color.BgYellow, color.FgHiWhite),
			slog.LevelError: color.New(color.BgRed, color.FgHiWhite),
		},
	}
	if opts.NoColor {
		for _, c := range []*color.Color{h.timeColor, h.keyColor, h.errColor, h.reqColor} {
			c.DisableColor()
		}
		for _, c := range h.levelColor {
			c.DisableColor()
		}
	}
	return h
}

// Enabled implements slog.Handler.
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.opts.Level.Level()
}

// Handle implements slog.Handler.
func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	var buf bytes.Buffer

	if !r.Time.IsZero() {
		buf.WriteString(h.timeColor.Sprint(r.Time.Format(h.opts.TimeFormat)))
		buf.WriteByte(' ')
	}

	buf.WriteString(h.levelLabel(r.Level))
	buf.WriteByte(' ')

	if id, ok := RequestIDFromContext(ctx); ok {
		buf.WriteString(h.reqColor.Sprintf("#%d ", id))
	}

	if h.opts.AddSource && r.PC != 0 {
		frame, _ := runtime.CallersFrames([]uintptr{r.PC}).Next()
		fmt.Fprintf(&buf, "%s:%d ", filepath.Base(frame.File), frame.Line)
	}

	buf.WriteString("| ")
	buf.WriteString(r.Message)

	prefix := ""
	if len(h.groups) > 0 {
		prefix = strings.Join(h.groups, ".") + "."
	}
	for _, a := range h.attrs {
		h.writeAttr(&buf, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		h.writeAttr(&buf, prefix, a)
		return true
	})
	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.out.Write(buf.Bytes())
	return err
}

func (h *Handler) levelLabel(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return h.levelColor[slog.LevelError].Sprint("ERROR")
	case level >= slog.LevelWarn:
		return h.levelColor[slog.LevelWarn].Sprint("WARN ")
	case level >= slog.LevelInfo:
		return h.levelColor[slog.LevelInfo].Sprint("INFO ")
	default:
		return h.levelColor[slog.LevelDebug].Sprint("DEBUG")
	}
}

func (h *Handler) writeAttr(buf *bytes.Buffer, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			h.writeAttr(buf, prefix+a.Key+".", ga)
		}
		return
	}

	key := prefix + a.Key
	c := h.keyColor
	if strings.Contains(a.Key, "err") {
		c = h.errColor
	}
	buf.WriteByte(' ')
	buf.WriteString(c.Sprint(key + "="))

	val := a.Value.String()
	if a.Value.Kind() == slog.KindString && strings.ContainsAny(val, " \t\n\"=") {
		val = fmt.Sprintf("%q", val)
	}
	buf.WriteString(val)
}

// WithAttrs implements slog.Handler.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h2 := *h
	prefix := ""
	if len(h.groups) > 0 {
		prefix = strings.Join(h.groups, ".") + "."
	}
	h2.attrs = append(append([]slog.Attr(nil), h.attrs...), prefixAttrs(prefix, attrs)...)
	return &h2
}

// WithGroup implements slog.Handler.
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	h2.groups = append(append([]string(nil), h.groups...), name)
	return &h2
}

func prefixAttrs(prefix string, attrs []slog.Attr) []slog.Attr {
	if prefix == "" {
		return attrs
	}
	out := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		out[i] = slog.Attr{Key: prefix + a.Key, Value: a.Value}
	}
	return out
}

// =============================================================================
// SETUP
// =============================================================================

// ParseLevel maps "debug", "info", "warn" and "error" to slog levels.
// Unknown names fall back to info.
func ParseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return level
}

// Setup installs a Handler as the slog default and returns the logger.
func Setup(out io.Writer, opts Options) *slog.Logger {
	logger := slog.New(NewHandler(out, opts))
	slog.SetDefault(logger)
	return logger
}

// OpenFile opens (appending) a log file, creating parent directories.
func OpenFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
}

// Err returns an attribute for err under the "err" key.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String("err", err.Error())
}

// =============================================================================
// REQUEST IDS
// =============================================================================

type contextKey string

const requestIDKey contextKey = "request_id"

// ContextWithRequestID tags ctx so log lines from it carry the id.
func ContextWithRequestID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext returns the id set by ContextWithRequestID.
func RequestIDFromContext(ctx context.Context) (int64, bool) {
	if ctx == nil {
		return 0, false
	}
	id, ok := ctx.Value(requestIDKey).(int64)
	return id, ok
}
