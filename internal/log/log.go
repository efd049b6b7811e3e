// Copyright 2024 The tokamak-geth Authors
// This file is part of the tokamak-geth library.
//
// The tokamak-geth library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The tokamak-geth library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the tokamak-geth library. If not, see <http://www.gnu.org/licenses/>.

// Package log is the structured logger used across the execution core.
// It mirrors go-ethereum's log.Info/Warn/Error/Debug key-value call shape
// but sits directly on top of log/slog, the foundation go-ethereum itself
// switched its logging package to. A terminal handler colorizes level
// names when stderr, the root logger's output, is a TTY.
package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

var root = slog.New(newTerminalHandler(os.Stderr))

// SetDefault replaces the root logger, e.g. to redirect to a file handler
// or raise the configured level.
func SetDefault(l *slog.Logger) { root = l }

func Trace(msg string, ctx ...any) { root.Debug(msg, ctx...) }
func Debug(msg string, ctx ...any) { root.Debug(msg, ctx...) }
func Info(msg string, ctx ...any)  { root.Info(msg, ctx...) }
func Warn(msg string, ctx ...any)  { root.Warn(msg, ctx...) }
func Error(msg string, ctx ...any) { root.Error(msg, ctx...) }

// New returns a logger carrying the given key/value pairs on every record,
// the way go-ethereum's log.New(ctx...) scopes a sub-logger to a component.
func New(ctx ...any) *slog.Logger { return root.With(ctx...) }

// terminalHandler renders records as "LVL[timestamp] msg key=val ..." and
// colorizes the level when writing to a real terminal.
type terminalHandler struct {
	w       io.Writer
	color   bool
	attrs   []slog.Attr
	groups  []string
	minimum slog.Level
}

func newTerminalHandler(f *os.File) *terminalHandler {
	useColor := isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	var w io.Writer = f
	if useColor {
		w = colorable.NewColorable(f)
	}
	return &terminalHandler{w: w, color: useColor, minimum: slog.LevelDebug}
}

func (h *terminalHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.minimum
}

func (h *terminalHandler) Handle(_ context.Context, r slog.Record) error {
	level := levelLabel(r.Level, h.color)
	var b strings.Builder
	fmt.Fprintf(&b, "%s[%s] %s", level, r.Time.Format("01-02|15:04:05.000"), r.Message)
	for _, a := range h.attrs {
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value.Any())
	}
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value.Any())
		return true
	})
	b.WriteByte('\n')
	_, err := io.WriteString(h.w, b.String())
	return err
}

func (h *terminalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *h
	cp.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &cp
}

func (h *terminalHandler) WithGroup(name string) slog.Handler {
	cp := *h
	cp.groups = append(append([]string{}, h.groups...), name)
	return &cp
}

func levelLabel(level slog.Level, useColor bool) string {
	var label string
	var c *color.Color
	switch {
	case level >= slog.LevelError:
		label, c = "ERROR", color.New(color.FgRed, color.Bold)
	case level >= slog.LevelWarn:
		label, c = "WARN ", color.New(color.FgYellow)
	case level >= slog.LevelInfo:
		label, c = "INFO ", color.New(color.FgGreen)
	default:
		label, c = "DEBUG", color.New(color.FgBlue)
	}
	if !useColor {
		return label
	}
	return c.Sprint(label)
}
