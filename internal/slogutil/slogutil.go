// Package slogutil builds the application logger and carries per-request log
// attributes on a context.
package slogutil

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/javi11/cr2repair/internal/config"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"
)

type ctxKey struct{}

// With returns a context whose log records carry args in addition to the
// attributes already attached to ctx.
func With(ctx context.Context, args ...any) context.Context {
	attrs := attrsFrom(ctx)
	r := slog.Record{}
	r.Add(args...)
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, a)
		return true
	})
	return context.WithValue(ctx, ctxKey{}, attrs)
}

func attrsFrom(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	attrs, _ := ctx.Value(ctxKey{}).([]slog.Attr)
	// Copy so siblings derived from the same parent never share a backing array.
	return append([]slog.Attr(nil), attrs...)
}

// ContextHandler adds attributes stored with With to every record.
type ContextHandler struct {
	slog.Handler
}

func (h ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if attrs := attrsFrom(ctx); len(attrs) > 0 {
		r.AddAttrs(attrs...)
	}
	return h.Handler.Handle(ctx, r)
}

func (h ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return ContextHandler{h.Handler.WithAttrs(attrs)}
}

func (h ContextHandler) WithGroup(name string) slog.Handler {
	return ContextHandler{h.Handler.WithGroup(name)}
}

// ParseLevel converts a config level name to a slog.Level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
}

// NewLogger creates the application logger writing to out and, when
// cfg.File is set, to a rotating log file. The returned closer releases the
// log file and must be called on shutdown.
func NewLogger(cfg config.LogConfig, out io.Writer) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	opts := &slog.HandlerOptions{Level: level}
	format := resolveFormat(cfg.Format, out)

	var closer io.Closer = nopCloser{}
	w := out
	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		w = io.MultiWriter(out, rotator)
		closer = rotator
	}

	var handler slog.Handler
	if format == config.LogFormatJSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(ContextHandler{handler}), closer, nil
}

// resolveFormat turns "auto" into text for terminals and JSON otherwise.
func resolveFormat(format string, out io.Writer) string {
	format = strings.ToLower(format)
	if format != config.LogFormatAuto && format != "" {
		return format
	}

	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return config.LogFormatText
	}
	return config.LogFormatJSON
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
