// Package logging provides consistent structured logging using slog.
//
// All components log through a single handler that emits one line per
// record in the form:
//
//	2026-01-06T14:05:52Z [source] LEVEL message key=value...
//
// Initialize once at startup with logging.Init("royaltyrelay"), then use
// slog directly everywhere else.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Handler implements slog.Handler with the relay's line format.
type Handler struct {
	source string
	level  slog.Level
	writer io.Writer
	attrs  []slog.Attr
}

// NewHandler creates a handler writing to w at the given level.
func NewHandler(source string, w io.Writer, level slog.Level) *Handler {
	return &Handler{
		source: source,
		writer: w,
		level:  level,
	}
}

// Enabled reports whether the handler handles records at the given level.
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

// Handle formats and writes the log record.
func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	var buf strings.Builder
	buf.WriteString(r.Time.UTC().Format("2006-01-02T15:04:05Z"))
	buf.WriteString(" [")
	buf.WriteString(h.source)
	buf.WriteString("] ")
	buf.WriteString(r.Level.String())
	buf.WriteString(" ")
	buf.WriteString(r.Message)

	for _, a := range h.attrs {
		writeAttr(&buf, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&buf, a)
		return true
	})
	buf.WriteString("\n")

	_, err := h.writer.Write([]byte(buf.String()))
	return err
}

func writeAttr(buf *strings.Builder, a slog.Attr) {
	buf.WriteString(" ")
	buf.WriteString(a.Key)
	buf.WriteString("=")
	fmt.Fprintf(buf, "%v", a.Value.Any())
}

// WithAttrs returns a new handler carrying the given attributes.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &Handler{
		source: h.source,
		writer: h.writer,
		level:  h.level,
		attrs:  merged,
	}
}

// WithGroup returns the handler unchanged; groups are flattened into the
// plain key=value stream.
func (h *Handler) WithGroup(_ string) slog.Handler {
	return h
}

// NewLogger creates a logger with the level taken from LOG_LEVEL
// (DEBUG, INFO, WARN, ERROR; default INFO).
func NewLogger(source string, w io.Writer) *slog.Logger {
	return slog.New(NewHandler(source, w, levelFromEnv()))
}

func levelFromEnv() slog.Level {
	switch strings.ToUpper(os.Getenv("LOG_LEVEL")) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Init installs the relay handler as the default slog logger.
func Init(source string) {
	InitWithWriter(source, os.Stdout)
}

// InitWithWriter installs the handler with a custom writer (for testing).
func InitWithWriter(source string, w io.Writer) {
	slog.SetDefault(NewLogger(source, w))
}
