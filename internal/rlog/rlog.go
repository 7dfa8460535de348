// Package rlog sets up the daemon's structured logger: a colorized console
// handler for interactive runs, an optional syslog handler for the
// standard facility (§6.3), and a helper for the per-command append-log
// records written to /tmp/yashd.log.
package rlog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"log/syslog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// New builds the process-wide logger: tint console output to w, fanned out
// to a syslog handler when withSyslog is true. Matches the console-handler
// construction in davidolrik-overseer's root command, generalized to a
// fanout since yashd also needs the standard syslog facility (§6.3).
func New(w io.Writer, level slog.Level, withSyslog bool) (*slog.Logger, error) {
	console := tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.DateTime,
	})

	if !withSyslog {
		return slog.New(console), nil
	}

	sys, err := newSyslogHandler(level)
	if err != nil {
		return nil, fmt.Errorf("syslog handler: %w", err)
	}
	return slog.New(fanoutHandler{console, sys}), nil
}

// fanoutHandler dispatches every record to each of its members. There is no
// ready-made fanout in the examples' logging stack (tint and the syslog
// adapter are each single-destination), so this small dispatcher is
// standard-library glue between two handlers rather than a component with
// its own third-party grounding.
type fanoutHandler []slog.Handler

func (f fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			if err := h.Handle(ctx, r.Clone()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (f fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make(fanoutHandler, len(f))
	for i, h := range f {
		next[i] = h.WithAttrs(attrs)
	}
	return next
}

func (f fanoutHandler) WithGroup(name string) slog.Handler {
	next := make(fanoutHandler, len(f))
	for i, h := range f {
		next[i] = h.WithGroup(name)
	}
	return next
}

// syslogHandler is an slog.Handler backed by the standard library's
// log/syslog dialer, modeled on nabbar-golib/logger/hooksyslog's approach of
// wrapping the same stdlib client behind a structured-logging facade — that
// package targets logrus hooks, this one targets slog directly since slog is
// what the rest of this module's ambient stack uses. log/syslog has no
// third-party replacement in the examples or the wider ecosystem (it is a
// thin wrapper over the local syslog socket protocol), so building on the
// standard library here is the documented exception.
type syslogHandler struct {
	w     *syslog.Writer
	level slog.Level
	attrs []slog.Attr
}

func newSyslogHandler(level slog.Level) (*syslogHandler, error) {
	w, err := syslog.New(syslog.LOG_DAEMON|syslog.LOG_INFO, "yashd")
	if err != nil {
		return nil, err
	}
	return &syslogHandler{w: w, level: level}, nil
}

func (h *syslogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *syslogHandler) Handle(_ context.Context, r slog.Record) error {
	msg := r.Message
	for _, a := range h.attrs {
		msg += fmt.Sprintf(" %s=%v", a.Key, a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		msg += fmt.Sprintf(" %s=%v", a.Key, a.Value)
		return true
	})
	switch {
	case r.Level >= slog.LevelError:
		return h.w.Err(msg)
	case r.Level >= slog.LevelWarn:
		return h.w.Warning(msg)
	case r.Level >= slog.LevelInfo:
		return h.w.Info(msg)
	default:
		return h.w.Debug(msg)
	}
}

// WithAttrs carries persistent attrs (from logger.With(...)) into every
// subsequent Handle call, same as the console handler's own WithAttrs.
func (h *syslogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := &syslogHandler{w: h.w, level: h.level, attrs: append(append([]slog.Attr{}, h.attrs...), attrs...)}
	return next
}

func (h *syslogHandler) WithGroup(string) slog.Handler { return h }

// AppendLog opens path in append mode and writes one per-command record in
// the form specified by §6.3: "<MMM DD HH:MM:SS> yashd[<ip>:<port>]: <payload>\n".
// It is called once per logged line rather than held open, since §5's
// shared-resource note requires append-mode atomicity per write — opening
// fresh each time sidesteps any cross-worker offset bookkeeping.
func AppendLog(path, ip string, port int, payload string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open append log: %w", err)
	}
	defer f.Close()

	stamp := time.Now().Format("Jan _2 15:04:05")
	_, err = fmt.Fprintf(f, "%s yashd[%s:%d]: %s\n", stamp, ip, port, payload)
	return err
}
