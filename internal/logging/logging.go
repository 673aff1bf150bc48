// Package logging provides the structured, context-scoped logger used
// throughout the resolver and its collaborators. It combines
// chainguard-dev/clog's context-scoped slog.Logger with a go-hclog console
// backend, the same pairing dungdm93-go-apk uses for its repository
// resolver.
package logging

import (
	"context"
	"log/slog"
	"os"

	"github.com/chainguard-dev/clog"
	"github.com/hashicorp/go-hclog"
)

// New constructs the root logger for the named component, writing to
// stderr through hclog's console formatter. Set XBPS_DEBUG in the
// environment to enable debug-level output.
func New(name string) *clog.Logger {
	hl := hclog.New(&hclog.LoggerOptions{
		Name:  name,
		Level: levelFromEnv(),
	})
	return clog.New(&hclogHandler{logger: hl})
}

// WithContext attaches logger to ctx, returning the derived context.
func WithContext(ctx context.Context, logger *clog.Logger) context.Context {
	return clog.WithLogger(ctx, logger)
}

// FromContext returns the logger embedded in ctx, falling back to a
// discard-free default logger when none has been attached.
func FromContext(ctx context.Context) *clog.Logger {
	return clog.FromContext(ctx)
}

func levelFromEnv() hclog.Level {
	if os.Getenv("XBPS_DEBUG") != "" {
		return hclog.Debug
	}
	return hclog.Info
}

// hclogHandler adapts an hclog.Logger to the slog.Handler interface clog
// builds its Logger around, so the two libraries can be combined without
// either one giving up its own idiom.
type hclogHandler struct {
	logger hclog.Logger
	attrs  []slog.Attr
}

func (h *hclogHandler) Enabled(_ context.Context, level slog.Level) bool {
	switch {
	case level >= slog.LevelError:
		return h.logger.IsError()
	case level >= slog.LevelWarn:
		return h.logger.IsWarn()
	case level >= slog.LevelInfo:
		return h.logger.IsInfo()
	default:
		return h.logger.IsDebug()
	}
}

func (h *hclogHandler) Handle(_ context.Context, rec slog.Record) error {
	args := make([]interface{}, 0, (len(h.attrs)+rec.NumAttrs())*2)
	for _, a := range h.attrs {
		args = append(args, a.Key, a.Value.Any())
	}
	rec.Attrs(func(a slog.Attr) bool {
		args = append(args, a.Key, a.Value.Any())
		return true
	})

	switch {
	case rec.Level >= slog.LevelError:
		h.logger.Error(rec.Message, args...)
	case rec.Level >= slog.LevelWarn:
		h.logger.Warn(rec.Message, args...)
	case rec.Level >= slog.LevelInfo:
		h.logger.Info(rec.Message, args...)
	default:
		h.logger.Debug(rec.Message, args...)
	}
	return nil
}

func (h *hclogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &hclogHandler{logger: h.logger, attrs: merged}
}

func (h *hclogHandler) WithGroup(name string) slog.Handler {
	return &hclogHandler{logger: h.logger.Named(name), attrs: h.attrs}
}
