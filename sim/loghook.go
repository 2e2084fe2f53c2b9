package sim

import (
	"context"
	"log/slog"
)

// A LogHook writes every event it sees to a logger.
type LogHook struct {
	logger *slog.Logger
	level  slog.Level
}

// NewLogHook creates a hook that logs at level. Events are skipped cheaply
// when the logger does not log at that level.
func NewLogHook(logger *slog.Logger, level slog.Level) *LogHook {
	if logger == nil {
		logger = slog.Default()
	}

	return &LogHook{logger: logger, level: level}
}

// Func logs the event.
func (h *LogHook) Func(ctx HookCtx) {
	bg := context.Background()
	if !h.logger.Enabled(bg, h.level) {
		return
	}

	attrs := make([]any, 0, 6)
	if n, ok := ctx.Domain.(Named); ok {
		attrs = append(attrs, "domain", n.Name())
	}

	if ctx.Item != nil {
		attrs = append(attrs, "item", ctx.Item)
	}

	if ctx.Detail != nil {
		attrs = append(attrs, "detail", ctx.Detail)
	}

	h.logger.Log(bg, h.level, ctx.Pos.Name, attrs...)
}
