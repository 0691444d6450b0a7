package agent

import (
	"context"
	"log/slog"

	"github.com/dantte-lp/smgw/internal/gateway"
)

// LogAgent writes forwarded messages to a logger. Useful as a dry-run
// backend and in tests.
type LogAgent struct {
	logger *slog.Logger
	level  slog.Level
}

// NewLogAgent creates a LogAgent logging at slog.LevelInfo.
func NewLogAgent(logger *slog.Logger) *LogAgent {
	return &LogAgent{
		logger: logger.With(slog.String("component", "agent.log")),
		level:  slog.LevelInfo,
	}
}

// Deliver logs msg. It never fails.
func (a *LogAgent) Deliver(ctx context.Context, msg gateway.Message) error {
	a.logger.LogAttrs(ctx, a.level, "message",
		slog.String("whom", msg.Whom),
		slog.String("author", msg.Author),
		slog.String("body", msg.Body),
	)
	return nil
}
