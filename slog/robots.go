// Package slog provides logging decorators for the core interfaces.
package slog

import (
	"context"
	"log/slog"
	"time"

	"github.com/mhollis/fibrescan"
)

// Ensure LoggingRobotsGate implements fibrescan.RobotsGate.
var _ fibrescan.RobotsGate = (*LoggingRobotsGate)(nil)

// LoggingRobotsGate wraps a RobotsGate and logs every decision. Denials log
// at info level because they change what the run scrapes; allows stay at
// debug.
type LoggingRobotsGate struct {
	next   fibrescan.RobotsGate
	logger *slog.Logger
}

// NewLoggingRobotsGate creates a new LoggingRobotsGate.
func NewLoggingRobotsGate(next fibrescan.RobotsGate, logger *slog.Logger) *LoggingRobotsGate {
	return &LoggingRobotsGate{next: next, logger: logger}
}

// Allowed delegates to the wrapped gate and logs the decision.
func (g *LoggingRobotsGate) Allowed(ctx context.Context, rawURL string) bool {
	begin := time.Now()
	allowed := g.next.Allowed(ctx, rawURL)
	if allowed {
		g.logger.Debug("robots check",
			"url", rawURL,
			"allowed", true,
			"duration", time.Since(begin),
		)
	} else {
		g.logger.Info("robots check",
			"url", rawURL,
			"allowed", false,
			"duration", time.Since(begin),
		)
	}
	return allowed
}
