package mock

import (
	"context"

	"github.com/mhollis/fibrescan"
)

var _ fibrescan.RobotsGate = (*RobotsGate)(nil)

// RobotsGate is a mock implementation of fibrescan.RobotsGate. A nil
// AllowedFn allows everything.
type RobotsGate struct {
	AllowedFn func(ctx context.Context, rawURL string) bool
}

func (g *RobotsGate) Allowed(ctx context.Context, rawURL string) bool {
	if g.AllowedFn == nil {
		return true
	}
	return g.AllowedFn(ctx, rawURL)
}

var _ fibrescan.HostLimiter = (*HostLimiter)(nil)

// HostLimiter is a mock implementation of fibrescan.HostLimiter. A nil
// WaitFn never blocks.
type HostLimiter struct {
	WaitFn func(ctx context.Context, host string) error
}

func (l *HostLimiter) Wait(ctx context.Context, host string) error {
	if l.WaitFn == nil {
		return nil
	}
	return l.WaitFn(ctx, host)
}
