// Package stats produces the telemetry payloads published on every tick.
package stats

import (
	"context"
	"fmt"
)

// Provider returns a fresh snapshot of some subsystem's state. Snapshot may
// be slow or fail; callers bound it with ctx.
type Provider interface {
	Snapshot(ctx context.Context) (any, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context) (any, error)

func (f ProviderFunc) Snapshot(ctx context.Context) (any, error) {
	return f(ctx)
}

// New returns the provider for a configured source name.
func New(source string) (Provider, error) {
	switch source {
	case "mock":
		return NewMockProvider(0), nil
	case "host":
		return NewHostProvider(), nil
	default:
		return nil, fmt.Errorf("unknown stats source %q", source)
	}
}
