package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"escape-room-service/internal/domain"
)

// Gate guards against the store becoming reachable only after startup.
// Await probes until the store answers or the bounded wait expires, then
// surfaces domain.ErrStoreUnavailable instead of hanging. A single Gate
// is shared by every consumer so the wait happens once.
type Gate struct {
	probe    func(ctx context.Context) error
	interval time.Duration
	timeout  time.Duration
	clock    clockwork.Clock

	mu    sync.Mutex
	ready bool
}

// NewGate builds a gate around probe. A nil probe is always ready.
func NewGate(probe func(ctx context.Context) error, interval, timeout time.Duration) *Gate {
	return NewGateWithClock(probe, interval, timeout, clockwork.NewRealClock())
}

// NewGateWithClock is NewGate with an injectable clock for tests.
func NewGateWithClock(probe func(ctx context.Context) error, interval, timeout time.Duration, clock clockwork.Clock) *Gate {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Gate{probe: probe, interval: interval, timeout: timeout, clock: clock}
}

// Await blocks until the store is reachable. After the bounded wait it
// returns domain.ErrStoreUnavailable; it never retries forever.
func (g *Gate) Await(ctx context.Context) error {
	if g == nil {
		return nil
	}
	g.mu.Lock()
	if g.ready || g.probe == nil {
		g.ready = true
		g.mu.Unlock()
		return nil
	}
	g.mu.Unlock()

	deadline := g.clock.Now().Add(g.timeout)
	var lastErr error
	for {
		probeCtx, cancel := context.WithTimeout(ctx, g.interval*10)
		lastErr = g.probe(probeCtx)
		cancel()
		if lastErr == nil {
			g.mu.Lock()
			g.ready = true
			g.mu.Unlock()
			return nil
		}
		if !g.clock.Now().Add(g.interval).Before(deadline) {
			return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, lastErr)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-g.clock.After(g.interval):
		}
	}
}

// Ready reports whether a previous Await succeeded.
func (g *Gate) Ready() bool {
	if g == nil {
		return true
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ready
}
