package service

import (
	"sync"
)

// InflightGuard tracks positions that currently have a sell executing, so
// the evaluator never dispatches a second exit for the same position while
// the first is still settling. It is safe for concurrent use.
type InflightGuard struct {
	inflight map[string]struct{} // position key -> in flight
	mu       sync.Mutex
}

// NewInflightGuard creates an empty guard.
func NewInflightGuard() *InflightGuard {
	return &InflightGuard{
		inflight: make(map[string]struct{}),
	}
}

// TryAcquire marks the position key as in flight. It returns false when the
// key is already held, in which case the caller must not dispatch.
func (g *InflightGuard) TryAcquire(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, held := g.inflight[key]; held {
		return false
	}
	g.inflight[key] = struct{}{}
	return true
}

// Held reports whether a sell is currently in flight for the key.
func (g *InflightGuard) Held(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	_, held := g.inflight[key]
	return held
}

// Release clears the key once the dispatched sell has settled, whatever the
// outcome.
func (g *InflightGuard) Release(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.inflight, key)
}
