// Package lock implements per-route single-flight guards for re-optimization.
package lock

import (
	"context"
	"fmt"
	"sync"

	"fleet-route-service/internal/domain"
)

// LocalLocker guards routes within a single process.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]struct{})}
}

func (l *LocalLocker) TryLock(ctx context.Context, routeID string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[routeID]; ok {
		return nil, fmt.Errorf("lock route %q: %w", routeID, domain.ErrOptimizationInProgress)
	}
	l.held[routeID] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, routeID)
			l.mu.Unlock()
		})
	}, nil
}
