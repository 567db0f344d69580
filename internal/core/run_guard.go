package core

// run_guard.go limits concurrent imports.
//
// A semaphore caps how many imports persist at once; requests that cannot
// get a slot within maxWait fail with ErrTooManyImports. Independently, a
// user may only have one import of a given entity in flight, a second one is
// rejected immediately with ErrImportInProgress.

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultMaxConcurrentImports is the default limit for parallel imports.
const DefaultMaxConcurrentImports = 5

// DefaultMaxWaitTime is how long to wait for a slot before rejecting.
const DefaultMaxWaitTime = 30 * time.Second

// RunGuard controls concurrent import processing.
type RunGuard struct {
	semaphore chan struct{}
	maxWait   time.Duration

	mu     sync.Mutex
	active map[string]struct{}
}

// NewRunGuard creates a guard that allows at most maxConcurrent simultaneous imports.
func NewRunGuard(maxConcurrent int, maxWait time.Duration) *RunGuard {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentImports
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitTime
	}

	return &RunGuard{
		semaphore: make(chan struct{}, maxConcurrent),
		maxWait:   maxWait,
		active:    make(map[string]struct{}),
	}
}

func guardKey(userID string, entity EntityKind) string {
	return userID + "|" + string(entity)
}

// Acquire reserves the (user, entity) pair and a processing slot.
// The caller MUST call Release with the same pair when Acquire succeeds.
func (g *RunGuard) Acquire(ctx context.Context, userID string, entity EntityKind) error {
	key := guardKey(userID, entity)

	g.mu.Lock()
	if _, busy := g.active[key]; busy {
		g.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrImportInProgress, entity)
	}
	g.active[key] = struct{}{}
	g.mu.Unlock()

	waitCtx, cancel := context.WithTimeout(ctx, g.maxWait)
	defer cancel()

	select {
	case g.semaphore <- struct{}{}:
		return nil
	case <-waitCtx.Done():
		g.forget(key)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrTooManyImports
	}
}

// Release frees the slot and the (user, entity) pair.
func (g *RunGuard) Release(userID string, entity EntityKind) {
	g.forget(guardKey(userID, entity))
	<-g.semaphore
}

func (g *RunGuard) forget(key string) {
	g.mu.Lock()
	delete(g.active, key)
	g.mu.Unlock()
}

// ActiveCount returns the number of imports holding a slot.
func (g *RunGuard) ActiveCount() int {
	return len(g.semaphore)
}

// WaitForDrain blocks until all active imports complete or ctx is done.
// Used on shutdown so committed batches are not cut off mid-run.
func (g *RunGuard) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if g.ActiveCount() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunGuardStatus is a snapshot of the guard's state.
type RunGuardStatus struct {
	Active        int `json:"active"`
	Available     int `json:"available"`
	MaxConcurrent int `json:"max_concurrent"`
}

// Status returns the current guard state for monitoring.
func (g *RunGuard) Status() RunGuardStatus {
	active := len(g.semaphore)
	return RunGuardStatus{
		Active:        active,
		Available:     cap(g.semaphore) - active,
		MaxConcurrent: cap(g.semaphore),
	}
}
