package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunGuard_AcquireRelease(t *testing.T) {
	guard := NewRunGuard(2, time.Second)
	ctx := context.Background()

	require.NoError(t, guard.Acquire(ctx, "u1", EntityExpense))
	require.NoError(t, guard.Acquire(ctx, "u1", EntityDebt))
	assert.Equal(t, 2, guard.ActiveCount())
	assert.Equal(t, RunGuardStatus{Active: 2, Available: 0, MaxConcurrent: 2}, guard.Status())

	guard.Release("u1", EntityExpense)
	assert.Equal(t, 1, guard.ActiveCount())

	guard.Release("u1", EntityDebt)
	assert.Equal(t, 0, guard.ActiveCount())
}

func TestRunGuard_RejectsSecondImportOfSameEntity(t *testing.T) {
	guard := NewRunGuard(5, time.Second)
	ctx := context.Background()

	require.NoError(t, guard.Acquire(ctx, "u1", EntityBudget))
	defer guard.Release("u1", EntityBudget)

	err := guard.Acquire(ctx, "u1", EntityBudget)
	assert.ErrorIs(t, err, ErrImportInProgress)

	// Another user is unaffected.
	require.NoError(t, guard.Acquire(ctx, "u2", EntityBudget))
	guard.Release("u2", EntityBudget)
}

func TestRunGuard_BlocksWhenFull(t *testing.T) {
	guard := NewRunGuard(1, 50*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, guard.Acquire(ctx, "u1", EntityExpense))

	start := time.Now()
	err := guard.Acquire(ctx, "u2", EntityExpense)
	assert.ErrorIs(t, err, ErrTooManyImports)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)

	// The timed-out pair was released and may try again.
	guard.Release("u1", EntityExpense)
	require.NoError(t, guard.Acquire(ctx, "u2", EntityExpense))
	guard.Release("u2", EntityExpense)
}

func TestRunGuard_CancelledContext(t *testing.T) {
	guard := NewRunGuard(1, time.Second)
	require.NoError(t, guard.Acquire(context.Background(), "u1", EntityExpense))
	defer guard.Release("u1", EntityExpense)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := guard.Acquire(ctx, "u2", EntityExpense)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunGuard_ConcurrentAccess(t *testing.T) {
	const maxConcurrent = 3
	guard := NewRunGuard(maxConcurrent, time.Second)

	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		maxObserved int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(user string) {
			defer wg.Done()
			if err := guard.Acquire(context.Background(), user, EntityExpense); err != nil {
				t.Errorf("Acquire failed: %v", err)
				return
			}
			defer guard.Release(user, EntityExpense)

			mu.Lock()
			maxObserved = max(maxObserved, guard.ActiveCount())
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
		}(string(rune('a' + i)))
	}
	wg.Wait()

	assert.LessOrEqual(t, maxObserved, maxConcurrent)
	assert.Equal(t, 0, guard.ActiveCount())
}

func TestRunGuard_WaitForDrain(t *testing.T) {
	guard := NewRunGuard(1, time.Second)
	require.NoError(t, guard.Acquire(context.Background(), "u1", EntityExpense))

	go func() {
		time.Sleep(20 * time.Millisecond)
		guard.Release("u1", EntityExpense)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, guard.WaitForDrain(ctx))
}
