package keylock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLock_MutualExclusionPerKey(t *testing.T) {
	table := New()

	const workers = 8
	const iterations = 200
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				unlock := table.Lock("shared")
				counter++
				unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, workers*iterations, counter)
	require.Equal(t, 0, table.Len(), "table should be empty once all locks are released")
}

func TestLock_DistinctKeysDoNotBlock(t *testing.T) {
	table := New()

	unlockA := table.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlockB := table.Lock("b")
		unlockB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("lock on key b blocked behind key a")
	}
}

func TestTryLock(t *testing.T) {
	table := New()

	unlock := table.Lock("k")

	_, ok := table.TryLock("k")
	require.False(t, ok, "TryLock must fail while the key is held")

	unlock()

	unlock2, ok := table.TryLock("k")
	require.True(t, ok)
	unlock2()

	require.Equal(t, 0, table.Len())
}
