package proofstore

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemStoreMarkUsedOnce(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	already, err := s.MarkUsed(ctx, "proof-1")
	require.NoError(t, err)
	assert.False(t, already)

	already, err = s.MarkUsed(ctx, "proof-1")
	require.NoError(t, err)
	assert.True(t, already, "second use is a replay")
}

func TestMemStoreContains(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	ok, err := s.Contains(ctx, "proof-1")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.MarkUsed(ctx, "proof-1")
	require.NoError(t, err)

	ok, err = s.Contains(ctx, "proof-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemStoreConcurrentMarkUsedSingleWinner(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	const callers = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	fresh := 0
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			already, err := s.MarkUsed(ctx, "contested")
			if err == nil && !already {
				mu.Lock()
				fresh++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, fresh, "exactly one caller records the proof first")
}

func TestMemStoreIndependentRefs(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		already, err := s.MarkUsed(ctx, fmt.Sprintf("proof-%d", i))
		require.NoError(t, err)
		assert.False(t, already)
	}
}
