package indexer

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Adithya-Monish-Kumar-K/nrt-search/pkg/errors"
)

type counter struct{ n int }

func TestGuardReturnsFnError(t *testing.T) {
	g := NewGuard(&counter{}, nil)
	want := errors.New("boom")
	assert.Equal(t, want, g.Do(func(*counter) error { return want }))
	assert.False(t, g.Poisoned())
}

func TestGuardPoisonAndRecover(t *testing.T) {
	var recovered []any
	g := NewGuard(&counter{}, func(c *counter, cause any) {
		recovered = append(recovered, cause)
		c.n = 0
	})

	err := g.Do(func(c *counter) error {
		c.n = 99
		panic("half-applied")
	})
	require.ErrorIs(t, err, apperrors.ErrEngineWrite)
	assert.Contains(t, err.Error(), "half-applied")
	assert.True(t, g.Poisoned())

	var seen int
	require.NoError(t, g.Do(func(c *counter) error {
		seen = c.n
		c.n++
		return nil
	}))
	assert.Equal(t, 0, seen, "recovery hook runs before the next holder")
	assert.Equal(t, []any{"half-applied"}, recovered)
	assert.False(t, g.Poisoned())

	require.NoError(t, g.Do(func(*counter) error { return nil }))
	assert.Len(t, recovered, 1)
}

func TestGuardPanickingRecoveryHook(t *testing.T) {
	g := NewGuard(&counter{}, func(*counter, any) { panic("hook") })
	require.Error(t, g.Do(func(*counter) error { panic("first") }))

	assert.NoError(t, g.Do(func(*counter) error { return nil }))
	assert.False(t, g.Poisoned())
}

func TestGuardSerializesHolders(t *testing.T) {
	g := NewGuard(&counter{}, nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = g.Do(func(c *counter) error {
					c.n++
					return nil
				})
			}
		}()
	}
	wg.Wait()
	require.NoError(t, g.Do(func(c *counter) error {
		assert.Equal(t, 5000, c.n)
		return nil
	}))
}
