package main

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWaitUntil(t *testing.T) {
	t.Run("holds right away", func(t *testing.T) {
		calls := 0
		ok := waitUntil(context.Background(), time.Hour, func() bool {
			calls++
			return true
		})
		assert.True(t, ok)
		assert.Equal(t, 1, calls)
	})

	t.Run("holds after a few ticks", func(t *testing.T) {
		var calls atomic.Int32
		ok := waitUntil(context.Background(), 5*time.Millisecond, func() bool {
			return calls.Add(1) >= 3
		})
		assert.True(t, ok)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("gives up when ctx is done", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()

		start := time.Now()
		ok := waitUntil(ctx, 5*time.Millisecond, func() bool { return false })
		assert.False(t, ok)
		assert.Less(t, time.Since(start), time.Second)
	})
}
