package main

import (
	"context"
	"time"
)

// waitUntil polls cond every interval until it holds or ctx is done. It
// reports whether cond held. cond is checked once right away.
func waitUntil(ctx context.Context, interval time.Duration, cond func() bool) bool {
	if cond() {
		return true
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if cond() {
				return true
			}
		}
	}
}
