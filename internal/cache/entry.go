package cache

import (
	"context"

	"github.com/depot-assets/depot/internal/assets"
)

type entryState int

const (
	stateLoading entryState = iota
	stateReady
)

// entry is a slot in the cache table. All fields are guarded by the
// table mutex. A failed load never produces a lasting entry: the slot is
// removed before waiters are notified, so the only states that persist
// are loading and ready.
type entry struct {
	key      assets.Key
	handle   assets.Handle
	refCount int
	state    entryState

	// Continuations to invoke exactly once when the in-flight load
	// settles. Always nil once state == stateReady.
	waiters []CompletionFunc

	// Cancels the in-flight load. Nil once state == stateReady.
	cancelLoad context.CancelFunc
}
