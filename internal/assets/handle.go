package assets

import "sync/atomic"

// Handle is an owning reference to a loaded payload. Handles are owned
// by the cache and lent out to callers; callers hand them back through
// the cache's Release and must not Close them directly.
type Handle interface {
	Key() Key
	Size() int64
	// Bytes returns the underlying payload without copying. The slice is
	// only valid until the cache evicts the entry.
	Bytes() []byte
	Close() error
}

type byteHandle struct {
	key    Key
	data   []byte
	closed atomic.Bool
}

// NewByteHandle wraps an in-memory payload in a Handle. All current
// loader backends produce their payloads this way.
func NewByteHandle(key Key, data []byte) Handle {
	return &byteHandle{key: key, data: data}
}

func (h *byteHandle) Key() Key {
	return h.key
}

func (h *byteHandle) Size() int64 {
	return int64(len(h.data))
}

func (h *byteHandle) Bytes() []byte {
	return h.data
}

func (h *byteHandle) Close() error {
	h.closed.Store(true)
	h.data = nil
	return nil
}

// Closed is used by tests to verify eviction released the payload.
func (h *byteHandle) Closed() bool {
	return h.closed.Load()
}
