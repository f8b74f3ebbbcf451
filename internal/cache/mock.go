package cache

import (
	"context"
	"fmt"
	"sync"

	"github.com/depot-assets/depot/internal/assets"
)

type mockResponse struct {
	data []byte
	err  error
	gate chan struct{}

	// A load that never observes its context, like a backend mid-read.
	ignoreCancel bool
}

// mockLoader is a scriptable Loader for tests. Keys respond with either a
// payload or an error; block holds a key's loads open until the returned
// release func is called, which is how the single-flight tests pin loads
// in flight.
type mockLoader struct {
	mu        sync.Mutex
	responses map[assets.Key]*mockResponse
	calls     map[assets.Key]int
}

func newMockLoader() *mockLoader {
	return &mockLoader{
		responses: make(map[assets.Key]*mockResponse),
		calls:     make(map[assets.Key]int),
	}
}

func (m *mockLoader) respond(key assets.Key, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[key] = &mockResponse{data: data}
}

func (m *mockLoader) fail(key assets.Key, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[key] = &mockResponse{err: err}
}

func (m *mockLoader) block(key assets.Key, data []byte) func() {
	gate := make(chan struct{})
	m.mu.Lock()
	m.responses[key] = &mockResponse{data: data, gate: gate}
	m.mu.Unlock()
	return func() { close(gate) }
}

func (m *mockLoader) blockFail(key assets.Key, err error) func() {
	gate := make(chan struct{})
	m.mu.Lock()
	m.responses[key] = &mockResponse{err: err, gate: gate}
	m.mu.Unlock()
	return func() { close(gate) }
}

func (m *mockLoader) blockIgnoringCancel(key assets.Key, data []byte) func() {
	gate := make(chan struct{})
	m.mu.Lock()
	m.responses[key] = &mockResponse{data: data, gate: gate, ignoreCancel: true}
	m.mu.Unlock()
	return func() { close(gate) }
}

func (m *mockLoader) loadCalls(key assets.Key) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[key]
}

func (m *mockLoader) Load(ctx context.Context, key assets.Key) (assets.Handle, error) {
	m.mu.Lock()
	m.calls[key]++
	response, ok := m.responses[key]
	m.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", assets.ErrNotFound, key)
	}

	if response.gate != nil {
		if response.ignoreCancel {
			<-response.gate
		} else {
			select {
			case <-response.gate:
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %w", assets.ErrCancelled, ctx.Err())
			}
		}
	}

	if response.err != nil {
		return nil, response.err
	}
	return assets.NewByteHandle(key, response.data), nil
}

// Type assertion
var _ Loader = (*mockLoader)(nil)
