package gpu

import (
	"context"
	"sync"
)

// MockConnector implements Connector for testing without a real GPU.
type MockConnector struct {
	memory map[uintptr][]byte
	mu     sync.Mutex
}

// NewMockConnector creates a new mock connector.
func NewMockConnector() *MockConnector {
	return &MockConnector{
		memory: make(map[uintptr][]byte),
	}
}

// SetDeviceData simulates data stored on the device at the given pointer.
func (c *MockConnector) SetDeviceData(ptr uintptr, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.memory[ptr] = append([]byte(nil), data...)
}

// GetDeviceData returns simulated device data.
func (c *MockConnector) GetDeviceData(ptr uintptr) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.memory[ptr]
}

// ToHost copies bytes from the "device" into dst.
func (c *MockConnector) ToHost(ctx context.Context, devPtr uintptr, dst []byte) error {
	if len(dst) == 0 {
		return ErrInvalidSpan
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.memory == nil {
		return ErrNotInitialized
	}

	data, ok := c.memory[devPtr]
	if !ok {
		// Unwritten device memory reads as zeros
		for i := range dst {
			dst[i] = 0
		}
		return nil
	}

	copy(dst, data)
	return nil
}

// ToDevice copies src into "device" memory.
func (c *MockConnector) ToDevice(ctx context.Context, src []byte, devPtr uintptr) error {
	if len(src) == 0 {
		return ErrInvalidSpan
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.memory == nil {
		return ErrNotInitialized
	}

	// Extend the span if a shorter one was stored before
	existing := c.memory[devPtr]
	if len(existing) < len(src) {
		existing = make([]byte, len(src))
	}
	copy(existing, src)
	c.memory[devPtr] = existing
	return nil
}

// Sync is a no-op for mock.
func (c *MockConnector) Sync() error {
	return nil
}

// Close clears internal state.
func (c *MockConnector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.memory = nil
	return nil
}

// Verify interface compliance.
var _ Connector = (*MockConnector)(nil)
