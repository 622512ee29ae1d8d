package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockCache is an in-memory implementation of cache.Cache for tests that
// do not need a Redis server. Expirations are ignored.
type MockCache struct {
	data map[string]interface{}
	mu   sync.RWMutex

	// GetErr, when set, is returned by Get.
	GetErr error
}

// NewMockCache creates a new mock cache instance
func NewMockCache() *MockCache {
	return &MockCache{
		data: make(map[string]interface{}),
	}
}

// Get retrieves a value from the mock cache
func (m *MockCache) Get(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.GetErr != nil {
		return "", m.GetErr
	}

	val, exists := m.data[key]
	if !exists {
		return "", nil
	}

	switch v := val.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	default:
		return fmt.Sprint(v), nil
	}
}

// Set stores a value in the mock cache
func (m *MockCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[key] = value
	return nil
}

// Del deletes keys from the mock cache
func (m *MockCache) Del(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, key := range keys {
		delete(m.data, key)
	}
	return nil
}

// Exists checks if keys exist in the mock cache
func (m *MockCache) Exists(ctx context.Context, keys ...string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, key := range keys {
		if _, exists := m.data[key]; exists {
			count++
		}
	}
	return count, nil
}

// SetNX sets a key only if it doesn't exist (for distributed locking)
func (m *MockCache) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.data[key]; exists {
		return false, nil
	}

	m.data[key] = value
	return true, nil
}

// DelIfEquals deletes key when it holds value; used to release locks.
func (m *MockCache) DelIfEquals(ctx context.Context, key, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.data[key].(string); ok && cur == value {
		delete(m.data, key)
		return true, nil
	}
	return false, nil
}

// Health always returns nil for mock
func (m *MockCache) Health(ctx context.Context) error {
	return nil
}

// Close is a no-op for mock
func (m *MockCache) Close() error {
	return nil
}
