package storage

import "sync"

var _ Storage = (*Memory)(nil)

// Memory implements Storage in process memory.
// Keys are enumerated in lexical order.
type Memory struct {
	mu sync.RWMutex

	items       map[string]string
	maxBytes    int
	unavailable bool
}

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

// WithMaxBytes limits the total size of keys and values, simulating an origin quota.
func WithMaxBytes(n int) MemoryOption {
	return func(m *Memory) {
		m.maxBytes = n
	}
}

// NewMemory creates an empty in-memory store.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{items: make(map[string]string)}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetUnavailable makes every operation fail with ErrUnavailable, like storage
// disabled by a privacy mode.
func (m *Memory) SetUnavailable(unavailable bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unavailable = unavailable
}

func (m *Memory) GetItem(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.unavailable {
		return "", false, ErrUnavailable
	}

	v, ok := m.items[key]
	return v, ok, nil
}

func (m *Memory) SetItem(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.unavailable {
		return ErrUnavailable
	}

	if m.maxBytes > 0 {
		size := len(key) + len(value)
		for k, v := range m.items {
			if k == key {
				continue
			}
			size += len(k) + len(v)
		}
		if size > m.maxBytes {
			return ErrQuotaExceeded
		}
	}

	m.items[key] = value
	return nil
}

func (m *Memory) RemoveItem(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.unavailable {
		return ErrUnavailable
	}

	delete(m.items, key)
	return nil
}

func (m *Memory) Key(index int) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.unavailable {
		return "", false, ErrUnavailable
	}

	keys := sortedKeys(m.items)
	if index < 0 || index >= len(keys) {
		return "", false, nil
	}
	return keys[index], true, nil
}

func (m *Memory) Length() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.unavailable {
		return 0, ErrUnavailable
	}

	return len(m.items), nil
}
