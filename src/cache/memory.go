package cache

import "sync"

// MemoryBackend is an in-memory Backend. Useful for testing and for runs
// that do not need warm restarts.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string]Entry)}
}

// Load returns the stored entry for a fingerprint.
func (m *MemoryBackend) Load(fingerprint string) (Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.entries[fingerprint]
	return entry, ok, nil
}

// Store persists an entry, replacing any existing one.
func (m *MemoryBackend) Store(entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[entry.Fingerprint] = entry
	return nil
}

// Close is a no-op for the in-memory backend.
func (m *MemoryBackend) Close() error { return nil }
