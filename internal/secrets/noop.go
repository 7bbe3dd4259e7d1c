package secrets

import "sync"

// NoopStore is used on platforms without a secret store.
// All operations return ErrNotSupported.
type NoopStore struct{}

func (n *NoopStore) Get(service, account string) (string, error) {
	return "", ErrNotSupported
}

func (n *NoopStore) Set(service, account, password string) error {
	return ErrNotSupported
}

func (n *NoopStore) Delete(service, account string) error {
	return ErrNotSupported
}

func (n *NoopStore) IsSupported() bool {
	return false
}

// MemoryStore keeps credentials in process memory.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]string)}
}

func (m *MemoryStore) key(service, account string) string {
	return service + "\x00" + account
}

func (m *MemoryStore) Get(service, account string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.items[m.key(service, account)]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *MemoryStore) Set(service, account, password string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[m.key(service, account)] = password
	return nil
}

func (m *MemoryStore) Delete(service, account string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := m.key(service, account)
	if _, ok := m.items[k]; !ok {
		return ErrNotFound
	}
	delete(m.items, k)
	return nil
}

func (m *MemoryStore) IsSupported() bool {
	return true
}
