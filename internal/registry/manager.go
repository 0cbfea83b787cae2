package registry

import (
	"fmt"
	"sort"
	"sync"
)

// Syncable — регистр, пригодный для отправки клиенту
type Syncable interface {
	Name() string
	SerializeImage() ([]byte, error)
	ApplyImage(data []byte) error
	Len() int
}

// Manager хранит именованный набор регистров процесса.
// Заполняется один раз в фазе загрузки; далее только чтение.
type Manager struct {
	mu         sync.RWMutex
	registries map[string]Syncable
}

// NewManager создаёт пустой менеджер регистров
func NewManager() *Manager {
	return &Manager{registries: make(map[string]Syncable)}
}

// Add регистрирует регистр под его именем
func (m *Manager) Add(r Syncable) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.registries[r.Name()]; exists {
		return fmt.Errorf("регистр %s уже зарегистрирован", r.Name())
	}
	m.registries[r.Name()] = r
	return nil
}

// Get возвращает регистр по имени
func (m *Manager) Get(name string) (Syncable, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.registries[name]
	return r, ok
}

// Count возвращает количество регистров
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.registries)
}

// All возвращает регистры, отсортированные по имени (для стабильного обхода)
func (m *Manager) All() []Syncable {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.registries))
	for name := range m.registries {
		names = append(names, name)
	}
	sort.Strings(names)

	result := make([]Syncable, 0, len(names))
	for _, name := range names {
		result = append(result, m.registries[name])
	}
	return result
}
