// Package sync реализует движок репликации компонентов: обнаружение
// изменений на авторитетной стороне, кодирование и применение обновлений
// на принимающей стороне с переводом ссылок на сущности через netmap.
package sync

import (
	"fmt"
	"sort"

	"github.com/annel0/voxelspace/internal/entity"
	"github.com/annel0/voxelspace/internal/netmap"
)

// Direction определяет направление синхронизации компонента
type Direction int

const (
	// ServerAuthoritative — сервер единственный источник канонического
	// состояния; локальная копия клиента только для чтения
	ServerAuthoritative Direction = iota
	// BidirectionalFromClient — клиент предлагает изменение, сервер
	// валидирует, применяет и рассылает всем наблюдателям
	BidirectionalFromClient
)

// RewriteSide указывает, в чьё пространство сущностей переводить ссылки
type RewriteSide int

const (
	// ToClient — серверные ID в ссылках заменяются клиентскими
	ToClient RewriteSide = iota
	// ToServer — клиентские ID в ссылках заменяются серверными
	ToServer
)

// ComponentDescriptor описывает один реплицируемый тип компонента.
// Регистрируется один раз при старте процесса.
type ComponentDescriptor struct {
	// Name стабильное имя компонента вида "voxelspace:transform"
	Name string

	// Direction направление синхронизации
	Direction Direction

	// Encode сериализует значение компонента
	Encode func(v interface{}) ([]byte, error)

	// Decode десериализует значение компонента
	Decode func(data []byte) (interface{}, error)

	// HasEntityRefs истинно, если компонент содержит ссылки на сущности
	HasEntityRefs bool

	// Rewrite переводит вложенные ссылки на сущности через карту.
	// Обязателен при HasEntityRefs — отсутствие отлавливается при
	// регистрации, а не в рантайме.
	Rewrite func(v interface{}, m *netmap.Mapping, side RewriteSide) (interface{}, error)

	// Validate опциональная серверная проверка клиентского предложения
	// (только для BidirectionalFromClient)
	Validate func(proposer entity.ID, v interface{}) error
}

// ComponentRegistry таблица реплицируемых компонентов процесса.
// Заполняется при старте; далее только чтение с тикового горутина.
type ComponentRegistry struct {
	byName map[string]*ComponentDescriptor
}

// NewComponentRegistry создаёт пустую таблицу компонентов
func NewComponentRegistry() *ComponentRegistry {
	return &ComponentRegistry{byName: make(map[string]*ComponentDescriptor)}
}

// Register добавляет дескриптор компонента.
// Компонент со ссылками на сущности без правила перевода — ошибка
// конфигурации: без перевода реплицированное состояние молча портится.
func (r *ComponentRegistry) Register(desc ComponentDescriptor) error {
	if desc.Name == "" {
		return fmt.Errorf("компонент без имени")
	}
	if desc.Encode == nil || desc.Decode == nil {
		return fmt.Errorf("компонент %s: не заданы функции кодирования", desc.Name)
	}
	if desc.HasEntityRefs && desc.Rewrite == nil {
		return fmt.Errorf("компонент %s содержит ссылки на сущности, но не задано правило перевода", desc.Name)
	}
	if _, exists := r.byName[desc.Name]; exists {
		return fmt.Errorf("компонент %s уже зарегистрирован", desc.Name)
	}

	d := desc
	r.byName[desc.Name] = &d
	return nil
}

// MustRegister регистрирует компонент или паникует.
// Ошибка регистрации — ошибка конфигурации времени старта.
func (r *ComponentRegistry) MustRegister(desc ComponentDescriptor) {
	if err := r.Register(desc); err != nil {
		panic(fmt.Sprintf("sync: %v", err))
	}
}

// Get возвращает дескриптор по имени
func (r *ComponentRegistry) Get(name string) (*ComponentDescriptor, bool) {
	d, ok := r.byName[name]
	return d, ok
}

// Names возвращает имена зарегистрированных компонентов в стабильном порядке
func (r *ComponentRegistry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
