// Package registry содержит каталоги игрового контента: значения со
// стабильным строковым именем и плотным числовым идентификатором.
//
// Числовые идентификаторы назначаются последовательно с нуля при
// регистрации и стабильны только внутри одного процесса. Между
// процессами гарантируется совпадение лишь строкового имени, поэтому
// клиент, получив образ регистра с сервера, перестраивает собственное
// пространство числовых ID.
package registry

import (
	"fmt"

	"github.com/annel0/voxelspace/internal/codec"
)

// Identifiable — значение каталога со стабильным именем и числовым ID
type Identifiable interface {
	// ID возвращает числовой идентификатор внутри регистра
	ID() uint16
	// SetID назначает числовой идентификатор (вызывается регистром)
	SetID(id uint16)
	// UnlocalizedName возвращает стабильное имя вида "voxelspace:stone"
	UnlocalizedName() string
}

// Registry хранит упорядоченный набор значений одного типа контента.
// Регистрация выполняется в фазе загрузки до старта сети; после этого
// регистр считается неизменяемым.
type Registry[T Identifiable] struct {
	name     string
	contents []T
	nameToID map[string]uint16
}

// New создаёт пустой регистр с указанным именем
func New[T Identifiable](name string) *Registry[T] {
	return &Registry[T]{
		name:     name,
		nameToID: make(map[string]uint16),
	}
}

// Name возвращает имя регистра (например "voxelspace:blocks")
func (r *Registry[T]) Name() string { return r.name }

// Register добавляет значение, назначая ему следующий числовой ID
func (r *Registry[T]) Register(item T) {
	id := uint16(len(r.contents))
	item.SetID(id)
	r.nameToID[item.UnlocalizedName()] = id
	r.contents = append(r.contents, item)
}

// FromNumericID возвращает значение по числовому ID.
// Числовые ID стабильны только внутри процесса — предпочитайте FromID.
func (r *Registry[T]) FromNumericID(id uint16) (T, error) {
	var zero T
	if int(id) >= len(r.contents) {
		return zero, fmt.Errorf("регистр %s: нет значения с id %d", r.name, id)
	}
	return r.contents[id], nil
}

// FromID возвращает значение по стабильному строковому имени
func (r *Registry[T]) FromID(name string) (T, bool) {
	var zero T
	id, ok := r.nameToID[name]
	if !ok {
		return zero, false
	}
	return r.contents[id], true
}

// Len возвращает количество зарегистрированных значений
func (r *Registry[T]) Len() int { return len(r.contents) }

// Iter возвращает значения в порядке числовых ID
func (r *Registry[T]) Iter() []T { return r.contents }

// SerializeImage кодирует содержимое регистра для отправки клиенту
func (r *Registry[T]) SerializeImage() ([]byte, error) {
	return codec.EncodeRaw(r.contents)
}

// ApplyImage перестраивает регистр из образа, полученного с сервера.
// Прежнее содержимое отбрасывается, числовые ID назначаются заново.
func (r *Registry[T]) ApplyImage(data []byte) error {
	var entries []T
	if err := codec.DecodeRaw(data, &entries); err != nil {
		return fmt.Errorf("регистр %s: повреждённый образ: %w", r.name, err)
	}

	r.contents = nil
	r.nameToID = make(map[string]uint16, len(entries))
	for _, e := range entries {
		r.Register(e)
	}
	return nil
}
