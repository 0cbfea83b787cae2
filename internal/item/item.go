// Package item содержит каталог типов предметов
package item

import "github.com/annel0/voxelspace/internal/registry"

// Item описывает один тип предмета
type Item struct {
	NumericID uint16 `msgpack:"-"` // назначается регистром
	Name      string `msgpack:"name"`
	MaxStack  int    `msgpack:"max_stack"`
}

// ID возвращает числовой идентификатор предмета
func (i *Item) ID() uint16 { return i.NumericID }

// SetID назначает числовой идентификатор (вызывается регистром)
func (i *Item) SetID(id uint16) { i.NumericID = id }

// UnlocalizedName возвращает стабильное имя предмета
func (i *Item) UnlocalizedName() string { return i.Name }

// RegistryName имя регистра предметов
const RegistryName = "voxelspace:items"

// NewRegistry создаёт пустой регистр предметов (клиентская сторона)
func NewRegistry() *registry.Registry[*Item] {
	return registry.New[*Item](RegistryName)
}

// RegisterDefaults заполняет регистр базовым набором предметов (сервер)
func RegisterDefaults(r *registry.Registry[*Item]) {
	r.Register(&Item{Name: "voxelspace:stone", MaxStack: 64})
	r.Register(&Item{Name: "voxelspace:dirt", MaxStack: 64})
	r.Register(&Item{Name: "voxelspace:ship_core", MaxStack: 1})
}
