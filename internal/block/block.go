// Package block содержит каталог типов блоков.
// Числовые ID блоков назначаются регистром и стабильны только внутри
// процесса; между клиентом и сервером блок идентифицируется именем.
package block

import "github.com/annel0/voxelspace/internal/registry"

// AirName имя пустого блока; блок с этим именем обязан существовать
const AirName = "voxelspace:air"

// Block описывает один тип блока
type Block struct {
	NumericID uint16  `msgpack:"-"` // назначается регистром
	Name      string  `msgpack:"name"`
	Solid     bool    `msgpack:"solid"`
	Hardness  float32 `msgpack:"hardness"`
}

// ID возвращает числовой идентификатор блока
func (b *Block) ID() uint16 { return b.NumericID }

// SetID назначает числовой идентификатор (вызывается регистром)
func (b *Block) SetID(id uint16) { b.NumericID = id }

// UnlocalizedName возвращает стабильное имя блока
func (b *Block) UnlocalizedName() string { return b.Name }

// RegistryName имя регистра блоков
const RegistryName = "voxelspace:blocks"

// NewRegistry создаёт пустой регистр блоков (клиентская сторона)
func NewRegistry() *registry.Registry[*Block] {
	return registry.New[*Block](RegistryName)
}

// RegisterDefaults заполняет регистр базовым набором блоков (сервер).
// Воздух регистрируется первым и всегда получает ID 0.
func RegisterDefaults(r *registry.Registry[*Block]) {
	r.Register(&Block{Name: AirName, Solid: false, Hardness: 0})
	r.Register(&Block{Name: "voxelspace:stone", Solid: true, Hardness: 10})
	r.Register(&Block{Name: "voxelspace:grass", Solid: true, Hardness: 1})
	r.Register(&Block{Name: "voxelspace:dirt", Solid: true, Hardness: 1})
	r.Register(&Block{Name: "voxelspace:ice", Solid: true, Hardness: 2})
	r.Register(&Block{Name: "voxelspace:ship_core", Solid: true, Hardness: 20})
}
