// Package structure содержит воксельные структуры (планеты, корабли) и
// их LOD-представления для потоковой передачи клиентам.
package structure

import (
	"github.com/annel0/voxelspace/internal/entity"
	"github.com/annel0/voxelspace/internal/vec"
)

// ChunkDim размер чанка в блоках по каждой оси
const ChunkDim = 16

// AirID числовой ID пустого блока: воздух регистрируется первым и
// всегда получает 0
const AirID uint16 = 0

// Structure воксельная структура кубической формы.
// Size — длина стороны в блоках, степень двойки, кратная ChunkDim.
type Structure struct {
	Entity  entity.ID
	Size    int
	blocks  map[vec.Vec3]uint16
	version uint64
}

// New создаёт пустую структуру указанного размера
func New(ent entity.ID, size int) *Structure {
	return &Structure{
		Entity: ent,
		Size:   size,
		blocks: make(map[vec.Vec3]uint16),
	}
}

// SetBlock устанавливает блок; воздух удаляет запись
func (s *Structure) SetBlock(pos vec.Vec3, blockID uint16) {
	if !pos.InBounds(s.Size) {
		return
	}
	if blockID == AirID {
		delete(s.blocks, pos)
	} else {
		s.blocks[pos] = blockID
	}
	s.version++
}

// BlockAt возвращает блок в указанной позиции (AirID если пусто)
func (s *Structure) BlockAt(pos vec.Vec3) uint16 {
	return s.blocks[pos]
}

// Version растёт при каждом изменении содержимого
func (s *Structure) Version() uint64 { return s.version }

// BlockCount возвращает количество непустых блоков
func (s *Structure) BlockCount() int { return len(s.blocks) }
