package structure

import (
	"github.com/annel0/voxelspace/internal/entity"
	"github.com/annel0/voxelspace/internal/vec"
)

// BlockEntry один непустой блок в образе структуры
type BlockEntry struct {
	Pos vec.Vec3 `msgpack:"pos"`
	ID  uint16   `msgpack:"id"`
}

// Image сериализуемый снимок структуры для хранилища
type Image struct {
	Entity uint64       `msgpack:"entity"`
	Size   int          `msgpack:"size"`
	Blocks []BlockEntry `msgpack:"blocks"`
}

// Image возвращает снимок структуры
func (s *Structure) Image() *Image {
	img := &Image{
		Entity: uint64(s.Entity),
		Size:   s.Size,
		Blocks: make([]BlockEntry, 0, len(s.blocks)),
	}
	for pos, id := range s.blocks {
		img.Blocks = append(img.Blocks, BlockEntry{Pos: pos, ID: id})
	}
	return img
}

// FromImage восстанавливает структуру из снимка
func FromImage(img *Image) *Structure {
	s := New(entity.ID(img.Entity), img.Size)
	for _, b := range img.Blocks {
		s.blocks[b.Pos] = b.ID
	}
	return s
}
