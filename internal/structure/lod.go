package structure

import "github.com/annel0/voxelspace/internal/vec"

// LodKind вид узла LOD-дерева
type LodKind uint8

const (
	// LodNone — пусто, узел не содержит блоков
	LodNone LodKind = iota
	// LodSingle — один чанк блоков в произвольном масштабе
	LodSingle
	// LodChildren — куб разбит на 8 подкубов
	LodChildren
)

// LodChunk чанк упрощённого представления: ChunkDim^3 ячеек,
// каждая ячейка покрывает Scale^3 блоков исходной структуры
type LodChunk struct {
	Scale  int      `msgpack:"scale"`
	Blocks []uint16 `msgpack:"blocks"`
}

// BlockAt возвращает блок LOD-ячейки
func (c *LodChunk) BlockAt(x, y, z int) uint16 {
	return c.Blocks[(z*ChunkDim+y)*ChunkDim+x]
}

// Lod октодерево упрощённого представления структуры.
// Индексация детей: бит 0 — X-половина, бит 1 — Y, бит 2 — Z.
type Lod struct {
	Kind     LodKind   `msgpack:"k"`
	Chunk    *LodChunk `msgpack:"c,omitempty"`
	Children []*Lod    `msgpack:"ch,omitempty"`
}

// Generate строит LOD-представление структуры в масштабе scale
// (блоков структуры на одну LOD-ячейку; степень двойки, >= 1).
func Generate(s *Structure, scale int) *Lod {
	if scale < 1 {
		scale = 1
	}
	return generate(s, vec.Vec3{}, s.Size, scale)
}

func generate(s *Structure, origin vec.Vec3, size, scale int) *Lod {
	if size <= ChunkDim*scale {
		chunk := sample(s, origin, size, scale)
		if chunk == nil {
			return &Lod{Kind: LodNone}
		}
		return &Lod{Kind: LodSingle, Chunk: chunk}
	}

	half := size / 2
	children := make([]*Lod, 8)
	empty := true
	for i := 0; i < 8; i++ {
		off := vec.Vec3{
			X: origin.X + (i&1)*half,
			Y: origin.Y + ((i>>1)&1)*half,
			Z: origin.Z + ((i>>2)&1)*half,
		}
		children[i] = generate(s, off, half, scale)
		if children[i].Kind != LodNone {
			empty = false
		}
	}
	if empty {
		return &Lod{Kind: LodNone}
	}
	return &Lod{Kind: LodChildren, Children: children}
}

// sample сводит регион size^3 к чанку ChunkDim^3, беря для каждой
// LOD-ячейки первый непустой блок. Возвращает nil для пустого региона.
func sample(s *Structure, origin vec.Vec3, size, scale int) *LodChunk {
	cells := size / scale
	if cells > ChunkDim {
		cells = ChunkDim
	}

	chunk := &LodChunk{Scale: scale, Blocks: make([]uint16, ChunkDim*ChunkDim*ChunkDim)}
	empty := true
	for cz := 0; cz < cells; cz++ {
		for cy := 0; cy < cells; cy++ {
			for cx := 0; cx < cells; cx++ {
				id := dominantBlock(s, vec.Vec3{
					X: origin.X + cx*scale,
					Y: origin.Y + cy*scale,
					Z: origin.Z + cz*scale,
				}, scale)
				if id != AirID {
					chunk.Blocks[(cz*ChunkDim+cy)*ChunkDim+cx] = id
					empty = false
				}
			}
		}
	}
	if empty {
		return nil
	}
	return chunk
}

func dominantBlock(s *Structure, origin vec.Vec3, scale int) uint16 {
	for z := 0; z < scale; z++ {
		for y := 0; y < scale; y++ {
			for x := 0; x < scale; x++ {
				if id := s.BlockAt(vec.Vec3{X: origin.X + x, Y: origin.Y + y, Z: origin.Z + z}); id != AirID {
					return id
				}
			}
		}
	}
	return AirID
}

// Equal сравнивает два LOD-дерева
func Equal(a, b *Lod) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case LodSingle:
		if a.Chunk == nil || b.Chunk == nil {
			return a.Chunk == b.Chunk
		}
		if a.Chunk.Scale != b.Chunk.Scale || len(a.Chunk.Blocks) != len(b.Chunk.Blocks) {
			return false
		}
		for i := range a.Chunk.Blocks {
			if a.Chunk.Blocks[i] != b.Chunk.Blocks[i] {
				return false
			}
		}
		return true
	case LodChildren:
		if len(a.Children) != len(b.Children) {
			return false
		}
		for i := range a.Children {
			if !Equal(a.Children[i], b.Children[i]) {
				return false
			}
		}
		return true
	default:
		return true
	}
}
