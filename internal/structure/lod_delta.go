package structure

import "fmt"

// LodDeltaKind вид узла дельты
type LodDeltaKind uint8

const (
	// LodDeltaNoChange — поддерево не изменилось
	LodDeltaNoChange LodDeltaKind = iota
	// LodDeltaNone — поддерево стало пустым
	LodDeltaNone
	// LodDeltaSingle — новый чанк
	LodDeltaSingle
	// LodDeltaChildren — разбиение на 8 поддельт
	LodDeltaChildren
)

// LodDelta инкрементальное изменение LOD-дерева.
// Совпадающие поддеревья кодируются одним узлом NoChange, поэтому
// дельта небольшого изменения компактна независимо от размера структуры.
type LodDelta struct {
	Kind     LodDeltaKind `msgpack:"k"`
	Chunk    *LodChunk    `msgpack:"c,omitempty"`
	Children []*LodDelta  `msgpack:"ch,omitempty"`
}

// Diff строит дельту перехода old -> new. old == nil означает первую
// отправку: дельта содержит полную копию нового дерева.
func Diff(old, new *Lod) *LodDelta {
	if old != nil && Equal(old, new) {
		return &LodDelta{Kind: LodDeltaNoChange}
	}

	switch new.Kind {
	case LodNone:
		return &LodDelta{Kind: LodDeltaNone}
	case LodSingle:
		return &LodDelta{Kind: LodDeltaSingle, Chunk: new.Chunk}
	case LodChildren:
		children := make([]*LodDelta, 8)
		for i := range children {
			var oldChild *Lod
			if old != nil && old.Kind == LodChildren {
				oldChild = old.Children[i]
			}
			children[i] = Diff(oldChild, new.Children[i])
		}
		return &LodDelta{Kind: LodDeltaChildren, Children: children}
	default:
		return &LodDelta{Kind: LodDeltaNoChange}
	}
}

// Validate проверяет структурную корректность дельты. Дельта из сети
// обязана пройти проверку до Apply: узел Children несёт ровно 8 детей,
// узел Single — чанк на ChunkDim^3 ячеек.
func (d *LodDelta) Validate() error {
	if d == nil {
		return fmt.Errorf("пустая дельта")
	}
	switch d.Kind {
	case LodDeltaNoChange, LodDeltaNone:
		return nil
	case LodDeltaSingle:
		if d.Chunk == nil {
			return fmt.Errorf("узел Single без чанка")
		}
		if got, want := len(d.Chunk.Blocks), ChunkDim*ChunkDim*ChunkDim; got != want {
			return fmt.Errorf("чанк на %d ячеек вместо %d", got, want)
		}
		if d.Chunk.Scale < 1 {
			return fmt.Errorf("недопустимый масштаб чанка %d", d.Chunk.Scale)
		}
		return nil
	case LodDeltaChildren:
		if len(d.Children) != 8 {
			return fmt.Errorf("узел Children с %d детьми вместо 8", len(d.Children))
		}
		for _, child := range d.Children {
			if err := child.Validate(); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("неизвестный вид узла %d", d.Kind)
	}
}

// Apply применяет дельту к дереву и возвращает новое дерево.
// Дельта должна быть проверена Validate. Исходное дерево не модифицируется.
func Apply(lod *Lod, delta *LodDelta) *Lod {
	switch delta.Kind {
	case LodDeltaNoChange:
		return lod
	case LodDeltaNone:
		return &Lod{Kind: LodNone}
	case LodDeltaSingle:
		return &Lod{Kind: LodSingle, Chunk: delta.Chunk}
	case LodDeltaChildren:
		children := make([]*Lod, 8)
		for i := range children {
			var oldChild *Lod
			if lod != nil && lod.Kind == LodChildren {
				oldChild = lod.Children[i]
			}
			children[i] = Apply(oldChild, delta.Children[i])
			if children[i] == nil {
				children[i] = &Lod{Kind: LodNone}
			}
		}
		return &Lod{Kind: LodChildren, Children: children}
	default:
		return lod
	}
}

// IsNoChange сообщает, пуста ли дельта
func (d *LodDelta) IsNoChange() bool {
	return d == nil || d.Kind == LodDeltaNoChange
}
