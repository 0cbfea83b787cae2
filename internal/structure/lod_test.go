package structure

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/voxelspace/internal/vec"
)

func TestGenerateEmptyStructure(t *testing.T) {
	s := New(1, 64)
	lod := Generate(s, 1)
	assert.Equal(t, LodNone, lod.Kind)
}

func TestGenerateSingleChunk(t *testing.T) {
	s := New(1, ChunkDim)
	s.SetBlock(vec.Vec3{X: 3, Y: 1, Z: 2}, 5)

	lod := Generate(s, 1)
	require.Equal(t, LodSingle, lod.Kind)
	require.NotNil(t, lod.Chunk)
	assert.Equal(t, 1, lod.Chunk.Scale)
	assert.Equal(t, uint16(5), lod.Chunk.BlockAt(3, 1, 2))
	assert.Equal(t, AirID, lod.Chunk.BlockAt(0, 0, 0))
}

func TestGenerateOctreeSplit(t *testing.T) {
	s := New(1, 2*ChunkDim)
	s.SetBlock(vec.Vec3{X: 0, Y: 0, Z: 0}, 7)
	// Бит 0 — X-половина, бит 1 — Y, бит 2 — Z
	s.SetBlock(vec.Vec3{X: ChunkDim, Y: ChunkDim, Z: 0}, 9)

	lod := Generate(s, 1)
	require.Equal(t, LodChildren, lod.Kind)
	require.Len(t, lod.Children, 8)

	require.Equal(t, LodSingle, lod.Children[0].Kind)
	assert.Equal(t, uint16(7), lod.Children[0].Chunk.BlockAt(0, 0, 0))

	require.Equal(t, LodSingle, lod.Children[3].Kind)
	assert.Equal(t, uint16(9), lod.Children[3].Chunk.BlockAt(0, 0, 0))

	for _, i := range []int{1, 2, 4, 5, 6, 7} {
		assert.Equal(t, LodNone, lod.Children[i].Kind, "пустой подкуб %d", i)
	}
}

// Увеличенный масштаб сводит большой куб к одному чанку; ячейка берёт
// первый непустой блок своего региона.
func TestGenerateCoarseScale(t *testing.T) {
	s := New(1, 2*ChunkDim)
	s.SetBlock(vec.Vec3{X: 1, Y: 1, Z: 1}, 3)

	lod := Generate(s, 2)
	require.Equal(t, LodSingle, lod.Kind)
	assert.Equal(t, 2, lod.Chunk.Scale)
	assert.Equal(t, uint16(3), lod.Chunk.BlockAt(0, 0, 0))
}

func TestEqual(t *testing.T) {
	s := New(1, ChunkDim)
	s.SetBlock(vec.Vec3{X: 1, Y: 2, Z: 3}, 4)

	a := Generate(s, 1)
	b := Generate(s, 1)
	assert.True(t, Equal(a, b))
	assert.True(t, Equal(nil, nil))
	assert.False(t, Equal(a, nil))

	s.SetBlock(vec.Vec3{X: 1, Y: 2, Z: 3}, 6)
	c := Generate(s, 1)
	assert.False(t, Equal(a, c))

	assert.False(t, Equal(a, &Lod{Kind: LodNone}))
}

func TestDiffNoChange(t *testing.T) {
	s := New(1, ChunkDim)
	s.SetBlock(vec.Vec3{X: 0, Y: 0, Z: 0}, 2)

	lod := Generate(s, 1)
	delta := Diff(lod, Generate(s, 1))
	assert.True(t, delta.IsNoChange())
}

// Первая отправка (old == nil) содержит полную копию дерева.
func TestDiffInitialIsFull(t *testing.T) {
	s := New(1, 2*ChunkDim)
	s.SetBlock(vec.Vec3{X: 0, Y: 0, Z: 0}, 2)

	delta := Diff(nil, Generate(s, 1))
	require.Equal(t, LodDeltaChildren, delta.Kind)
	assert.Equal(t, LodDeltaSingle, delta.Children[0].Kind)
}

// Изменение одного подкуба кодирует остальные семь одним узлом NoChange.
func TestDiffPartialChange(t *testing.T) {
	s := New(1, 2*ChunkDim)
	s.SetBlock(vec.Vec3{X: 0, Y: 0, Z: 0}, 2)
	s.SetBlock(vec.Vec3{X: ChunkDim, Y: 0, Z: 0}, 3)
	old := Generate(s, 1)

	s.SetBlock(vec.Vec3{X: ChunkDim, Y: 0, Z: 0}, 8)
	delta := Diff(old, Generate(s, 1))

	require.Equal(t, LodDeltaChildren, delta.Kind)
	assert.Equal(t, LodDeltaNoChange, delta.Children[0].Kind)
	require.Equal(t, LodDeltaSingle, delta.Children[1].Kind)
	assert.Equal(t, uint16(8), delta.Children[1].Chunk.BlockAt(0, 0, 0))
}

// Дельта из сети может быть искажена; проверка обязана отловить это
// до Apply, который рассчитывает на полный набор детей.
func TestValidateRejectsMalformedDelta(t *testing.T) {
	short := &LodDelta{Kind: LodDeltaChildren, Children: []*LodDelta{{Kind: LodDeltaNone}}}
	assert.Error(t, short.Validate())

	noChunk := &LodDelta{Kind: LodDeltaSingle}
	assert.Error(t, noChunk.Validate())

	badChunk := &LodDelta{Kind: LodDeltaSingle, Chunk: &LodChunk{Scale: 1, Blocks: make([]uint16, 3)}}
	assert.Error(t, badChunk.Validate())

	badScale := &LodDelta{Kind: LodDeltaSingle, Chunk: &LodChunk{Scale: 0, Blocks: make([]uint16, ChunkDim*ChunkDim*ChunkDim)}}
	assert.Error(t, badScale.Validate())

	unknown := &LodDelta{Kind: LodDeltaKind(42)}
	assert.Error(t, unknown.Validate())

	// Искажение вложено глубоко в корректный на верхнем уровне узел
	nested := &LodDelta{Kind: LodDeltaChildren, Children: make([]*LodDelta, 8)}
	for i := range nested.Children {
		nested.Children[i] = &LodDelta{Kind: LodDeltaNoChange}
	}
	nested.Children[5] = &LodDelta{Kind: LodDeltaChildren, Children: nil}
	assert.Error(t, nested.Validate())
}

// Дельты, построенные Diff, проходят проверку всегда
func TestValidateAcceptsDiffOutput(t *testing.T) {
	s := New(1, 2*ChunkDim)
	s.SetBlock(vec.Vec3{X: 0, Y: 0, Z: 0}, 2)
	s.SetBlock(vec.Vec3{X: ChunkDim, Y: ChunkDim, Z: ChunkDim}, 3)

	full := Diff(nil, Generate(s, 1))
	assert.NoError(t, full.Validate())

	old := Generate(s, 1)
	s.SetBlock(vec.Vec3{X: 0, Y: 0, Z: 0}, AirID)
	partial := Diff(old, Generate(s, 1))
	assert.NoError(t, partial.Validate())
}

func TestEqualMismatchedChildren(t *testing.T) {
	s := New(1, 2*ChunkDim)
	s.SetBlock(vec.Vec3{X: 0, Y: 0, Z: 0}, 2)
	a := Generate(s, 1)

	b := &Lod{Kind: LodChildren, Children: []*Lod{{Kind: LodNone}}}
	assert.False(t, Equal(a, b))
	assert.False(t, Equal(b, a))

	assert.False(t, Equal(&Lod{Kind: LodSingle}, a.Children[0]))
}

func TestApplyRoundTrip(t *testing.T) {
	s := New(1, 2*ChunkDim)
	s.SetBlock(vec.Vec3{X: 0, Y: 0, Z: 0}, 2)
	old := Generate(s, 1)

	// Клиент восстанавливает дерево из полной дельты
	client := Apply(nil, Diff(nil, old))
	assert.True(t, Equal(old, client))

	s.SetBlock(vec.Vec3{X: ChunkDim, Y: ChunkDim, Z: ChunkDim}, 4)
	s.SetBlock(vec.Vec3{X: 0, Y: 0, Z: 0}, AirID)
	next := Generate(s, 1)

	client = Apply(client, Diff(old, next))
	assert.True(t, Equal(next, client))
}

func TestApplyClearsTree(t *testing.T) {
	s := New(1, ChunkDim)
	s.SetBlock(vec.Vec3{X: 5, Y: 5, Z: 5}, 1)
	old := Generate(s, 1)

	s.SetBlock(vec.Vec3{X: 5, Y: 5, Z: 5}, AirID)
	got := Apply(old, Diff(old, Generate(s, 1)))
	assert.Equal(t, LodNone, got.Kind)
}

func TestSetBlockOutOfBoundsIgnored(t *testing.T) {
	s := New(1, ChunkDim)
	s.SetBlock(vec.Vec3{X: -1, Y: 0, Z: 0}, 3)
	s.SetBlock(vec.Vec3{X: ChunkDim, Y: 0, Z: 0}, 3)
	assert.Equal(t, 0, s.BlockCount())
	assert.Equal(t, uint64(0), s.Version())
}

func TestImageRoundTrip(t *testing.T) {
	s := New(7, ChunkDim)
	s.SetBlock(vec.Vec3{X: 1, Y: 2, Z: 3}, 4)
	s.SetBlock(vec.Vec3{X: 0, Y: 0, Z: 0}, 9)

	restored := FromImage(s.Image())
	assert.Equal(t, s.Entity, restored.Entity)
	assert.Equal(t, s.Size, restored.Size)
	assert.Equal(t, uint16(4), restored.BlockAt(vec.Vec3{X: 1, Y: 2, Z: 3}))
	assert.Equal(t, uint16(9), restored.BlockAt(vec.Vec3{X: 0, Y: 0, Z: 0}))
	assert.Equal(t, 2, restored.BlockCount())
}
