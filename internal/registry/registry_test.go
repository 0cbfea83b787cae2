package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testItem struct {
	NumericID uint16 `msgpack:"-"`
	Name      string `msgpack:"name"`
}

func (i *testItem) ID() uint16              { return i.NumericID }
func (i *testItem) SetID(id uint16)         { i.NumericID = id }
func (i *testItem) UnlocalizedName() string { return i.Name }

func TestRegisterAssignsDenseIDs(t *testing.T) {
	r := New[*testItem]("test:items")
	a := &testItem{Name: "test:air"}
	b := &testItem{Name: "test:stone"}
	r.Register(a)
	r.Register(b)

	assert.Equal(t, uint16(0), a.ID())
	assert.Equal(t, uint16(1), b.ID())
	assert.Equal(t, 2, r.Len())

	got, ok := r.FromID("test:stone")
	require.True(t, ok)
	assert.Same(t, b, got)

	byNum, err := r.FromNumericID(0)
	require.NoError(t, err)
	assert.Same(t, a, byNum)

	_, err = r.FromNumericID(5)
	assert.Error(t, err)
}

func TestApplyImageRebuildsNumericIDs(t *testing.T) {
	// Сервер регистрирует в одном порядке
	server := New[*testItem]("test:items")
	server.Register(&testItem{Name: "test:air"})
	server.Register(&testItem{Name: "test:stone"})
	server.Register(&testItem{Name: "test:grass"})

	image, err := server.SerializeImage()
	require.NoError(t, err)

	// Клиент имел другое (даже непустое) содержимое
	client := New[*testItem]("test:items")
	client.Register(&testItem{Name: "test:legacy"})

	require.NoError(t, client.ApplyImage(image))
	assert.Equal(t, 3, client.Len())

	// Числовые ID назначены заново по порядку образа
	stone, ok := client.FromID("test:stone")
	require.True(t, ok)
	assert.Equal(t, uint16(1), stone.ID())

	_, ok = client.FromID("test:legacy")
	assert.False(t, ok)
}

func TestManagerSortedIteration(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Add(New[*testItem]("test:b")))
	require.NoError(t, m.Add(New[*testItem]("test:a")))

	// Повторное имя — ошибка
	assert.Error(t, m.Add(New[*testItem]("test:a")))

	all := m.All()
	require.Len(t, all, 2)
	assert.Equal(t, "test:a", all[0].Name())
	assert.Equal(t, "test:b", all[1].Name())
	assert.Equal(t, 2, m.Count())

	_, ok := m.Get("test:b")
	assert.True(t, ok)
	_, ok = m.Get("test:missing")
	assert.False(t, ok)
}
