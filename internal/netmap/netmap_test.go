package netmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/voxelspace/internal/entity"
)

func TestAddAndLookup(t *testing.T) {
	m := NewMapping()
	m.Add(10, 1)
	m.Add(20, 2)

	c, ok := m.ClientFromServer(10)
	require.True(t, ok)
	assert.Equal(t, entity.ID(1), c)

	s, ok := m.ServerFromClient(2)
	require.True(t, ok)
	assert.Equal(t, entity.ID(20), s)

	assert.True(t, m.ContainsServer(10))
	assert.False(t, m.ContainsServer(99))
	assert.Equal(t, 2, m.Len())
}

func TestLastWriteWinsUnlinksStalePairs(t *testing.T) {
	m := NewMapping()
	m.Add(10, 1)

	// Серверная сущность перепривязана к другой клиентской
	m.Add(10, 2)
	c, ok := m.ClientFromServer(10)
	require.True(t, ok)
	assert.Equal(t, entity.ID(2), c)
	_, ok = m.ServerFromClient(1)
	assert.False(t, ok, "старая клиентская сущность должна быть отвязана")

	// Клиентская сущность перепривязана к другой серверной
	m.Add(30, 2)
	s, ok := m.ServerFromClient(2)
	require.True(t, ok)
	assert.Equal(t, entity.ID(30), s)
	_, ok = m.ClientFromServer(10)
	assert.False(t, ok, "старая серверная сущность должна быть отвязана")

	assert.Equal(t, 1, m.Len())
}

func TestRemove(t *testing.T) {
	m := NewMapping()
	m.Add(10, 1)
	m.Add(20, 2)

	m.RemoveByServer(10)
	_, ok := m.ClientFromServer(10)
	assert.False(t, ok)
	_, ok = m.ServerFromClient(1)
	assert.False(t, ok)

	m.RemoveByClient(2)
	assert.Equal(t, 0, m.Len())

	m.Add(40, 4)
	m.Clear()
	assert.Equal(t, 0, m.Len())
}
