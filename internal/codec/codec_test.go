package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string `msgpack:"name"`
	Count int    `msgpack:"count"`
	Data  []byte `msgpack:"data"`
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := sample{Name: "voxelspace:stone", Count: 42, Data: []byte{1, 2, 3}}

	frame, err := Encode(&in)
	require.NoError(t, err)
	require.NotEmpty(t, frame)
	assert.Equal(t, ProtocolVersion, frame[0])

	var out sample
	require.NoError(t, Decode(frame, &out))
	assert.Equal(t, in, out)
}

func TestDecodeEmptyFrame(t *testing.T) {
	err := Decode(nil, &sample{})
	require.Error(t, err)
	assert.True(t, IsDecodeError(err))
}

func TestDecodeVersionMismatch(t *testing.T) {
	frame, err := Encode(&sample{Name: "x"})
	require.NoError(t, err)

	frame[0] = ProtocolVersion + 1
	err = Decode(frame, &sample{})
	require.Error(t, err)
	assert.True(t, IsDecodeError(err))
}

func TestDecodeCorruptedPayload(t *testing.T) {
	frame := []byte{ProtocolVersion, 0xDE, 0xAD, 0xBE, 0xEF}
	err := Decode(frame, &sample{})
	require.Error(t, err)
	assert.True(t, IsDecodeError(err))
}

func TestRawRoundTrip(t *testing.T) {
	in := sample{Name: "nested", Count: 7}
	raw, err := EncodeRaw(&in)
	require.NoError(t, err)

	var out sample
	require.NoError(t, DecodeRaw(raw, &out))
	assert.Equal(t, in, out)
}

func TestCompressionShrinksRepetitiveData(t *testing.T) {
	big := sample{Data: make([]byte, 64*1024)} // нули сжимаются хорошо
	frame, err := Encode(&big)
	require.NoError(t, err)
	assert.Less(t, len(frame), 8*1024)
}
