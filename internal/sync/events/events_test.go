package events

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/voxelspace/internal/codec"
	"github.com/annel0/voxelspace/internal/entity"
	"github.com/annel0/voxelspace/internal/netmap"
	"github.com/annel0/voxelspace/internal/protocol"
	syncpkg "github.com/annel0/voxelspace/internal/sync"
)

type chatPayload struct {
	Text string `msgpack:"text"`
}

func decodeChat(data []byte) (interface{}, error) {
	var p chatPayload
	if err := codec.DecodeRaw(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func chatDescriptor(receiver Receiver, rel Reliability) Descriptor {
	return Descriptor{
		Name:        "test:chat",
		Receiver:    receiver,
		Reliability: rel,
		Encode:      codec.EncodeRaw,
		Decode:      decodeChat,
	}
}

type targetPayload struct {
	Target uint64 `msgpack:"target"`
}

func decodeTarget(data []byte) (interface{}, error) {
	var p targetPayload
	if err := codec.DecodeRaw(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func rewriteTarget(v interface{}, m *netmap.Mapping, side syncpkg.RewriteSide) (interface{}, error) {
	p := v.(*targetPayload)
	out := *p
	var mapped entity.ID
	var ok bool
	if side == syncpkg.ToClient {
		mapped, ok = m.ClientFromServer(entity.ID(p.Target))
	} else {
		mapped, ok = m.ServerFromClient(entity.ID(p.Target))
	}
	if !ok {
		return nil, fmt.Errorf("%w: сущность %d", syncpkg.ErrMappingMiss, p.Target)
	}
	out.Target = uint64(mapped)
	return &out, nil
}

func TestRegisterRejectsRefsWithoutRewrite(t *testing.T) {
	e := NewEngine(SideServer, nil)
	err := e.Register(Descriptor{
		Name:          "test:broken",
		Encode:        codec.EncodeRaw,
		Decode:        decodeChat,
		HasEntityRefs: true,
	})
	require.Error(t, err)

	assert.Error(t, e.Register(Descriptor{Name: ""}))
	require.NoError(t, e.Register(chatDescriptor(ReceiverServer, Reliable)))
	assert.Error(t, e.Register(chatDescriptor(ReceiverServer, Reliable)), "повторная регистрация")
}

func TestFireUnknownEvent(t *testing.T) {
	e := NewEngine(SideServer, nil)
	assert.ErrorIs(t, e.Fire("test:missing", nil, 0), ErrUnknownEvent)
}

// Событие, адресованное своей стороне, доставляется немедленно;
// адресованное другой — ставится в очередь отправки.
func TestFireDispatchesOrQueues(t *testing.T) {
	server := NewEngine(SideServer, nil)
	server.MustRegister(chatDescriptor(ReceiverServer, Reliable))
	server.MustRegister(Descriptor{
		Name:        "test:announce",
		Receiver:    ReceiverBroadcast,
		Reliability: Unreliable,
		Encode:      codec.EncodeRaw,
		Decode:      decodeChat,
	})

	var got []Event
	server.Subscribe("test:chat", func(ev Event) { got = append(got, ev) })

	require.NoError(t, server.Fire("test:chat", &chatPayload{Text: "локально"}, 0))
	require.Len(t, got, 1)
	assert.False(t, got[0].FromNetwork)
	assert.Empty(t, server.DrainOutgoing(), "локальное событие не идёт в сеть")

	require.NoError(t, server.Fire("test:announce", &chatPayload{Text: "всем"}, 0))
	out := server.DrainOutgoing()
	require.Len(t, out, 1)
	assert.Equal(t, "test:announce", out[0].Message.Name)
	assert.Equal(t, Unreliable, out[0].Reliability)
	assert.Equal(t, entity.ID(0), out[0].Target)
	assert.Nil(t, server.DrainOutgoing(), "очередь дренируется однократно")
}

func TestFireTargetedEvent(t *testing.T) {
	server := NewEngine(SideServer, nil)
	server.MustRegister(chatDescriptor(ReceiverClient, Reliable))

	require.NoError(t, server.Fire("test:chat", &chatPayload{Text: "лично"}, 42))
	out := server.DrainOutgoing()
	require.Len(t, out, 1)
	assert.Equal(t, entity.ID(42), out[0].Target)
}

func TestClientCannotFireBroadcast(t *testing.T) {
	client := NewEngine(SideClient, netmap.NewMapping())
	client.MustRegister(Descriptor{
		Name:        "test:announce",
		Receiver:    ReceiverBroadcast,
		Reliability: Reliable,
		Encode:      codec.EncodeRaw,
		Decode:      decodeChat,
	})
	assert.ErrorIs(t, client.Fire("test:announce", &chatPayload{}, 0), ErrWrongDirection)
}

func TestHandleIncomingMarksFromNetwork(t *testing.T) {
	server := NewEngine(SideServer, nil)
	server.MustRegister(chatDescriptor(ReceiverServer, Reliable))

	var got []Event
	server.Subscribe("test:chat", func(ev Event) { got = append(got, ev) })

	raw, err := codec.EncodeRaw(&chatPayload{Text: "из сети"})
	require.NoError(t, err)

	msg := &protocol.NettyEvent{Name: "test:chat", RawData: raw}
	require.NoError(t, server.HandleIncoming(msg, 7))

	require.Len(t, got, 1)
	assert.True(t, got[0].FromNetwork)
	assert.Equal(t, entity.ID(7), got[0].Sender)
	assert.Equal(t, "из сети", got[0].Payload.(*chatPayload).Text)
}

func TestServerRejectsClientboundIncoming(t *testing.T) {
	server := NewEngine(SideServer, nil)
	server.MustRegister(chatDescriptor(ReceiverBroadcast, Reliable))

	raw, _ := codec.EncodeRaw(&chatPayload{Text: "подделка"})
	err := server.HandleIncoming(&protocol.NettyEvent{Name: "test:chat", RawData: raw}, 7)
	assert.ErrorIs(t, err, ErrWrongDirection)
}

// Клиент переводит ссылки на сущности в обе стороны: в серверное
// пространство при отправке и в своё при приёме.
func TestClientTranslatesEntityRefs(t *testing.T) {
	mapping := netmap.NewMapping()
	mapping.Add(100, 1)

	client := NewEngine(SideClient, mapping)
	client.MustRegister(Descriptor{
		Name:          "test:point",
		Receiver:      ReceiverServer,
		Reliability:   Reliable,
		Encode:        codec.EncodeRaw,
		Decode:        decodeTarget,
		HasEntityRefs: true,
		Rewrite:       rewriteTarget,
	})

	require.NoError(t, client.Fire("test:point", &targetPayload{Target: 1}, 0))
	out := client.DrainOutgoing()
	require.Len(t, out, 1)

	var sent targetPayload
	require.NoError(t, codec.DecodeRaw(out[0].Message.RawData, &sent))
	assert.Equal(t, uint64(100), sent.Target, "ссылка переведена в серверное пространство")

	// Неизвестная сущность — отказ до постановки в очередь
	err := client.Fire("test:point", &targetPayload{Target: 99}, 0)
	assert.ErrorIs(t, err, syncpkg.ErrMappingMiss)
	assert.Nil(t, client.DrainOutgoing())

	broadcast := NewEngine(SideClient, mapping)
	broadcast.MustRegister(Descriptor{
		Name:          "test:point",
		Receiver:      ReceiverClient,
		Reliability:   Reliable,
		Encode:        codec.EncodeRaw,
		Decode:        decodeTarget,
		HasEntityRefs: true,
		Rewrite:       rewriteTarget,
	})

	var got []Event
	broadcast.Subscribe("test:point", func(ev Event) { got = append(got, ev) })

	raw, _ := codec.EncodeRaw(&targetPayload{Target: 100})
	require.NoError(t, broadcast.HandleIncoming(&protocol.NettyEvent{Name: "test:point", RawData: raw}, 0))
	require.Len(t, got, 1)
	assert.Equal(t, uint64(1), got[0].Payload.(*targetPayload).Target, "ссылка переведена в клиентское пространство")
}

func TestHandleIncomingUnknownEvent(t *testing.T) {
	server := NewEngine(SideServer, nil)
	err := server.HandleIncoming(&protocol.NettyEvent{Name: "test:missing"}, 0)
	assert.ErrorIs(t, err, ErrUnknownEvent)
}
