// Package game содержит общие для сервера и клиента определения
// игровых событий и их регистрацию в движке репликации.
package game

import (
	"github.com/annel0/voxelspace/internal/codec"
	"github.com/annel0/voxelspace/internal/entity"
	"github.com/annel0/voxelspace/internal/netmap"
	"github.com/annel0/voxelspace/internal/sync"
	"github.com/annel0/voxelspace/internal/sync/events"
	"github.com/annel0/voxelspace/internal/vec"
)

// Стабильные имена событий
const (
	// EventBlockChangeRequest клиент просит сервер изменить блок
	EventBlockChangeRequest = "voxelspace:block_change_request"
	// EventBlockChanged сервер объявляет об изменении блока
	EventBlockChanged = "voxelspace:block_changed"
	// EventChatSend клиент отправляет сообщение чата серверу
	EventChatSend = "voxelspace:chat_send"
	// EventChatMessage сервер рассылает сообщение чата
	EventChatMessage = "voxelspace:chat_message"
	// EventExplosion визуальный эффект; потеря некритична
	EventExplosion = "voxelspace:explosion"
)

// BlockChange изменение одного блока структуры.
// Structure — ссылка на сущность, переводится через карту соответствия.
type BlockChange struct {
	Structure uint64   `msgpack:"structure"`
	Pos       vec.Vec3 `msgpack:"pos"`
	BlockName string   `msgpack:"block"`
}

// ChatMessage сообщение чата
type ChatMessage struct {
	From string `msgpack:"from"`
	Text string `msgpack:"text"`
}

// Explosion визуальный эффект взрыва
type Explosion struct {
	Position [3]float64 `msgpack:"pos"`
	Radius   float64    `msgpack:"radius"`
}

func encodeAny(v interface{}) ([]byte, error) { return codec.EncodeRaw(v) }

func decodeInto[T any](data []byte) (interface{}, error) {
	var v T
	if err := codec.DecodeRaw(data, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// rewriteBlockChange переводит ссылку на структуру между пространствами
func rewriteBlockChange(v interface{}, m *netmap.Mapping, side sync.RewriteSide) (interface{}, error) {
	bc := v.(*BlockChange)
	out := *bc
	if bc.Structure != 0 {
		ref, err := translate(bc.Structure, m, side)
		if err != nil {
			return nil, err
		}
		out.Structure = ref
	}
	return &out, nil
}

func translate(ref uint64, m *netmap.Mapping, side sync.RewriteSide) (uint64, error) {
	if side == sync.ToClient {
		if mapped, ok := m.ClientFromServer(entity.ID(ref)); ok {
			return uint64(mapped), nil
		}
	} else {
		if mapped, ok := m.ServerFromClient(entity.ID(ref)); ok {
			return uint64(mapped), nil
		}
	}
	return 0, sync.ErrMappingMiss
}

// RegisterEvents регистрирует все игровые события.
// Вызывается при старте обеих сторон; ошибка здесь фатальна.
func RegisterEvents(e *events.Engine) {
	e.MustRegister(events.Descriptor{
		Name:          EventBlockChangeRequest,
		Receiver:      events.ReceiverServer,
		Reliability:   events.Reliable,
		Encode:        encodeAny,
		Decode:        decodeInto[BlockChange],
		HasEntityRefs: true,
		Rewrite:       rewriteBlockChange,
	})

	e.MustRegister(events.Descriptor{
		Name:          EventBlockChanged,
		Receiver:      events.ReceiverBroadcast,
		Reliability:   events.Reliable,
		Encode:        encodeAny,
		Decode:        decodeInto[BlockChange],
		HasEntityRefs: true,
		Rewrite:       rewriteBlockChange,
	})

	e.MustRegister(events.Descriptor{
		Name:        EventChatSend,
		Receiver:    events.ReceiverServer,
		Reliability: events.Reliable,
		Encode:      encodeAny,
		Decode:      decodeInto[ChatMessage],
	})

	e.MustRegister(events.Descriptor{
		Name:        EventChatMessage,
		Receiver:    events.ReceiverBroadcast,
		Reliability: events.Reliable,
		Encode:      encodeAny,
		Decode:      decodeInto[ChatMessage],
	})

	e.MustRegister(events.Descriptor{
		Name:        EventExplosion,
		Receiver:    events.ReceiverBroadcast,
		Reliability: events.Unreliable,
		Encode:      encodeAny,
		Decode:      decodeInto[Explosion],
	})
}
