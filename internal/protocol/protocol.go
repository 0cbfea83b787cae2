// Package protocol определяет сетевые каналы и типы сообщений репликации
package protocol

// Channel определяет логический сетевой канал.
// Reliable-каналы сохраняют порядок отправки; Unreliable — нет.
type Channel uint8

const (
	// ChannelReliable — общий надёжный канал (handshake, despawn)
	ChannelReliable Channel = 0
	// ChannelUnreliable — ненадёжный канал (снапшоты трансформов)
	ChannelUnreliable Channel = 1
	// ChannelRegistry — синхронизация регистров при подключении
	ChannelRegistry Channel = 2
	// ChannelComponent — репликация компонентов
	ChannelComponent Channel = 3
	// ChannelEvent — репликация одноразовых событий
	ChannelEvent Channel = 4
	// ChannelDeltaLod — потоковые LOD-дельты структур
	ChannelDeltaLod Channel = 5
)

// Reliable сообщает, гарантирует ли канал доставку и порядок
func (c Channel) Reliable() bool {
	return c != ChannelUnreliable
}

// String возвращает имя канала для логов
func (c Channel) String() string {
	switch c {
	case ChannelReliable:
		return "reliable"
	case ChannelUnreliable:
		return "unreliable"
	case ChannelRegistry:
		return "registry"
	case ChannelComponent:
		return "component"
	case ChannelEvent:
		return "event"
	case ChannelDeltaLod:
		return "delta-lod"
	default:
		return "unknown"
	}
}

// MsgType определяет тип сообщения в системе
type MsgType int32

const (
	MsgUnknown MsgType = 0

	// Рукопожатие
	MsgHandshake         MsgType = 1
	MsgHandshakeResponse MsgType = 2
	MsgPing              MsgType = 3
	MsgPong              MsgType = 4

	// Синхронизация регистров
	MsgRegistryCount  MsgType = 10
	MsgRegistryData   MsgType = 11
	MsgRegistriesDone MsgType = 12

	// Репликация компонентов
	MsgComponentReplication MsgType = 20
	MsgEntityDespawn        MsgType = 21

	// Репликация событий
	MsgNettyEvent MsgType = 30

	// LOD-дельты структур
	MsgLodDelta MsgType = 40

	// Ненадёжные снапшоты
	MsgBulkTransforms MsgType = 50
)

// Message основной конверт протокола: тип плюс сериализованная нагрузка
type Message struct {
	Type    MsgType `msgpack:"t"`
	Payload []byte  `msgpack:"p"`
}
