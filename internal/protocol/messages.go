package protocol

// Handshake первое сообщение клиента после подключения.
// PlayerLocal — сущность игрока в клиентском мире; сервер заносит пару
// (серверный игрок, PlayerLocal) в карту соответствия подключения.
type Handshake struct {
	ClientName  string `msgpack:"name"`
	PlayerLocal uint64 `msgpack:"player_local"`
}

// HandshakeResponse ответ сервера: сущность игрока и частота тиков
type HandshakeResponse struct {
	PlayerEntity uint64 `msgpack:"player"`
	TickRate     int    `msgpack:"tick_rate"`
}

// Ping запрос времени отклика
type Ping struct {
	Timestamp int64 `msgpack:"ts"`
}

// Pong ответ на Ping
type Pong struct {
	Timestamp int64 `msgpack:"ts"`
}

// RegistryCount сообщает клиенту, сколько регистров ему будет отправлено
type RegistryCount struct {
	Count uint64 `msgpack:"count"`
}

// RegistryData один сериализованный регистр.
// Клиент сопоставляет регистры по имени — порядок прихода не важен.
type RegistryData struct {
	Name       string `msgpack:"name"`
	Serialized []byte `msgpack:"data"`
}

// RegistriesDone подтверждение клиента о приёме всех регистров
type RegistriesDone struct{}

// ComponentReplication одно изменение компонента.
// ComponentName — стабильное строковое имя типа компонента: числовые ID
// несовместимы между процессами, поэтому диспетчеризация идёт по имени.
type ComponentReplication struct {
	ComponentName string `msgpack:"component"`
	Entity        uint64 `msgpack:"entity"`
	RawData       []byte `msgpack:"data"`
}

// EntityDespawn уведомление об удалении сущности
type EntityDespawn struct {
	Entity uint64 `msgpack:"entity"`
}

// NettyEvent одноразовое игровое событие.
// Name — стабильное имя типа события, зарегистрированное на обеих сторонах.
type NettyEvent struct {
	Name    string `msgpack:"name"`
	RawData []byte `msgpack:"data"`
}

// LodDelta инкрементальное обновление LOD-представления структуры
type LodDelta struct {
	Structure  uint64 `msgpack:"structure"`
	Serialized []byte `msgpack:"data"`
}

// NetTransform позиция/скорость тела.
// Parent != 0 означает позицию относительно родительской сущности —
// такая ссылка переводится через карту соответствия сущностей.
type NetTransform struct {
	Position [3]float64 `msgpack:"pos"`
	Velocity [3]float64 `msgpack:"vel"`
	Rotation [4]float64 `msgpack:"rot"` // кватернион
	Parent   uint64     `msgpack:"parent,omitempty"`
}

// EntityTransform трансформ одной сущности в пакете снапшотов
type EntityTransform struct {
	Entity    uint64       `msgpack:"entity"`
	Transform NetTransform `msgpack:"tf"`
}

// BulkTransforms снапшот трансформов за один тик (ненадёжный канал).
// Tick используется получателем для отбрасывания устаревших пакетов.
type BulkTransforms struct {
	Tick   uint64            `msgpack:"tick"`
	Bodies []EntityTransform `msgpack:"bodies"`
}
