package sync

import (
	"errors"
	"fmt"

	"github.com/annel0/voxelspace/internal/entity"
	"github.com/annel0/voxelspace/internal/netmap"
	"github.com/annel0/voxelspace/internal/protocol"
)

// Ошибки применения обновлений. Все они нефатальны: сообщение
// отбрасывается, соединение продолжает работу.
var (
	// ErrUnknownComponent — имя компонента не зарегистрировано
	ErrUnknownComponent = errors.New("неизвестный компонент")
	// ErrMappingMiss — ссылка на сущность без записи в карте соответствия
	ErrMappingMiss = errors.New("нет записи в карте соответствия")
	// ErrDirectionViolation — клиент пытается писать серверно-авторитетный компонент
	ErrDirectionViolation = errors.New("недопустимое направление синхронизации")
	// ErrValidation — сервер отклонил клиентское предложение
	ErrValidation = errors.New("предложение отклонено валидацией")
)

// ClientApplier применяет обновления компонентов, пришедшие с сервера.
// Ссылки на сущности переводятся в клиентское пространство; неизвестная
// серверная сущность порождает локальную и пару в карте соответствия.
type ClientApplier struct {
	world    *entity.World
	registry *ComponentRegistry
	mapping  *netmap.Mapping
}

// NewClientApplier создаёт приёмник клиентской стороны
func NewClientApplier(world *entity.World, registry *ComponentRegistry, mapping *netmap.Mapping) *ClientApplier {
	return &ClientApplier{world: world, registry: registry, mapping: mapping}
}

// Apply применяет одно обновление. Возвращаемые ошибки нефатальны.
func (a *ClientApplier) Apply(msg *protocol.ComponentReplication) error {
	desc, ok := a.registry.Get(msg.ComponentName)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownComponent, msg.ComponentName)
	}

	serverEntity := entity.ID(msg.Entity)
	localEntity, ok := a.mapping.ClientFromServer(serverEntity)
	if !ok {
		// Сервер впервые сообщает об этой сущности — создаём локальную
		localEntity = a.world.Spawn()
		a.mapping.Add(serverEntity, localEntity)
	}

	value, err := desc.Decode(msg.RawData)
	if err != nil {
		return fmt.Errorf("компонент %s: %w", msg.ComponentName, err)
	}

	if desc.HasEntityRefs {
		value, err = desc.Rewrite(value, a.mapping, ToClient)
		if err != nil {
			return fmt.Errorf("компонент %s: %w", msg.ComponentName, err)
		}
	}

	a.world.SetComponentQuiet(localEntity, msg.ComponentName, value)
	return nil
}

// ServerApplier применяет клиентские предложения двунаправленных
// компонентов. Клиент переводит ссылки в серверное пространство до
// отправки, поэтому здесь перевод не выполняется.
type ServerApplier struct {
	world    *entity.World
	registry *ComponentRegistry
}

// NewServerApplier создаёт приёмник серверной стороны
func NewServerApplier(world *entity.World, registry *ComponentRegistry) *ServerApplier {
	return &ServerApplier{world: world, registry: registry}
}

// Apply валидирует и применяет предложение клиента.
// proposer — серверная сущность игрока, приславшего обновление.
// Применение через SetComponent помечает компонент изменённым, и сервер
// разошлёт его всем наблюдателям на следующем тике.
func (a *ServerApplier) Apply(proposer entity.ID, msg *protocol.ComponentReplication) error {
	desc, ok := a.registry.Get(msg.ComponentName)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownComponent, msg.ComponentName)
	}

	if desc.Direction != BidirectionalFromClient {
		return fmt.Errorf("%w: %s", ErrDirectionViolation, msg.ComponentName)
	}

	target := entity.ID(msg.Entity)
	if !a.world.Exists(target) {
		return fmt.Errorf("%w: сущность %d", ErrMappingMiss, msg.Entity)
	}

	value, err := desc.Decode(msg.RawData)
	if err != nil {
		return fmt.Errorf("компонент %s: %w", msg.ComponentName, err)
	}

	if desc.Validate != nil {
		if err := desc.Validate(proposer, value); err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}

	a.world.SetComponent(target, msg.ComponentName, value)
	return nil
}

// TranslateOutgoing переводит исходящее клиентское предложение в
// серверное пространство сущностей: и адресата, и вложенные ссылки.
func TranslateOutgoing(msg *protocol.ComponentReplication, registry *ComponentRegistry, mapping *netmap.Mapping) (*protocol.ComponentReplication, error) {
	desc, ok := registry.Get(msg.ComponentName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownComponent, msg.ComponentName)
	}

	serverEntity, ok := mapping.ServerFromClient(entity.ID(msg.Entity))
	if !ok {
		return nil, fmt.Errorf("%w: сущность %d", ErrMappingMiss, msg.Entity)
	}

	raw := msg.RawData
	if desc.HasEntityRefs {
		value, err := desc.Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("компонент %s: %w", msg.ComponentName, err)
		}
		value, err = desc.Rewrite(value, mapping, ToServer)
		if err != nil {
			return nil, fmt.Errorf("компонент %s: %w", msg.ComponentName, err)
		}
		raw, err = desc.Encode(value)
		if err != nil {
			return nil, fmt.Errorf("компонент %s: %w", msg.ComponentName, err)
		}
	}

	return &protocol.ComponentReplication{
		ComponentName: msg.ComponentName,
		Entity:        uint64(serverEntity),
		RawData:       raw,
	}, nil
}
