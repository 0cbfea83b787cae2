package sync

import (
	"fmt"

	"github.com/annel0/voxelspace/internal/entity"
	"github.com/annel0/voxelspace/internal/logging"
	"github.com/annel0/voxelspace/internal/protocol"
)

// Producer собирает изменения реплицируемых компонентов авторитетной
// стороны за тик и кодирует их в сообщения репликации.
type Producer struct {
	world    *entity.World
	registry *ComponentRegistry
	// outbound фильтрует компоненты по направлению: сервер шлёт все,
	// клиент — только BidirectionalFromClient
	outbound func(d *ComponentDescriptor) bool
}

// NewServerProducer создаёт продюсер серверной стороны
func NewServerProducer(world *entity.World, registry *ComponentRegistry) *Producer {
	return &Producer{
		world:    world,
		registry: registry,
		outbound: func(d *ComponentDescriptor) bool { return true },
	}
}

// NewClientProducer создаёт продюсер клиентской стороны:
// наружу уходят только предложения двунаправленных компонентов
func NewClientProducer(world *entity.World, registry *ComponentRegistry) *Producer {
	return &Producer{
		world:    world,
		registry: registry,
		outbound: func(d *ComponentDescriptor) bool { return d.Direction == BidirectionalFromClient },
	}
}

func (p *Producer) encodeOne(id entity.ID, name string) (*protocol.ComponentReplication, error) {
	desc, ok := p.registry.Get(name)
	if !ok || !p.outbound(desc) {
		return nil, nil
	}

	value, ok := p.world.Component(id, name)
	if !ok {
		return nil, nil // компонент удалён между пометкой и сбором
	}

	raw, err := desc.Encode(value)
	if err != nil {
		return nil, fmt.Errorf("компонент %s сущности %d: %w", name, id, err)
	}

	return &protocol.ComponentReplication{
		ComponentName: name,
		Entity:        uint64(id),
		RawData:       raw,
	}, nil
}

// CollectChanges возвращает сообщения для компонентов, изменённых с
// прошлого тика. Полный переcбор не выполняется — только дельта.
func (p *Producer) CollectChanges() []*protocol.ComponentReplication {
	dirty := p.world.DrainDirty()
	if len(dirty) == 0 {
		return nil
	}

	messages := make([]*protocol.ComponentReplication, 0, len(dirty))
	for _, d := range dirty {
		msg, err := p.encodeOne(d.Entity, d.Component)
		if err != nil {
			logging.Warn("⚠️ Ошибка кодирования изменения: %v", err)
			continue
		}
		if msg != nil {
			messages = append(messages, msg)
		}
	}
	return messages
}

// FullResync кодирует все реплицируемые компоненты всех сущностей.
// Используется только при первоначальном подключении клиента.
func (p *Producer) FullResync() []*protocol.ComponentReplication {
	var messages []*protocol.ComponentReplication
	for _, id := range p.world.Entities() {
		for _, name := range p.world.Components(id) {
			msg, err := p.encodeOne(id, name)
			if err != nil {
				logging.Warn("⚠️ Ошибка кодирования при полной синхронизации: %v", err)
				continue
			}
			if msg != nil {
				messages = append(messages, msg)
			}
		}
	}
	return messages
}
