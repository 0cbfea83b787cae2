// Package client реализует клиентский рантайм репликации: загрузку
// регистров, приём изменений компонентов, событий, снапшотов и
// LOD-дельт, а также отправку клиентских предложений.
package client

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/annel0/voxelspace/internal/codec"
	"github.com/annel0/voxelspace/internal/components"
	"github.com/annel0/voxelspace/internal/config"
	"github.com/annel0/voxelspace/internal/entity"
	"github.com/annel0/voxelspace/internal/logging"
	"github.com/annel0/voxelspace/internal/netmap"
	"github.com/annel0/voxelspace/internal/protocol"
	"github.com/annel0/voxelspace/internal/registry"
	"github.com/annel0/voxelspace/internal/structure"
	syncpkg "github.com/annel0/voxelspace/internal/sync"
	"github.com/annel0/voxelspace/internal/sync/events"
	"github.com/annel0/voxelspace/internal/transport"
)

// State фаза жизненного цикла клиента
type State int

const (
	// StateConnecting — Handshake отправлен, ждём ответа сервера
	StateConnecting State = iota
	// StateLoadingRegistries — принимаем регистры
	StateLoadingRegistries
	// StatePlaying — загрузка завершена, идёт игра
	StatePlaying
	// StateDisconnected — соединение закрыто
	StateDisconnected
)

// Client клиентский рантайм. Как и на сервере, вся мутация состояния
// выполняется на единственном горутине цикла Run.
type Client struct {
	cfg       *config.ClientConfig
	transport transport.ClientTransport

	world      *entity.World
	registries *registry.Manager
	components *syncpkg.ComponentRegistry
	mapping    *netmap.Mapping
	applier    *syncpkg.ClientApplier
	producer   *syncpkg.Producer
	events     *events.Engine
	snapshots  *syncpkg.SnapshotTracker

	// lods — LOD-представления структур по серверной сущности
	lods map[entity.ID]*structure.Lod

	state        State
	playerLocal  entity.ID
	playerServer entity.ID
	tickRate     int

	expectedRegistries int
	receivedRegistries int
	registryCountKnown bool
	deadline           time.Time

	lastRTT atomic.Int64 // наносекунды

	done    chan struct{}
	stopped chan struct{}

	// OnStateChange вызывается при смене фазы (горутин цикла Run)
	OnStateChange func(old, new State)
}

// New создаёт клиентский рантайм. Регистры в менеджере должны быть
// зарегистрированы пустыми: содержимое придёт с сервера.
func New(cfg *config.ClientConfig, tr transport.ClientTransport, regs *registry.Manager, comps *syncpkg.ComponentRegistry) *Client {
	world := entity.NewWorld()
	mapping := netmap.NewMapping()

	c := &Client{
		cfg:        cfg,
		transport:  tr,
		world:      world,
		registries: regs,
		components: comps,
		mapping:    mapping,
		applier:    syncpkg.NewClientApplier(world, comps, mapping),
		producer:   syncpkg.NewClientProducer(world, comps),
		events:     events.NewEngine(events.SideClient, mapping),
		snapshots:  syncpkg.NewSnapshotTracker(),
		lods:       make(map[entity.ID]*structure.Lod),
		tickRate:   20,
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
	c.playerLocal = world.Spawn()
	return c
}

// World возвращает клиентский мир сущностей
func (c *Client) World() *entity.World { return c.world }

// Mapping возвращает карту соответствия сущностей
func (c *Client) Mapping() *netmap.Mapping { return c.mapping }

// Events возвращает движок репликации событий
func (c *Client) Events() *events.Engine { return c.events }

// State возвращает текущую фазу
func (c *Client) State() State { return c.state }

// PlayerLocal возвращает сущность игрока в клиентском мире
func (c *Client) PlayerLocal() entity.ID { return c.playerLocal }

// PlayerServer возвращает сущность игрока в серверном мире
func (c *Client) PlayerServer() entity.ID { return c.playerServer }

// TickRate возвращает частоту тиков, объявленную сервером
func (c *Client) TickRate() int { return c.tickRate }

// RTT возвращает последнее измеренное время отклика
func (c *Client) RTT() time.Duration { return time.Duration(c.lastRTT.Load()) }

// Lod возвращает LOD-представление структуры по её серверной сущности
func (c *Client) Lod(serverEntity entity.ID) (*structure.Lod, bool) {
	l, ok := c.lods[serverEntity]
	return l, ok
}

// Connect отправляет Handshake и запускает фазу загрузки
func (c *Client) Connect(name string) error {
	frame, err := protocol.Marshal(protocol.MsgHandshake, &protocol.Handshake{
		ClientName:  name,
		PlayerLocal: uint64(c.playerLocal),
	})
	if err != nil {
		return fmt.Errorf("ошибка сериализации Handshake: %w", err)
	}
	if err := c.transport.Send(protocol.ChannelReliable, frame); err != nil {
		return fmt.Errorf("ошибка отправки Handshake: %w", err)
	}

	c.deadline = time.Now().Add(c.cfg.GetRegistryTimeout())
	logging.Info("🔄 Handshake отправлен, имя %q", name)
	return nil
}

// Run запускает цикл клиента и блокируется до Stop или разрыва.
// tickFn вызывается каждый тик до отправки предложений; может быть nil.
func (c *Client) Run(tickFn func()) {
	defer close(c.stopped)

	interval := time.Second / time.Duration(c.tickRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case ev, ok := <-c.transport.Events():
			if !ok {
				c.setState(StateDisconnected)
				return
			}
			if ev.Type == transport.EventDisconnected {
				logging.Warn("⚠️ Соединение закрыто: %v", ev.Err)
				c.setState(StateDisconnected)
				return
			}
			c.handleMessage(ev)
			// HandshakeResponse мог объявить другую частоту тиков
			if next := time.Second / time.Duration(c.tickRate); next != interval {
				interval = next
				ticker.Reset(interval)
			}
		case <-ticker.C:
			if tickFn != nil {
				tickFn()
			}
			if !c.runTick() {
				return
			}
		}
	}
}

// Stop останавливает цикл и дожидается его завершения
func (c *Client) Stop() {
	close(c.done)
	<-c.stopped
	c.transport.Close()
}

func (c *Client) setState(s State) {
	if c.state == s {
		return
	}
	old := c.state
	c.state = s
	if c.OnStateChange != nil {
		c.OnStateChange(old, s)
	}
}

func (c *Client) handleMessage(ev transport.ClientEvent) {
	msg, err := protocol.Unmarshal(ev.Data)
	if err != nil {
		// Нечитаемый кадр отбрасывается, соединение продолжает работу
		logging.LogProtocolError("клиент", err, ev.Data)
		return
	}

	switch msg.Type {
	case protocol.MsgHandshakeResponse:
		c.handleHandshakeResponse(msg)
	case protocol.MsgRegistryCount:
		c.handleRegistryCount(msg)
	case protocol.MsgRegistryData:
		c.handleRegistryData(msg)
	case protocol.MsgComponentReplication:
		c.handleComponentUpdate(msg)
	case protocol.MsgEntityDespawn:
		c.handleDespawn(msg)
	case protocol.MsgNettyEvent:
		c.handleEvent(msg)
	case protocol.MsgLodDelta:
		c.handleLodDelta(msg)
	case protocol.MsgBulkTransforms:
		c.handleBulkTransforms(msg)
	case protocol.MsgPong:
		c.handlePong(msg)
	default:
		logging.Warn("⚠️ Неожиданное сообщение типа %d", msg.Type)
	}
}

func (c *Client) handleHandshakeResponse(msg *protocol.Message) {
	var hr protocol.HandshakeResponse
	if err := protocol.UnmarshalPayload(msg, &hr); err != nil {
		logging.Warn("⚠️ Нечитаемый HandshakeResponse: %v", err)
		return
	}

	c.playerServer = entity.ID(hr.PlayerEntity)
	c.mapping.Add(c.playerServer, c.playerLocal)
	if hr.TickRate > 0 {
		c.tickRate = hr.TickRate
	}
	c.setState(StateLoadingRegistries)
	logging.Info("✅ Сервер принял подключение: игрок %d, %d Гц", hr.PlayerEntity, hr.TickRate)
}

func (c *Client) handleRegistryCount(msg *protocol.Message) {
	var rc protocol.RegistryCount
	if err := protocol.UnmarshalPayload(msg, &rc); err != nil {
		logging.Warn("⚠️ Нечитаемый RegistryCount: %v", err)
		return
	}
	c.expectedRegistries = int(rc.Count)
	c.receivedRegistries = 0
	c.registryCountKnown = true
	logging.Info("🔄 Ожидается %d регистров", rc.Count)
	c.maybeFinishRegistries()
}

func (c *Client) handleRegistryData(msg *protocol.Message) {
	var rd protocol.RegistryData
	if err := protocol.UnmarshalPayload(msg, &rd); err != nil {
		logging.Warn("⚠️ Нечитаемый RegistryData: %v", err)
		return
	}

	// Регистры сопоставляются по имени, порядок прихода не важен
	reg, ok := c.registries.Get(rd.Name)
	if !ok {
		logging.Warn("⚠️ Сервер прислал неизвестный регистр %s", rd.Name)
		return
	}
	if err := reg.ApplyImage(rd.Serialized); err != nil {
		logging.Error("❌ Не удалось применить регистр %s: %v", rd.Name, err)
		return
	}

	c.receivedRegistries++
	logging.Info("✅ Регистр %s загружен (%d записей)", rd.Name, reg.Len())
	c.maybeFinishRegistries()
}

// maybeFinishRegistries подтверждает приём, когда получены все регистры.
// Сервер без регистров легален: Count 0 завершает загрузку сразу.
func (c *Client) maybeFinishRegistries() {
	if c.state != StateLoadingRegistries || !c.registryCountKnown || c.receivedRegistries < c.expectedRegistries {
		return
	}

	frame, err := protocol.Marshal(protocol.MsgRegistriesDone, &protocol.RegistriesDone{})
	if err != nil {
		logging.Error("❌ Ошибка сериализации RegistriesDone: %v", err)
		return
	}
	if err := c.transport.Send(protocol.ChannelRegistry, frame); err != nil {
		logging.Error("❌ Ошибка отправки RegistriesDone: %v", err)
		return
	}

	c.deadline = time.Time{}
	c.setState(StatePlaying)
	logging.Info("🎮 Все регистры загружены, клиент в игре")
}

func (c *Client) handleComponentUpdate(msg *protocol.Message) {
	var cr protocol.ComponentReplication
	if err := protocol.UnmarshalPayload(msg, &cr); err != nil {
		logging.Warn("⚠️ Нечитаемое обновление компонента: %v", err)
		return
	}
	if err := c.applier.Apply(&cr); err != nil {
		logging.Warn("⚠️ Обновление %s отброшено: %v", cr.ComponentName, err)
	}
}

func (c *Client) handleDespawn(msg *protocol.Message) {
	var ed protocol.EntityDespawn
	if err := protocol.UnmarshalPayload(msg, &ed); err != nil {
		return
	}

	serverEntity := entity.ID(ed.Entity)
	if local, ok := c.mapping.ClientFromServer(serverEntity); ok {
		c.world.Despawn(local)
		c.mapping.RemoveByServer(serverEntity)
	}
	c.snapshots.Forget(serverEntity)
	delete(c.lods, serverEntity)
}

func (c *Client) handleEvent(msg *protocol.Message) {
	var ne protocol.NettyEvent
	if err := protocol.UnmarshalPayload(msg, &ne); err != nil {
		logging.Warn("⚠️ Нечитаемое событие: %v", err)
		return
	}
	if err := c.events.HandleIncoming(&ne, 0); err != nil {
		logging.Warn("⚠️ Событие %s отброшено: %v", ne.Name, err)
	}
}

func (c *Client) handleLodDelta(msg *protocol.Message) {
	var ld protocol.LodDelta
	if err := protocol.UnmarshalPayload(msg, &ld); err != nil {
		logging.Warn("⚠️ Нечитаемая LOD-дельта: %v", err)
		return
	}

	var delta structure.LodDelta
	if err := codec.DecodeRaw(ld.Serialized, &delta); err != nil {
		logging.Warn("⚠️ Нечитаемая LOD-дельта структуры %d: %v", ld.Structure, err)
		return
	}

	// Дельта пришла из сети: искажённое дерево отбрасывается как
	// ошибка декодирования, соединение продолжает работу
	if err := delta.Validate(); err != nil {
		logging.Warn("⚠️ Некорректная LOD-дельта структуры %d: %v", ld.Structure, err)
		return
	}

	structID := entity.ID(ld.Structure)
	c.lods[structID] = structure.Apply(c.lods[structID], &delta)
}

// handleBulkTransforms применяет снапшот трансформов. Устаревшие тики
// отбрасываются пер-сущностно: UDP может переупорядочить пакеты.
func (c *Client) handleBulkTransforms(msg *protocol.Message) {
	if c.state != StatePlaying {
		return
	}

	var bt protocol.BulkTransforms
	if err := protocol.UnmarshalPayload(msg, &bt); err != nil {
		return
	}

	for _, body := range bt.Bodies {
		serverEntity := entity.ID(body.Entity)
		if !c.snapshots.Accept(serverEntity, bt.Tick) {
			continue
		}

		local, ok := c.mapping.ClientFromServer(serverEntity)
		if !ok {
			// Сущность ещё не объявлена надёжным каналом
			continue
		}

		tf := &components.Transform{
			Position: body.Transform.Position,
			Velocity: body.Transform.Velocity,
			Rotation: body.Transform.Rotation,
		}
		if body.Transform.Parent != 0 {
			parent, ok := c.mapping.ClientFromServer(entity.ID(body.Transform.Parent))
			if !ok {
				continue
			}
			tf.Parent = uint64(parent)
		}
		c.world.SetComponentQuiet(local, components.TransformName, tf)
	}
}

func (c *Client) handlePong(msg *protocol.Message) {
	var pong protocol.Pong
	if err := protocol.UnmarshalPayload(msg, &pong); err != nil {
		return
	}
	c.lastRTT.Store(time.Now().UnixNano() - pong.Timestamp)
}

// runTick отправляет накопленные предложения и события.
// Возвращает false при фатальной ошибке фазы загрузки.
func (c *Client) runTick() bool {
	if c.state != StatePlaying && !c.deadline.IsZero() && time.Now().After(c.deadline) {
		logging.Error("❌ Сервер не завершил синхронизацию за отведённое время")
		c.setState(StateDisconnected)
		return false
	}
	if c.state != StatePlaying {
		return true
	}

	c.flushProposals()
	c.flushEvents()
	return true
}

// flushProposals отправляет изменения двунаправленных компонентов,
// переведя их в серверное пространство сущностей
func (c *Client) flushProposals() {
	for _, change := range c.producer.CollectChanges() {
		translated, err := syncpkg.TranslateOutgoing(change, c.components, c.mapping)
		if err != nil {
			logging.Warn("⚠️ Предложение %s не отправлено: %v", change.ComponentName, err)
			continue
		}
		frame, err := protocol.Marshal(protocol.MsgComponentReplication, translated)
		if err != nil {
			logging.Warn("⚠️ Ошибка сериализации предложения: %v", err)
			continue
		}
		if err := c.transport.Send(protocol.ChannelComponent, frame); err != nil {
			logging.Warn("⚠️ Ошибка отправки предложения: %v", err)
		}
	}
}

func (c *Client) flushEvents() {
	for _, out := range c.events.DrainOutgoing() {
		frame, err := protocol.Marshal(protocol.MsgNettyEvent, &out.Message)
		if err != nil {
			logging.Warn("⚠️ Ошибка сериализации события %s: %v", out.Message.Name, err)
			continue
		}
		ch := protocol.ChannelEvent
		if out.Reliability == events.Unreliable {
			ch = protocol.ChannelUnreliable
		}
		if err := c.transport.Send(ch, frame); err != nil {
			logging.Warn("⚠️ Ошибка отправки события %s: %v", out.Message.Name, err)
		}
	}
}

// Ping отправляет запрос времени отклика
func (c *Client) Ping() {
	frame, err := protocol.Marshal(protocol.MsgPing, &protocol.Ping{Timestamp: time.Now().UnixNano()})
	if err != nil {
		return
	}
	if err := c.transport.Send(protocol.ChannelReliable, frame); err != nil {
		logging.Warn("⚠️ Ошибка отправки Ping: %v", err)
	}
}
