// Package server реализует серверный рантайм репликации: тиковый цикл,
// жизненный цикл подключений, синхронизацию регистров, рассылку
// изменений компонентов, событий, снапшотов и LOD-дельт.
package server

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/annel0/voxelspace/internal/components"
	"github.com/annel0/voxelspace/internal/config"
	"github.com/annel0/voxelspace/internal/entity"
	"github.com/annel0/voxelspace/internal/lod"
	"github.com/annel0/voxelspace/internal/logging"
	"github.com/annel0/voxelspace/internal/metrics"
	"github.com/annel0/voxelspace/internal/netmap"
	"github.com/annel0/voxelspace/internal/protocol"
	"github.com/annel0/voxelspace/internal/registry"
	"github.com/annel0/voxelspace/internal/structure"
	syncpkg "github.com/annel0/voxelspace/internal/sync"
	"github.com/annel0/voxelspace/internal/sync/events"
	"github.com/annel0/voxelspace/internal/transport"
)

// connState фаза жизненного цикла подключения
type connState int

const (
	// stateHandshake — ждём Handshake от клиента
	stateHandshake connState = iota
	// stateLoadingRegistries — регистры отправлены, ждём подтверждения
	stateLoadingRegistries
	// statePlaying — полная синхронизация выполнена, идёт игра
	statePlaying
)

// connection состояние одного подключения
type connection struct {
	id       transport.ClientID
	state    connState
	name     string
	player   entity.ID
	mapping  *netmap.Mapping
	deadline time.Time // дедлайн текущей фазы загрузки
}

// GameServer серверный рантайм. Вся мутация игрового состояния
// выполняется на тиковом горутине цикла Run: сетевые события и тики
// обрабатываются последовательно, блокировки игровому коду не нужны.
type GameServer struct {
	cfg        *config.ServerConfig
	transport  transport.ServerTransport
	world      *entity.World
	registries *registry.Manager
	components *syncpkg.ComponentRegistry
	producer   *syncpkg.Producer
	applier    *syncpkg.ServerApplier
	events     *events.Engine
	streamer   *lod.Streamer

	conns         map[transport.ClientID]*connection
	connsByPlayer map[entity.ID]transport.ClientID

	structures  map[entity.ID]*structure.Structure
	lodVersions map[entity.ID]uint64

	tick        uint64
	tickAtomic  atomic.Uint64
	clientCount atomic.Int32
	done        chan struct{}
	stopped     chan struct{}

	// OnPlayerJoin вызывается после создания сущности игрока,
	// до отправки регистров (тиковый горутин)
	OnPlayerJoin func(player entity.ID)
	// OnPlayerLeave вызывается перед удалением сущности игрока
	OnPlayerLeave func(player entity.ID)
}

// New создаёт серверный рантайм
func New(cfg *config.ServerConfig, tr transport.ServerTransport, regs *registry.Manager, comps *syncpkg.ComponentRegistry, world *entity.World) *GameServer {
	s := &GameServer{
		cfg:           cfg,
		transport:     tr,
		world:         world,
		registries:    regs,
		components:    comps,
		producer:      syncpkg.NewServerProducer(world, comps),
		applier:       syncpkg.NewServerApplier(world, comps),
		events:        events.NewEngine(events.SideServer, nil),
		streamer:      lod.NewStreamer(float64(cfg.LODScaleDist)),
		conns:         make(map[transport.ClientID]*connection),
		connsByPlayer: make(map[entity.ID]transport.ClientID),
		structures:    make(map[entity.ID]*structure.Structure),
		lodVersions:   make(map[entity.ID]uint64),
		done:          make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	return s
}

// World возвращает серверный мир сущностей
func (s *GameServer) World() *entity.World { return s.world }

// Events возвращает движок репликации событий
func (s *GameServer) Events() *events.Engine { return s.events }

// Streamer возвращает LOD-стример
func (s *GameServer) Streamer() *lod.Streamer { return s.streamer }

// AddStructure регистрирует структуру для LOD-стриминга
func (s *GameServer) AddStructure(st *structure.Structure) {
	s.structures[st.Entity] = st
}

// Structure возвращает структуру по сущности
func (s *GameServer) Structure(id entity.ID) (*structure.Structure, bool) {
	st, ok := s.structures[id]
	return st, ok
}

// Tick возвращает номер текущего тика (безопасно из любого горутина)
func (s *GameServer) Tick() uint64 { return s.tickAtomic.Load() }

// ClientCount возвращает число подключений (безопасно из любого горутина)
func (s *GameServer) ClientCount() int { return int(s.clientCount.Load()) }

// Run запускает тиковый цикл и блокируется до Stop.
// tickFn вызывается каждый тик до рассылки изменений (игровая логика);
// может быть nil.
func (s *GameServer) Run(tickFn func(tick uint64)) {
	defer close(s.stopped)

	ticker := time.NewTicker(s.cfg.TickInterval())
	defer ticker.Stop()

	logging.Info("🎮 Сервер запущен, частота тиков %d Гц", s.cfg.GetTickRate())

	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-s.transport.Events():
			if !ok {
				return
			}
			s.handleTransportEvent(ev)
		case <-ticker.C:
			start := time.Now()
			if tickFn != nil {
				tickFn(s.tick)
			}
			s.runTick()
			metrics.ObserveTick(time.Since(start))
		}
	}
}

// Stop останавливает цикл и дожидается его завершения
func (s *GameServer) Stop() {
	close(s.done)
	<-s.stopped
}

func (s *GameServer) handleTransportEvent(ev transport.Event) {
	switch ev.Type {
	case transport.EventConnected:
		s.handleConnect(ev.Client)
	case transport.EventDisconnected:
		s.handleDisconnect(ev.Client)
	case transport.EventMessage:
		s.handleMessage(ev)
	}
}

func (s *GameServer) handleConnect(client transport.ClientID) {
	if s.cfg.MaxClients > 0 && len(s.conns) >= s.cfg.MaxClients {
		logging.Warn("⚠️ Отказ в подключении %s: достигнут лимит клиентов", client)
		s.transport.Disconnect(client)
		return
	}

	s.conns[client] = &connection{
		id:       client,
		state:    stateHandshake,
		mapping:  netmap.NewMapping(),
		deadline: time.Now().Add(s.cfg.GetSyncTimeout()),
	}
	s.clientCount.Store(int32(len(s.conns)))
	metrics.ConnectedClients.Set(float64(len(s.conns)))
	logging.Info("🔄 Новое подключение %s", client)
}

// handleDisconnect выполняет синхронную очистку состояния подключения.
// После возврата ни одна структура не хранит ссылок на это подключение.
func (s *GameServer) handleDisconnect(client transport.ClientID) {
	conn, ok := s.conns[client]
	if !ok {
		return
	}
	delete(s.conns, client)
	s.clientCount.Store(int32(len(s.conns)))
	metrics.ConnectedClients.Set(float64(len(s.conns)))

	if conn.player != 0 {
		delete(s.connsByPlayer, conn.player)
		s.streamer.RemovePlayer(conn.player)
		if s.OnPlayerLeave != nil {
			s.OnPlayerLeave(conn.player)
		}
		s.world.Despawn(conn.player)
	}
	conn.mapping.Clear()
	logging.Info("🔄 Подключение %s закрыто (игрок %d)", client, conn.player)
}

func (s *GameServer) handleMessage(ev transport.Event) {
	metrics.ObserveMessage("in", ev.Channel.String(), len(ev.Data))

	conn, ok := s.conns[ev.Client]
	if !ok {
		return
	}

	msg, err := protocol.Unmarshal(ev.Data)
	if err != nil {
		// Нечитаемый кадр отбрасывается, соединение продолжает работу
		metrics.DecodeErrorsTotal.Inc()
		logging.LogProtocolError("сервер", err, ev.Data)
		return
	}

	switch msg.Type {
	case protocol.MsgHandshake:
		s.handleHandshake(conn, msg)
	case protocol.MsgRegistriesDone:
		s.handleRegistriesDone(conn)
	case protocol.MsgComponentReplication:
		s.handleComponentProposal(conn, msg)
	case protocol.MsgNettyEvent:
		s.handleEvent(conn, msg)
	case protocol.MsgPing:
		s.handlePing(conn, msg)
	default:
		logging.Warn("⚠️ Неожиданное сообщение типа %d от %s", msg.Type, conn.id)
	}
}

func (s *GameServer) handleHandshake(conn *connection, msg *protocol.Message) {
	if conn.state != stateHandshake {
		logging.Warn("⚠️ Повторный Handshake от %s", conn.id)
		return
	}

	var hs protocol.Handshake
	if err := protocol.UnmarshalPayload(msg, &hs); err != nil {
		metrics.DecodeErrorsTotal.Inc()
		logging.Warn("⚠️ Нечитаемый Handshake от %s: %v", conn.id, err)
		return
	}

	conn.name = hs.ClientName
	conn.player = s.world.Spawn()
	conn.mapping.Add(conn.player, entity.ID(hs.PlayerLocal))
	s.connsByPlayer[conn.player] = conn.id

	if s.OnPlayerJoin != nil {
		s.OnPlayerJoin(conn.player)
	}

	s.send(conn.id, protocol.ChannelReliable, protocol.MsgHandshakeResponse, &protocol.HandshakeResponse{
		PlayerEntity: uint64(conn.player),
		TickRate:     s.cfg.GetTickRate(),
	})

	// Синхронизация регистров: количество, затем содержимое.
	// Клиент сопоставляет по имени, порядок отправки не важен.
	s.send(conn.id, protocol.ChannelRegistry, protocol.MsgRegistryCount, &protocol.RegistryCount{
		Count: uint64(s.registries.Count()),
	})
	for _, reg := range s.registries.All() {
		image, err := reg.SerializeImage()
		if err != nil {
			logging.Error("❌ Не удалось сериализовать регистр %s: %v", reg.Name(), err)
			s.transport.Disconnect(conn.id)
			return
		}
		s.send(conn.id, protocol.ChannelRegistry, protocol.MsgRegistryData, &protocol.RegistryData{
			Name:       reg.Name(),
			Serialized: image,
		})
	}

	conn.state = stateLoadingRegistries
	conn.deadline = time.Now().Add(s.cfg.GetSyncTimeout())
	logging.Info("✅ Игрок %q (%s) получил %d регистров, сущность %d",
		conn.name, conn.id, s.registries.Count(), conn.player)
}

// handleRegistriesDone переводит клиента в игру и выполняет
// единственную полную синхронизацию за время жизни подключения
func (s *GameServer) handleRegistriesDone(conn *connection) {
	if conn.state != stateLoadingRegistries {
		logging.Warn("⚠️ RegistriesDone вне фазы загрузки от %s", conn.id)
		return
	}
	conn.state = statePlaying
	conn.deadline = time.Time{}

	for _, msg := range s.producer.FullResync() {
		s.send(conn.id, protocol.ChannelComponent, protocol.MsgComponentReplication, msg)
	}
	logging.Info("✅ Игрок %q в игре, отправлена полная синхронизация (%d сущностей)",
		conn.name, s.world.Len())
}

func (s *GameServer) handleComponentProposal(conn *connection, msg *protocol.Message) {
	if conn.state != statePlaying {
		return
	}

	var cr protocol.ComponentReplication
	if err := protocol.UnmarshalPayload(msg, &cr); err != nil {
		metrics.DecodeErrorsTotal.Inc()
		logging.Warn("⚠️ Нечитаемое предложение компонента от %s: %v", conn.id, err)
		return
	}

	if err := s.applier.Apply(conn.player, &cr); err != nil {
		logging.Warn("⚠️ Предложение %s от игрока %d отклонено: %v", cr.ComponentName, conn.player, err)
		return
	}
	metrics.ComponentUpdatesTotal.WithLabelValues(cr.ComponentName).Inc()
}

func (s *GameServer) handleEvent(conn *connection, msg *protocol.Message) {
	if conn.state != statePlaying {
		return
	}

	var ne protocol.NettyEvent
	if err := protocol.UnmarshalPayload(msg, &ne); err != nil {
		metrics.DecodeErrorsTotal.Inc()
		logging.Warn("⚠️ Нечитаемое событие от %s: %v", conn.id, err)
		return
	}

	if err := s.events.HandleIncoming(&ne, conn.player); err != nil {
		logging.Warn("⚠️ Событие %s от игрока %d отброшено: %v", ne.Name, conn.player, err)
	}
}

func (s *GameServer) handlePing(conn *connection, msg *protocol.Message) {
	var ping protocol.Ping
	if err := protocol.UnmarshalPayload(msg, &ping); err != nil {
		return
	}
	s.send(conn.id, protocol.ChannelReliable, protocol.MsgPong, &protocol.Pong{Timestamp: ping.Timestamp})
}

// runTick выполняет сетевую часть тика: дедлайны, изменения компонентов,
// удаления, события, LOD-дельты и снапшот трансформов
func (s *GameServer) runTick() {
	s.tick++
	s.tickAtomic.Store(s.tick)

	s.checkDeadlines()
	s.broadcastComponentChanges()
	s.broadcastDespawns()
	s.flushEvents()
	s.streamLods()
	s.broadcastTransforms()
}

// checkDeadlines отключает клиентов, не завершивших загрузку вовремя
func (s *GameServer) checkDeadlines() {
	now := time.Now()
	for _, conn := range s.conns {
		if conn.state == statePlaying || conn.deadline.IsZero() || now.Before(conn.deadline) {
			continue
		}
		logging.Warn("⚠️ Клиент %s не завершил загрузку за отведённое время, отключение", conn.id)
		s.transport.Disconnect(conn.id)
		s.handleDisconnect(conn.id)
	}
}

// broadcastComponentChanges рассылает изменения компонентов всем
// играющим клиентам. Сервер говорит в своём пространстве сущностей,
// перевод выполняет клиент при приёме.
func (s *GameServer) broadcastComponentChanges() {
	changes := s.producer.CollectChanges()
	for _, change := range changes {
		frame, err := protocol.Marshal(protocol.MsgComponentReplication, change)
		if err != nil {
			logging.Warn("⚠️ Ошибка сериализации изменения: %v", err)
			continue
		}
		s.sendToPlaying(protocol.ChannelComponent, frame)
		metrics.ComponentUpdatesTotal.WithLabelValues(change.ComponentName).Inc()
	}
}

func (s *GameServer) broadcastDespawns() {
	for _, id := range s.world.DrainDespawned() {
		delete(s.structures, id)
		delete(s.lodVersions, id)
		s.streamer.RemoveStructure(id)
		for _, conn := range s.conns {
			conn.mapping.RemoveByServer(id)
		}

		frame, err := protocol.Marshal(protocol.MsgEntityDespawn, &protocol.EntityDespawn{Entity: uint64(id)})
		if err != nil {
			continue
		}
		s.sendToPlaying(protocol.ChannelReliable, frame)
	}
}

// flushEvents отправляет события, накопленные движком за тик
func (s *GameServer) flushEvents() {
	for _, out := range s.events.DrainOutgoing() {
		frame, err := protocol.Marshal(protocol.MsgNettyEvent, &out.Message)
		if err != nil {
			logging.Warn("⚠️ Ошибка сериализации события %s: %v", out.Message.Name, err)
			continue
		}

		ch := protocol.ChannelEvent
		if out.Reliability == events.Unreliable {
			ch = protocol.ChannelUnreliable
		}

		if out.Target == 0 {
			s.sendToPlaying(ch, frame)
			continue
		}

		// Адресное событие: проверка актуальности подключения перед
		// отправкой, игрок мог отключиться в этом же тике
		client, ok := s.connsByPlayer[out.Target]
		if !ok {
			continue
		}
		if conn, ok := s.conns[client]; !ok || conn.state != statePlaying {
			continue
		}
		s.sendFrame(client, ch, frame)
	}
}

// streamLods обновляет наблюдения по дистанции, инвалидирует изменённые
// структуры и рассылает регенерированные дельты
func (s *GameServer) streamLods() {
	s.updateObservations()

	for id, st := range s.structures {
		if v := st.Version(); v != s.lodVersions[id] {
			s.lodVersions[id] = v
			s.streamer.Invalidate(id)
		}
	}

	sends := s.streamer.Regenerate(func(id entity.ID) *structure.Structure {
		return s.structures[id]
	})
	for _, send := range sends {
		client, ok := s.connsByPlayer[send.Player]
		if !ok {
			continue
		}
		frame, err := protocol.Marshal(protocol.MsgLodDelta, &send.Message)
		if err != nil {
			continue
		}
		s.sendFrame(client, protocol.ChannelDeltaLod, frame)
		metrics.LodDeltasTotal.Inc()
	}
}

// updateObservations пересчитывает требуемый масштаб LOD каждой пары
// (структура, игрок) по дистанции между их трансформами
func (s *GameServer) updateObservations() {
	for _, conn := range s.conns {
		if conn.state != statePlaying {
			continue
		}
		playerTf := s.transformOf(conn.player)
		for id := range s.structures {
			distance := 0.0
			if playerTf != nil {
				if structTf := s.transformOf(id); structTf != nil {
					distance = dist(playerTf.Position, structTf.Position)
				}
			}
			s.streamer.Observe(conn.player, id, distance)
		}
	}
}

func (s *GameServer) transformOf(id entity.ID) *components.Transform {
	v, ok := s.world.Component(id, components.TransformName)
	if !ok {
		return nil
	}
	tf, ok := v.(*components.Transform)
	if !ok {
		return nil
	}
	return tf
}

func dist(a, b [3]float64) float64 {
	dx, dy, dz := a[0]-b[0], a[1]-b[1], a[2]-b[2]
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// broadcastTransforms рассылает снапшот трансформов текущего тика по
// ненадёжному каналу. Потерянный снапшот не восстанавливается:
// следующий тик принесёт свежие данные.
func (s *GameServer) broadcastTransforms() {
	var bodies []protocol.EntityTransform
	for _, id := range s.world.Entities() {
		tf := s.transformOf(id)
		if tf == nil {
			continue
		}
		bodies = append(bodies, protocol.EntityTransform{
			Entity: uint64(id),
			Transform: protocol.NetTransform{
				Position: tf.Position,
				Velocity: tf.Velocity,
				Rotation: tf.Rotation,
				Parent:   uint64(tf.Parent),
			},
		})
	}
	if len(bodies) == 0 {
		return
	}

	frame, err := protocol.Marshal(protocol.MsgBulkTransforms, &protocol.BulkTransforms{
		Tick:   s.tick,
		Bodies: bodies,
	})
	if err != nil {
		logging.Warn("⚠️ Ошибка сериализации снапшота: %v", err)
		return
	}
	s.sendToPlaying(protocol.ChannelUnreliable, frame)
}

// send сериализует и отправляет сообщение одному клиенту
func (s *GameServer) send(client transport.ClientID, ch protocol.Channel, msgType protocol.MsgType, payload interface{}) {
	frame, err := protocol.Marshal(msgType, payload)
	if err != nil {
		logging.Error("❌ Ошибка сериализации сообщения типа %d: %v", msgType, err)
		return
	}
	s.sendFrame(client, ch, frame)
}

func (s *GameServer) sendFrame(client transport.ClientID, ch protocol.Channel, frame []byte) {
	if err := s.transport.Send(client, ch, frame); err != nil {
		if err != transport.ErrUnknownClient {
			logging.Warn("⚠️ Ошибка отправки клиенту %s: %v", client, err)
		}
		return
	}
	metrics.ObserveMessage("out", ch.String(), len(frame))
}

// sendToPlaying отправляет кадр всем клиентам в фазе игры.
// Клиенты в фазе загрузки изменений не получают: их состояние
// целиком придёт полной синхронизацией.
func (s *GameServer) sendToPlaying(ch protocol.Channel, frame []byte) {
	for _, conn := range s.conns {
		if conn.state != statePlaying {
			continue
		}
		s.sendFrame(conn.id, ch, frame)
	}
}
