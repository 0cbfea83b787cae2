// Package tests содержит сквозные тесты репликации: сервер и клиенты
// общаются через транспорт в памяти полным протоколом, от Handshake до
// LOD-дельт. Всё игровое состояние живёт на горутинах циклов Run;
// тесты заглядывают в него только закрытиями, исполняемыми через tickFn.
package tests

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/voxelspace/internal/block"
	"github.com/annel0/voxelspace/internal/client"
	"github.com/annel0/voxelspace/internal/components"
	"github.com/annel0/voxelspace/internal/config"
	"github.com/annel0/voxelspace/internal/entity"
	"github.com/annel0/voxelspace/internal/game"
	"github.com/annel0/voxelspace/internal/item"
	"github.com/annel0/voxelspace/internal/registry"
	"github.com/annel0/voxelspace/internal/server"
	"github.com/annel0/voxelspace/internal/structure"
	syncpkg "github.com/annel0/voxelspace/internal/sync"
	sevents "github.com/annel0/voxelspace/internal/sync/events"
	"github.com/annel0/voxelspace/internal/transport"
	"github.com/annel0/voxelspace/internal/vec"
)

const waitTimeout = 5 * time.Second

type serverHarness struct {
	srv    *server.GameServer
	tr     *transport.MemoryServer
	blocks *registry.Registry[*block.Block]
	ship   entity.ID
	checks chan func()
}

// startServer поднимает сервер с кораблём из одного блока ship_core
// и обработчиками блоков и чата, как в настоящем бинаре.
func startServer(t *testing.T) *serverHarness {
	t.Helper()

	cfg := &config.ServerConfig{TickRate: 50, SyncTimeout: 5, LODScaleDist: 256}
	tr := transport.NewMemoryServer()

	regs := registry.NewManager()
	blocks := block.NewRegistry()
	block.RegisterDefaults(blocks)
	require.NoError(t, regs.Add(blocks))
	items := item.NewRegistry()
	item.RegisterDefaults(items)
	require.NoError(t, regs.Add(items))

	comps := syncpkg.NewComponentRegistry()
	require.NoError(t, components.RegisterAll(comps))

	world := entity.NewWorld()
	srv := server.New(cfg, tr, regs, comps, world)
	game.RegisterEvents(srv.Events())

	// Корабль: сущность с трансформом и структура 32^3 с одним блоком
	ship := world.Spawn()
	world.SetComponent(ship, components.TransformName, &components.Transform{
		Rotation: [4]float64{0, 0, 0, 1},
	})
	core, ok := blocks.FromID("voxelspace:ship_core")
	require.True(t, ok)
	st := structure.New(ship, 32)
	st.SetBlock(vec.Vec3{X: 0, Y: 0, Z: 0}, core.ID())
	srv.AddStructure(st)

	srv.OnPlayerJoin = func(player entity.ID) {
		world.SetComponent(player, components.TransformName, &components.Transform{
			Position: [3]float64{0, 20, 0},
			Rotation: [4]float64{0, 0, 0, 1},
		})
		world.SetComponent(player, components.HealthName, &components.Health{Current: 100, Max: 100})
	}

	srv.Events().Subscribe(game.EventBlockChangeRequest, func(ev sevents.Event) {
		bc := ev.Payload.(*game.BlockChange)
		target, ok := srv.Structure(entity.ID(bc.Structure))
		if !ok {
			return
		}
		b, ok := blocks.FromID(bc.BlockName)
		if !ok {
			return
		}
		target.SetBlock(bc.Pos, b.ID())
		_ = srv.Events().Fire(game.EventBlockChanged, bc, 0)
	})

	srv.Events().Subscribe(game.EventChatSend, func(ev sevents.Event) {
		msg := ev.Payload.(*game.ChatMessage)
		_ = srv.Events().Fire(game.EventChatMessage, &game.ChatMessage{
			From: msg.From,
			Text: msg.Text,
		}, 0)
	})

	h := &serverHarness{srv: srv, tr: tr, blocks: blocks, ship: ship, checks: make(chan func(), 64)}
	go srv.Run(func(uint64) { drain(h.checks) })
	t.Cleanup(func() {
		srv.Stop()
		tr.Close()
	})
	return h
}

func drain(checks chan func()) {
	for {
		select {
		case f := <-checks:
			f()
		default:
			return
		}
	}
}

// run исполняет закрытие на горутине цикла и дожидается его завершения
func run(t *testing.T, checks chan func(), f func()) {
	t.Helper()
	done := make(chan struct{})
	select {
	case checks <- func() { f(); close(done) }:
	case <-time.After(waitTimeout):
		t.Fatal("цикл не принимает закрытия")
	}
	select {
	case <-done:
	case <-time.After(waitTimeout):
		t.Fatal("закрытие не исполнено")
	}
}

// waitCond опрашивает условие на горутине цикла до истечения таймаута
func waitCond(t *testing.T, checks chan func(), desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		var ok bool
		run(t, checks, func() { ok = cond() })
		if ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("условие не выполнено: %s", desc)
}

type clientHarness struct {
	c            *client.Client
	blocks       *registry.Registry[*block.Block]
	checks       chan func()
	states       chan client.State
	chat         chan game.ChatMessage
	blockChanged chan sevents.Event

	stopOnce sync.Once
}

func (h *clientHarness) stop() {
	h.stopOnce.Do(h.c.Stop)
}

// connectClient подключает клиента с пустыми регистрами и дожидается
// фазы игры
func connectClient(t *testing.T, tr *transport.MemoryServer, name string) *clientHarness {
	t.Helper()

	mc := tr.Connect()
	require.NotNil(t, mc)

	regs := registry.NewManager()
	blocks := block.NewRegistry()
	require.NoError(t, regs.Add(blocks))
	require.NoError(t, regs.Add(item.NewRegistry()))

	comps := syncpkg.NewComponentRegistry()
	require.NoError(t, components.RegisterAll(comps))

	c := client.New(&config.ClientConfig{RegistryTimeout: 5}, mc, regs, comps)
	game.RegisterEvents(c.Events())

	h := &clientHarness{
		c:            c,
		blocks:       blocks,
		checks:       make(chan func(), 64),
		states:       make(chan client.State, 8),
		chat:         make(chan game.ChatMessage, 8),
		blockChanged: make(chan sevents.Event, 8),
	}
	c.OnStateChange = func(old, new client.State) {
		select {
		case h.states <- new:
		default:
		}
	}
	c.Events().Subscribe(game.EventChatMessage, func(ev sevents.Event) {
		h.chat <- *ev.Payload.(*game.ChatMessage)
	})
	c.Events().Subscribe(game.EventBlockChanged, func(ev sevents.Event) {
		h.blockChanged <- ev
	})

	require.NoError(t, c.Connect(name))
	go c.Run(func() { drain(h.checks) })
	t.Cleanup(h.stop)

	h.waitState(t, client.StatePlaying)
	return h
}

func (h *clientHarness) waitState(t *testing.T, want client.State) {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case s := <-h.states:
			if s == want {
				return
			}
			if s == client.StateDisconnected {
				t.Fatalf("клиент отключён, ожидалась фаза %d", want)
			}
		case <-deadline:
			t.Fatalf("фаза %d не достигнута", want)
		}
	}
}

// playerServer возвращает серверную сущность игрока клиента
func (h *clientHarness) playerServer(t *testing.T) entity.ID {
	t.Helper()
	var id entity.ID
	run(t, h.checks, func() { id = h.c.PlayerServer() })
	return id
}

func TestConnectRegistriesAndFullResync(t *testing.T) {
	srv := startServer(t)
	cl := connectClient(t, srv.tr, "алиса")

	// Регистры пришли с сервера и перезаписали пустое содержимое
	var (
		blockCount int
		stoneID    uint16
		stoneOK    bool
	)
	run(t, cl.checks, func() {
		blockCount = cl.blocks.Len()
		if stone, ok := cl.blocks.FromID("voxelspace:stone"); ok {
			stoneID = stone.ID()
			stoneOK = true
		}
	})
	assert.Equal(t, 6, blockCount)
	require.True(t, stoneOK)
	assert.Equal(t, uint16(1), stoneID, "числовые ID совпадают с серверными")

	// Полная синхронизация принесла серверные компоненты игрока
	waitCond(t, cl.checks, "здоровье игрока реплицировано", func() bool {
		v, ok := cl.c.World().Component(cl.c.PlayerLocal(), components.HealthName)
		return ok && v.(*components.Health).Current == 100
	})

	// LOD корабля дошёл и совпадает с серверным представлением
	expected := structure.New(srv.ship, 32)
	core, _ := srv.blocks.FromID("voxelspace:ship_core")
	expected.SetBlock(vec.Vec3{X: 0, Y: 0, Z: 0}, core.ID())
	want := structure.Generate(expected, 1)

	waitCond(t, cl.checks, "LOD корабля получен", func() bool {
		lod, ok := cl.c.Lod(srv.ship)
		return ok && structure.Equal(lod, want)
	})

	// Ping/Pong измеряет время отклика
	run(t, cl.checks, func() { cl.c.Ping() })
	waitCond(t, cl.checks, "RTT измерен", func() bool {
		return cl.c.RTT() > 0
	})
}

func TestBidirectionalProposalReachesOtherClient(t *testing.T) {
	srv := startServer(t)
	alice := connectClient(t, srv.tr, "алиса")
	bob := connectClient(t, srv.tr, "боб")

	aliceServer := alice.playerServer(t)

	// Алиса предлагает настройки; сервер валидирует и применяет
	run(t, alice.checks, func() {
		alice.c.World().SetComponent(alice.c.PlayerLocal(), components.SettingsName, &components.PlayerSettings{
			RenderDistance: 16,
			Nickname:       "алиса",
		})
	})

	waitCond(t, srv.checks, "сервер применил предложение", func() bool {
		v, ok := srv.srv.World().Component(aliceServer, components.SettingsName)
		return ok && v.(*components.PlayerSettings).RenderDistance == 16
	})

	// Принятое изменение дошло до второго клиента
	waitCond(t, bob.checks, "боб видит настройки алисы", func() bool {
		local, ok := bob.c.Mapping().ClientFromServer(aliceServer)
		if !ok {
			return false
		}
		v, ok := bob.c.World().Component(local, components.SettingsName)
		return ok && v.(*components.PlayerSettings).Nickname == "алиса"
	})

	// Невалидное предложение отклоняется, серверное значение не меняется
	run(t, alice.checks, func() {
		alice.c.World().SetComponent(alice.c.PlayerLocal(), components.SettingsName, &components.PlayerSettings{
			RenderDistance: 99,
			Nickname:       "алиса",
		})
	})
	time.Sleep(200 * time.Millisecond)
	var kept int32
	run(t, srv.checks, func() {
		if v, ok := srv.srv.World().Component(aliceServer, components.SettingsName); ok {
			kept = v.(*components.PlayerSettings).RenderDistance
		}
	})
	assert.Equal(t, int32(16), kept)
}

func TestBlockChangeEventAndLodStream(t *testing.T) {
	srv := startServer(t)
	alice := connectClient(t, srv.tr, "алиса")
	bob := connectClient(t, srv.tr, "боб")

	// У обоих корабль уже виден: сущность реплицирована, LOD пришёл
	for _, h := range []*clientHarness{alice, bob} {
		waitCond(t, h.checks, "корабль виден клиенту", func() bool {
			_, ok := h.c.Lod(srv.ship)
			return ok
		})
	}

	// Алиса просит поставить камень, говоря в своём пространстве сущностей
	var (
		shipMapped bool
		fireErr    error
	)
	run(t, alice.checks, func() {
		local, ok := alice.c.Mapping().ClientFromServer(srv.ship)
		if !ok {
			return
		}
		shipMapped = true
		fireErr = alice.c.Events().Fire(game.EventBlockChangeRequest, &game.BlockChange{
			Structure: uint64(local),
			Pos:       vec.Vec3{X: 1, Y: 0, Z: 0},
			BlockName: "voxelspace:stone",
		}, 0)
	})
	require.True(t, shipMapped)
	require.NoError(t, fireErr)

	stone, _ := srv.blocks.FromID("voxelspace:stone")
	waitCond(t, srv.checks, "сервер применил изменение блока", func() bool {
		st, ok := srv.srv.Structure(srv.ship)
		return ok && st.BlockAt(vec.Vec3{X: 1, Y: 0, Z: 0}) == stone.ID()
	})

	// Боб получает broadcast с переведённой ссылкой и пометкой сети
	select {
	case ev := <-bob.blockChanged:
		assert.True(t, ev.FromNetwork)
		bc := ev.Payload.(*game.BlockChange)
		assert.Equal(t, "voxelspace:stone", bc.BlockName)
		var bobShip entity.ID
		run(t, bob.checks, func() {
			bobShip, _ = bob.c.Mapping().ClientFromServer(srv.ship)
		})
		require.NotZero(t, bobShip)
		assert.Equal(t, uint64(bobShip), bc.Structure, "ссылка переведена в пространство боба")
	case <-time.After(waitTimeout):
		t.Fatal("событие block_changed не дошло до боба")
	}

	// LOD-дельта приносит изменённый блок обоим наблюдателям
	core, _ := srv.blocks.FromID("voxelspace:ship_core")
	expected := structure.New(srv.ship, 32)
	expected.SetBlock(vec.Vec3{X: 0, Y: 0, Z: 0}, core.ID())
	expected.SetBlock(vec.Vec3{X: 1, Y: 0, Z: 0}, stone.ID())
	want := structure.Generate(expected, 1)

	for _, h := range []*clientHarness{alice, bob} {
		waitCond(t, h.checks, "LOD обновлён", func() bool {
			lod, ok := h.c.Lod(srv.ship)
			return ok && structure.Equal(lod, want)
		})
	}

	// Чат проходит полный круг: клиент -> сервер -> broadcast
	var chatErr error
	run(t, alice.checks, func() {
		chatErr = alice.c.Events().Fire(game.EventChatSend, &game.ChatMessage{
			From: "алиса",
			Text: "привет",
		}, 0)
	})
	require.NoError(t, chatErr)
	select {
	case msg := <-bob.chat:
		assert.Equal(t, "привет", msg.Text)
		assert.Equal(t, "алиса", msg.From)
	case <-time.After(waitTimeout):
		t.Fatal("сообщение чата не дошло до боба")
	}
}

func TestDisconnectDespawnsPlayer(t *testing.T) {
	srv := startServer(t)
	alice := connectClient(t, srv.tr, "алиса")
	bob := connectClient(t, srv.tr, "боб")

	aliceServer := alice.playerServer(t)

	// Боб узнал об алисе из полной синхронизации
	waitCond(t, bob.checks, "боб видит алису", func() bool {
		_, ok := bob.c.Mapping().ClientFromServer(aliceServer)
		return ok
	})

	alice.stop()

	waitCond(t, srv.checks, "сервер удалил игрока", func() bool {
		return !srv.srv.World().Exists(aliceServer)
	})

	waitCond(t, bob.checks, "боб получил EntityDespawn", func() bool {
		_, ok := bob.c.Mapping().ClientFromServer(aliceServer)
		return !ok
	})
}
