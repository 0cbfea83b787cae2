package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/annel0/voxelspace/internal/api"
	"github.com/annel0/voxelspace/internal/block"
	"github.com/annel0/voxelspace/internal/components"
	"github.com/annel0/voxelspace/internal/config"
	"github.com/annel0/voxelspace/internal/entity"
	"github.com/annel0/voxelspace/internal/eventbus"
	"github.com/annel0/voxelspace/internal/game"
	"github.com/annel0/voxelspace/internal/item"
	"github.com/annel0/voxelspace/internal/logging"
	"github.com/annel0/voxelspace/internal/metrics"
	"github.com/annel0/voxelspace/internal/observability"
	"github.com/annel0/voxelspace/internal/registry"
	"github.com/annel0/voxelspace/internal/server"
	"github.com/annel0/voxelspace/internal/storage"
	"github.com/annel0/voxelspace/internal/structure"
	"github.com/annel0/voxelspace/internal/sync"
	"github.com/annel0/voxelspace/internal/sync/events"
	"github.com/annel0/voxelspace/internal/transport"
	"github.com/annel0/voxelspace/internal/vec"
)

func main() {
	configPath := flag.String("config", "", "путь к YAML-конфигу (иначе ENV VOXEL_CONFIG)")
	flag.Parse()

	if err := logging.InitDefaultLogger("server"); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()

	logging.Info("🎮 Запуск сервера репликации VoxelSpace...")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Error("❌ Ошибка загрузки конфигурации: %v", err)
		os.Exit(1)
	}
	if cfg == nil {
		cfg = &config.Config{}
	}
	srvCfg := &cfg.Server

	// === РЕГИСТРЫ КОНТЕНТА ===
	regs := registry.NewManager()
	blocks := block.NewRegistry()
	block.RegisterDefaults(blocks)
	items := item.NewRegistry()
	item.RegisterDefaults(items)
	if err := regs.Add(blocks); err != nil {
		logging.Error("❌ %v", err)
		os.Exit(1)
	}
	if err := regs.Add(items); err != nil {
		logging.Error("❌ %v", err)
		os.Exit(1)
	}
	logging.Info("✅ Зарегистрировано регистров: %d", regs.Count())

	// === РЕПЛИЦИРУЕМЫЕ КОМПОНЕНТЫ ===
	comps := sync.NewComponentRegistry()
	if err := components.RegisterAll(comps); err != nil {
		// Компонент со ссылками без правила перевода — ошибка конфигурации
		logging.Error("❌ Ошибка регистрации компонентов: %v", err)
		os.Exit(1)
	}

	// === МИР И ХРАНИЛИЩЕ ===
	world := entity.NewWorld()

	dataPath := cfg.Storage.Path
	if dataPath == "" {
		dataPath = "data"
	}
	store, err := storage.Open(dataPath)
	if err != nil {
		logging.Error("❌ Ошибка открытия хранилища: %v", err)
		os.Exit(1)
	}
	defer store.Close()

	// === ТРАНСПОРТ ===
	var tr transport.ServerTransport
	switch srvCfg.Transport {
	case "kcp":
		tr = transport.NewKCPServer(fmt.Sprintf(":%d", srvCfg.GetKCPPort()))
	case "websocket":
		tr = transport.NewWSServer(fmt.Sprintf(":%d", srvCfg.GetWSPort()))
	default:
		tr = transport.NewTCPServer(fmt.Sprintf(":%d", srvCfg.GetTCPPort()))
	}
	if err := tr.Start(); err != nil {
		logging.Error("❌ Ошибка запуска транспорта: %v", err)
		os.Exit(1)
	}

	// === ИГРОВОЙ СЕРВЕР ===
	srv := server.New(srvCfg, tr, regs, comps, world)
	game.RegisterEvents(srv.Events())

	// Стартовая структура: либо из хранилища, либо свежая площадка
	seedWorld(srv, store, blocks)

	// Игрок получает трансформ и здоровье при входе
	srv.OnPlayerJoin = func(player entity.ID) {
		world.SetComponent(player, components.TransformName, &components.Transform{
			Position: [3]float64{0, 20, 0},
			Rotation: [4]float64{0, 0, 0, 1},
		})
		world.SetComponent(player, components.HealthName, &components.Health{Current: 100, Max: 100})
	}

	wireBlockChanges(srv, blocks)
	wireChat(srv)

	// === НАБЛЮДАЕМОСТЬ ===
	if srvCfg.EnableMetrics {
		metrics.Serve(fmt.Sprintf(":%d", srvCfg.GetMetricsPort()))
	}
	if cfg.Observability.Enabled {
		serviceName := cfg.Observability.ServiceName
		if serviceName == "" {
			serviceName = "voxelspace-server"
		}
		shutdown, err := observability.InitTelemetry(context.Background(), serviceName, cfg.Observability.OTLPEndpoint)
		if err != nil {
			logging.Warn("⚠️ OpenTelemetry не инициализирован: %v", err)
		} else {
			defer shutdown(context.Background())
		}
	}

	// Зеркалирование доставленных событий в шину
	if srvCfg.EnableBridge {
		bus := buildEventBus(cfg)
		eventbus.Init(bus)
		srv.Events().AttachBus(bus, "voxelspace-server")
		if err := eventbus.StartLoggingListener(bus); err != nil {
			logging.Warn("⚠️ LoggingListener не запущен: %v", err)
		}
		if srvCfg.EnableMetrics {
			eventbus.NewMetricsExporter(bus).Start()
		}
		eventbus.PublishSystem("voxelspace-server", "voxelspace:server_started")
		defer eventbus.PublishSystem("voxelspace-server", "voxelspace:server_stopped")
	}

	rest := api.NewRestServer(srv, regs)
	rest.Start(fmt.Sprintf(":%d", srvCfg.GetRESTPort()))
	defer rest.Stop()

	// === ЗАПУСК ===
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logging.Info("🔄 Получен сигнал завершения, остановка сервера...")
		srv.Stop()
		tr.Close()
	}()

	// Периодическое сохранение структур
	lastSave := time.Now()
	srv.Run(func(tick uint64) {
		if time.Since(lastSave) < time.Minute {
			return
		}
		lastSave = time.Now()
		saveStructures(srv, store)
	})

	saveStructures(srv, store)
	logging.Info("✅ Сервер остановлен")
}

// seedWorld загружает структуры из хранилища или создаёт стартовую
func seedWorld(srv *server.GameServer, store *storage.StructureStore, blocks *registry.Registry[*block.Block]) {
	world := srv.World()

	stored, err := store.LoadAll()
	if err != nil {
		logging.Warn("⚠️ Ошибка чтения хранилища: %v", err)
	}
	if len(stored) > 0 {
		for _, old := range stored {
			// Сохранённая сущность принадлежит прошлому процессу,
			// в этом мире структура получает новую
			ent := world.Spawn()
			st := structure.New(ent, old.Size)
			for x := 0; x < old.Size; x++ {
				for y := 0; y < old.Size; y++ {
					for z := 0; z < old.Size; z++ {
						pos := vec.Vec3{X: x, Y: y, Z: z}
						if id := old.BlockAt(pos); id != structure.AirID {
							st.SetBlock(pos, id)
						}
					}
				}
			}
			attachStructure(srv, st)
		}
		logging.Info("✅ Загружено структур из хранилища: %d", len(stored))
		return
	}

	// Площадка 32x32x32 с каменным основанием
	ent := world.Spawn()
	st := structure.New(ent, 32)
	stone, _ := blocks.FromID("voxelspace:stone")
	grass, _ := blocks.FromID("voxelspace:grass")
	for x := 0; x < 32; x++ {
		for z := 0; z < 32; z++ {
			for y := 0; y < 3; y++ {
				st.SetBlock(vec.Vec3{X: x, Y: y, Z: z}, stone.ID())
			}
			st.SetBlock(vec.Vec3{X: x, Y: 3, Z: z}, grass.ID())
		}
	}
	attachStructure(srv, st)
	logging.Info("✅ Создана стартовая структура (%d блоков)", st.BlockCount())
}

func attachStructure(srv *server.GameServer, st *structure.Structure) {
	srv.World().SetComponent(st.Entity, components.TransformName, &components.Transform{
		Rotation: [4]float64{0, 0, 0, 1},
	})
	srv.AddStructure(st)
}

func saveStructures(srv *server.GameServer, store *storage.StructureStore) {
	saved := 0
	for _, id := range srv.World().Entities() {
		st, ok := srv.Structure(id)
		if !ok {
			continue
		}
		if err := store.Save(st); err != nil {
			logging.Warn("⚠️ Не удалось сохранить структуру %d: %v", id, err)
			continue
		}
		saved++
	}
	if saved > 0 {
		logging.Debug("Сохранено структур: %d", saved)
	}
}

// wireBlockChanges обрабатывает клиентские запросы изменения блоков:
// применяет к структуре и объявляет изменение всем клиентам
func wireBlockChanges(srv *server.GameServer, blocks *registry.Registry[*block.Block]) {
	srv.Events().Subscribe(game.EventBlockChangeRequest, func(ev events.Event) {
		bc, ok := ev.Payload.(*game.BlockChange)
		if !ok {
			return
		}
		st, exists := srv.Structure(entity.ID(bc.Structure))
		if !exists {
			logging.Warn("⚠️ Игрок %d меняет блок несуществующей структуры %d", ev.Sender, bc.Structure)
			return
		}
		blk, known := blocks.FromID(bc.BlockName)
		if !known {
			logging.Warn("⚠️ Игрок %d ставит неизвестный блок %s", ev.Sender, bc.BlockName)
			return
		}

		st.SetBlock(bc.Pos, blk.ID())
		if err := srv.Events().Fire(game.EventBlockChanged, bc, 0); err != nil {
			logging.Warn("⚠️ Не удалось разослать изменение блока: %v", err)
		}
	})
}

// wireChat ретранслирует сообщения чата всем клиентам
func wireChat(srv *server.GameServer) {
	srv.Events().Subscribe(game.EventChatSend, func(ev events.Event) {
		msg, ok := ev.Payload.(*game.ChatMessage)
		if !ok {
			return
		}
		if err := srv.Events().Fire(game.EventChatMessage, msg, 0); err != nil {
			logging.Warn("⚠️ Не удалось разослать сообщение чата: %v", err)
		}
	})
}

// buildEventBus создаёт шину событий: JetStream при заданном URL,
// иначе шина в памяти
func buildEventBus(cfg *config.Config) eventbus.EventBus {
	if cfg.EventBus.URL != "" {
		retention := time.Duration(cfg.EventBus.Retention) * time.Hour
		if retention <= 0 {
			retention = 24 * time.Hour
		}
		stream := cfg.EventBus.Stream
		if stream == "" {
			stream = "VOXELSPACE"
		}
		bus, err := eventbus.NewJetStreamBus(cfg.EventBus.URL, stream, retention)
		if err != nil {
			logging.Warn("⚠️ JetStream недоступен (%v), используется шина в памяти", err)
			return eventbus.NewMemoryBus(1024)
		}
		return bus
	}
	return eventbus.NewMemoryBus(1024)
}
