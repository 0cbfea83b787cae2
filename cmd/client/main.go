package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/annel0/voxelspace/internal/block"
	"github.com/annel0/voxelspace/internal/client"
	"github.com/annel0/voxelspace/internal/components"
	"github.com/annel0/voxelspace/internal/config"
	"github.com/annel0/voxelspace/internal/game"
	"github.com/annel0/voxelspace/internal/item"
	"github.com/annel0/voxelspace/internal/logging"
	"github.com/annel0/voxelspace/internal/registry"
	"github.com/annel0/voxelspace/internal/sync"
	"github.com/annel0/voxelspace/internal/sync/events"
	"github.com/annel0/voxelspace/internal/transport"
)

func main() {
	configPath := flag.String("config", "", "путь к YAML-конфигу")
	addr := flag.String("addr", "localhost:7777", "адрес сервера")
	mode := flag.String("transport", "tcp", "транспорт: tcp | kcp | ws")
	name := flag.String("name", "player", "имя игрока")
	flag.Parse()

	if err := logging.InitDefaultLogger("client"); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Error("❌ Ошибка загрузки конфигурации: %v", err)
		os.Exit(1)
	}
	if cfg == nil {
		cfg = &config.Config{}
	}

	// Клиентские регистры создаются пустыми: содержимое придёт с сервера
	regs := registry.NewManager()
	blocks := block.NewRegistry()
	items := item.NewRegistry()
	if err := regs.Add(blocks); err != nil {
		logging.Error("❌ %v", err)
		os.Exit(1)
	}
	if err := regs.Add(items); err != nil {
		logging.Error("❌ %v", err)
		os.Exit(1)
	}

	comps := sync.NewComponentRegistry()
	if err := components.RegisterAll(comps); err != nil {
		logging.Error("❌ Ошибка регистрации компонентов: %v", err)
		os.Exit(1)
	}

	tr, err := dial(*mode, *addr)
	if err != nil {
		logging.Error("❌ Ошибка подключения: %v", err)
		os.Exit(1)
	}

	c := client.New(&cfg.Client, tr, regs, comps)
	game.RegisterEvents(c.Events())

	c.Events().Subscribe(game.EventChatMessage, func(ev events.Event) {
		msg, ok := ev.Payload.(*game.ChatMessage)
		if !ok {
			return
		}
		logging.Info("💬 <%s> %s", msg.From, msg.Text)
	})
	c.Events().Subscribe(game.EventBlockChanged, func(ev events.Event) {
		bc, ok := ev.Payload.(*game.BlockChange)
		if !ok {
			return
		}
		logging.Info("🔄 Блок %s в структуре %d, позиция %v", bc.BlockName, bc.Structure, bc.Pos)
	})

	c.OnStateChange = func(old, new client.State) {
		logging.Info("🔄 Фаза клиента: %d -> %d", old, new)
		if new == client.StatePlaying {
			// Объявляем настройки сразу после входа в игру
			c.World().SetComponent(c.PlayerLocal(), components.SettingsName, &components.PlayerSettings{
				RenderDistance: 16,
				Nickname:       *name,
			})
			if err := c.Events().Fire(game.EventChatSend, &game.ChatMessage{From: *name, Text: "привет"}, 0); err != nil {
				logging.Warn("⚠️ Не удалось отправить сообщение чата: %v", err)
			}
		}
	}

	if err := c.Connect(*name); err != nil {
		logging.Error("❌ %v", err)
		os.Exit(1)
	}

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logging.Info("🔄 Завершение клиента...")
		c.Stop()
	}()

	// Периодический замер RTT
	lastPing := time.Now()
	c.Run(func() {
		if time.Since(lastPing) >= 5*time.Second {
			lastPing = time.Now()
			c.Ping()
			if rtt := c.RTT(); rtt > 0 {
				logging.Debug("RTT: %v", rtt)
			}
		}
	})

	logging.Info("✅ Клиент остановлен")
}

func dial(mode, addr string) (transport.ClientTransport, error) {
	switch mode {
	case "kcp":
		return transport.DialKCP(addr)
	case "ws":
		return transport.DialWS(fmt.Sprintf("ws://%s/ws", addr))
	default:
		return transport.DialTCP(addr)
	}
}
