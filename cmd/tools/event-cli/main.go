// event-cli — служебная утилита для наблюдения за шиной событий.
// Подписывается на поток JetStream и печатает конверты событий.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/annel0/voxelspace/internal/eventbus"
)

func main() {
	var (
		natsURL    = flag.String("nats", "nats://localhost:4222", "адрес NATS")
		stream     = flag.String("stream", "VOXELSPACE", "имя потока JetStream")
		command    = flag.String("cmd", "tail", "команда: tail | stats")
		eventTypes = flag.String("types", "", "фильтр типов событий через запятую")
		sources    = flag.String("sources", "", "фильтр источников через запятую")
		retention  = flag.Duration("retention", 24*time.Hour, "retention потока")
	)
	flag.Parse()

	bus, err := eventbus.NewJetStreamBus(*natsURL, *stream, *retention)
	if err != nil {
		log.Fatalf("❌ Не удалось подключиться к JetStream: %v", err)
	}

	switch *command {
	case "tail":
		tail(bus, splitList(*eventTypes), splitList(*sources))
	case "stats":
		stats(bus)
	default:
		fmt.Fprintf(os.Stderr, "неизвестная команда %q\n", *command)
		os.Exit(2)
	}
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// tail печатает события по мере прихода (как tail -f)
func tail(bus eventbus.EventBus, types, sources []string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := bus.Subscribe(ctx, eventbus.Filter{Types: types, Sources: sources},
		func(ctx context.Context, ev *eventbus.Envelope) {
			origin := "local"
			if ev.FromNetwork {
				origin = "net"
			}
			fmt.Printf("%s  %-30s  src=%s  %-5s  v=%d  %d байт\n",
				ev.Timestamp.Format(time.RFC3339), ev.EventType, ev.Source, origin, ev.Version, len(ev.Payload))
		})
	if err != nil {
		log.Fatalf("❌ Ошибка подписки: %v", err)
	}
	defer sub.Unsubscribe()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
}

// stats печатает метрики шины раз в секунду
func stats(bus eventbus.EventBus) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-sig:
			return
		case <-ticker.C:
			s := bus.Metrics()
			fmt.Printf("published=%d consumed=%d dropped=%d in_flight=%d\n",
				s.Published, s.Consumed, s.Dropped, s.InFlight)
		}
	}
}
