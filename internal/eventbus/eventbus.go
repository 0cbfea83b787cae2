// Package eventbus выносит доставленные игровые события за пределы
// процесса: внешние потребители (логирование, аналитика, другие
// регионы) подписываются на шину, не трогая тиковый цикл.
package eventbus

import (
	"context"
	"sync"
	"time"
)

// Приоритеты конвертов. Шина в памяти отбрасывает конверты ниже
// блокирующего порога при переполнении очереди.
const (
	// PriorityEffect — визуальные эффекты и прочие события, потерю
	// которых потребители обязаны переносить
	PriorityEffect = 1
	// PriorityGameplay — игровые события; при переполнении издатель
	// блокируется, а не теряет конверт
	PriorityGameplay = 6

	// priorityBlocking — порог, начиная с которого Publish блокируется
	// вместо отбрасывания
	priorityBlocking = 5
)

// Envelope контейнер игрового события для внешних потребителей.
type Envelope struct {
	ID          string            // уникальный идентификатор конверта (UUID)
	Timestamp   time.Time         // время доставки события (UTC)
	Source      string            // узел-издатель, например "voxelspace-server"
	EventType   string            // стабильное имя события ("voxelspace:block_changed")
	Version     int               // версия схемы полезной нагрузки
	FromNetwork bool              // событие пришло по сети, а не выстрелено локально
	Priority    int               // PriorityEffect … PriorityGameplay
	Payload     []byte            // полезная нагрузка события в msgpack
	Metadata    map[string]string // произвольные метаданные ("sender" и т.п.)
}

// Filter ограничивает подписку типами и источниками событий.
// Пустой срез означает отсутствие ограничения.
type Filter struct {
	Types   []string
	Sources []string
}

// Matches сообщает, проходит ли конверт фильтр
func (f Filter) Matches(ev *Envelope) bool {
	return matchOne(ev.EventType, f.Types) && matchOne(ev.Source, f.Sources)
}

func matchOne(val string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, v := range allowed {
		if v == val {
			return true
		}
	}
	return false
}

// Subscription возвращается при подписке; позволяет отписаться
type Subscription interface {
	Unsubscribe()
}

// Handler потребляет конверты
type Handler func(ctx context.Context, ev *Envelope)

// Stats агрегированные метрики шины
type Stats struct {
	Published uint64
	Consumed  uint64
	Dropped   uint64
	InFlight  int
}

// EventBus абстракция шины: в памяти для одиночного процесса,
// JetStream для межпроцессной доставки
type EventBus interface {
	Publish(ctx context.Context, ev *Envelope) error
	Subscribe(ctx context.Context, f Filter, h Handler) (Subscription, error)
	Metrics() Stats
}

// memoryBus шина в памяти: одна очередь, рассылка подписчикам
// отдельным горутином
type memoryBus struct {
	mu     sync.RWMutex
	subs   map[int]memorySub
	nextID int
	stats  Stats
	queue  chan *Envelope
}

type memorySub struct {
	filter  Filter
	handler Handler
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewMemoryBus создаёт шину в памяти с очередью указанной ёмкости
func NewMemoryBus(capacity int) EventBus {
	mb := &memoryBus{
		subs:  make(map[int]memorySub),
		queue: make(chan *Envelope, capacity),
	}
	go mb.dispatchLoop()
	return mb
}

// Publish ставит конверт в очередь. Переполнение очереди отбрасывает
// конверты ниже блокирующего приоритета; остальные ждут места.
func (mb *memoryBus) Publish(ctx context.Context, ev *Envelope) error {
	select {
	case mb.queue <- ev:
		mb.countPublished()
		return nil
	default:
	}

	if ev.Priority < priorityBlocking {
		mb.mu.Lock()
		mb.stats.Dropped++
		mb.mu.Unlock()
		return nil
	}

	select {
	case mb.queue <- ev:
		mb.countPublished()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (mb *memoryBus) countPublished() {
	mb.mu.Lock()
	mb.stats.Published++
	mb.mu.Unlock()
}

func (mb *memoryBus) Subscribe(ctx context.Context, f Filter, h Handler) (Subscription, error) {
	cctx, cancel := context.WithCancel(ctx)

	mb.mu.Lock()
	id := mb.nextID
	mb.nextID++
	mb.subs[id] = memorySub{filter: f, handler: h, ctx: cctx, cancel: cancel}
	mb.mu.Unlock()

	return &memoryHandle{bus: mb, id: id}, nil
}

func (mb *memoryBus) Metrics() Stats {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	s := mb.stats
	s.InFlight = len(mb.queue)
	return s
}

func (mb *memoryBus) dispatchLoop() {
	for ev := range mb.queue {
		mb.mu.RLock()
		subs := make([]memorySub, 0, len(mb.subs))
		for _, sub := range mb.subs {
			subs = append(subs, sub)
		}
		mb.mu.RUnlock()

		for _, sub := range subs {
			if !sub.filter.Matches(ev) {
				continue
			}
			// Обработчик не должен задерживать очередь
			go func(s memorySub) {
				select {
				case <-s.ctx.Done():
				default:
					s.handler(s.ctx, ev)
					mb.mu.Lock()
					mb.stats.Consumed++
					mb.mu.Unlock()
				}
			}(sub)
		}
	}
}

type memoryHandle struct {
	bus *memoryBus
	id  int
}

func (h *memoryHandle) Unsubscribe() {
	h.bus.mu.Lock()
	if sub, ok := h.bus.subs[h.id]; ok {
		sub.cancel()
		delete(h.bus.subs, h.id)
	}
	h.bus.mu.Unlock()
}
