// Package events реализует репликацию одноразовых игровых событий.
//
// Событие регистрируется со стабильным именем, адресатом и классом
// надёжности. Выстреленное локально событие перехватывается движком и
// пересылается адресату; на принимающей стороне оно перевыстреливается
// как локальное с пометкой FromNetwork — только по ней потребитель
// может отличить сетевое событие от локального.
package events

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/annel0/voxelspace/internal/codec"
	"github.com/annel0/voxelspace/internal/entity"
	"github.com/annel0/voxelspace/internal/eventbus"
	"github.com/annel0/voxelspace/internal/netmap"
	"github.com/annel0/voxelspace/internal/protocol"
	syncpkg "github.com/annel0/voxelspace/internal/sync"
)

// Receiver определяет адресата события
type Receiver int

const (
	// ReceiverServer — событие идёт клиенту -> серверу
	ReceiverServer Receiver = iota
	// ReceiverClient — событие идёт сервером -> конкретному клиенту
	ReceiverClient
	// ReceiverBroadcast — событие идёт сервером -> всем клиентам
	ReceiverBroadcast
)

// Reliability класс надёжности доставки
type Reliability int

const (
	// Reliable — доставка и порядок от одного отправителя гарантированы
	Reliable Reliability = iota
	// Unreliable — ни доставка, ни порядок не гарантированы; потребитель
	// обязан переносить потери
	Unreliable
)

// Side сторона процесса
type Side int

const (
	SideServer Side = iota
	SideClient
)

// Ошибки движка событий
var (
	// ErrUnknownEvent — имя события не зарегистрировано
	ErrUnknownEvent = errors.New("неизвестное событие")
	// ErrWrongDirection — событие выстрелено на стороне, которой не положено
	ErrWrongDirection = errors.New("недопустимое направление события")
)

// Descriptor описывает один тип реплицируемого события
type Descriptor struct {
	Name        string
	Receiver    Receiver
	Reliability Reliability
	Encode      func(v interface{}) ([]byte, error)
	Decode      func(data []byte) (interface{}, error)

	// HasEntityRefs и Rewrite — как у компонентов: события со ссылками
	// на сущности без правила перевода отклоняются при регистрации
	HasEntityRefs bool
	Rewrite       func(v interface{}, m *netmap.Mapping, side syncpkg.RewriteSide) (interface{}, error)
}

// Event локально доставляемое событие
type Event struct {
	Name        string
	Payload     interface{}
	FromNetwork bool
	// Sender — серверная сущность игрока-отправителя; заполняется только
	// на сервере для событий, пришедших от клиентов
	Sender entity.ID
}

// Handler потребитель события
type Handler func(ev Event)

// Outgoing событие, ожидающее отправки по сети
type Outgoing struct {
	Message     protocol.NettyEvent
	Reliability Reliability
	// Target — серверная сущность игрока-адресата; 0 означает broadcast
	// (или, на клиенте, отправку серверу)
	Target entity.ID
}

// Engine движок репликации событий одной стороны
type Engine struct {
	side     Side
	byName   map[string]*Descriptor
	handlers map[string][]Handler
	outgoing []Outgoing
	mapping  *netmap.Mapping   // только на клиенте
	bus      eventbus.EventBus // опционально: зеркалирование в шину
	source   string            // имя узла для конвертов шины
}

// NewEngine создаёт движок. mapping обязателен на клиенте, на сервере nil.
func NewEngine(side Side, mapping *netmap.Mapping) *Engine {
	return &Engine{
		side:     side,
		byName:   make(map[string]*Descriptor),
		handlers: make(map[string][]Handler),
		mapping:  mapping,
	}
}

// AttachBus подключает шину событий: каждое доставленное событие
// дополнительно публикуется конвертом в шину
func (e *Engine) AttachBus(bus eventbus.EventBus, source string) {
	e.bus = bus
	e.source = source
}

// Register регистрирует тип события.
// Событие со ссылками на сущности без правила перевода — ошибка
// конфигурации времени старта.
func (e *Engine) Register(desc Descriptor) error {
	if desc.Name == "" {
		return fmt.Errorf("событие без имени")
	}
	if desc.Encode == nil || desc.Decode == nil {
		return fmt.Errorf("событие %s: не заданы функции кодирования", desc.Name)
	}
	if desc.HasEntityRefs && desc.Rewrite == nil {
		return fmt.Errorf("событие %s содержит ссылки на сущности, но не задано правило перевода", desc.Name)
	}
	if _, exists := e.byName[desc.Name]; exists {
		return fmt.Errorf("событие %s уже зарегистрировано", desc.Name)
	}

	d := desc
	e.byName[desc.Name] = &d
	return nil
}

// MustRegister регистрирует событие или паникует
func (e *Engine) MustRegister(desc Descriptor) {
	if err := e.Register(desc); err != nil {
		panic(fmt.Sprintf("events: %v", err))
	}
}

// Subscribe добавляет обработчик события
func (e *Engine) Subscribe(name string, h Handler) {
	e.handlers[name] = append(e.handlers[name], h)
}

func (e *Engine) dispatch(ev Event) {
	for _, h := range e.handlers[ev.Name] {
		h(ev)
	}

	if e.bus == nil {
		return
	}
	raw, err := codec.EncodeRaw(ev.Payload)
	if err != nil {
		return
	}

	// Потеря ненадёжных событий допустима и на шине
	prio := eventbus.PriorityGameplay
	if desc, ok := e.byName[ev.Name]; ok && desc.Reliability == Unreliable {
		prio = eventbus.PriorityEffect
	}

	env := &eventbus.Envelope{
		ID:          uuid.NewString(),
		Timestamp:   time.Now().UTC(),
		Source:      e.source,
		EventType:   ev.Name,
		Version:     1,
		FromNetwork: ev.FromNetwork,
		Priority:    prio,
		Payload:     raw,
	}
	if ev.Sender != 0 {
		env.Metadata = map[string]string{"sender": strconv.FormatUint(uint64(ev.Sender), 10)}
	}
	_ = e.bus.Publish(context.Background(), env)
}

// Fire выстреливает событие локально. Адресованное другой стороне
// событие ставится в очередь отправки; адресованное своей стороне —
// доставляется обработчикам немедленно.
// target — серверная сущность игрока-адресата для ReceiverClient
// (игнорируется в остальных случаях).
func (e *Engine) Fire(name string, payload interface{}, target entity.ID) error {
	desc, ok := e.byName[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEvent, name)
	}

	switch e.side {
	case SideServer:
		switch desc.Receiver {
		case ReceiverServer:
			e.dispatch(Event{Name: name, Payload: payload})
			return nil
		case ReceiverClient, ReceiverBroadcast:
			return e.queueOutgoing(desc, payload, target)
		}
	case SideClient:
		switch desc.Receiver {
		case ReceiverClient:
			e.dispatch(Event{Name: name, Payload: payload})
			return nil
		case ReceiverServer:
			return e.queueOutgoing(desc, payload, 0)
		case ReceiverBroadcast:
			return fmt.Errorf("%w: клиент не может рассылать broadcast-событие %s", ErrWrongDirection, name)
		}
	}
	return nil
}

func (e *Engine) queueOutgoing(desc *Descriptor, payload interface{}, target entity.ID) error {
	value := payload
	// Клиент переводит ссылки в серверное пространство до отправки
	if e.side == SideClient && desc.HasEntityRefs {
		var err error
		value, err = desc.Rewrite(value, e.mapping, syncpkg.ToServer)
		if err != nil {
			return fmt.Errorf("событие %s: %w", desc.Name, err)
		}
	}

	raw, err := desc.Encode(value)
	if err != nil {
		return fmt.Errorf("событие %s: %w", desc.Name, err)
	}

	e.outgoing = append(e.outgoing, Outgoing{
		Message:     protocol.NettyEvent{Name: desc.Name, RawData: raw},
		Reliability: desc.Reliability,
		Target:      target,
	})
	return nil
}

// DrainOutgoing возвращает накопленные исходящие события.
// Вызывается рантаймом на границе тика.
func (e *Engine) DrainOutgoing() []Outgoing {
	if len(e.outgoing) == 0 {
		return nil
	}
	out := e.outgoing
	e.outgoing = nil
	return out
}

// HandleIncoming декодирует сетевое событие и перевыстреливает его
// локально с пометкой FromNetwork. sender — серверная сущность
// игрока-отправителя (только на сервере).
func (e *Engine) HandleIncoming(msg *protocol.NettyEvent, sender entity.ID) error {
	desc, ok := e.byName[msg.Name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEvent, msg.Name)
	}

	// Сервер принимает только события, адресованные серверу
	if e.side == SideServer && desc.Receiver != ReceiverServer {
		return fmt.Errorf("%w: %s", ErrWrongDirection, msg.Name)
	}

	value, err := desc.Decode(msg.RawData)
	if err != nil {
		return fmt.Errorf("событие %s: %w", msg.Name, err)
	}

	// Клиент переводит ссылки в своё пространство при приёме
	if e.side == SideClient && desc.HasEntityRefs {
		value, err = desc.Rewrite(value, e.mapping, syncpkg.ToClient)
		if err != nil {
			return fmt.Errorf("событие %s: %w", msg.Name, err)
		}
	}

	e.dispatch(Event{Name: msg.Name, Payload: value, FromNetwork: true, Sender: sender})
	return nil
}
