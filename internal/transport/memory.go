package transport

import (
	"sync"

	"github.com/google/uuid"

	"github.com/annel0/voxelspace/internal/protocol"
)

// MemoryServer транспорт в памяти для тестов и локального режима.
// Кадры доставляются через буферизованные каналы без сериализации
// соединения, но с копированием данных.
type MemoryServer struct {
	mu      sync.Mutex
	clients map[ClientID]*MemoryClient
	events  chan Event
	closed  bool
}

// NewMemoryServer создаёт серверную сторону транспорта в памяти
func NewMemoryServer() *MemoryServer {
	return &MemoryServer{
		clients: make(map[ClientID]*MemoryClient),
		events:  make(chan Event, eventBufferSize),
	}
}

// Start ничего не делает: подключения создаются через Connect
func (s *MemoryServer) Start() error { return nil }

// Connect создаёт подключённого клиента и эмитит EventConnected
func (s *MemoryServer) Connect() *MemoryClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}

	c := &MemoryClient{
		id:     ClientID(uuid.NewString()),
		server: s,
		events: make(chan ClientEvent, eventBufferSize),
	}
	s.clients[c.id] = c
	s.events <- Event{Type: EventConnected, Client: c.id}
	return c
}

// Send отправляет кадр клиенту
func (s *MemoryServer) Send(client ClientID, ch protocol.Channel, data []byte) error {
	s.mu.Lock()
	c, ok := s.clients[client]
	s.mu.Unlock()
	if !ok {
		return ErrUnknownClient
	}
	c.deliver(ch, data)
	return nil
}

// Broadcast отправляет кадр всем клиентам
func (s *MemoryServer) Broadcast(ch protocol.Channel, data []byte) {
	s.mu.Lock()
	targets := make([]*MemoryClient, 0, len(s.clients))
	for _, c := range s.clients {
		targets = append(targets, c)
	}
	s.mu.Unlock()

	for _, c := range targets {
		c.deliver(ch, data)
	}
}

// Disconnect отключает клиента со стороны сервера
func (s *MemoryServer) Disconnect(client ClientID) {
	s.mu.Lock()
	c, ok := s.clients[client]
	if ok {
		delete(s.clients, client)
	}
	closed := s.closed
	s.mu.Unlock()
	if !ok {
		return
	}

	c.markClosed()
	if !closed {
		s.events <- Event{Type: EventDisconnected, Client: client}
	}
}

// Events возвращает поток событий сервера
func (s *MemoryServer) Events() <-chan Event { return s.events }

// Close отключает всех клиентов и останавливает транспорт
func (s *MemoryServer) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	targets := make([]*MemoryClient, 0, len(s.clients))
	for _, c := range s.clients {
		targets = append(targets, c)
	}
	s.clients = make(map[ClientID]*MemoryClient)
	s.mu.Unlock()

	for _, c := range targets {
		c.markClosed()
	}
	close(s.events)
	return nil
}

// MemoryClient клиентская сторона транспорта в памяти
type MemoryClient struct {
	id     ClientID
	server *MemoryServer
	events chan ClientEvent

	mu     sync.Mutex
	closed bool
}

// ID возвращает идентификатор подключения на сервере
func (c *MemoryClient) ID() ClientID { return c.id }

// Send отправляет кадр серверу
func (c *MemoryClient) Send(ch protocol.Channel, data []byte) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrUnknownClient
	}

	payload := make([]byte, len(data))
	copy(payload, data)
	c.server.events <- Event{Type: EventMessage, Client: c.id, Channel: ch, Data: payload}
	return nil
}

// Events возвращает поток событий клиента
func (c *MemoryClient) Events() <-chan ClientEvent { return c.events }

// Close отключается от сервера
func (c *MemoryClient) Close() error {
	c.server.Disconnect(c.id)
	return nil
}

func (c *MemoryClient) deliver(ch protocol.Channel, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	payload := make([]byte, len(data))
	copy(payload, data)

	// При переполненном буфере ненадёжные кадры отбрасываются,
	// надёжные блокируют отправителя
	if !ch.Reliable() {
		select {
		case c.events <- ClientEvent{Type: EventMessage, Channel: ch, Data: payload}:
		default:
		}
		return
	}
	c.events <- ClientEvent{Type: EventMessage, Channel: ch, Data: payload}
}

func (c *MemoryClient) markClosed() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	c.events <- ClientEvent{Type: EventDisconnected}
	close(c.events)
}
