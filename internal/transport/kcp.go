package transport

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	kcp "github.com/xtaci/kcp-go/v5"

	"github.com/annel0/voxelspace/internal/logging"
	"github.com/annel0/voxelspace/internal/protocol"
)

// KCPServer транспорт поверх KCP (ARQ над UDP). Все каналы идут
// через одну сессию; для ненадёжного канала сессия настраивается
// в turbo-режим, но повторная доставка остаётся, поэтому отсев
// устаревших тиков выполняет приёмник.
type KCPServer struct {
	addr     string
	listener *kcp.Listener
	events   chan Event

	mu      sync.RWMutex
	clients map[ClientID]*kcpConn
	closed  bool
	wg      sync.WaitGroup
}

type kcpConn struct {
	id      ClientID
	session *kcp.UDPSession
	writeMu sync.Mutex
}

// NewKCPServer создаёт KCP-транспорт на указанном адресе
func NewKCPServer(addr string) *KCPServer {
	return &KCPServer{
		addr:    addr,
		events:  make(chan Event, eventBufferSize),
		clients: make(map[ClientID]*kcpConn),
	}
}

// Start открывает слушающий сокет
func (s *KCPServer) Start() error {
	listener, err := kcp.ListenWithOptions(s.addr, nil, 10, 3)
	if err != nil {
		return fmt.Errorf("не удалось открыть KCP %s: %w", s.addr, err)
	}
	s.listener = listener
	logging.Info("📡 KCP-транспорт слушает %s", s.addr)

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

func (s *KCPServer) acceptLoop() {
	defer s.wg.Done()
	for {
		session, err := s.listener.AcceptKCP()
		if err != nil {
			return
		}
		tuneSession(session)

		c := &kcpConn{id: ClientID(uuid.NewString()), session: session}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			session.Close()
			return
		}
		s.clients[c.id] = c
		s.mu.Unlock()

		c.writeMu.Lock()
		err = writeFrame(session, controlChannel, []byte(c.id))
		c.writeMu.Unlock()
		if err != nil {
			s.dropClient(c.id, err)
			continue
		}

		s.events <- Event{Type: EventConnected, Client: c.id}

		s.wg.Add(1)
		go s.readLoop(c)
	}
}

// tuneSession включает turbo-режим с минимальными задержками
func tuneSession(session *kcp.UDPSession) {
	session.SetNoDelay(1, 10, 2, 1)
	session.SetStreamMode(true)
	session.SetWindowSize(256, 256)
}

func (s *KCPServer) readLoop(c *kcpConn) {
	defer s.wg.Done()
	for {
		ch, data, err := readFrame(c.session)
		if err != nil {
			s.dropClient(c.id, err)
			return
		}
		s.events <- Event{Type: EventMessage, Client: c.id, Channel: ch, Data: data}
	}
}

// Send отправляет кадр клиенту
func (s *KCPServer) Send(client ClientID, ch protocol.Channel, data []byte) error {
	s.mu.RLock()
	c, ok := s.clients[client]
	s.mu.RUnlock()
	if !ok {
		return ErrUnknownClient
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := writeFrame(c.session, ch, data); err != nil {
		go s.dropClient(client, err)
		return err
	}
	return nil
}

// Broadcast отправляет кадр всем клиентам
func (s *KCPServer) Broadcast(ch protocol.Channel, data []byte) {
	s.mu.RLock()
	ids := make([]ClientID, 0, len(s.clients))
	for id := range s.clients {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	for _, id := range ids {
		_ = s.Send(id, ch, data)
	}
}

// Disconnect принудительно закрывает сессию клиента
func (s *KCPServer) Disconnect(client ClientID) {
	s.dropClient(client, nil)
}

func (s *KCPServer) dropClient(client ClientID, cause error) {
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

	c.session.Close()
	if !closed {
		s.events <- Event{Type: EventDisconnected, Client: client, Err: cause}
	}
}

// Events возвращает поток событий транспорта
func (s *KCPServer) Events() <-chan Event { return s.events }

// Close останавливает транспорт
func (s *KCPServer) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conns := make([]*kcpConn, 0, len(s.clients))
	for _, c := range s.clients {
		conns = append(conns, c)
	}
	s.clients = make(map[ClientID]*kcpConn)
	s.mu.Unlock()

	if s.listener != nil {
		s.listener.Close()
	}
	for _, c := range conns {
		c.session.Close()
	}
	s.wg.Wait()
	close(s.events)
	return nil
}

// KCPClient клиентский транспорт поверх KCP
type KCPClient struct {
	session *kcp.UDPSession
	id      ClientID
	events  chan ClientEvent

	writeMu sync.Mutex
	mu      sync.Mutex
	closed  bool
}

// DialKCP подключается к KCP-серверу
func DialKCP(addr string) (*KCPClient, error) {
	session, err := kcp.DialWithOptions(addr, nil, 10, 3)
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к %s: %w", addr, err)
	}
	tuneSession(session)

	ch, data, err := readFrame(session)
	if err != nil || ch != controlChannel {
		session.Close()
		return nil, fmt.Errorf("не получен идентификатор подключения: %v", err)
	}

	c := &KCPClient{
		session: session,
		id:      ClientID(data),
		events:  make(chan ClientEvent, eventBufferSize),
	}
	go c.readLoop()
	return c, nil
}

func (c *KCPClient) readLoop() {
	for {
		ch, data, err := readFrame(c.session)
		if err != nil {
			c.markClosed(err)
			return
		}
		c.events <- ClientEvent{Type: EventMessage, Channel: ch, Data: data}
	}
}

// Send отправляет кадр серверу
func (c *KCPClient) Send(ch protocol.Channel, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return writeFrame(c.session, ch, data)
}

// Events возвращает поток событий клиента
func (c *KCPClient) Events() <-chan ClientEvent { return c.events }

// Close закрывает сессию
func (c *KCPClient) Close() error {
	return c.session.Close()
}

func (c *KCPClient) markClosed(cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.events <- ClientEvent{Type: EventDisconnected, Err: cause}
	close(c.events)
}
