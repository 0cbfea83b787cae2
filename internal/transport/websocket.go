package transport

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/annel0/voxelspace/internal/logging"
	"github.com/annel0/voxelspace/internal/protocol"
)

// WSServer транспорт поверх WebSocket для браузерных клиентов.
// Кадр передаётся бинарным сообщением [канал u8][данные]; длина
// берётся из границ сообщения. Ненадёжный канал идёт тем же
// соединением, отсев устаревших тиков выполняет приёмник.
type WSServer struct {
	addr     string
	upgrader websocket.Upgrader
	server   *http.Server
	events   chan Event

	mu      sync.RWMutex
	clients map[ClientID]*wsConn
	closed  bool
}

type wsConn struct {
	id      ClientID
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// NewWSServer создаёт WebSocket-транспорт на указанном адресе
func NewWSServer(addr string) *WSServer {
	return &WSServer{
		addr: addr,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		events:  make(chan Event, eventBufferSize),
		clients: make(map[ClientID]*wsConn),
	}
}

// Start запускает HTTP-сервер с эндпоинтом /ws
func (s *WSServer) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	s.server = &http.Server{Addr: s.addr, Handler: mux}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("❌ WebSocket-сервер остановлен: %v", err)
		}
	}()
	logging.Info("📡 WebSocket-транспорт слушает %s/ws", s.addr)
	return nil
}

func (s *WSServer) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("⚠️ Не удалось апгрейдить соединение с %s: %v", r.RemoteAddr, err)
		return
	}

	c := &wsConn{id: ClientID(uuid.NewString()), conn: conn}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.clients[c.id] = c
	s.mu.Unlock()

	c.writeMu.Lock()
	err = conn.WriteMessage(websocket.BinaryMessage, append([]byte{byte(controlChannel)}, []byte(c.id)...))
	c.writeMu.Unlock()
	if err != nil {
		s.dropClient(c.id, err)
		return
	}

	s.events <- Event{Type: EventConnected, Client: c.id}
	s.readLoop(c)
}

func (s *WSServer) readLoop(c *wsConn) {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			s.dropClient(c.id, err)
			return
		}
		if msgType != websocket.BinaryMessage || len(data) < 1 {
			continue
		}
		s.events <- Event{Type: EventMessage, Client: c.id, Channel: protocol.Channel(data[0]), Data: data[1:]}
	}
}

// Send отправляет кадр клиенту
func (s *WSServer) Send(client ClientID, ch protocol.Channel, data []byte) error {
	s.mu.RLock()
	c, ok := s.clients[client]
	s.mu.RUnlock()
	if !ok {
		return ErrUnknownClient
	}

	frame := make([]byte, 1+len(data))
	frame[0] = byte(ch)
	copy(frame[1:], data)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		go s.dropClient(client, err)
		return err
	}
	return nil
}

// Broadcast отправляет кадр всем клиентам
func (s *WSServer) Broadcast(ch protocol.Channel, data []byte) {
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

// Disconnect принудительно закрывает соединение клиента
func (s *WSServer) Disconnect(client ClientID) {
	s.dropClient(client, nil)
}

func (s *WSServer) dropClient(client ClientID, cause error) {
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

	c.conn.Close()
	if !closed {
		s.events <- Event{Type: EventDisconnected, Client: client, Err: cause}
	}
}

// Events возвращает поток событий транспорта
func (s *WSServer) Events() <-chan Event { return s.events }

// Close останавливает транспорт
func (s *WSServer) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conns := make([]*wsConn, 0, len(s.clients))
	for _, c := range s.clients {
		conns = append(conns, c)
	}
	s.clients = make(map[ClientID]*wsConn)
	s.mu.Unlock()

	if s.server != nil {
		s.server.Close()
	}
	for _, c := range conns {
		c.conn.Close()
	}
	close(s.events)
	return nil
}

// WSClient клиентский транспорт поверх WebSocket
type WSClient struct {
	conn   *websocket.Conn
	id     ClientID
	events chan ClientEvent

	writeMu sync.Mutex
	mu      sync.Mutex
	closed  bool
}

// DialWS подключается к WebSocket-серверу (url вида ws://host:port/ws)
func DialWS(url string) (*WSClient, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к %s: %w", url, err)
	}

	msgType, data, err := conn.ReadMessage()
	if err != nil || msgType != websocket.BinaryMessage || len(data) < 1 || protocol.Channel(data[0]) != controlChannel {
		conn.Close()
		return nil, fmt.Errorf("не получен идентификатор подключения: %v", err)
	}

	c := &WSClient{
		conn:   conn,
		id:     ClientID(data[1:]),
		events: make(chan ClientEvent, eventBufferSize),
	}
	go c.readLoop()
	return c, nil
}

func (c *WSClient) readLoop() {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			c.markClosed(err)
			return
		}
		if msgType != websocket.BinaryMessage || len(data) < 1 {
			continue
		}
		c.events <- ClientEvent{Type: EventMessage, Channel: protocol.Channel(data[0]), Data: data[1:]}
	}
}

// Send отправляет кадр серверу
func (c *WSClient) Send(ch protocol.Channel, data []byte) error {
	frame := make([]byte, 1+len(data))
	frame[0] = byte(ch)
	copy(frame[1:], data)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.BinaryMessage, frame)
}

// Events возвращает поток событий клиента
func (c *WSClient) Events() <-chan ClientEvent { return c.events }

// Close закрывает соединение
func (c *WSClient) Close() error {
	return c.conn.Close()
}

func (c *WSClient) markClosed(cause error) {
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
