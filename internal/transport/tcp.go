package transport

import (
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/annel0/voxelspace/internal/logging"
	"github.com/annel0/voxelspace/internal/protocol"
)

// tcpConn одно TCP-подключение на сервере
type tcpConn struct {
	id      ClientID
	conn    net.Conn
	writeMu sync.Mutex
	udpAddr *net.UDPAddr // адрес для ненадёжных датаграмм, nil до регистрации
}

// TCPServer серверный транспорт: TCP для надёжных каналов,
// UDP-сокет на том же порту для ненадёжного канала.
type TCPServer struct {
	addr     string
	listener net.Listener
	udp      *net.UDPConn
	events   chan Event

	mu      sync.RWMutex
	clients map[ClientID]*tcpConn
	closed  bool
	wg      sync.WaitGroup
}

// NewTCPServer создаёт транспорт на указанном адресе (host:port)
func NewTCPServer(addr string) *TCPServer {
	return &TCPServer{
		addr:    addr,
		events:  make(chan Event, eventBufferSize),
		clients: make(map[ClientID]*tcpConn),
	}
}

// Start открывает слушающие сокеты и запускает циклы приёма
func (s *TCPServer) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("не удалось открыть TCP %s: %w", s.addr, err)
	}

	udpAddr, err := net.ResolveUDPAddr("udp", s.addr)
	if err != nil {
		listener.Close()
		return fmt.Errorf("не удалось разобрать UDP-адрес %s: %w", s.addr, err)
	}
	udp, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		listener.Close()
		return fmt.Errorf("не удалось открыть UDP %s: %w", s.addr, err)
	}

	s.listener = listener
	s.udp = udp
	logging.Info("📡 Транспорт слушает TCP/UDP на %s", s.addr)

	s.wg.Add(2)
	go s.acceptLoop()
	go s.udpLoop()
	return nil
}

func (s *TCPServer) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}

		c := &tcpConn{id: ClientID(uuid.NewString()), conn: conn}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.clients[c.id] = c
		s.mu.Unlock()

		// Первый кадр соединения — выдача идентификатора, которым
		// клиент помечает свои UDP-датаграммы
		c.writeMu.Lock()
		err = writeFrame(conn, controlChannel, []byte(c.id))
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

func (s *TCPServer) readLoop(c *tcpConn) {
	defer s.wg.Done()
	for {
		ch, data, err := readFrame(c.conn)
		if err != nil {
			s.dropClient(c.id, err)
			return
		}
		s.events <- Event{Type: EventMessage, Client: c.id, Channel: ch, Data: data}
	}
}

// udpLoop принимает датаграммы вида [36 байт ClientID][канал u8][данные]
func (s *TCPServer) udpLoop() {
	defer s.wg.Done()
	buf := make([]byte, 65536)
	for {
		n, addr, err := s.udp.ReadFromUDP(buf)
		if err != nil {
			return
		}
		if n < 37 {
			continue
		}

		id := ClientID(buf[:36])
		s.mu.Lock()
		c, ok := s.clients[id]
		if ok && c.udpAddr == nil {
			c.udpAddr = addr
		}
		s.mu.Unlock()
		if !ok {
			continue
		}

		if n == 37 {
			// Пустая датаграмма — регистрация адреса
			continue
		}
		data := make([]byte, n-37)
		copy(data, buf[37:n])
		s.events <- Event{Type: EventMessage, Client: id, Channel: protocol.Channel(buf[36]), Data: data}
	}
}

// Send отправляет кадр клиенту. Ненадёжный канал идёт по UDP и
// молча отбрасывается, пока клиент не зарегистрировал свой адрес.
func (s *TCPServer) Send(client ClientID, ch protocol.Channel, data []byte) error {
	// udpAddr читается под той же блокировкой, под которой его
	// записывает udpLoop
	s.mu.RLock()
	c, ok := s.clients[client]
	var udpAddr *net.UDPAddr
	if ok {
		udpAddr = c.udpAddr
	}
	s.mu.RUnlock()
	if !ok {
		return ErrUnknownClient
	}

	if !ch.Reliable() {
		if udpAddr == nil {
			return nil
		}
		datagram := make([]byte, 1+len(data))
		datagram[0] = byte(ch)
		copy(datagram[1:], data)
		_, err := s.udp.WriteToUDP(datagram, udpAddr)
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := writeFrame(c.conn, ch, data); err != nil {
		go s.dropClient(client, err)
		return err
	}
	return nil
}

// Broadcast отправляет кадр всем клиентам
func (s *TCPServer) Broadcast(ch protocol.Channel, data []byte) {
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
func (s *TCPServer) Disconnect(client ClientID) {
	s.dropClient(client, nil)
}

func (s *TCPServer) dropClient(client ClientID, cause error) {
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
func (s *TCPServer) Events() <-chan Event { return s.events }

// Close останавливает транспорт и закрывает все соединения
func (s *TCPServer) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conns := make([]*tcpConn, 0, len(s.clients))
	for _, c := range s.clients {
		conns = append(conns, c)
	}
	s.clients = make(map[ClientID]*tcpConn)
	s.mu.Unlock()

	if s.listener != nil {
		s.listener.Close()
	}
	if s.udp != nil {
		s.udp.Close()
	}
	for _, c := range conns {
		c.conn.Close()
	}
	s.wg.Wait()
	close(s.events)
	return nil
}

// TCPClient клиентский транспорт поверх TCP + UDP
type TCPClient struct {
	conn   net.Conn
	udp    *net.UDPConn
	id     ClientID
	events chan ClientEvent

	writeMu sync.Mutex
	mu      sync.Mutex
	closed  bool
}

// DialTCP подключается к серверу и дожидается выдачи идентификатора
func DialTCP(addr string) (*TCPClient, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к %s: %w", addr, err)
	}

	// Сервер первым кадром присылает ClientID
	ch, data, err := readFrame(conn)
	if err != nil || ch != controlChannel {
		conn.Close()
		return nil, fmt.Errorf("не получен идентификатор подключения: %v", err)
	}

	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		conn.Close()
		return nil, err
	}
	udp, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		conn.Close()
		return nil, err
	}

	c := &TCPClient{
		conn:   conn,
		udp:    udp,
		id:     ClientID(data),
		events: make(chan ClientEvent, eventBufferSize),
	}

	// Регистрируем UDP-адрес пустой датаграммой
	if err := c.sendDatagram(0, nil); err != nil {
		logging.Warn("⚠️ Не удалось зарегистрировать UDP-адрес: %v", err)
	}

	go c.readLoop()
	go c.udpLoop()
	return c, nil
}

func (c *TCPClient) readLoop() {
	for {
		ch, data, err := readFrame(c.conn)
		if err != nil {
			c.markClosed(err)
			return
		}
		c.events <- ClientEvent{Type: EventMessage, Channel: ch, Data: data}
	}
}

func (c *TCPClient) udpLoop() {
	buf := make([]byte, 65536)
	for {
		n, err := c.udp.Read(buf)
		if err != nil {
			return
		}
		if n < 1 {
			continue
		}
		data := make([]byte, n-1)
		copy(data, buf[1:n])
		select {
		case c.events <- ClientEvent{Type: EventMessage, Channel: protocol.Channel(buf[0]), Data: data}:
		default:
			// Буфер полон, ненадёжный кадр отбрасывается
		}
	}
}

func (c *TCPClient) sendDatagram(ch protocol.Channel, data []byte) error {
	datagram := make([]byte, 36+1+len(data))
	copy(datagram, c.id)
	datagram[36] = byte(ch)
	copy(datagram[37:], data)
	_, err := c.udp.Write(datagram)
	return err
}

// Send отправляет кадр серверу
func (c *TCPClient) Send(ch protocol.Channel, data []byte) error {
	if !ch.Reliable() {
		return c.sendDatagram(ch, data)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return writeFrame(c.conn, ch, data)
}

// Events возвращает поток событий клиента
func (c *TCPClient) Events() <-chan ClientEvent { return c.events }

// Close закрывает соединение
func (c *TCPClient) Close() error {
	c.conn.Close()
	c.udp.Close()
	return nil
}

func (c *TCPClient) markClosed(cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.udp.Close()
	c.events <- ClientEvent{Type: EventDisconnected, Err: cause}
	close(c.events)
}
