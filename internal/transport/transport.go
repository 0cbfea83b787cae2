// Package transport реализует сетевую границу ядра репликации:
// абстрактный надёжный упорядоченный канал и абстрактный ненадёжный
// канал. Управление перегрузкой, шифрование и обход NAT — забота
// конкретного транспорта, ядро о них не знает.
package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/annel0/voxelspace/internal/protocol"
)

// ClientID идентификатор подключения (UUID)
type ClientID string

// ErrUnknownClient возвращается при отправке отключившемуся клиенту.
// Рантайм проверяет этот случай перед каждой отправкой.
var ErrUnknownClient = errors.New("неизвестный клиент")

// EventType тип события серверного транспорта
type EventType int

const (
	// EventConnected новое подключение
	EventConnected EventType = iota
	// EventDisconnected клиент отключился
	EventDisconnected
	// EventMessage получен кадр
	EventMessage
)

// Event событие серверного транспорта
type Event struct {
	Type    EventType
	Client  ClientID
	Channel protocol.Channel
	Data    []byte
	Err     error
}

// ServerTransport серверная сторона транспортной границы
type ServerTransport interface {
	// Start запускает приём подключений
	Start() error
	// Send отправляет кадр клиенту по указанному каналу
	Send(client ClientID, ch protocol.Channel, data []byte) error
	// Broadcast отправляет кадр всем подключённым клиентам
	Broadcast(ch protocol.Channel, data []byte)
	// Disconnect принудительно отключает клиента
	Disconnect(client ClientID)
	// Events возвращает поток событий транспорта
	Events() <-chan Event
	// Close останавливает транспорт
	Close() error
}

// ClientEvent событие клиентского транспорта
type ClientEvent struct {
	Type    EventType // EventMessage или EventDisconnected
	Channel protocol.Channel
	Data    []byte
	Err     error
}

// ClientTransport клиентская сторона транспортной границы
type ClientTransport interface {
	Send(ch protocol.Channel, data []byte) error
	Events() <-chan ClientEvent
	Close() error
}

// controlChannel служебный канал транспорта (выдача ClientID)
const controlChannel protocol.Channel = 255

// maxFrameSize предельный размер кадра (защита от мусорных длин)
const maxFrameSize = 8 * 1024 * 1024

// writeFrame пишет кадр [канал u8][длина u32 BE][данные] в поток
func writeFrame(w io.Writer, ch protocol.Channel, data []byte) error {
	header := make([]byte, 5)
	header[0] = byte(ch)
	binary.BigEndian.PutUint32(header[1:], uint32(len(data)))
	if _, err := w.Write(header); err != nil {
		return err
	}
	if len(data) > 0 {
		if _, err := w.Write(data); err != nil {
			return err
		}
	}
	return nil
}

// readFrame читает кадр из потока
func readFrame(r io.Reader) (protocol.Channel, []byte, error) {
	header := make([]byte, 5)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, err
	}

	length := binary.BigEndian.Uint32(header[1:])
	if length > maxFrameSize {
		return 0, nil, fmt.Errorf("кадр слишком велик: %d байт", length)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return 0, nil, err
	}
	return protocol.Channel(header[0]), data, nil
}

const eventBufferSize = 4096
