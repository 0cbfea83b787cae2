package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/voxelspace/internal/protocol"
)

func waitEvent(t *testing.T, events <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(time.Second):
		t.Fatal("событие не пришло")
		return Event{}
	}
}

func waitClientEvent(t *testing.T, events <-chan ClientEvent) ClientEvent {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(time.Second):
		t.Fatal("событие клиента не пришло")
		return ClientEvent{}
	}
}

func TestMemoryConnectAndExchange(t *testing.T) {
	srv := NewMemoryServer()
	require.NoError(t, srv.Start())
	defer srv.Close()

	cl := srv.Connect()
	require.NotNil(t, cl)

	ev := waitEvent(t, srv.Events())
	assert.Equal(t, EventConnected, ev.Type)
	assert.Equal(t, cl.ID(), ev.Client)

	// Клиент -> сервер
	require.NoError(t, cl.Send(protocol.ChannelReliable, []byte("привет")))
	ev = waitEvent(t, srv.Events())
	assert.Equal(t, EventMessage, ev.Type)
	assert.Equal(t, cl.ID(), ev.Client)
	assert.Equal(t, protocol.ChannelReliable, ev.Channel)
	assert.Equal(t, []byte("привет"), ev.Data)

	// Сервер -> клиент
	require.NoError(t, srv.Send(cl.ID(), protocol.ChannelComponent, []byte{1, 2, 3}))
	cev := waitClientEvent(t, cl.Events())
	assert.Equal(t, EventMessage, cev.Type)
	assert.Equal(t, protocol.ChannelComponent, cev.Channel)
	assert.Equal(t, []byte{1, 2, 3}, cev.Data)
}

// Доставленный кадр не делит память с буфером отправителя.
func TestMemoryCopiesPayload(t *testing.T) {
	srv := NewMemoryServer()
	defer srv.Close()

	cl := srv.Connect()
	waitEvent(t, srv.Events())

	payload := []byte{1, 2, 3}
	require.NoError(t, cl.Send(protocol.ChannelReliable, payload))
	payload[0] = 99

	ev := waitEvent(t, srv.Events())
	assert.Equal(t, []byte{1, 2, 3}, ev.Data)
}

func TestMemoryBroadcast(t *testing.T) {
	srv := NewMemoryServer()
	defer srv.Close()

	a := srv.Connect()
	b := srv.Connect()
	waitEvent(t, srv.Events())
	waitEvent(t, srv.Events())

	srv.Broadcast(protocol.ChannelEvent, []byte("всем"))
	for _, cl := range []*MemoryClient{a, b} {
		ev := waitClientEvent(t, cl.Events())
		assert.Equal(t, []byte("всем"), ev.Data)
	}
}

func TestMemoryDisconnect(t *testing.T) {
	srv := NewMemoryServer()
	defer srv.Close()

	cl := srv.Connect()
	waitEvent(t, srv.Events())

	require.NoError(t, cl.Close())

	ev := waitClientEvent(t, cl.Events())
	assert.Equal(t, EventDisconnected, ev.Type)

	sev := waitEvent(t, srv.Events())
	assert.Equal(t, EventDisconnected, sev.Type)
	assert.Equal(t, cl.ID(), sev.Client)

	// После отключения обе стороны получают ошибку
	assert.ErrorIs(t, srv.Send(cl.ID(), protocol.ChannelReliable, nil), ErrUnknownClient)
	assert.ErrorIs(t, cl.Send(protocol.ChannelReliable, nil), ErrUnknownClient)

	// Повторное отключение безопасно
	srv.Disconnect(cl.ID())
}

func TestMemoryServerSideDisconnect(t *testing.T) {
	srv := NewMemoryServer()
	defer srv.Close()

	cl := srv.Connect()
	waitEvent(t, srv.Events())

	srv.Disconnect(cl.ID())
	ev := waitClientEvent(t, cl.Events())
	assert.Equal(t, EventDisconnected, ev.Type)
}

// Ненадёжные кадры отбрасываются при переполненном буфере клиента,
// не блокируя сервер.
func TestMemoryUnreliableDropsOnFullBuffer(t *testing.T) {
	srv := NewMemoryServer()
	defer srv.Close()

	cl := srv.Connect()
	waitEvent(t, srv.Events())

	done := make(chan struct{})
	go func() {
		for i := 0; i < eventBufferSize+64; i++ {
			_ = srv.Send(cl.ID(), protocol.ChannelUnreliable, []byte{byte(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("отправка ненадёжных кадров заблокировалась")
	}

	received := 0
	for {
		select {
		case <-cl.Events():
			received++
			continue
		default:
		}
		break
	}
	assert.LessOrEqual(t, received, eventBufferSize)
	assert.Greater(t, received, 0)
}

func TestMemoryCloseDisconnectsAll(t *testing.T) {
	srv := NewMemoryServer()
	cl := srv.Connect()
	waitEvent(t, srv.Events())

	require.NoError(t, srv.Close())
	ev := waitClientEvent(t, cl.Events())
	assert.Equal(t, EventDisconnected, ev.Type)

	assert.Nil(t, srv.Connect(), "после закрытия подключения не создаются")
	require.NoError(t, srv.Close(), "повторное закрытие безопасно")
}
