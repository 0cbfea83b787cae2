package eventbus

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envelope(eventType, source string, prio int) *Envelope {
	return &Envelope{
		ID:        eventType + "-1",
		Timestamp: time.Now().UTC(),
		Source:    source,
		EventType: eventType,
		Version:   1,
		Priority:  prio,
		Payload:   []byte{1, 2, 3},
	}
}

func TestFilterMatches(t *testing.T) {
	ev := envelope("voxelspace:chat_message", "voxelspace-server", PriorityGameplay)

	assert.True(t, Filter{}.Matches(ev))
	assert.True(t, Filter{Types: []string{"voxelspace:chat_message"}}.Matches(ev))
	assert.False(t, Filter{Types: []string{"voxelspace:block_changed"}}.Matches(ev))
	assert.True(t, Filter{Sources: []string{"voxelspace-server"}}.Matches(ev))
	assert.False(t, Filter{Sources: []string{"voxelspace-client"}}.Matches(ev))
}

func TestMemoryBusDeliversByFilter(t *testing.T) {
	bus := NewMemoryBus(16)

	got := make(chan *Envelope, 4)
	_, err := bus.Subscribe(context.Background(),
		Filter{Types: []string{"voxelspace:block_changed"}},
		func(ctx context.Context, ev *Envelope) { got <- ev })
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), envelope("voxelspace:chat_message", "s", PriorityGameplay)))
	require.NoError(t, bus.Publish(context.Background(), envelope("voxelspace:block_changed", "s", PriorityGameplay)))

	select {
	case ev := <-got:
		assert.Equal(t, "voxelspace:block_changed", ev.EventType)
	case <-time.After(time.Second):
		t.Fatal("конверт не доставлен")
	}
	select {
	case ev := <-got:
		t.Fatalf("доставлен конверт мимо фильтра: %s", ev.EventType)
	case <-time.After(50 * time.Millisecond):
	}
}

// Переполненная очередь отбрасывает только конверты эффектов;
// игровые события ждут места.
func TestMemoryBusDropsEffectsWhenFull(t *testing.T) {
	// Цикл рассылки не запускается: очередь заполняется детерминированно
	bus := &memoryBus{subs: make(map[int]memorySub), queue: make(chan *Envelope, 1)}

	require.NoError(t, bus.Publish(context.Background(), envelope("voxelspace:explosion", "s", PriorityEffect)))
	require.NoError(t, bus.Publish(context.Background(), envelope("voxelspace:explosion", "s", PriorityEffect)))

	stats := bus.Metrics()
	assert.Equal(t, uint64(1), stats.Published)
	assert.Equal(t, uint64(1), stats.Dropped)

	// Игровое событие блокируется до отмены контекста, а не теряется
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := bus.Publish(ctx, envelope("voxelspace:chat_message", "s", PriorityGameplay))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, stats.Dropped, bus.Metrics().Dropped, "игровые события не отбрасываются")
}

func TestMemoryBusUnsubscribe(t *testing.T) {
	bus := NewMemoryBus(16)

	var delivered atomic.Int32
	sub, err := bus.Subscribe(context.Background(), Filter{},
		func(ctx context.Context, ev *Envelope) { delivered.Add(1) })
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), envelope("voxelspace:chat_message", "s", PriorityGameplay)))
	require.Eventually(t, func() bool { return delivered.Load() == 1 },
		time.Second, 10*time.Millisecond)

	sub.Unsubscribe()
	require.NoError(t, bus.Publish(context.Background(), envelope("voxelspace:chat_message", "s", PriorityGameplay)))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), delivered.Load())
}

func TestSubjectFor(t *testing.T) {
	assert.Equal(t, "events.voxelspace.chat_message", subjectFor("voxelspace:chat_message"))
	assert.Equal(t, "events.plain", subjectFor("plain"))
}
