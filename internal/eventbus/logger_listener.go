package eventbus

import (
	"context"

	"github.com/annel0/voxelspace/internal/logging"
)

// StartLoggingListener подписывается на все конверты шины и пишет их
// в стандартный лог. Функция неблокирующая.
func StartLoggingListener(bus EventBus) error {
	_, err := bus.Subscribe(context.Background(), Filter{}, func(ctx context.Context, ev *Envelope) {
		origin := "local"
		if ev.FromNetwork {
			origin = "net"
		}
		logging.Debug("[EventBus] %s %s src=%s %s prio=%d size=%dB",
			ev.ID, ev.EventType, ev.Source, origin, ev.Priority, len(ev.Payload))
	})
	if err != nil {
		return err
	}
	logging.Info("🪵 LoggingListener: подписка на все события активирована")
	return nil
}
