package eventbus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

var globalBus EventBus

// Init устанавливает глобальную шину процесса
func Init(bus EventBus) { globalBus = bus }

// Publish отправляет конверт в глобальную шину, если она инициализирована
func Publish(ctx context.Context, ev *Envelope) error {
	if globalBus == nil {
		return nil
	}
	return globalBus.Publish(ctx, ev)
}

// PublishSystem публикует системное событие процесса без полезной
// нагрузки (старт, остановка, смена региона)
func PublishSystem(source, eventType string) {
	_ = Publish(context.Background(), &Envelope{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Source:    source,
		EventType: eventType,
		Version:   1,
		Priority:  PriorityGameplay,
	})
}
