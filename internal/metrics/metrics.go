// Package metrics экспортирует Prometheus-метрики ядра репликации.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/annel0/voxelspace/internal/logging"
)

var (
	// MessagesTotal счётчик сообщений по направлению и каналу
	MessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voxelspace_messages_total",
		Help: "Количество сообщений по направлению и каналу",
	}, []string{"direction", "channel"})

	// BytesTotal счётчик байт полезной нагрузки по направлению
	BytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voxelspace_bytes_total",
		Help: "Байты полезной нагрузки по направлению",
	}, []string{"direction"})

	// DecodeErrorsTotal счётчик отброшенных нечитаемых кадров
	DecodeErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voxelspace_decode_errors_total",
		Help: "Кадры, отброшенные из-за ошибок декодирования",
	})

	// ConnectedClients текущее число подключённых клиентов
	ConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voxelspace_connected_clients",
		Help: "Текущее число подключённых клиентов",
	})

	// TickDuration длительность серверного тика
	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voxelspace_tick_duration_seconds",
		Help:    "Длительность серверного тика",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12),
	})

	// LodDeltasTotal счётчик отправленных LOD-дельт
	LodDeltasTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voxelspace_lod_deltas_total",
		Help: "Отправленные LOD-дельты",
	})

	// ComponentUpdatesTotal счётчик репликаций компонентов по имени
	ComponentUpdatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voxelspace_component_updates_total",
		Help: "Репликации компонентов по имени",
	}, []string{"component"})
)

// ObserveMessage учитывает одно сообщение
func ObserveMessage(direction, channel string, size int) {
	MessagesTotal.WithLabelValues(direction, channel).Inc()
	BytesTotal.WithLabelValues(direction).Add(float64(size))
}

// ObserveTick учитывает длительность тика
func ObserveTick(d time.Duration) {
	TickDuration.Observe(d.Seconds())
}

// Serve запускает HTTP-эндпоинт /metrics на указанном адресе
func Serve(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		logging.Info("📈 Метрики доступны на %s/metrics", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			logging.Error("❌ HTTP-сервер метрик остановлен: %v", err)
		}
	}()
}
