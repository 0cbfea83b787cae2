// Package config загружает конфигурацию приложения из YAML с fallback на ENV
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config корневая структура конфигурации приложения.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Client        ClientConfig        `yaml:"client"`
	EventBus      EventBusConfig      `yaml:"eventbus"`
	Storage       StorageConfig       `yaml:"storage"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig описывает сетевые параметры сервера
type ServerConfig struct {
	Transport     string `yaml:"transport"` // tcp | kcp | websocket
	TCPPort       int    `yaml:"tcp_port"`
	UDPPort       int    `yaml:"udp_port"`
	KCPPort       int    `yaml:"kcp_port"`
	WSPort        int    `yaml:"ws_port"`
	RESTPort      int    `yaml:"rest_port"`
	MetricsPort   int    `yaml:"metrics_port"`
	TickRate      int    `yaml:"tick_rate"`          // тиков в секунду
	SyncTimeout   int    `yaml:"sync_timeout_sec"`   // дедлайн подтверждения регистров клиентом
	LODScaleDist  int    `yaml:"lod_scale_distance"` // дистанция на один уровень детализации
	MaxClients    int    `yaml:"max_clients"`
	RegionID      string `yaml:"region_id"`
	EnableBridge  bool   `yaml:"enable_event_bridge"`
	EnableMetrics bool   `yaml:"enable_metrics"`
}

// ClientConfig описывает параметры клиента
type ClientConfig struct {
	ServerAddr      string `yaml:"server_addr"`
	UDPAddr         string `yaml:"udp_addr"`
	RegistryTimeout int    `yaml:"registry_timeout_sec"` // дедлайн загрузки регистров
}

// EventBusConfig описывает параметры шины событий
type EventBusConfig struct {
	URL       string `yaml:"url"`
	Stream    string `yaml:"stream"`
	Retention int    `yaml:"retention_hours"`
}

// StorageConfig описывает параметры хранилища структур
type StorageConfig struct {
	Path string `yaml:"path"`
}

// ObservabilityConfig описывает параметры трассировки
type ObservabilityConfig struct {
	Enabled      bool   `yaml:"enabled"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
}

// GetTCPPort возвращает TCP порт с поддержкой fallback значений
func (s *ServerConfig) GetTCPPort() int {
	return getPortWithEnvFallback(s.TCPPort, "VOXEL_TCP_PORT", 7777)
}

// GetUDPPort возвращает UDP порт с поддержкой fallback значений
func (s *ServerConfig) GetUDPPort() int {
	return getPortWithEnvFallback(s.UDPPort, "VOXEL_UDP_PORT", 7778)
}

// GetKCPPort возвращает KCP порт с поддержкой fallback значений
func (s *ServerConfig) GetKCPPort() int {
	return getPortWithEnvFallback(s.KCPPort, "VOXEL_KCP_PORT", 7779)
}

// GetWSPort возвращает WebSocket порт с поддержкой fallback значений
func (s *ServerConfig) GetWSPort() int {
	return getPortWithEnvFallback(s.WSPort, "VOXEL_WS_PORT", 7780)
}

// GetRESTPort возвращает REST API порт с поддержкой fallback значений
func (s *ServerConfig) GetRESTPort() int {
	return getPortWithEnvFallback(s.RESTPort, "VOXEL_REST_PORT", 8088)
}

// GetMetricsPort возвращает Prometheus метрики порт с поддержкой fallback значений
func (s *ServerConfig) GetMetricsPort() int {
	return getPortWithEnvFallback(s.MetricsPort, "VOXEL_METRICS_PORT", 2112)
}

// GetTickRate возвращает частоту тиков (по умолчанию 20 Гц)
func (s *ServerConfig) GetTickRate() int {
	if s.TickRate > 0 {
		return s.TickRate
	}
	return 20
}

// TickInterval возвращает длительность одного тика
func (s *ServerConfig) TickInterval() time.Duration {
	return time.Second / time.Duration(s.GetTickRate())
}

// GetSyncTimeout возвращает дедлайн подтверждения регистров
func (s *ServerConfig) GetSyncTimeout() time.Duration {
	if s.SyncTimeout > 0 {
		return time.Duration(s.SyncTimeout) * time.Second
	}
	return 30 * time.Second
}

// GetRegistryTimeout возвращает дедлайн загрузки регистров на клиенте
func (c *ClientConfig) GetRegistryTimeout() time.Duration {
	if c.RegistryTimeout > 0 {
		return time.Duration(c.RegistryTimeout) * time.Second
	}
	return 30 * time.Second
}

// getPortWithEnvFallback возвращает порт с приоритетом: config -> env -> default
func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	if configPort > 0 {
		return configPort
	}

	if envVal := os.Getenv(envVar); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}

	return defaultPort
}

// Load читает YAML файл конфигурации.
// Если path == "", пытается прочитать из ENV VOXEL_CONFIG или возвращает nil, nil.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("VOXEL_CONFIG")
		if path == "" {
			return nil, nil // конфиг не задан — использовать дефолты
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения конфига %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("ошибка разбора конфига %s: %w", path, err)
	}

	return &cfg, nil
}
