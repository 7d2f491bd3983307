package config

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config корневая структура конфигурации приложения.
type Config struct {
	Sim    SimConfig    `yaml:"sim"`
	Sync   SyncConfig   `yaml:"sync"`
	Server ServerConfig `yaml:"server"`
	Demo   DemoConfig   `yaml:"demo"`
	Bus    BusConfig    `yaml:"eventbus"`
}

// SimConfig параметры детерминированной симуляции
type SimConfig struct {
	TickRate  int    `yaml:"tick_rate"`  // Тиков в секунду (по умолчанию 50)
	Seed      uint64 `yaml:"seed"`       // Сид мира; 0 — взять из окружения/дефолта
	MapWidth  int32  `yaml:"map_width"`  // Ширина карты в тайлах
	MapHeight int32  `yaml:"map_height"` // Высота карты в тайлах
}

// SyncConfig параметры синхронизации снапшотов
type SyncConfig struct {
	FullInterval  uint64 `yaml:"full_interval"`  // Каждый N-й тик отправляется полный снапшот
	HistoryWindow int    `yaml:"history_window"` // Размер окна истории в тиках
	UseZstd       bool   `yaml:"use_zstd"`       // Сжимать ли payload снапшотов
}

// ServerConfig сетевые порты сервера
type ServerConfig struct {
	KCPPort     int `yaml:"kcp_port"`
	UDPPort     int `yaml:"udp_port"`
	MetricsPort int `yaml:"metrics_port"`
}

// DemoConfig параметры записи демо
type DemoConfig struct {
	Enabled bool   `yaml:"enabled"`
	DataDir string `yaml:"data_dir"`
}

// BusConfig параметры шины событий
type BusConfig struct {
	URL            string `yaml:"url"`    // nats://…; пусто — in-memory шина
	Stream         string `yaml:"stream"` // Имя JetStream стрима
	RetentionHours int    `yaml:"retention_hours"`
}

// GetKCPPort возвращает KCP порт с поддержкой fallback значений
func (s *ServerConfig) GetKCPPort() int {
	return getPortWithEnvFallback(s.KCPPort, "ARENA_KCP_PORT", 7777)
}

// GetUDPPort возвращает UDP порт с поддержкой fallback значений
func (s *ServerConfig) GetUDPPort() int {
	return getPortWithEnvFallback(s.UDPPort, "ARENA_UDP_PORT", 7778)
}

// GetMetricsPort возвращает Prometheus метрики порт с поддержкой fallback значений
func (s *ServerConfig) GetMetricsPort() int {
	return getPortWithEnvFallback(s.MetricsPort, "ARENA_METRICS_PORT", 2112)
}

// TickRateOrDefault возвращает тикрейт с дефолтом 50 Гц
func (s *SimConfig) TickRateOrDefault() int {
	if s.TickRate > 0 {
		return s.TickRate
	}
	return 50
}

// FullIntervalOrDefault возвращает интервал полных снапшотов (дефолт 10 тиков)
func (s *SyncConfig) FullIntervalOrDefault() uint64 {
	if s.FullInterval > 0 {
		return s.FullInterval
	}
	return 10
}

// HistoryWindowOrDefault возвращает окно истории (дефолт 128 тиков)
func (s *SyncConfig) HistoryWindowOrDefault() int {
	if s.HistoryWindow > 0 {
		return s.HistoryWindow
	}
	return 128
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
// Если path == "", пытается прочитать из ENV ARENA_CONFIG или возвращает nil, nil.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("ARENA_CONFIG")
		if path == "" {
			return nil, nil // конфиг не задан — использовать дефолты
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
