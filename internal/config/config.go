package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config корневая структура конфигурации amrd.
type Config struct {
	Mesh       MeshConfig        `yaml:"mesh"`
	Delivery   DeliveryConfig    `yaml:"delivery"`
	Quiescence QuiescenceConfig  `yaml:"quiescence"`
	Criteria   []CriterionConfig `yaml:"criteria"`
	Simulation SimulationConfig  `yaml:"simulation"`
	EventBus   EventBusConfig    `yaml:"eventbus"`
	Storage    StorageConfig     `yaml:"storage"`
	Logging    LoggingConfig     `yaml:"logging"`
	Server     ServerConfig      `yaml:"server"`
	Telemetry  TelemetryConfig   `yaml:"telemetry"`
}

// MeshConfig: геометрия и параметры адаптации сетки
type MeshConfig struct {
	Rank            int      `yaml:"rank"`
	BlockSize       [3]int   `yaml:"block_size"`
	NumFieldBlocks  int      `yaml:"num_field_blocks"`
	InitialCycle    int      `yaml:"initial_cycle"`
	InitialMaxLevel int      `yaml:"initial_max_level"`
	MaxLevel        int      `yaml:"max_level"` // 0: без ограничения
	Boundary        string   `yaml:"boundary"`  // closed | periodic
	Fields          []string `yaml:"fields"`
	Testing         bool     `yaml:"testing"`
}

// DeliveryConfig выбирает стратегию доставки сообщений между блоками
type DeliveryConfig struct {
	Mode string `yaml:"mode"` // concurrent | random
	Seed int64  `yaml:"seed"`
}

type QuiescenceConfig struct {
	TimeoutSeconds float64 `yaml:"timeout_seconds"`
}

// Timeout возвращает таймаут барьера; 0 отключает сторожевой таймер
func (q QuiescenceConfig) Timeout() time.Duration {
	return time.Duration(q.TimeoutSeconds * float64(time.Second))
}

// CriterionConfig описывает один критерий адаптации
type CriterionConfig struct {
	Type   string      `yaml:"type"` // max_level | constant | point | noise
	Level  int         `yaml:"level"`
	Action string      `yaml:"action"`
	Point  []float64   `yaml:"point"`
	Noise  NoiseConfig `yaml:"noise"`
}

// NoiseConfig: параметры шумового критерия. Отсутствующее поле (nil)
// оставляет значение по умолчанию, поэтому ноль задаётся явно.
type NoiseConfig struct {
	Seed         *int64   `yaml:"seed"`
	Alpha        *float64 `yaml:"alpha"`
	Beta         *float64 `yaml:"beta"`
	Octaves      *int32   `yaml:"octaves"`
	Frequency    *float64 `yaml:"frequency"`
	RefineAbove  *float64 `yaml:"refine_above"`  // в [0,1]
	CoarsenBelow *float64 `yaml:"coarsen_below"` // в [0,1]
}

type SimulationConfig struct {
	Cycles          int     `yaml:"cycles"`
	IntervalSeconds float64 `yaml:"interval_seconds"`
}

type EventBusConfig struct {
	URL       string `yaml:"url"` // пусто: шина в памяти
	Stream    string `yaml:"stream"`
	Retention int    `yaml:"retention_hours"`
}

type StorageConfig struct {
	Backend   string `yaml:"backend"` // none | memory | badger | redis
	Path      string `yaml:"path"`
	RedisAddr string `yaml:"redis_addr"`
	RedisDB   int    `yaml:"redis_db"`
	KeyPrefix string `yaml:"key_prefix"`
}

type LoggingConfig struct {
	Dir          string `yaml:"dir"`
	ConsoleLevel string `yaml:"console_level"`
	FileLevel    string `yaml:"file_level"`
}

type ServerConfig struct {
	RESTPort    int `yaml:"rest_port"`
	MetricsPort int `yaml:"metrics_port"`
}

type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	Insecure    bool   `yaml:"insecure"`
	ServiceName string `yaml:"service_name"`
}

// Default возвращает конфигурацию сценария «уточнить квадродерево до уровня 2»
func Default() *Config {
	return &Config{
		Mesh: MeshConfig{
			Rank:            2,
			BlockSize:       [3]int{16, 16, 1},
			NumFieldBlocks:  1,
			InitialMaxLevel: 2,
			Boundary:        "closed",
			Fields:          []string{"density"},
		},
		Delivery:   DeliveryConfig{Mode: "concurrent"},
		Quiescence: QuiescenceConfig{TimeoutSeconds: 30},
		Criteria:   []CriterionConfig{{Type: "max_level", Level: 2}},
		Simulation: SimulationConfig{Cycles: 1},
		EventBus:   EventBusConfig{Stream: "MESH", Retention: 24},
		Storage:    StorageConfig{Backend: "none", KeyPrefix: "amr"},
		Logging:    LoggingConfig{ConsoleLevel: "info", FileLevel: "debug"},
		Telemetry:  TelemetryConfig{ServiceName: "amrd"},
	}
}

// validate проверяет пороги: шум нормирован в [0,1]
func (n NoiseConfig) validate() error {
	for name, v := range map[string]*float64{"refine_above": n.RefineAbove, "coarsen_below": n.CoarsenBelow} {
		if v != nil && (*v < 0 || *v > 1) {
			return fmt.Errorf("noise.%s must be in [0,1], got %g", name, *v)
		}
	}
	if n.RefineAbove != nil && n.CoarsenBelow != nil && *n.CoarsenBelow > *n.RefineAbove {
		return fmt.Errorf("noise.coarsen_below %g is above refine_above %g", *n.CoarsenBelow, *n.RefineAbove)
	}
	return nil
}

// Validate проверяет согласованность параметров
func (c *Config) Validate() error {
	if c.Mesh.Rank < 1 || c.Mesh.Rank > 3 {
		return fmt.Errorf("mesh.rank must be 1, 2 or 3, got %d", c.Mesh.Rank)
	}
	if c.Mesh.InitialMaxLevel < 0 {
		return fmt.Errorf("mesh.initial_max_level must be >= 0, got %d", c.Mesh.InitialMaxLevel)
	}
	if c.Mesh.MaxLevel < 0 {
		return fmt.Errorf("mesh.max_level must be >= 0, got %d", c.Mesh.MaxLevel)
	}
	switch c.Delivery.Mode {
	case "", "concurrent", "random":
	default:
		return fmt.Errorf("delivery.mode %q: want concurrent or random", c.Delivery.Mode)
	}
	switch c.Storage.Backend {
	case "", "none", "memory", "badger", "redis":
	default:
		return fmt.Errorf("storage.backend %q: want none, memory, badger or redis", c.Storage.Backend)
	}
	if c.Storage.Backend == "badger" && c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required for badger backend")
	}
	if c.Quiescence.TimeoutSeconds < 0 {
		return fmt.Errorf("quiescence.timeout_seconds must be >= 0")
	}
	for i, cr := range c.Criteria {
		if cr.Type == "" {
			return fmt.Errorf("criteria[%d]: type is required", i)
		}
		if err := cr.Noise.validate(); err != nil {
			return fmt.Errorf("criteria[%d]: %w", i, err)
		}
	}
	return nil
}

// GetRESTPort возвращает порт админ-API с поддержкой fallback значений
func (s *ServerConfig) GetRESTPort() int {
	return getPortWithEnvFallback(s.RESTPort, "AMR_REST_PORT", 8088)
}

// GetMetricsPort возвращает порт Prometheus метрик с поддержкой fallback значений
func (s *ServerConfig) GetMetricsPort() int {
	return getPortWithEnvFallback(s.MetricsPort, "AMR_METRICS_PORT", 2112)
}

// getPortWithEnvFallback возвращает порт с приоритетом: config -> env -> default
func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	// Если порт задан в конфиге и больше 0, используем его
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

// Load читает YAML файл конфигурации поверх Default().
// Если path == "", пытается прочитать из ENV AMR_CONFIG, иначе возвращает Default().
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv("AMR_CONFIG")
		if path == "" {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}
