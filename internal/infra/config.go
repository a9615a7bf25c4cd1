package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata" // sequence.timezone должен работать и в distroless-образе

	"github.com/spf13/viper"
	"github.com/xela07ax/auditseq/internal/audit"
)

// Драйверы хранилищ (storage.sequence_driver, storage.audit_driver)
const (
	DriverPostgres = "postgres"
	DriverRedis    = "redis" // только для последовательностей
	DriverMemory   = "memory"
)

// Config — корневая структура конфигурации сервиса.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Sequence SequenceConfig `mapstructure:"sequence"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

// ServerConfig описывает административный HTTP API и порт метрик.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	AdminPort    int           `mapstructure:"admin_port"`
	MetricsPort  int           `mapstructure:"metrics_port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig описывает подключение к PostgreSQL.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// RedisConfig описывает подключение к Redis. URL, если задан, важнее Addr/Password/DB.
type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// AuthConfig — ключ проверки операторских JWT для административного API.
type AuthConfig struct {
	PublicKeyPath string `mapstructure:"public_key_path"`
	PublicKey     []byte
}

type StorageConfig struct {
	SequenceDriver string `mapstructure:"sequence_driver"` // postgres, redis, memory
	AuditDriver    string `mapstructure:"audit_driver"`    // postgres, memory
}

// AuditConfig — ручки пайплайна аудита.
type AuditConfig struct {
	BatchSize           int           `mapstructure:"batch_size"`
	FlushInterval       time.Duration `mapstructure:"flush_interval"`
	QueueCapacity       int           `mapstructure:"queue_capacity"`
	MaxFlushAttempts    int           `mapstructure:"max_flush_attempts"`
	ShutdownGracePeriod time.Duration `mapstructure:"shutdown_grace_period"`
	DrainRetryPause     time.Duration `mapstructure:"drain_retry_pause"`
	ServiceName         string        `mapstructure:"service_name"`

	Retry struct {
		MaxAttempts uint          `mapstructure:"max_attempts"`
		BaseDelay   time.Duration `mapstructure:"base_delay"`
		Multiplier  float64       `mapstructure:"multiplier"`
		MaxDelay    time.Duration `mapstructure:"max_delay"`
	} `mapstructure:"retry"`

	// Circuit Breaker перед хранилищем на синхронном пути
	Breaker struct {
		ConsecutiveFailures uint32        `mapstructure:"consecutive_failures"`
		MaxRequests         uint32        `mapstructure:"max_requests"`
		Interval            time.Duration `mapstructure:"interval"`
		Timeout             time.Duration `mapstructure:"timeout"`
	} `mapstructure:"breaker"`
}

// SequenceConfig — префиксы номеров и часовой пояс, в котором считается дата.
type SequenceConfig struct {
	Prefixes map[string]string `mapstructure:"prefixes"` // тип -> префикс; по умолчанию префикс = тип
	Timezone string            `mapstructure:"timezone"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
// Без аргументов файл ищется в "." и "./configs".
func LoadConfig(searchPaths ...string) (*Config, error) {
	v := viper.New()

	// 1. Настройка поиска файла
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(searchPaths) == 0 {
		searchPaths = []string{".", "./configs"}
	}
	for _, p := range searchPaths {
		v.AddConfigPath(p)
	}

	// 2. Переменные окружения перекрывают файл: AUDIT_BATCH_SIZE=100 перекроет audit.batch_size
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 3. Установка дефолтных значений
	setDefaults(v)

	// 4. Чтение файла
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет — работаем на ENV и дефолтах
	}

	// 5. Маппинг в структуру
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// 6. PEM-ключ из ENV (Docker/K8s) или из файла
	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.admin_port", 8080)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)

	// Пустые дефолты нужны, чтобы viper.Unmarshal видел ключи из ENV (DATABASE_URL и т.п.)
	v.SetDefault("database.url", "")
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("auth.public_key_path", "")

	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 25)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.auto_migrate", false)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.read_timeout", 3*time.Second)
	v.SetDefault("redis.write_timeout", 3*time.Second)

	v.SetDefault("storage.sequence_driver", DriverPostgres)
	v.SetDefault("storage.audit_driver", DriverPostgres)

	v.SetDefault("audit.batch_size", 50)
	v.SetDefault("audit.flush_interval", 5*time.Second)
	v.SetDefault("audit.queue_capacity", 0)
	v.SetDefault("audit.max_flush_attempts", 5)
	v.SetDefault("audit.shutdown_grace_period", 10*time.Second)
	v.SetDefault("audit.drain_retry_pause", 200*time.Millisecond)
	v.SetDefault("audit.service_name", "auditseq")
	v.SetDefault("audit.retry.max_attempts", 3)
	v.SetDefault("audit.retry.base_delay", 1*time.Second)
	v.SetDefault("audit.retry.multiplier", 2.0)
	v.SetDefault("audit.retry.max_delay", 5*time.Second)
	v.SetDefault("audit.breaker.consecutive_failures", 5)
	v.SetDefault("audit.breaker.max_requests", 1)
	v.SetDefault("audit.breaker.interval", 0)
	v.SetDefault("audit.breaker.timeout", 30*time.Second)

	v.SetDefault("sequence.timezone", "UTC")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
}

// Validate ловит несовместимые комбинации до старта компонентов.
func (c *Config) Validate() error {
	switch c.Storage.SequenceDriver {
	case DriverPostgres, DriverRedis, DriverMemory:
	default:
		return fmt.Errorf("config: unknown storage.sequence_driver %q", c.Storage.SequenceDriver)
	}
	switch c.Storage.AuditDriver {
	case DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("config: unknown storage.audit_driver %q", c.Storage.AuditDriver)
	}
	if c.UsesPostgres() && c.Database.URL == "" {
		return errors.New("config: database.url is required for the postgres driver")
	}
	if c.Audit.BatchSize <= 0 {
		return fmt.Errorf("config: audit.batch_size must be positive, got %d", c.Audit.BatchSize)
	}
	if c.Audit.FlushInterval <= 0 {
		return fmt.Errorf("config: audit.flush_interval must be positive, got %s", c.Audit.FlushInterval)
	}
	if _, err := c.Sequence.Location(); err != nil {
		return err
	}
	return nil
}

func (c *Config) UsesPostgres() bool {
	return c.Storage.SequenceDriver == DriverPostgres || c.Storage.AuditDriver == DriverPostgres
}

// ClientConfig переводит секцию audit в конфиг клиента аудита.
func (a AuditConfig) ClientConfig() audit.Config {
	return audit.Config{
		BatchSize:           a.BatchSize,
		FlushInterval:       a.FlushInterval,
		QueueCapacity:       a.QueueCapacity,
		MaxFlushAttempts:    a.MaxFlushAttempts,
		ShutdownGracePeriod: a.ShutdownGracePeriod,
		DrainRetryPause:     a.DrainRetryPause,
		ServiceName:         a.ServiceName,
		Retry: audit.RetryConfig{
			MaxAttempts: a.Retry.MaxAttempts,
			BaseDelay:   a.Retry.BaseDelay,
			Multiplier:  a.Retry.Multiplier,
			MaxDelay:    a.Retry.MaxDelay,
		},
		Breaker: audit.BreakerConfig{
			ConsecutiveFailures: a.Breaker.ConsecutiveFailures,
			MaxRequests:         a.Breaker.MaxRequests,
			Interval:            a.Breaker.Interval,
			Timeout:             a.Breaker.Timeout,
		},
	}
}

// Location — часовой пояс, в котором вычисляется дата номера.
func (s SequenceConfig) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config: invalid sequence.timezone %q: %w", s.Timezone, err)
	}
	return loc, nil
}

// loadKeyResource — ключ напрямую из ENV или из файла по пути из конфига
func loadKeyResource(path string, envDataKey string) []byte {
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
