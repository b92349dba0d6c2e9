package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

type Config struct {
	ServerConfig   ServerConfig   `yaml:"server"`
	PostgresConfig PostgresConfig `yaml:"postgres"`
	StorageConfig  StorageConfig  `yaml:"storage"`
	AuthConfig     AuthConfig     `yaml:"auth"`
	LogConfig      LogConfig      `yaml:"log"`
	EventsConfig   EventsConfig   `yaml:"events"`
}

type ServerConfig struct {
	Port            string        `yaml:"port" env:"SERVER_PORT" env-default:"3000"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT" env-default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT" env-default:"10s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT" env-default:"15s"`
}

type PostgresConfig struct {
	Host     string        `yaml:"host" env:"DB_HOST" env-default:"localhost"`
	Port     string        `yaml:"port" env:"DB_PORT" env-default:"5432"`
	DBName   string        `yaml:"dbname" env:"DB_DATABASE" env-default:"task_scheduler"`
	User     string        `yaml:"user" env:"DB_USERNAME" env-default:"postgres"`
	Password string        `yaml:"password" env:"DB_PASSWORD" env-default:"postgres"`
	SSLMode  string        `yaml:"sslmode" env:"DB_SSLMODE" env-default:"disable"`
	Timeout  time.Duration `yaml:"timeout" env:"DB_CONNECT_TIMEOUT" env-default:"30s"`
	MaxConns int32         `yaml:"max_conns" env:"DB_MAX_CONNS" env-default:"10"`
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

type StorageConfig struct {
	Driver string `yaml:"driver" env:"STORAGE_DRIVER" env-default:"postgres"`
	// Seed fills the memory store with demo data at startup.
	Seed bool `yaml:"seed" env:"STORAGE_SEED" env-default:"false"`
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret" env:"JWT_SECRET" env-default:"change-me-in-production"`
	TokenTTL  time.Duration `yaml:"token_ttl" env:"JWT_TTL" env-default:"168h"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"json"`
	Output string `yaml:"output" env:"LOG_OUTPUT" env-default:"stdout"`
	File   string `yaml:"file" env:"LOG_FILE"`
}

type EventsConfig struct {
	BufferSize int         `yaml:"buffer_size" env:"EVENTS_BUFFER_SIZE" env-default:"256"`
	Workers    int         `yaml:"workers" env:"EVENTS_WORKERS" env-default:"2"`
	Kafka      KafkaConfig `yaml:"kafka"`
}

type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers" env:"KAFKA_BROKERS" env-separator:","`
	Topic        string        `yaml:"topic" env:"KAFKA_TOPIC" env-default:"task-events"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"KAFKA_WRITE_TIMEOUT" env-default:"5s"`
}

func (k KafkaConfig) Enabled() bool { return len(k.Brokers) > 0 }

// Load reads path, falling back to environment and defaults when the file
// does not exist.
func Load(path string) (Config, error) {
	var (
		config Config
		err    error
	)
	if _, statErr := os.Stat(path); errors.Is(statErr, fs.ErrNotExist) {
		err = cleanenv.ReadEnv(&config)
	} else {
		err = cleanenv.ReadConfig(path, &config)
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := config.validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

func (c Config) validate() error {
	switch c.StorageConfig.Driver {
	case StorageMemory, StoragePostgres:
	default:
		return fmt.Errorf("unknown storage driver %q", c.StorageConfig.Driver)
	}
	if c.EventsConfig.BufferSize <= 0 || c.EventsConfig.Workers <= 0 {
		return errors.New("events buffer_size and workers must be positive")
	}
	return nil
}
