package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	Server  ServerConfig
	DB      DBConfig
	Valkey  ValkeyConfig
	Log     LogConfig
	Runtime RuntimeConfig

	JWTSecret string `env:"JWT_SECRET" envDefault:"super-secret-key-change-me"`
}

type ServerConfig struct {
	Port        string   `env:"SERVER_PORT" envDefault:"8080"`
	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"*"`
}

type DBConfig struct {
	Driver         string `env:"DB_DRIVER" envDefault:"postgres"`
	Host           string `env:"DB_HOST" envDefault:"localhost"`
	Port           string `env:"DB_PORT" envDefault:"5432"`
	User           string `env:"DB_USER" envDefault:"postgres"`
	Password       string `env:"DB_PASSWORD" envDefault:"postgres"`
	Name           string `env:"DB_NAME" envDefault:"quizsession"`
	SSLMode        string `env:"DB_SSLMODE" envDefault:"disable"`
	MaxOpenConns   int    `env:"DB_MAX_OPEN_CONNS" envDefault:"20"`
	ConnectRetries int    `env:"DB_CONNECT_RETRIES" envDefault:"5"`
}

// DSN returns the postgres connection string, or the file path when the driver is sqlite.
func (c DBConfig) DSN() string {
	if c.Driver == DriverSQLite {
		return c.Name
	}
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// ValkeyConfig: an empty Addr disables the cross-instance relay.
type ValkeyConfig struct {
	Addr          string `env:"VALKEY_ADDR"`
	Password      string `env:"VALKEY_PASSWORD"`
	ChannelPrefix string `env:"VALKEY_CHANNEL_PREFIX" envDefault:"quiz:session:"`
}

func (c ValkeyConfig) Enabled() bool { return c.Addr != "" }

type LogConfig struct {
	Level      string `env:"LOG_LEVEL" envDefault:"info"`
	Dir        string `env:"LOG_DIR"`
	MaxSizeMB  int    `env:"LOG_MAX_SIZE_MB" envDefault:"50"`
	MaxBackups int    `env:"LOG_MAX_BACKUPS" envDefault:"5"`
	MaxAgeDays int    `env:"LOG_MAX_AGE_DAYS" envDefault:"14"`
	Compress   bool   `env:"LOG_COMPRESS" envDefault:"true"`
}

type RuntimeConfig struct {
	AdvanceMaxRetries   int           `env:"ADVANCE_MAX_RETRIES" envDefault:"5"`
	TimeLeftTolerance   time.Duration `env:"TIME_LEFT_TOLERANCE" envDefault:"2s"`
	WSMessagesPerSecond float64       `env:"WS_MESSAGES_PER_SECOND" envDefault:"5"`
	WSBurst             int           `env:"WS_BURST" envDefault:"10"`
	HubBufferSize       int           `env:"HUB_BUFFER_SIZE" envDefault:"64"`
}

// Load reads an optional .env file and then the process environment.
func Load(dotenvPaths ...string) (*Config, error) {
	if err := loadDotenvIfPresent(dotenvPaths...); err != nil {
		return nil, err
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.DB.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DB.Driver)
	}
	if c.DB.ConnectRetries < 1 {
		return errors.New("DB_CONNECT_RETRIES must be at least 1")
	}
	if c.Runtime.AdvanceMaxRetries < 1 {
		return errors.New("ADVANCE_MAX_RETRIES must be at least 1")
	}
	if c.Runtime.HubBufferSize < 1 {
		return errors.New("HUB_BUFFER_SIZE must be at least 1")
	}
	if c.Runtime.WSMessagesPerSecond <= 0 || c.Runtime.WSBurst < 1 {
		return errors.New("WS_MESSAGES_PER_SECOND and WS_BURST must be positive")
	}
	return nil
}

func loadDotenvIfPresent(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("stat dotenv file failed path=%s: %w", path, err)
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load dotenv file failed path=%s: %w", path, err)
		}
	}
	return nil
}
