package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

type Config struct {
	ServerPort string `env:"SERVER_PORT,default=8080"`
	// PublicURL is where clients reach this server; locally stored uploads are linked under it.
	PublicURL string `env:"PUBLIC_URL"`

	StoreDriver string `env:"STORE_DRIVER,default=postgres"`
	DBHost      string `env:"DB_HOST,default=localhost"`
	DBPort      string `env:"DB_PORT,default=5432"`
	DBUser      string `env:"DB_USER,default=chatapp"`
	DBPassword  string `env:"DB_PASSWORD,default=chatapp_dev_password"`
	DBName      string `env:"DB_NAME,default=chatapp"`

	// Empty keeps the delivery bus and presence in-process.
	RedisURL string `env:"REDIS_URL"`

	JWTSecret string        `env:"JWT_SECRET,default=dev-secret-change-me"`
	TokenTTL  time.Duration `env:"TOKEN_TTL,default=24h"`

	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT,default=5s"`

	MinIOEndpoint  string `env:"MINIO_ENDPOINT"`
	MinIOAccessKey string `env:"MINIO_ACCESS_KEY"`
	MinIOSecretKey string `env:"MINIO_SECRET_KEY"`
	MinIOBucket    string `env:"MINIO_BUCKET,default=chat-images"`
	MinIOUseSSL    bool   `env:"MINIO_USE_SSL,default=false"`
	MinIOPublicURL string `env:"MINIO_PUBLIC_URL"`
	MaxImageBytes  int64  `env:"MAX_IMAGE_BYTES,default=5242880"`

	WSSendBuffer int     `env:"WS_SEND_BUFFER,default=256"`
	WSSendRate   float64 `env:"WS_SEND_RATE,default=5"`
	WSSendBurst  int     `env:"WS_SEND_BURST,default=10"`

	LogLevel string `env:"LOG_LEVEL,default=INFO"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.StoreDriver != StoreDriverPostgres && c.StoreDriver != StoreDriverMemory {
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StoreDriverPostgres, StoreDriverMemory, c.StoreDriver))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, errors.New("TOKEN_TTL must be positive"))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("REQUEST_TIMEOUT must be positive"))
	}
	if c.MaxImageBytes <= 0 {
		errs = append(errs, errors.New("MAX_IMAGE_BYTES must be positive"))
	}
	if c.WSSendBuffer <= 0 {
		errs = append(errs, errors.New("WS_SEND_BUFFER must be positive"))
	}
	if c.WSSendRate <= 0 || c.WSSendBurst <= 0 {
		errs = append(errs, errors.New("WS_SEND_RATE and WS_SEND_BURST must be positive"))
	}
	return errors.Join(errs...)
}

func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

// BlobStoreConfigured reports whether MinIO settings are present.
func (c *Config) BlobStoreConfigured() bool {
	return c.MinIOEndpoint != ""
}

// FilesBaseURL is the prefix for uploads served by this process.
func (c *Config) FilesBaseURL() string {
	base := c.PublicURL
	if base == "" {
		base = "http://localhost:" + c.ServerPort
	}
	return strings.TrimRight(base, "/") + "/files"
}
