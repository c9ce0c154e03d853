// Package config loads service configuration from built-in defaults, an
// optional TOML file, an optional .env file and the process environment,
// in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Password hashers.
const (
	HasherBcrypt   = "bcrypt"
	HasherArgon2id = "argon2id"
)

// Config is the full service configuration.
type Config struct {
	Port        string `toml:"port" env:"PORT"`
	StoreDriver string `toml:"store_driver" env:"STORE_DRIVER"`

	Database   DatabaseConfig `toml:"database" envPrefix:"DB_"`
	SQLitePath string         `toml:"sqlite_path" env:"SQLITE_PATH"`

	JWTSecret      string        `toml:"jwt_secret" env:"JWT_SECRET"`
	JWTIssuer      string        `toml:"jwt_issuer" env:"JWT_ISSUER"`
	TokenTTL       time.Duration `toml:"token_ttl" env:"TOKEN_TTL"`
	PasswordHasher string        `toml:"password_hasher" env:"PASSWORD_HASHER"`
	BcryptCost     int           `toml:"bcrypt_cost" env:"BCRYPT_COST"`

	JoinTimeout      time.Duration `toml:"join_timeout" env:"JOIN_TIMEOUT"`
	ReconcileOnStart bool          `toml:"reconcile_on_start" env:"RECONCILE_ON_START"`

	LogLevel string `toml:"log_level" env:"LOG_LEVEL"`
	LogDev   bool   `toml:"log_dev" env:"LOG_DEV"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string `toml:"host" env:"HOST"`
	Port     string `toml:"port" env:"PORT"`
	User     string `toml:"user" env:"USER"`
	Password string `toml:"password" env:"PASSWORD"`
	Name     string `toml:"name" env:"NAME"`
	SSLMode  string `toml:"sslmode" env:"SSLMODE"`
	MaxConns int32  `toml:"max_conns" env:"MAX_CONNS"`
}

// DSN builds a libpq-compatible connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// URL builds a postgres:// connection URL, as expected by the migration driver.
func (c DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

// Default returns the local-development defaults.
func Default() Config {
	return Config{
		Port:        "8080",
		StoreDriver: DriverPostgres,
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     "5432",
			User:     "postgres",
			Password: "postgres",
			Name:     "eventjoin",
			SSLMode:  "disable",
			MaxConns: 20,
		},
		SQLitePath:       "eventjoin.db",
		JWTIssuer:        "eventjoin",
		TokenTTL:         time.Hour,
		PasswordHasher:   HasherBcrypt,
		BcryptCost:       10,
		JoinTimeout:      5 * time.Second,
		ReconcileOnStart: true,
		LogLevel:         "info",
	}
}

// Load builds a Config. path names an optional TOML file; an empty path skips it.
// A .env file in the working directory is loaded best-effort and never
// overrides variables already present in the environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("decode config file %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	cfg.PasswordHasher = strings.ToLower(strings.TrimSpace(cfg.PasswordHasher))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot run with.
func (c Config) Validate() error {
	switch c.StoreDriver {
	case DriverPostgres, DriverSQLite, DriverMemory:
	default:
		return fmt.Errorf("STORE_DRIVER: unknown driver %q", c.StoreDriver)
	}
	switch c.PasswordHasher {
	case HasherBcrypt, HasherArgon2id:
	default:
		return fmt.Errorf("PASSWORD_HASHER: unknown hasher %q", c.PasswordHasher)
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be positive")
	}
	if c.JoinTimeout <= 0 {
		return fmt.Errorf("JOIN_TIMEOUT must be positive")
	}
	if c.JWTSecret == "" && c.StoreDriver != DriverMemory {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.StoreDriver == DriverSQLite && c.SQLitePath == "" {
		return fmt.Errorf("SQLITE_PATH is required for the sqlite driver")
	}
	return nil
}
