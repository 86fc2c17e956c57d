// Package config loads dm-server settings from an optional .env file, an
// optional YAML file and DM_-prefixed environment variables, in rising
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/VinMeld/go-dm/internal/crypto"
	"github.com/VinMeld/go-dm/internal/transport"
)

const EnvPrefix = "DM"

type Config struct {
	Server Server
	Auth   Auth
	Crypto Crypto
	Store  Store
	Blob   Blob
	Redis  Redis
	Expiry Expiry
	Logger LoggerMode
}

type Server struct {
	Addr              string
	Debug             bool
	RegistrationToken string
	AllowOrigins      []string
	// PublicURL prefixes fileUrl for locally stored blobs.
	PublicURL string
}

type Auth struct {
	JWTSecret string
	TokenTTL  time.Duration
}

type Crypto struct {
	// MessageKey is the base64 encoded 32-byte message key.
	MessageKey string
}

type Store struct {
	Driver        string
	SQLitePath    string
	MongoURI      string
	MongoDatabase string
}

type Blob struct {
	Type   string
	Dir    string
	Bucket string
	Region string
}

// Redis enables the cross-instance relay when Addr is set.
type Redis struct {
	Addr     string
	Password string
	DB       int
}

type Expiry struct {
	SweepInterval       time.Duration
	ReadStatusRetention time.Duration
}

type LoggerMode struct {
	Development bool
	Level       string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", transport.DefaultServerAddr)
	v.SetDefault("server.debug", false)
	v.SetDefault("server.registrationToken", "")
	v.SetDefault("server.allowOrigins", []string{"*"})
	v.SetDefault("server.publicURL", transport.DefaultServerURL)
	v.SetDefault("auth.jwtSecret", "")
	v.SetDefault("auth.tokenTTL", 24*time.Hour)
	v.SetDefault("crypto.messageKey", "")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlitePath", "server_data/dm.db")
	v.SetDefault("store.mongoURI", "mongodb://localhost:27017")
	v.SetDefault("store.mongoDatabase", "dm")
	v.SetDefault("blob.type", "local")
	v.SetDefault("blob.dir", "server_data/blobs")
	v.SetDefault("blob.bucket", "")
	v.SetDefault("blob.region", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("expiry.sweepInterval", time.Minute)
	v.SetDefault("expiry.readStatusRetention", 30*24*time.Hour)
	v.SetDefault("logger.development", false)
	v.SetDefault("logger.level", "info")
}

// New returns a viper instance with defaults and environment binding.
// path may be empty, in which case only defaults and the environment
// apply.
func New(path string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		return v, nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return v, nil
}

func Parse(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		slog.Error("Unable to unmarshal config", "err", err)
		return nil, err
	}
	return &c, nil
}

// Load reads .env (if present), then path, then the environment, and
// validates the result.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using defaults/env vars")
	}
	v, err := New(path)
	if err != nil {
		return nil, err
	}
	c, err := Parse(v)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwtSecret is required")
	}
	if c.Server.RegistrationToken == "" && !c.Server.Debug {
		return errors.New("server.registrationToken is required unless server.debug is set")
	}
	if c.Crypto.MessageKey == "" {
		return errors.New("crypto.messageKey is required")
	}
	if _, err := crypto.ParseKey(c.Crypto.MessageKey); err != nil {
		return fmt.Errorf("crypto.messageKey: %w", err)
	}
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return errors.New("store.sqlitePath is required for the sqlite driver")
		}
	case "mongo":
		if c.Store.MongoURI == "" || c.Store.MongoDatabase == "" {
			return errors.New("store.mongoURI and store.mongoDatabase are required for the mongo driver")
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}
	switch c.Blob.Type {
	case "local":
		if c.Blob.Dir == "" {
			return errors.New("blob.dir is required for local storage")
		}
	case "s3":
		if c.Blob.Bucket == "" {
			return errors.New("blob.bucket is required for s3 storage")
		}
	default:
		return fmt.Errorf("unknown blob.type %q", c.Blob.Type)
	}
	if c.Expiry.SweepInterval <= 0 {
		return errors.New("expiry.sweepInterval must be positive")
	}
	return nil
}
