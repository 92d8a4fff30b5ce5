package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
		Env  string `yaml:"env"`
	} `yaml:"server"`

	Database struct {
		Driver          string        `yaml:"driver"` // postgres, mysql, sqlite
		DSN             string        `yaml:"url"`
		MaxOpenConns    int           `yaml:"max_open_conns"`
		MaxIdleConns    int           `yaml:"max_idle_conns"`
		ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	} `yaml:"database"`

	JWT struct {
		Secret string `yaml:"secret"`
		TTL    int    `yaml:"ttl"` // minutes
	} `yaml:"jwt"`

	Storage struct {
		Type       string `yaml:"type"`        // local, s3, cloudflare_r2
		BasePath   string `yaml:"base_path"`   // For local storage
		BaseURL    string `yaml:"base_url"`    // Public URL base
		Bucket     string `yaml:"bucket"`      // For S3/R2
		Region     string `yaml:"region"`      // For S3
		AccessKey  string `yaml:"access_key"`  // For S3/R2
		SecretKey  string `yaml:"secret_key"`  // For S3/R2
		Endpoint   string `yaml:"endpoint"`    // For R2 or custom S3
		UseSSL     bool   `yaml:"use_ssl"`     // For S3/R2
		PublicRead bool   `yaml:"public_read"` // Make files public
	} `yaml:"storage"`

	Upload struct {
		MaxSize      int64    `yaml:"max_size"`      // bytes
		AllowedTypes []string `yaml:"allowed_types"` // MIME types; empty allows all
	} `yaml:"upload"`

	Chat struct {
		AllowAutoJoin   bool `yaml:"allow_auto_join"`
		DefaultPageSize int  `yaml:"default_page_size"`
		MessagePageSize int  `yaml:"message_page_size"`
	} `yaml:"chat"`

	Realtime struct {
		Presence      string        `yaml:"presence"` // memory, redis
		Broker        string        `yaml:"broker"`   // local, redis
		RedisURL      string        `yaml:"redis_url"`
		RedisChannel  string        `yaml:"redis_channel"`
		TypingTimeout time.Duration `yaml:"typing_timeout"`
		SendBuffer    int           `yaml:"send_buffer"`
		PingInterval  time.Duration `yaml:"ping_interval"`
		PongTimeout   time.Duration `yaml:"pong_timeout"`
	} `yaml:"realtime"`

	Log struct {
		Level      string `yaml:"level"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
	} `yaml:"log"`

	CORS struct {
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"cors"`
}

// Load reads configuration. A .env file is read first if present; when
// DATABASE_URL is set the whole configuration comes from the environment,
// otherwise from CONFIG_PATH (default config/config.yaml).
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	cfg := Default()

	if os.Getenv("DATABASE_URL") == "" {
		configPath := os.Getenv("CONFIG_PATH")
		if configPath == "" {
			configPath = "config/config.yaml"
		}
		if err := cfg.loadFile(configPath); err != nil {
			return nil, err
		}
	} else {
		cfg.loadEnv()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with every optional field populated.
func Default() *Config {
	var cfg Config
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = 4000
	cfg.Server.Env = "development"

	cfg.Database.Driver = "postgres"
	cfg.Database.MaxOpenConns = 25
	cfg.Database.MaxIdleConns = 5
	cfg.Database.ConnMaxLifetime = 30 * time.Minute

	cfg.JWT.TTL = 60

	cfg.Storage.Type = "local"
	cfg.Storage.BasePath = "./uploads"
	cfg.Storage.BaseURL = "/files"

	cfg.Upload.MaxSize = 20 * 1024 * 1024
	cfg.Upload.AllowedTypes = []string{
		"image/jpeg", "image/png", "image/gif", "image/webp",
		"video/mp4", "video/quicktime",
		"audio/mpeg", "audio/ogg", "audio/webm",
		"application/pdf",
	}

	cfg.Chat.AllowAutoJoin = true
	cfg.Chat.DefaultPageSize = 20
	cfg.Chat.MessagePageSize = 50

	cfg.Realtime.Presence = "memory"
	cfg.Realtime.Broker = "local"
	cfg.Realtime.RedisChannel = "chat:events"
	cfg.Realtime.TypingTimeout = 3 * time.Second
	cfg.Realtime.SendBuffer = 256
	cfg.Realtime.PingInterval = 30 * time.Second
	cfg.Realtime.PongTimeout = 60 * time.Second

	cfg.Log.Level = "info"
	return &cfg
}

func (c *Config) loadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open config file at %s: %w", path, err)
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(c); err != nil {
		return fmt.Errorf("failed to parse config file at %s: %w", path, err)
	}
	return nil
}

func (c *Config) loadEnv() {
	c.Database.DSN = os.Getenv("DATABASE_URL")
	setString(&c.Database.Driver, "DB_DRIVER")
	setString(&c.Server.Env, "SERVER_ENV")
	setString(&c.Server.Host, "SERVER_HOST")
	setInt(&c.Server.Port, "SERVER_PORT")
	setString(&c.JWT.Secret, "JWT_SECRET")
	setInt(&c.JWT.TTL, "JWT_TTL")

	setString(&c.Storage.Type, "STORAGE_TYPE")
	setString(&c.Storage.BasePath, "STORAGE_BASE_PATH")
	setString(&c.Storage.BaseURL, "STORAGE_BASE_URL")
	setString(&c.Storage.Bucket, "STORAGE_BUCKET")
	setString(&c.Storage.Region, "STORAGE_REGION")
	setString(&c.Storage.AccessKey, "STORAGE_ACCESS_KEY")
	setString(&c.Storage.SecretKey, "STORAGE_SECRET_KEY")
	setString(&c.Storage.Endpoint, "STORAGE_ENDPOINT")

	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Realtime.RedisURL = v
		c.Realtime.Presence = "redis"
		c.Realtime.Broker = "redis"
	}
	setString(&c.Realtime.Presence, "PRESENCE_BACKEND")
	setString(&c.Realtime.Broker, "BROKER_BACKEND")

	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Log.File, "LOG_FILE")

	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		c.CORS.AllowedOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("CHAT_ALLOW_AUTO_JOIN"); v != "" {
		c.Chat.AllowAutoJoin, _ = strconv.ParseBool(v)
	}
}

// Validate checks the fields the server cannot start without.
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return errors.New("database.url is required")
	}
	switch c.Database.Driver {
	case "postgres", "mysql", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}
	if c.JWT.Secret == "" {
		return errors.New("jwt.secret is required")
	}
	if (c.Realtime.Presence == "redis" || c.Realtime.Broker == "redis") && c.Realtime.RedisURL == "" {
		return errors.New("realtime.redis_url is required for redis presence or broker")
	}
	if c.Realtime.TypingTimeout <= 0 {
		return errors.New("realtime.typing_timeout must be positive")
	}
	return nil
}

func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
