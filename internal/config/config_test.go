package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
server:
  port: 8081
  env: production
database:
  driver: mysql
  url: "user:pass@tcp(db:3306)/chat?parseTime=true"
jwt:
  secret: s3cret
chat:
  allow_auto_join: false
realtime:
  typing_timeout: 5s
  ping_interval: 10s
cors:
  allowed_origins: ["https://app.example.com"]
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_FromFileKeepsDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("CONFIG_PATH", writeConfig(t, sampleYAML))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Equal(t, "s3cret", cfg.JWT.Secret)
	assert.False(t, cfg.Chat.AllowAutoJoin)
	assert.Equal(t, 50, cfg.Chat.MessagePageSize)
	assert.Equal(t, 5*time.Second, cfg.Realtime.TypingTimeout)
	assert.Equal(t, 10*time.Second, cfg.Realtime.PingInterval)
	assert.Equal(t, 60*time.Second, cfg.Realtime.PongTimeout)
	assert.Equal(t, "memory", cfg.Realtime.Presence)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.CORS.AllowedOrigins)
	assert.Equal(t, "0.0.0.0:8081", cfg.Address())
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://chat@localhost/chat")
	t.Setenv("JWT_SECRET", "env-secret")
	t.Setenv("SERVER_PORT", "9000")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("BROKER_BACKEND", "local")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("CHAT_ALLOW_AUTO_JOIN", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres://chat@localhost/chat", cfg.Database.DSN)
	assert.Equal(t, "env-secret", cfg.JWT.Secret)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "redis", cfg.Realtime.Presence)
	assert.Equal(t, "local", cfg.Realtime.Broker)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
	assert.False(t, cfg.Chat.AllowAutoJoin)
}

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "nope.yaml"))

	_, err := Load()
	assert.ErrorContains(t, err, "failed to open config file")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Database.DSN = "chat.db"
		cfg.Database.Driver = "sqlite"
		cfg.JWT.Secret = "x"
		return cfg
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no dsn", func(c *Config) { c.Database.DSN = "" }, "database.url"},
		{"bad driver", func(c *Config) { c.Database.Driver = "oracle" }, "unsupported database driver"},
		{"no secret", func(c *Config) { c.JWT.Secret = "" }, "jwt.secret"},
		{"redis without url", func(c *Config) { c.Realtime.Broker = "redis" }, "redis_url"},
		{"zero typing timeout", func(c *Config) { c.Realtime.TypingTimeout = 0 }, "typing_timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}
