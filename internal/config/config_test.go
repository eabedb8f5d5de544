package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const treasury = "0x9999999999999999999999999999999999999999"

func writeTOML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "escrowd.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func validConfig() Config {
	cfg := Defaults()
	cfg.Program.Treasury = treasury
	cfg.Program.Secret = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	return cfg
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeTOML(t, `
mode = "serve"

[program]
program_id = "escrow-test"
treasury = "`+treasury+`"
escrow_deposit = 2039280

[relay]
interval = "250ms"

[server]
port = 9090
signature_max_skew = "30s"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "serve", cfg.Mode)
	assert.Equal(t, "escrow-test", cfg.Program.ProgramID)
	assert.Equal(t, uint64(2039280), cfg.Program.EscrowDeposit)
	assert.Equal(t, 250*time.Millisecond, cfg.Relay.Interval.Duration)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.SignatureMaxSkew.Duration)

	// Untouched sections keep their defaults.
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, 500, cfg.Relay.BatchSize)
	assert.Equal(t, time.Minute, cfg.Server.RateWindow.Duration)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ESCROWD_MODE", "relay")
	t.Setenv("ESCROWD_STORE_BACKEND", "postgres")
	t.Setenv("ESCROWD_POSTGRES_DSN", "postgres://u:p@db:5432/escrow")
	t.Setenv("ESCROWD_REDIS_ENABLED", "true")
	t.Setenv("ESCROWD_SERVER_CORS_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("ESCROWD_SERVER_RATE_WINDOW", "10s")
	t.Setenv("ESCROWD_PROGRAM_ESCROW_DEPOSIT", "not-a-number")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "relay", cfg.Mode)
	assert.Equal(t, "postgres", cfg.Store.Backend)
	assert.Equal(t, "postgres://u:p@db:5432/escrow", cfg.Postgres.DSN)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 10*time.Second, cfg.Server.RateWindow.Duration)
	assert.Zero(t, cfg.Program.EscrowDeposit, "unparseable values are ignored")
}

func TestValidate(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"mode", func(c *Config) { c.Mode = "trade" }, `unknown mode "trade"`},
		{"treasury", func(c *Config) { c.Program.Treasury = "0x0" }, "program: treasury"},
		{"secret", func(c *Config) { c.Program.Secret = "" }, "program: either secret or encrypted_secret_path"},
		{"password", func(c *Config) {
			c.Program.Secret = ""
			c.Program.EncryptedSecretPath = "/etc/escrowd/secret.json"
		}, "secret_password is required"},
		{"backend", func(c *Config) { c.Store.Backend = "sqlite" }, `unknown backend "sqlite"`},
		{"relay on memory", func(c *Config) { c.Mode = "relay" }, "needs a shared backend"},
		{"pool", func(c *Config) {
			c.Store.Backend = "postgres"
			c.Postgres.PoolMinConns = 20
		}, "pool_min_conns must not exceed"},
		{"cron", func(c *Config) {
			c.Archive.Enabled = true
			c.Archive.Cron = "every day"
		}, "archive:"},
		{"skew", func(c *Config) { c.Server.SignatureMaxSkew.Duration = 0 }, "signature_max_skew"},
		{"telegram", func(c *Config) { c.Notify.TelegramToken = "t" }, "telegram_token and telegram_chat_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "nope"
	cfg.LogLevel = "loud"
	cfg.Relay.BatchSize = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "unknown log_level")
	assert.Contains(t, err.Error(), "relay: batch_size")
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Postgres.Password = "pg"
	cfg.Server.APIKey = "key"
	cfg.Notify.DiscordWebhookURL = "https://discord.example/hook"

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Program.Secret)
	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "***", out.Server.APIKey)
	assert.Equal(t, "***", out.Notify.DiscordWebhookURL)
	assert.Empty(t, out.Redis.Password, "empty secrets stay empty")
	assert.Equal(t, treasury, out.Program.Treasury)

	out.Server.CORSOrigins[0] = "mutated"
	assert.NotEqual(t, "mutated", cfg.Server.CORSOrigins[0])
	assert.NotEqual(t, "***", cfg.Program.Secret)
}

func TestProgramSecretConfig(t *testing.T) {
	p := ProgramConfig{Secret: "aa", EncryptedSecretPath: "/x", SecretPassword: "pw"}
	sc := p.SecretConfig()
	assert.Equal(t, "aa", sc.RawSecret)
	assert.Equal(t, "/x", sc.EncryptedPath)
	assert.Equal(t, "pw", sc.Password)
}
