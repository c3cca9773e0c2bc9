package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 3, cfg.RetryMaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.RetryBaseDelay())
	assert.Equal(t, 10*time.Second, cfg.RetryAttemptTimeout())
	assert.Equal(t, 200, cfg.DeadLetterQueueCapacity)
	assert.Equal(t, 10*time.Minute, cfg.InboundDedupeTTL())
	assert.Equal(t, "https://graph.facebook.com/v18.0", cfg.WhatsAppAPIBase)
	assert.Empty(t, cfg.PostgresDSN)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("APP_HTTP_PORT", "9090")
	t.Setenv("APP_TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("APP_WEBHOOK_RATE_LIMIT_RPS", "2.5")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.HTTPPort)
	assert.Equal(t, "123:abc", cfg.TelegramBotToken)
	assert.Equal(t, 2.5, cfg.WebhookRateLimitRPS)
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	yaml := "DLQ_CAPACITY: 50\nSLACK_SIGNING_SECRET: from-file\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.defaults.yaml"), []byte(yaml), 0o600))
	t.Setenv("APP_SLACK_SIGNING_SECRET", "from-env")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.DeadLetterQueueCapacity)
	assert.Equal(t, "from-env", cfg.SlackSigningSecret)
}
