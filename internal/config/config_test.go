package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromYAMLAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "telegram:\n  token: tg-token\ncrm:\n  webhook_url: https://example.bitrix24.ru/rest/1/abc/\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "tg-token", cfg.Telegram.Token)
	assert.Equal(t, 30*time.Second, cfg.CRM.Timeout)
	assert.Equal(t, 500*time.Millisecond, cfg.CRM.UploadPace)
	assert.Equal(t, "Смены", cfg.CRM.Entities.Shift)
	assert.Equal(t, "memory", cfg.Storage.SessionBackend)
	assert.Equal(t, int64(10*1024*1024), cfg.LogMaxSize())
}

func TestValidateRequiresTokenAndWebhook(t *testing.T) {
	cfg := &Config{}
	cfg.Bot.Timezone = "UTC"

	var cfgErr *ConfigError
	err := cfg.Validate()
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "TELEGRAM_TOKEN", cfgErr.Field)

	cfg.Telegram.Token = "x"
	err = cfg.Validate()
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "BITRIX_WEBHOOK_URL", cfgErr.Field)

	cfg.CRM.WebhookURL = "https://example/rest/1/x/"
	assert.NoError(t, cfg.Validate())
}
