package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Equal(t, "draft", cfg.PostingMode)
	assert.Equal(t, 2200, cfg.CaptionMaxLength)
	assert.Equal(t, ":8000", cfg.ListenAddr)
}

func TestLoadOverridesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"posting_mode": "direct",
		"rate_limit_per_minute": 12,
		"tg_allowed_chat_ids": "-100, -200 ,bogus"
	}`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "direct", cfg.PostingMode)
	assert.Equal(t, 12, cfg.RateLimitPerMinute)

	allowed := cfg.AllowedChatIDs()
	assert.True(t, allowed[-100])
	assert.True(t, allowed[-200])
	assert.Len(t, allowed, 2)
}

func TestLoadRejectsInvalidMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"posting_mode": "yolo"}`), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{nope"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TG_BOT_TOKEN", "env-token")
	t.Setenv("TIKTOK_CLIENT_KEY", "env-key")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Equal(t, "env-token", cfg.TGBotToken)
	assert.Equal(t, "env-key", cfg.TikTokClientKey)
}

func TestValidateFloorsWindows(t *testing.T) {
	cfg := DefaultSettings()
	cfg.MediaGroupFlushSeconds = 0
	cfg.RateLimitPerMinute = -5
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1, cfg.MediaGroupFlushSeconds)
	assert.Equal(t, 1, cfg.RateLimitPerMinute)
}

func TestChatAccountMapping(t *testing.T) {
	cfg := DefaultSettings()
	cfg.TGToTikTokMappingJSON = `{"-100123": ["acc1", " acc2 ", ""], "bogus": ["x"], "-200": []}`

	mapping := cfg.ChatAccountMapping()
	assert.Equal(t, []string{"acc1", "acc2"}, mapping[-100123])
	assert.Len(t, mapping, 1)

	cfg.TGToTikTokMappingJSON = "not json"
	assert.Empty(t, cfg.ChatAccountMapping())

	cfg.TGToTikTokMappingJSON = ""
	assert.Empty(t, cfg.ChatAccountMapping())
}
