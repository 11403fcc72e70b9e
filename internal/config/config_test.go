package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{
		"DATABASE_PATH", "PORT", "UPLOAD_DIR", "OPENAI_API_KEY", "OPENAI_SESSION_TOKEN",
		"ANTHROPIC_API_KEY", "DISCORD_TOKEN", "DISCORD_GUILD_IDS", "SLACK_TOKEN", "SLACK_CHANNELS",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadFileDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, DefaultAddr, cfg.Server.Addr)
	assert.Equal(t, DefaultTimeout, cfg.Sync.Timeout)
	assert.Equal(t, DefaultStaleAfter, cfg.Sync.StaleAfter)
	assert.Empty(t, cfg.Discord.BaseURL)
	assert.NotNil(t, cfg.Services)
}

func TestLoadFileYAMLAndEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
server:
  addr: ":9000"
sync:
  timeout: 5m
services:
  slack:
    enabled: true
    schedule: "*/15 * * * *"
slack:
  channels: [C1]
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	t.Setenv("SLACK_TOKEN", "xoxb-test")
	t.Setenv("DISCORD_GUILD_IDS", "g1, g2,,")
	t.Setenv("PORT", "4000")

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, ":4000", cfg.Server.Addr)
	assert.Equal(t, 5*time.Minute, cfg.Sync.Timeout)
	assert.True(t, cfg.Services["slack"].Enabled)
	assert.Equal(t, "xoxb-test", cfg.Slack.Token)
	assert.Equal(t, []string{"C1"}, cfg.Slack.Channels)
	assert.Equal(t, []string{"g1", "g2"}, cfg.Discord.GuildIDs)
}

func TestValidateRejectsBadSchedule(t *testing.T) {
	cfg := Default()
	cfg.Services["discord"] = ServiceConfig{Enabled: true, Schedule: "every tuesday"}
	require.Error(t, cfg.Validate())

	cfg.Services["discord"] = ServiceConfig{Enabled: true, Schedule: "0 * * * *"}
	require.NoError(t, cfg.Validate())
}

func TestSplitList(t *testing.T) {
	assert.Nil(t, SplitList(""))
	assert.Equal(t, []string{"a", "b"}, SplitList(" a ,b,"))
}
