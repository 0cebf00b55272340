package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elonfeng/socialpulse/pkg/source"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "json", cfg.Storage.Backend)
	assert.Equal(t, 3, cfg.Collect.MaxAttempts)
	assert.Equal(t, 60*time.Second, cfg.Collect.ParseTimeout())
	assert.Equal(t, 6*time.Hour, cfg.Schedule.ParseInterval())
	assert.True(t, cfg.Report.Enabled)
	assert.Equal(t, "https://api.x.com", cfg.Collectors.Timeline.BaseURL)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
sources:
  - platform: x
    handle: "@golang"
    count: 20
  - platform: youtube
    handle: https://www.youtube.com/@GoogleDevelopers
    count: 10
storage:
  backend: sqlite
  sqlite:
    path: /tmp/pulse.db
collect:
  timeout: 15s
  max_attempts: 2
schedule:
  interval: nonsense
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, "/tmp/pulse.db", cfg.Storage.SQLite.Path)
	assert.Equal(t, 15*time.Second, cfg.Collect.ParseTimeout())
	assert.Equal(t, 6*time.Hour, cfg.Schedule.ParseInterval())
	assert.Equal(t, "./charts", cfg.Report.Dir)

	refs, err := cfg.Refs()
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, source.PlatformTimeline, refs[0].Platform)
	assert.Equal(t, "@golang", refs[0].Handle)
	assert.Equal(t, source.PlatformChannel, refs[1].Platform)
}

func TestRefsRejectsInvalid(t *testing.T) {
	cfg := Default()
	cfg.Sources = []source.Ref{{Platform: "myspace", Handle: "tom", Count: 1}}
	_, err := cfg.Refs()
	assert.Error(t, err)

	cfg.Sources = []source.Ref{{Platform: source.PlatformTimeline, Handle: "tom", Count: 0}}
	_, err = cfg.Refs()
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SOCIALPULSE_X_BEARER_TOKEN", "token-from-env")
	t.Setenv("SOCIALPULSE_MONGO_URI", "mongodb://db:27017")
	t.Setenv("SOCIALPULSE_FB_COOKIES", "c_user=1")
	t.Setenv("SLACK_WEBHOOK_URL", "https://hooks.slack.test/x")
	t.Setenv("SOCIALPULSE_PORT", "9090")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "token-from-env", cfg.Collectors.Timeline.BearerToken)
	assert.Equal(t, "mongodb://db:27017", cfg.Storage.Mongo.URI)
	assert.Equal(t, "c_user=1", cfg.Collectors.Page.Cookies)
	assert.True(t, cfg.Alerts.Slack.Enabled)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("YOUTUBE_API_KEY=from-dotenv\n"), 0o600))
	t.Setenv("YOUTUBE_API_KEY", "")
	os.Unsetenv("YOUTUBE_API_KEY")

	LoadEnv(nil, path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.Collectors.VideoAPI.APIKey)
}
