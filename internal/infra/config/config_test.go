package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "spotalong.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const validConfig = `
server:
  url: wss://example.com/ws
spotify:
  client_id: id
  client_secret: secret
  refresh_token: token
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	assert.Equal(t, "wss://example.com/ws", cfg.Server.URL)
	assert.Equal(t, 3.0, cfg.Tolerance())
	assert.Equal(t, 2*time.Second, cfg.Cooldown())
	assert.Equal(t, time.Second, cfg.PollInterval())
	assert.Equal(t, 100*time.Millisecond, cfg.AdPollInterval())
	assert.Equal(t, 200*time.Millisecond, cfg.BroadcastInterval())
	assert.Equal(t, 2*time.Second, cfg.ReconnectDelay())
	assert.Equal(t, "stdout", cfg.Logging.Output)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadExplicitValues(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig+`
sync:
  tolerance_sec: 5
  cooldown_ms: 1000
  poll_interval_ms: 500
`))
	require.NoError(t, err)

	assert.Equal(t, 5.0, cfg.Tolerance())
	assert.Equal(t, time.Second, cfg.Cooldown())
	assert.Equal(t, 500*time.Millisecond, cfg.PollInterval())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SPOTIFY_CLIENT_ID", "env-id")
	t.Setenv("SPOTIFY_REFRESH_TOKEN", "env-token")
	t.Setenv("SPOTALONG_SERVER_URL", "wss://env.example.com/ws")

	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	assert.Equal(t, "env-id", cfg.Spotify.ClientID)
	assert.Equal(t, "secret", cfg.Spotify.ClientSecret)
	assert.Equal(t, "env-token", cfg.Spotify.RefreshToken)
	assert.Equal(t, "wss://env.example.com/ws", cfg.Server.URL)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{
			name: "missing credentials",
			content: `
server:
  url: wss://example.com/ws
`,
			errMsg: "ClientID",
		},
		{
			name: "missing server url",
			content: `
spotify:
  client_id: id
  client_secret: secret
  refresh_token: token
`,
			errMsg: "URL",
		},
		{
			name: "poll interval too small",
			content: validConfig + `
sync:
  poll_interval_ms: 10
`,
			errMsg: "PollIntervalMs",
		},
		{
			name: "negative tolerance",
			content: validConfig + `
sync:
  tolerance_sec: -1
`,
			errMsg: "ToleranceSec",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg,
				"error message should mention the problematic field")
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "server: [not: valid"))
	assert.Error(t, err)
}
