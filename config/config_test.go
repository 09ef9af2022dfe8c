package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cdpd.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadOverlaysDefinedKeys(t *testing.T) {
	path := writeConfig(t, `
tcp_addr = "127.0.0.1:9333"
serializer = " CBOR "
handler_timeout = "5s"
rate_limit = 20.0
rate_burst = 5
log_level = "debug"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9222", cfg.WebSocketAddr, "untouched keys keep defaults")
	assert.Equal(t, "127.0.0.1:9333", cfg.TCPAddr)
	assert.Equal(t, "cbor", cfg.Serializer)
	assert.Equal(t, 5*time.Second, cfg.HandlerTimeout)
	assert.Equal(t, 20.0, cfg.RateLimit)
	assert.Equal(t, 5, cfg.RateBurst)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadCanDisableWebSocket(t *testing.T) {
	path := writeConfig(t, `
websocket_addr = ""
tcp_addr = ":9333"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, cfg.WebSocketAddr)
}

func TestLoadRejects(t *testing.T) {
	cases := map[string]string{
		"bad duration":    `handler_timeout = "soon"`,
		"bad serializer":  `serializer = "xml"`,
		"no listener":     "websocket_addr = \"\"\n",
		"burst required":  "rate_limit = 3.0\n",
		"bad level":       `log_level = "loud"`,
		"unknown key":     `listen = ":1"`,
		"relative path":   `websocket_path = "devtools"`,
		"not toml at all": `= =`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}
