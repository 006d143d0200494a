package commands

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"

	"github.com/florianilch/firehose/internal/app"
)

const testConfig = `
log_level = "debug"
environment = "test"
tick_interval = "500ms"

[broadcast]
port = 9000

[environments.test]
token_api_host = "auth.test.example.com"
client_id = "client"
client_secret = "secret"
username = "alice"
password = "from-file"
stream_url = "https://stream.test.example.com/firehose"
max_connections = 4
token_storage = "keyring"

[environments.prod]
token_api_host = "auth.example.com"
client_id = "client"
username = "alice"
stream_url = "https://stream.example.com/firehose"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "firehose.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func noEnv() []string { return nil }

func TestLoadConfig_File(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, testConfig), nil, noEnv)
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.Environment)
	assert.Equal(t, 500*time.Millisecond, cfg.TickInterval)
	assert.Equal(t, uint16(9000), cfg.Broadcast.Port)
	assert.Equal(t, "127.0.0.1", cfg.Broadcast.Host)

	env, err := cfg.Selected()
	require.NoError(t, err)
	assert.Equal(t, "alice", env.Username)
	assert.Equal(t, "from-file", env.Password)
	assert.Equal(t, 4, env.MaxConnections)
	assert.Equal(t, app.TokenStorageTypeKeyring, env.TokenStorage)
	assert.Equal(t, "test", env.KeyringUser)
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	environ := func() []string {
		return []string{
			"FIREHOSE_ENVIRONMENTS__TEST__PASSWORD=from-env",
			"FIREHOSE_BROADCAST__DISABLED=true",
			"UNRELATED=ignored",
		}
	}

	cfg, err := loadConfig(writeConfig(t, testConfig), nil, environ)
	require.NoError(t, err)

	env, err := cfg.Selected()
	require.NoError(t, err)
	assert.Equal(t, "from-env", env.Password)
	assert.True(t, cfg.Broadcast.Disabled)
}

func TestLoadConfig_EnvSelectsEnvironment(t *testing.T) {
	dir := t.TempDir()
	environ := func() []string {
		return []string{
			"FIREHOSE_ENVIRONMENT=prod",
			"FIREHOSE_ENVIRONMENTS__PROD__FILE=" + filepath.Join(dir, "prod.token"),
		}
	}

	cfg, err := loadConfig(writeConfig(t, testConfig), nil, environ)
	require.NoError(t, err)

	env, err := cfg.Selected()
	require.NoError(t, err)
	assert.Equal(t, "https://stream.example.com/firehose", env.StreamURL)
	assert.Equal(t, app.TokenStorageTypeFile, env.TokenStorage)
	assert.Equal(t, filepath.Join(dir, "prod.token"), env.File)
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "missing.toml"), nil, noEnv)
	assert.ErrorContains(t, err, "loading config file")

	_, err = loadConfig(writeConfig(t, "environment = \"staging\"\n"), nil, noEnv)
	assert.ErrorContains(t, err, "invalid config")
}

func TestLoadConfig_Flags(t *testing.T) {
	path := writeConfig(t, testConfig)

	var cfg *app.Config
	cmd := &cli.Command{
		Name: "firehose",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config"},
			&cli.StringFlag{Name: "log-format", Value: "auto"},
		},
		Commands: []*cli.Command{
			{
				Name: "start",
				Flags: []cli.Flag{
					&cli.DurationFlag{Name: "tick-interval", Value: time.Second},
					&cli.StringFlag{Name: "broadcast--host", Value: "127.0.0.1"},
					&cli.IntFlag{Name: "broadcast--port", Value: 9871},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					var err error
					cfg, err = loadConfig(cmd.String("config"), cmd, noEnv)
					return err
				},
			},
		},
	}

	err := cmd.Run(context.Background(), []string{
		"firehose", "--config", path, "--log-format", "json",
		"start", "--tick-interval", "2s", "--broadcast--host", "0.0.0.0",
	})
	require.NoError(t, err)

	assert.Equal(t, app.LogFormatJSON, cfg.LogFormat)
	assert.Equal(t, 2*time.Second, cfg.TickInterval)
	assert.Equal(t, "0.0.0.0", cfg.Broadcast.Host)
	assert.Equal(t, uint16(9000), cfg.Broadcast.Port, "unset flags keep the file value")
}
