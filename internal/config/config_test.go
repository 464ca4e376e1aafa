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
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
jwt:
  secret: s3cret
database:
  dbname: queues
queue:
  no_show_after: 10m
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "queues", cfg.Database.DBName)
	assert.Equal(t, 10*time.Minute, cfg.Queue.NoShowAfter)
	assert.Equal(t, 5*time.Second, cfg.Queue.PollInterval)
	assert.Equal(t, 3, cfg.Notify.MaxAttempts)
}

func TestLoadEnvOverridesSecrets(t *testing.T) {
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("PORT", "9090")
	path := writeConfig(t, "jwt:\n  secret: from-file\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.JWT.Secret)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	_, err := Load(writeConfig(t, "server:\n  port: 1\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "jwt:\n  secret: x\ndatabase:\n  driver: sqlite\n"))
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDSN(t *testing.T) {
	db := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", DBName: "n", SSLMode: "disable", MaxConns: 4}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=n sslmode=disable pool_max_conns=4", db.DSN())
}

func TestNoShowSweepSetting(t *testing.T) {
	assert.Zero(t, Default().Queue.NoShowAfter)

	cfg, err := Load(writeConfig(t, "jwt:\n  secret: x\n"))
	require.NoError(t, err)
	assert.Zero(t, cfg.Queue.NoShowAfter)

	_, err = Load(writeConfig(t, "jwt:\n  secret: x\nqueue:\n  no_show_after: -1m\n"))
	assert.Error(t, err)
}
