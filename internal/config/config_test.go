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

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(Options{})
	require.NoError(t, err)

	assert.Contains(t, cfg.DB.URL, "localhost:5432/crudschemas")
	assert.Equal(t, int32(10), cfg.DB.MaxConns)
	assert.Equal(t, 30*time.Minute, cfg.DB.MaxConnLifetime)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, 5*time.Minute, cfg.Redis.TTL)
	assert.Empty(t, cfg.Redis.Addr)
	assert.Equal(t, "migrations", cfg.Migrations.Dir)
}

func TestLoadPrecedence(t *testing.T) {
	yamlPath := writeFile(t, "crudschemas.yaml", `
db:
  max_conns: 4
  url: postgres://yaml/db
log:
  level: debug
redis:
  addr: localhost:6379
`)
	t.Setenv("CRUDSCHEMAS_DB_URL", "postgres://env/db")

	cfg, err := Load(Options{
		Args:     []string{"--log-level", "warn"},
		YAMLFile: yamlPath,
	})
	require.NoError(t, err)

	assert.Equal(t, int32(4), cfg.DB.MaxConns, "yaml over default")
	assert.Equal(t, "postgres://env/db", cfg.DB.URL, "env over yaml")
	assert.Equal(t, "warn", cfg.Log.Level, "flag over yaml")
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestLoadEnvFile(t *testing.T) {
	envPath := writeFile(t, ".env", "CRUDSCHEMAS_MIGRATIONS_DIR=db/migrations\n")
	t.Setenv("CRUDSCHEMAS_MIGRATIONS_DIR", "")
	require.NoError(t, os.Unsetenv("CRUDSCHEMAS_MIGRATIONS_DIR"))

	cfg, err := Load(Options{EnvFile: envPath})
	require.NoError(t, err)
	assert.Equal(t, "db/migrations", cfg.Migrations.Dir)
}

func TestLoadMissingEnvFileIgnored(t *testing.T) {
	_, err := Load(Options{EnvFile: filepath.Join(t.TempDir(), "absent.env")})
	assert.NoError(t, err)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(Options{YAMLFile: filepath.Join(t.TempDir(), "absent.yaml")})
	assert.Error(t, err)

	bad := writeFile(t, "bad.yaml", "db: [unclosed")
	_, err = Load(Options{YAMLFile: bad})
	assert.Error(t, err)

	_, err = Load(Options{Args: []string{"--help"}})
	assert.True(t, errors.Is(err, ErrHelpWanted))
}

func TestParseYAMLFlattens(t *testing.T) {
	src, err := ParseYAML([]byte("nats:\n  url: nats://x:4222\n  prefix: shop\nempty:\n"))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"nats_url":    "nats://x:4222",
		"nats_prefix": "shop",
	}, src.values)
}

func TestStringMasksSecrets(t *testing.T) {
	cfg, err := Load(Options{})
	require.NoError(t, err)
	cfg.Redis.Password = "hunter2"

	out, err := String(cfg)
	require.NoError(t, err)
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "postgres:postgres@")

	usage, err := Usage()
	require.NoError(t, err)
	assert.Contains(t, usage, "CRUDSCHEMAS_DB_URL")
}
