package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "analyticsd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ANALYTICS_DATABASE_DSN", "")
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, ":3000", cfg.ListenAddress)
	require.Equal(t, DriverSQLite, cfg.Database.Driver)
	require.Equal(t, defaultSQLitePath, cfg.Database.Path)
}

func TestLoadHonoursPortEnv(t *testing.T) {
	t.Setenv("PORT", "4100")
	t.Setenv("ANALYTICS_DATABASE_DSN", "")
	path := writeConfig(t, "listen: \":9999\"\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":4100", cfg.ListenAddress)
}

func TestLoadInfersPostgresFromDSN(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ANALYTICS_DATABASE_DSN", "")
	path := writeConfig(t, `
database:
  dsn: "postgres://lendify:secret@db:5432/analytics"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, DriverPostgres, cfg.Database.Driver)
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ANALYTICS_DATABASE_DSN", "")
	cases := map[string]string{
		"driver":   "database:\n  driver: mysql\n",
		"postgres": "database:\n  driver: postgres\n",
		"port":     "port: 70000\n",
		"unknown":  "db: {}\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			require.Error(t, err)
		})
	}
}

func TestLoadRejectsMalformedPortEnv(t *testing.T) {
	t.Setenv("PORT", "http")
	_, err := Load("")
	require.Error(t, err)
}
