package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv(env(nil))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.True(t, cfg.DevAuth())
}

func TestFromEnv_Overrides(t *testing.T) {
	cfg, err := FromEnv(env(map[string]string{
		"PORT":                  "9090",
		"DB_DRIVER":             "postgres",
		"DB_DSN":                "postgres://localhost/ledger",
		"JWT_SECRET":            "s3cret",
		"LANGUAGE":              "en",
		"OUTBOX_SWEEP_INTERVAL": "15s",
		"OUTBOX_GRACE":          "0s",
		"OUTBOX_MAX_ATTEMPTS":   "3",
		"MAX_COMMIT_ATTEMPTS":   "20",
		"CORS_ORIGINS":          "https://a.example, https://b.example,",
	}))
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "postgres", cfg.DBDriver)
	assert.Equal(t, "postgres://localhost/ledger", cfg.DBDSN)
	assert.False(t, cfg.DevAuth())
	assert.Equal(t, "en", cfg.Language)
	assert.Equal(t, 15*time.Second, cfg.OutboxSweepInterval)
	assert.Zero(t, cfg.OutboxGrace)
	assert.Equal(t, 3, cfg.OutboxMaxAttempts)
	assert.Equal(t, 20, cfg.MaxCommitAttempts)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
}

func TestFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"bad port", map[string]string{"PORT": "http"}, "PORT"},
		{"port range", map[string]string{"PORT": "70000"}, "PORT"},
		{"bad duration", map[string]string{"OUTBOX_GRACE": "soon"}, "OUTBOX_GRACE"},
		{"zero interval", map[string]string{"OUTBOX_SWEEP_INTERVAL": "0s"}, "OUTBOX_SWEEP_INTERVAL"},
		{"driver", map[string]string{"DB_DRIVER": "mysql"}, "DB_DRIVER"},
		{"dsn", map[string]string{"DB_DSN": ""}, "DB_DSN"},
		{"attempts", map[string]string{"MAX_COMMIT_ATTEMPTS": "0"}, "MAX_COMMIT_ATTEMPTS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromEnv(env(tt.env))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestFromEnv_MemoryNeedsNoDSN(t *testing.T) {
	cfg, err := FromEnv(env(map[string]string{"DB_DRIVER": "memory", "DB_DSN": ""}))
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.DBDriver)
}

func TestLoad_DotEnv(t *testing.T) {
	// GIVEN: a .env file setting the port and language
	// WHEN: Load reads it
	// THEN: its values apply and a missing file is ignored

	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("PORT=7070\nLANGUAGE=en\n"), 0o600))
	t.Setenv("PORT", "")
	os.Unsetenv("PORT")
	t.Setenv("LANGUAGE", "")
	os.Unsetenv("LANGUAGE")

	cfg, err := Load(path, filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Port)
	assert.Equal(t, "en", cfg.Language)
}

func TestLoad_EnvironmentWinsOverDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("PORT=7070\n"), 0o600))
	t.Setenv("PORT", "6060")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 6060, cfg.Port)
}
