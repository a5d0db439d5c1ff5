package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", "")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_MissingFilesAreIgnored(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "nope.yaml"), filepath.Join(dir, ".env"))
	require.NoError(t, err)
	assert.Equal(t, "trainflow.db", cfg.Store.Path)
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "trainflow.yaml", `
store:
  path: /var/lib/trainflow/data.db
http:
  addr: 127.0.0.1:9000
  allowed_origins: [https://app.example.org]
  shutdown_timeout: 3s
redis:
  url: redis://localhost:6379/0
queue:
  capacity: 50
log:
  level: debug
  format: json
`)

	cfg, err := Load(path, "")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/trainflow/data.db", cfg.Store.Path)
	assert.Equal(t, "127.0.0.1:9000", cfg.HTTP.Addr)
	assert.Equal(t, []string{"https://app.example.org"}, cfg.HTTP.AllowedOrigins)
	assert.Equal(t, 3*time.Second, cfg.HTTP.ShutdownTimeout)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
	assert.Equal(t, "trainflow:changes", cfg.Redis.Prefix)
	assert.Equal(t, 50, cfg.Queue.Capacity)
	assert.Equal(t, 3, cfg.Queue.MaxRetries)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_UnknownKey(t *testing.T) {
	path := writeFile(t, "trainflow.yaml", "queue:\n  capacty: 10\n")
	_, err := Load(path, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "capacty")
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeFile(t, "trainflow.yaml", "queue:\n  capacity: 50\n")
	envFile := writeFile(t, ".env", "TRAINFLOW_QUEUE_CAPACITY=25\nTRAINFLOW_REDIS_URL=redis://dotenv:6379\n")
	t.Setenv("TRAINFLOW_REDIS_URL", "redis://process:6379")
	t.Setenv("TRAINFLOW_HTTP_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load(path, envFile)
	require.NoError(t, err)
	assert.Equal(t, 25, cfg.Queue.Capacity, ".env beats the YAML file")
	assert.Equal(t, "redis://process:6379", cfg.Redis.URL, "process env beats .env")
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.HTTP.AllowedOrigins)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{name: "capacity not a number", env: map[string]string{"TRAINFLOW_QUEUE_CAPACITY": "lots"}, want: "TRAINFLOW_QUEUE_CAPACITY"},
		{name: "zero retries", env: map[string]string{"TRAINFLOW_QUEUE_MAX_RETRIES": "0"}, want: "max_retries"},
		{name: "bad level", env: map[string]string{"TRAINFLOW_LOG_LEVEL": "loud"}, want: "log.level"},
		{name: "bad timeout", env: map[string]string{"TRAINFLOW_HTTP_SHUTDOWN_TIMEOUT": "soon"}, want: "SHUTDOWN_TIMEOUT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load("", "")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
