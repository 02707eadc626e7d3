package bootstrap

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jakub-figat/chromatin/config"
)

func TestInstallLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := &config.AppConfig{Observability: config.ObservabilityConfig{LogLevel: "warn"}}
	logger := installLogger(&buf, cfg)

	logger.Info("hidden")
	logger.Warn("shown", "job_id", "j1")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "shown", line["msg"])
	assert.Equal(t, "chromatin", line["app"])
	assert.Equal(t, "j1", line["job_id"])
}

func TestLoadDotenv(t *testing.T) {
	t.Run("missing default file is fine", func(t *testing.T) {
		t.Chdir(t.TempDir())
		require.NoError(t, loadDotenv(""))
	})

	t.Run("missing explicit file fails", func(t *testing.T) {
		require.Error(t, loadDotenv(filepath.Join(t.TempDir(), "nope.env")))
	})

	t.Run("explicit file is loaded without overriding the environment", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "test.env")
		require.NoError(t, os.WriteFile(path, []byte("CHROMATIN_DOTENV_A=file\nCHROMATIN_DOTENV_B=file\n"), 0o600))
		t.Setenv("CHROMATIN_DOTENV_A", "env")
		t.Setenv("CHROMATIN_DOTENV_B", "")
		require.NoError(t, os.Unsetenv("CHROMATIN_DOTENV_B"))

		require.NoError(t, loadDotenv(" "+path+" ,"))
		assert.Equal(t, "env", os.Getenv("CHROMATIN_DOTENV_A"))
		assert.Equal(t, "file", os.Getenv("CHROMATIN_DOTENV_B"))
	})
}

func TestValidateServiceConfig(t *testing.T) {
	require.Error(t, ValidateServiceConfig(nil))
	require.Error(t, ValidateServiceConfig(&config.AppConfig{Services: "ftp"}))
	require.NoError(t, ValidateServiceConfig(&config.AppConfig{Services: "worker,http"}))

	assert.Equal(t, []string{"http", "worker"}, GetEnabledServices(&config.AppConfig{Services: "worker,http"}))
	assert.Empty(t, GetEnabledServices(&config.AppConfig{Services: "ftp"}))
	assert.Empty(t, GetEnabledServices(nil))
}
