package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jiqinga/strmforge/internal/config"
)

func TestLoad_FallsBackToDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, config.Default().HTTPAddr, cfg.HTTPAddr)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strmforge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http_addr: \":9090\"\nstore_driver: sqlite\n"), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.HTTPAddr)
	require.Equal(t, "sqlite", cfg.StoreDriver)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strmforge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http_addr: \":9090\"\n"), 0o644))
	t.Setenv("STRMFORGE_HTTP_ADDR", ":7070")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, ":7070", cfg.HTTPAddr)
}

func TestConfigHolder_CurrentReflectsInitialLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strmforge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: debug\n"), 0o644))

	h, err := config.NewConfigHolder(path)
	require.NoError(t, err)
	require.Equal(t, "debug", h.Current().LogLevel)
}
