package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWhenNoConfigFile(t *testing.T) {
	dir := t.TempDir()
	restore := chdir(t, dir)
	defer restore()

	cfg, err := Load(viper.New())
	require.NoError(t, err)
	assert.Equal(t, Default().DefaultFType, cfg.DefaultFType)
	assert.Empty(t, cfg.LibraryDirs)
}

func TestLoad_ReadsYAMLFile(t *testing.T) {
	dir := t.TempDir()
	restore := chdir(t, dir)
	defer restore()

	yaml := "library_dirs:\n  - libs/one\n  - libs/two\ndefault_file_type: 6\noverwrite_policy: 1\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".merlinlink.yaml"), []byte(yaml), 0o644))

	cfg, err := Load(viper.New())
	require.NoError(t, err)
	assert.Equal(t, uint16(6), cfg.DefaultFType)
	assert.Equal(t, 1, cfg.OverwritePolicy)
	require.Len(t, cfg.LibraryDirs, 2)
	assert.Equal(t, filepath.Clean("libs/one"), cfg.LibraryDirs[0])
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	dir := t.TempDir()
	restore := chdir(t, dir)
	defer restore()

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".merlinlink.yaml"), []byte("default_file_type: 6\n"), 0o644))
	t.Setenv("MERLINLINK_DEFAULT_FILE_TYPE", "4")

	cfg, err := Load(viper.New())
	require.NoError(t, err)
	assert.Equal(t, uint16(4), cfg.DefaultFType)
}

func chdir(t *testing.T, dir string) func() {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	return func() { _ = os.Chdir(prev) }
}
