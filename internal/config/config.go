// Package config loads linker defaults — library search directories and
// default file-type/aux-type metadata — from a config file and environment
// variables via github.com/spf13/viper, environment taking precedence
// (matching Manu343726-cucaracha's viper usage pattern). CLI flags are not
// read here.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config is the resolved set of linker defaults.
type Config struct {
	LibraryDirs    []string `mapstructure:"library_dirs"`
	DefaultFType   uint16   `mapstructure:"default_file_type"`
	DefaultAType   uint32   `mapstructure:"default_aux_type"`
	OverwritePolicy int     `mapstructure:"overwrite_policy"`
}

// Default returns the built-in defaults used when no config file exists.
func Default() Config {
	return Config{
		DefaultFType: 0xb3, // S16 executable, ProDOS file type
		DefaultAType: 0x0000,
	}
}

// Load reads `.merlinlink.yaml` from the current directory or the user's
// home directory (if present), then overlays MERLINLINK_* environment
// variables. No CLI flags are bound to v; the CLI appends its --lib-dir
// directories to the returned LibraryDirs itself.
func Load(v *viper.Viper) (Config, error) {
	cfg := Default()
	v.SetConfigName(".merlinlink")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home)
	}
	v.SetEnvPrefix("MERLINLINK")
	v.AutomaticEnv()

	v.SetDefault("library_dirs", cfg.LibraryDirs)
	v.SetDefault("default_file_type", cfg.DefaultFType)
	v.SetDefault("default_aux_type", cfg.DefaultAType)
	v.SetDefault("overwrite_policy", cfg.OverwritePolicy)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return cfg, fmt.Errorf("reading config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}
	for i, d := range cfg.LibraryDirs {
		cfg.LibraryDirs[i] = filepath.Clean(d)
	}
	return cfg, nil
}
