package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// configName is the config file name without extension.
const configName = ".quicklook"

// configType is the config file format.
const configType = "yaml"

// envPrefix is the environment variable prefix for quicklook settings.
const envPrefix = "QUICKLOOK"

// envKeySeparator is the nested key separator in environment variable names.
const envKeySeparator = "_"

// Default values for zero-config startup.
const (
	DefaultCoordinatorBaseURL  = "http://localhost:9501"
	DefaultFrontendPort        = 9500
	DefaultHeartbeatInterval   = 10
	DefaultMaxRAMLimitStage    = 4
	DefaultMaxDiskLimitStage   = 8
	DefaultMaxTransferLimit    = 4
	DefaultCleanupDelaySeconds = 30
	DefaultTileSize            = 256
	DefaultTileMaxLevel        = 8
	DefaultTilePack            = 3
	DefaultMaxStorageEntries   = 100
	DefaultTTLSeconds          = 86400
	DefaultEnvironment         = EnvProduction
	DefaultS3Secure            = false
)

// LoadConfig loads configuration from file, env vars, and defaults.
// If configPath is non-empty, it is used as the explicit config file path.
// Otherwise, the config file is searched in CWD and $HOME.
// When searching, a missing config file is not an error; defaults are used.
// A non-empty configPath that does not exist is an error.
func LoadConfig(configPath string) (*Config, error) {
	viperCfg := viper.New()

	applyDefaults(viperCfg)

	viperCfg.SetConfigType(configType)
	viperCfg.SetEnvPrefix(envPrefix)
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", envKeySeparator))
	viperCfg.AutomaticEnv()

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName(configName)
		viperCfg.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viperCfg.AddConfigPath(home)
		}
	}

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFound) {
			return nil, fmt.Errorf("read config: %w", readErr)
		}
	}

	var cfg Config

	unmarshalErr := viperCfg.Unmarshal(&cfg)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("unmarshal config: %w", unmarshalErr)
	}

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("validate config: %w", validateErr)
	}

	return &cfg, nil
}

func applyDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("environment", DefaultEnvironment)

	viperCfg.SetDefault("coordinator.base_url", DefaultCoordinatorBaseURL)
	viperCfg.SetDefault("coordinator.frontend_port", DefaultFrontendPort)
	viperCfg.SetDefault("coordinator.heartbeat_interval", DefaultHeartbeatInterval)

	viperCfg.SetDefault("job.max_ram_limit_stage", DefaultMaxRAMLimitStage)
	viperCfg.SetDefault("job.max_disk_limit_stage", DefaultMaxDiskLimitStage)
	viperCfg.SetDefault("job.max_transfer_limit_stage", DefaultMaxTransferLimit)
	viperCfg.SetDefault("job.cleanup_delay_seconds", DefaultCleanupDelaySeconds)

	viperCfg.SetDefault("tile.size", DefaultTileSize)
	viperCfg.SetDefault("tile.max_level", DefaultTileMaxLevel)
	viperCfg.SetDefault("tile.pack", DefaultTilePack)

	viperCfg.SetDefault("storage.max_entries", DefaultMaxStorageEntries)
	viperCfg.SetDefault("storage.ttl_seconds", DefaultTTLSeconds)

	viperCfg.SetDefault("s3_tile.secure", DefaultS3Secure)
}
