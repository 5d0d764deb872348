package config

import (
	"errors"
	"fmt"
)

// Config is the top-level configuration struct shared by the coordinator
// and worker binaries. Field tags use mapstructure for viper unmarshalling.
type Config struct {
	Environment string         `mapstructure:"environment"`
	Coordinator CoordinatorCfg `mapstructure:"coordinator"`
	Job         JobCfg         `mapstructure:"job"`
	Tile        TileCfg        `mapstructure:"tile"`
	Storage     StorageCfg     `mapstructure:"storage"`
	DB          DBCfg          `mapstructure:"db"`
	S3          S3Cfg          `mapstructure:"s3_tile"`
}

// CoordinatorCfg holds settings describing how to reach and run the coordinator.
type CoordinatorCfg struct {
	BaseURL           string `mapstructure:"base_url"`
	FrontendPort      int    `mapstructure:"frontend_port"`
	HeartbeatInterval int    `mapstructure:"heartbeat_interval"`
}

// JobCfg holds the staged job runner's resource limits (§4.8).
type JobCfg struct {
	MaxRAMLimitStage      int `mapstructure:"max_ram_limit_stage"`
	MaxDiskLimitStage     int `mapstructure:"max_disk_limit_stage"`
	MaxTransferLimitStage int `mapstructure:"max_transfer_limit_stage"`
	CleanupDelaySeconds   int `mapstructure:"cleanup_delay_seconds"`
}

// TileCfg holds tile-pyramid geometry settings.
type TileCfg struct {
	Size     int `mapstructure:"size"`
	MaxLevel int `mapstructure:"max_level"`
	Pack     int `mapstructure:"pack"`
}

// StorageCfg holds housekeeping retention settings (C9).
type StorageCfg struct {
	MaxEntries int `mapstructure:"max_entries"`
	TTLSeconds int `mapstructure:"ttl_seconds"`
}

// DBCfg holds the relational database connection settings.
type DBCfg struct {
	URL string `mapstructure:"url"`
}

// S3Cfg holds the object store connection settings: endpoint, access key,
// secret key, bucket, and whether to use TLS.
type S3Cfg struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Secure    bool   `mapstructure:"secure"`
}

// Environment values accepted by QUICKLOOK_environment.
const (
	EnvProduction = "production"
	EnvTest       = "test"
)

// Sentinel errors for configuration validation.
var (
	ErrInvalidFrontendPort      = errors.New("coordinator.frontend_port must be between 1 and 65535")
	ErrInvalidHeartbeatInterval = errors.New("coordinator.heartbeat_interval must be positive")
	ErrEmptyCoordinatorBaseURL  = errors.New("coordinator.base_url must not be empty")
	ErrInvalidRAMLimitStage     = errors.New("job.max_ram_limit_stage must be positive")
	ErrInvalidDiskLimitStage    = errors.New("job.max_disk_limit_stage must be positive")
	ErrInvalidTransferLimit     = errors.New("job.max_transfer_limit_stage must be positive")
	ErrInvalidTileSize          = errors.New("tile.size must be positive")
	ErrInvalidTileMaxLevel      = errors.New("tile.max_level must be non-negative")
	ErrInvalidTilePack          = errors.New("tile.pack must be non-negative")
	ErrInvalidMaxStorageEntries = errors.New("storage.max_entries must be non-negative")
	ErrInvalidTTL               = errors.New("storage.ttl_seconds must be non-negative")
	ErrEmptyDBURL               = errors.New("db.url must not be empty")
	ErrEmptyS3Endpoint          = errors.New("s3_tile.endpoint must not be empty")
	ErrEmptyS3Bucket            = errors.New("s3_tile.bucket must not be empty")
	ErrInvalidEnvironment       = errors.New("environment must be \"production\" or \"test\"")
)

// Validate checks Config invariants and returns the first error found.
func (c *Config) Validate() error {
	if c.Environment != EnvProduction && c.Environment != EnvTest {
		return ErrInvalidEnvironment
	}

	if validateErr := c.validateCoordinator(); validateErr != nil {
		return validateErr
	}

	if validateErr := c.validateJob(); validateErr != nil {
		return validateErr
	}

	if validateErr := c.validateTile(); validateErr != nil {
		return validateErr
	}

	if validateErr := c.validateStorage(); validateErr != nil {
		return validateErr
	}

	if c.DB.URL == "" {
		return ErrEmptyDBURL
	}

	return c.validateS3()
}

func (c *Config) validateCoordinator() error {
	if c.Coordinator.BaseURL == "" {
		return ErrEmptyCoordinatorBaseURL
	}

	if c.Coordinator.FrontendPort < 1 || c.Coordinator.FrontendPort > 65535 {
		return ErrInvalidFrontendPort
	}

	if c.Coordinator.HeartbeatInterval <= 0 {
		return ErrInvalidHeartbeatInterval
	}

	return nil
}

func (c *Config) validateJob() error {
	if c.Job.MaxRAMLimitStage <= 0 {
		return ErrInvalidRAMLimitStage
	}

	if c.Job.MaxDiskLimitStage <= 0 {
		return ErrInvalidDiskLimitStage
	}

	if c.Job.MaxTransferLimitStage <= 0 {
		return ErrInvalidTransferLimit
	}

	return nil
}

func (c *Config) validateTile() error {
	if c.Tile.Size <= 0 {
		return ErrInvalidTileSize
	}

	if c.Tile.MaxLevel < 0 {
		return ErrInvalidTileMaxLevel
	}

	if c.Tile.Pack < 0 {
		return ErrInvalidTilePack
	}

	return nil
}

func (c *Config) validateStorage() error {
	if c.Storage.MaxEntries < 0 {
		return ErrInvalidMaxStorageEntries
	}

	if c.Storage.TTLSeconds < 0 {
		return ErrInvalidTTL
	}

	return nil
}

func (c *Config) validateS3() error {
	if c.S3.Endpoint == "" {
		return ErrEmptyS3Endpoint
	}

	if c.S3.Bucket == "" {
		return ErrEmptyS3Bucket
	}

	return nil
}

// String redacts secrets for logging.
func (c *Config) String() string {
	return fmt.Sprintf("Config{env=%s coordinator=%s tile=%dpx/%dL db=%s s3=%s/%s}",
		c.Environment, c.Coordinator.BaseURL, c.Tile.Size, c.Tile.MaxLevel, redactDBURL(c.DB.URL), c.S3.Endpoint, c.S3.Bucket)
}

func redactDBURL(_ string) string {
	return "<redacted>"
}
