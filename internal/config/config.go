// Package config loads service configuration from files, environment
// variables, and defaults.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the service.
type Config struct {
	LogLevel string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`

	Server    ServerConfig    `mapstructure:"server" yaml:"server" json:"server"`
	Engine    EngineConfig    `mapstructure:"engine" yaml:"engine" json:"engine"`
	Detection DetectionConfig `mapstructure:"detection" yaml:"detection" json:"detection"`
	Jobs      JobsConfig      `mapstructure:"jobs" yaml:"jobs" json:"jobs"`
	Redis     RedisConfig     `mapstructure:"redis" yaml:"redis" json:"redis"`
	Storage   StorageConfig   `mapstructure:"storage" yaml:"storage" json:"storage"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host        string        `mapstructure:"host" yaml:"host" json:"host"`
	Port        int           `mapstructure:"port" yaml:"port" json:"port"`
	MaxUploadMB int           `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
	CORSOrigins []string      `mapstructure:"cors_origins" yaml:"cors_origins" json:"cors_origins"`
}

// EngineConfig configures the remote detection engine.
type EngineConfig struct {
	Endpoint string        `mapstructure:"endpoint" yaml:"endpoint" json:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
}

// DetectionConfig configures tiling and deduplication.
type DetectionConfig struct {
	TileSize     int     `mapstructure:"tile_size" yaml:"tile_size" json:"tile_size"`
	Overlap      int     `mapstructure:"overlap" yaml:"overlap" json:"overlap"`
	BatchSize    int     `mapstructure:"batch_size" yaml:"batch_size" json:"batch_size"`
	IoUThreshold float64 `mapstructure:"iou_threshold" yaml:"iou_threshold" json:"iou_threshold"`
	Pattern      string  `mapstructure:"pattern" yaml:"pattern" json:"pattern"`
}

// JobsConfig configures the job store and worker pool. Backend must be set
// explicitly to "memory" or "redis".
type JobsConfig struct {
	Backend string        `mapstructure:"backend" yaml:"backend" json:"backend"`
	Workers int           `mapstructure:"workers" yaml:"workers" json:"workers"`
	Backlog int           `mapstructure:"backlog" yaml:"backlog" json:"backlog"`
	TTL     time.Duration `mapstructure:"ttl" yaml:"ttl" json:"ttl"`
}

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr" json:"addr"`
	Password string `mapstructure:"password" yaml:"password" json:"password"`
	DB       int    `mapstructure:"db" yaml:"db" json:"db"`
}

// StorageConfig configures artifact storage.
type StorageConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir" json:"dir"`
}

// Validate checks the configuration for values processing cannot run with.
func (c *Config) Validate() error {
	if c.Detection.TileSize <= 0 {
		return fmt.Errorf("detection.tile_size must be positive, got %d", c.Detection.TileSize)
	}
	if c.Detection.Overlap < 0 {
		return fmt.Errorf("detection.overlap must be non-negative, got %d", c.Detection.Overlap)
	}
	if c.Detection.Overlap >= c.Detection.TileSize {
		return fmt.Errorf("detection.overlap (%d) must be smaller than detection.tile_size (%d)",
			c.Detection.Overlap, c.Detection.TileSize)
	}
	if c.Detection.BatchSize <= 0 {
		return fmt.Errorf("detection.batch_size must be positive, got %d", c.Detection.BatchSize)
	}
	if c.Detection.IoUThreshold <= 0 || c.Detection.IoUThreshold > 1 {
		return fmt.Errorf("detection.iou_threshold must be in (0,1], got %g", c.Detection.IoUThreshold)
	}
	switch c.Jobs.Backend {
	case "memory", "redis":
	case "":
		return fmt.Errorf("jobs.backend must be set to \"memory\" or \"redis\"")
	default:
		return fmt.Errorf("jobs.backend must be \"memory\" or \"redis\", got %q", c.Jobs.Backend)
	}
	if c.Jobs.Backend == "redis" && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when jobs.backend is \"redis\"")
	}
	if c.Engine.Endpoint == "" {
		return fmt.Errorf("engine.endpoint is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in (0,65535], got %d", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("server.max_upload_mb must be positive, got %d", c.Server.MaxUploadMB)
	}
	if c.Storage.Dir == "" {
		return fmt.Errorf("storage.dir is required")
	}
	return nil
}
