// Package config holds the brickstream server configuration.
package config

import (
	"errors"
	"time"
)

// ErrConfiguration marks errors in operator-supplied input (config file,
// palette, height source). They are fatal at startup.
var ErrConfiguration = errors.New("configuration error")

type Config struct {
	World   WorldConfig   `yaml:"world"`
	Source  SourceConfig  `yaml:"source"`
	Palette PaletteConfig `yaml:"palette"`
	Server  ServerConfig  `yaml:"server"`
	Data    DataConfig    `yaml:"data"`
	Mirror  MirrorConfig  `yaml:"mirror"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// WorldConfig sizes the world and names the materials the builder paints with.
type WorldConfig struct {
	ID string `yaml:"id"`
	// log2 of the world side length in voxels
	WorldDepth      uint32  `yaml:"world_depth"`
	ChunkSize       int     `yaml:"chunk_size"`
	HeightScale     float32 `yaml:"height_scale"`
	Workers         int     `yaml:"workers"`
	SurfaceMaterial string  `yaml:"surface_material"`
	FillMaterial    string  `yaml:"fill_material"`
}

// SourceConfig selects where column heights come from.
type SourceConfig struct {
	Kind           string  `yaml:"kind"` // image, procedural or constant
	ImagePath      string  `yaml:"image_path"`
	SampleStep     int     `yaml:"sample_step"`
	Seed           int64   `yaml:"seed"`
	ConstantHeight uint32  `yaml:"constant_height"`
	Width          int     `yaml:"width"`
	Depth          int     `yaml:"depth"`
	Octaves        int     `yaml:"octaves"`
	Frequency      float64 `yaml:"frequency"`
	Amplitude      float64 `yaml:"amplitude"`
	Base           float64 `yaml:"base"`
}

type PaletteConfig struct {
	Path string `yaml:"path"`
}

type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	StreamInterval time.Duration `yaml:"stream_interval"`
	AllowRemote    bool          `yaml:"allow_remote"`
}

type DataConfig struct {
	Dir             string `yaml:"dir"`
	SnapshotOnBuild bool   `yaml:"snapshot_on_build"`
	IndexDB         string `yaml:"index_db"`
	// keep only the newest N snapshots per world; 0 keeps all
	KeepSnapshots int `yaml:"keep_snapshots"`
	// copy every Nth generation into archives/; 0 disables
	ArchiveEvery uint64 `yaml:"archive_every"`
}

// MirrorConfig configures uploading snapshots to an S3-compatible bucket.
type MirrorConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Prefix          string `yaml:"prefix"`
	Workers         int    `yaml:"workers"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

type MetricsConfig struct {
	FlushInterval time.Duration `yaml:"flush_interval"`
	// directory for the zstd JSONL timing log; empty disables it
	JSONLDir string `yaml:"jsonl_dir"`
}

func Default() *Config {
	return &Config{
		World: WorldConfig{
			ID:              "world_1",
			WorldDepth:      8,
			ChunkSize:       16,
			HeightScale:     0.5,
			SurfaceMaterial: "grass",
			FillMaterial:    "dirt",
		},
		Source: SourceConfig{
			Kind:       "procedural",
			SampleStep: 1,
			Seed:       1337,
			Width:      256,
			Depth:      256,
			Octaves:    4,
			Frequency:  0.01,
			Amplitude:  48,
			Base:       64,
		},
		Server: ServerConfig{
			Addr:           "127.0.0.1:8090",
			StreamInterval: 2 * time.Second,
		},
		Data: DataConfig{
			Dir:             "data",
			SnapshotOnBuild: true,
			IndexDB:         "index.sqlite",
			KeepSnapshots:   5,
		},
		Mirror: MirrorConfig{
			Region:  "auto",
			Prefix:  "brickstream",
			Workers: 1,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 7,
			Compress:   true,
		},
		Metrics: MetricsConfig{
			FlushInterval: 30 * time.Second,
		},
	}
}
