package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load builds the config with priority: defaults < file < flags. path may be
// empty, in which case ./brickstream.yaml and ./configs/brickstream.yaml are
// tried. f may be nil.
func Load(path string, f *Flags) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("%w: loading config from %s: %v", ErrConfiguration, path, err)
		}
	}

	if f != nil {
		f.apply(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func findConfigFile() string {
	for _, p := range []string{"./brickstream.yaml", "./configs/brickstream.yaml"} {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// Validate rejects settings the builder cannot work with.
func (c *Config) Validate() error {
	w := c.World
	if w.WorldDepth < 2 {
		return fmt.Errorf("%w: world.world_depth %d is smaller than one brick", ErrConfiguration, w.WorldDepth)
	}
	if w.ChunkSize <= 0 || w.ChunkSize%4 != 0 {
		return fmt.Errorf("%w: world.chunk_size %d must be a positive multiple of 4", ErrConfiguration, w.ChunkSize)
	}
	if w.HeightScale < 0 {
		return fmt.Errorf("%w: world.height_scale must not be negative", ErrConfiguration)
	}
	switch c.Source.Kind {
	case "image":
		if c.Source.ImagePath == "" {
			return fmt.Errorf("%w: source.image_path is required for image sources", ErrConfiguration)
		}
	case "procedural", "constant":
	default:
		return fmt.Errorf("%w: unknown source.kind %q", ErrConfiguration, c.Source.Kind)
	}
	if c.Mirror.Enabled && c.Mirror.Bucket == "" {
		return fmt.Errorf("%w: mirror.bucket is required when the mirror is enabled", ErrConfiguration)
	}
	return nil
}
