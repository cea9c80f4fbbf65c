package config

import "flag"

// Flags are the command-line overrides. Zero values leave the config alone.
type Flags struct {
	Config     string
	Debug      bool
	Addr       string
	WorldDepth uint
	Image      string
	Seed       int64
	DataDir    string
	LogFile    string
}

// RegisterFlags binds the overrides to fs.
func RegisterFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{}
	fs.StringVar(&f.Config, "config", "", "path to config file")
	fs.BoolVar(&f.Debug, "debug", false, "enable debug logging")
	fs.StringVar(&f.Addr, "addr", "", "HTTP listen address")
	fs.UintVar(&f.WorldDepth, "world-depth", 0, "log2 of the world side length in voxels")
	fs.StringVar(&f.Image, "heightmap", "", "height map image; selects the image source")
	fs.Int64Var(&f.Seed, "seed", 0, "procedural seed")
	fs.StringVar(&f.DataDir, "data", "", "data directory for snapshots and the index")
	fs.StringVar(&f.LogFile, "log-file", "", "log file path")
	return f
}

func (f *Flags) apply(cfg *Config) {
	if f.Debug {
		cfg.Logging.Level = "debug"
	}
	if f.Addr != "" {
		cfg.Server.Addr = f.Addr
	}
	if f.WorldDepth > 0 {
		cfg.World.WorldDepth = uint32(f.WorldDepth)
	}
	if f.Image != "" {
		cfg.Source.Kind = "image"
		cfg.Source.ImagePath = f.Image
	}
	if f.Seed != 0 {
		cfg.Source.Seed = f.Seed
	}
	if f.DataDir != "" {
		cfg.Data.Dir = f.DataDir
	}
	if f.LogFile != "" {
		cfg.Logging.File = f.LogFile
	}
}
