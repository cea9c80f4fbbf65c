package main

import (
	"fmt"

	"brickstream.ai/internal/config"
	"brickstream.ai/internal/heightfield"
	"brickstream.ai/internal/persistence/snapshot"
)

// loadField builds the height field the config selects and describes it for
// snapshot headers.
func loadField(cfg *config.Config) (heightfield.Field, snapshot.SourceV1, error) {
	src := cfg.Source
	desc := snapshot.SourceV1{
		Kind:        src.Kind,
		HeightScale: cfg.World.HeightScale,
		WorldDepth:  cfg.World.WorldDepth,
	}

	var f heightfield.Field
	switch src.Kind {
	case "image":
		g, err := heightfield.LoadImage(src.ImagePath, src.SampleStep)
		if err != nil {
			return nil, desc, err
		}
		desc.ImagePath = src.ImagePath
		f = g
	case "procedural":
		desc.Seed = src.Seed
		f = heightfield.Procedural(src.Seed, src.Width, src.Depth, heightfield.NoiseParams{
			Octaves:   src.Octaves,
			Frequency: src.Frequency,
			Amplitude: src.Amplitude,
			Base:      src.Base,
		})
	case "constant":
		f = heightfield.Constant(src.Width, src.Depth, src.ConstantHeight)
	default:
		return nil, desc, fmt.Errorf("%w: unknown source kind %q", config.ErrConfiguration, src.Kind)
	}
	desc.Width, desc.Depth = f.Width(), f.Depth()
	return f, desc, nil
}
