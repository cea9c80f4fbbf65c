package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"brickstream.ai/internal/config"
	"brickstream.ai/internal/heightfield"
	"brickstream.ai/internal/persistence/r2s3"
)

func TestLoadFieldKinds(t *testing.T) {
	cfg := config.Default()
	cfg.Source.Kind = "constant"
	cfg.Source.Width, cfg.Source.Depth = 8, 4
	cfg.Source.ConstantHeight = 3

	f, desc, err := loadField(cfg)
	require.NoError(t, err)
	require.Equal(t, 8, f.Width())
	require.Equal(t, 4, desc.Depth)
	h, ok := f.At(7, 3)
	require.True(t, ok)
	require.Equal(t, uint32(3), h)

	cfg.Source.Kind = "procedural"
	_, desc, err = loadField(cfg)
	require.NoError(t, err)
	require.Equal(t, cfg.Source.Seed, desc.Seed)
	require.Equal(t, cfg.World.WorldDepth, desc.WorldDepth)
}

func TestLoadFieldMissingImageIsConfigError(t *testing.T) {
	cfg := config.Default()
	cfg.Source.Kind = "image"
	cfg.Source.ImagePath = t.TempDir() + "/missing.png"

	_, _, err := loadField(cfg)
	require.ErrorIs(t, err, config.ErrConfiguration)
	var ce *heightfield.ConfigError
	require.True(t, errors.As(err, &ce))
}

func TestBuildMirrorDisabled(t *testing.T) {
	t.Setenv("BRICKSTREAM_MIRROR", "")
	m, err := buildMirror(config.MirrorConfig{}, t.TempDir(), nil, nil)
	require.NoError(t, err)
	require.Nil(t, m)
}

func TestBuildMirrorNeedsBucket(t *testing.T) {
	t.Setenv("BRICKSTREAM_MIRROR", "true")
	t.Setenv("BRICKSTREAM_S3_ACCESS_KEY_ID", "a")
	t.Setenv("BRICKSTREAM_S3_SECRET_ACCESS_KEY", "s")
	_, err := buildMirror(config.MirrorConfig{Endpoint: "s3.example.com"}, t.TempDir(), nil, nil)
	require.ErrorIs(t, err, config.ErrConfiguration)
	require.ErrorIs(t, err, r2s3.ErrCredentials)
}
