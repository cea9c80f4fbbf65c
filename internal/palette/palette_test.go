package palette

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"brickstream.ai/internal/brickmap"
	"brickstream.ai/internal/config"
)

func writePalette(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "palette.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadMergesOverFallbacks(t *testing.T) {
	path := writePalette(t, `{"grass": [1, 2, 3, 255], "basalt": [40, 40, 44, 255]}`)
	p, err := Load(path)
	require.NoError(t, err)

	c, ok := p.Lookup("grass")
	require.True(t, ok)
	require.Equal(t, brickmap.RGBA(1, 2, 3, 255), c)

	c, ok = p.Lookup("basalt")
	require.True(t, ok)
	require.Equal(t, brickmap.RGBA(40, 40, 44, 255), c)

	_, ok = p.Lookup("stone")
	require.True(t, ok, "fallbacks survive")
	require.Equal(t, len(Fallbacks())+2, p.Len())
}

func TestLoadRejectsSchemaViolations(t *testing.T) {
	cases := map[string]string{
		"short":   `{"grass": [1, 2, 3]}`,
		"range":   `{"grass": [1, 2, 3, 256]}`,
		"type":    `{"grass": "green"}`,
		"root":    `[1, 2, 3, 4]`,
		"garbage": `{`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writePalette(t, body))
			require.ErrorIs(t, err, config.ErrConfiguration)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "none.json"))
	require.ErrorIs(t, err, config.ErrConfiguration)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestFileWithoutTerrainMaterialsFailsRequire(t *testing.T) {
	p, err := Load(writePalette(t, `{"stone": [1, 2, 3, 255]}`))
	require.NoError(t, err)
	_, ok := p.Lookup("grass")
	require.False(t, ok)

	_, err = p.Require("grass", "dirt")
	require.ErrorIs(t, err, config.ErrConfiguration)
	var ce *ConfigError
	require.True(t, errors.As(err, &ce))
	require.Equal(t, []string{"grass", "dirt"}, ce.Missing)
}

func TestRequire(t *testing.T) {
	p := Default()
	cs, err := p.Require("grass", "dirt")
	require.NoError(t, err)
	require.Len(t, cs, 2)

	_, err = p.Require("grass", "obsidian", "mithril")
	require.ErrorIs(t, err, config.ErrConfiguration)
	var ce *ConfigError
	require.True(t, errors.As(err, &ce))
	require.Equal(t, []string{"obsidian", "mithril"}, ce.Missing)
}

func TestDigestStable(t *testing.T) {
	a, err := Parse("a", []byte(`{"x": [1,1,1,1], "y": [2,2,2,2]}`))
	require.NoError(t, err)
	b, err := Parse("b", []byte(`{"y": [2,2,2,2], "x": [1,1,1,1]}`))
	require.NoError(t, err)
	require.Equal(t, a.Digest(), b.Digest())
	require.NotEqual(t, a.Digest(), Default().Digest())
}

func TestMarshalRoundTrip(t *testing.T) {
	p := Default()
	raw, err := json.Marshal(p)
	require.NoError(t, err)
	q, err := Parse("copy", raw)
	require.NoError(t, err)
	require.Equal(t, p.Digest(), q.Digest())
}
