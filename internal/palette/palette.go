// Package palette maps material names to voxel colors.
package palette

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"brickstream.ai/internal/brickmap"
	"brickstream.ai/internal/config"
)

const schemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": {
    "type": "array",
    "minItems": 4,
    "maxItems": 4,
    "items": {"type": "integer", "minimum": 0, "maximum": 255}
  }
}`

var schema = jsonschema.MustCompileString("palette.schema.json", schemaJSON)

// ConfigError reports an unusable palette. It matches config.ErrConfiguration.
type ConfigError struct {
	Path    string
	Missing []string
	Err     error
}

func (e *ConfigError) Error() string {
	switch {
	case len(e.Missing) > 0:
		return fmt.Sprintf("palette %s: missing required materials %v", e.Path, e.Missing)
	case e.Err != nil:
		return fmt.Sprintf("palette %s: %v", e.Path, e.Err)
	default:
		return fmt.Sprintf("palette %s: invalid", e.Path)
	}
}

func (e *ConfigError) Unwrap() []error {
	if e.Err == nil {
		return []error{config.ErrConfiguration}
	}
	return []error{config.ErrConfiguration, e.Err}
}

type Palette struct {
	source string
	colors map[string]brickmap.Color
	digest string
}

// Fallbacks are merged under every palette file. They never include the
// terrain materials, so a file that lacks them fails Require.
func Fallbacks() map[string][4]uint8 {
	return map[string][4]uint8{
		"":                      {200, 200, 200, 127},
		"stone":                 {125, 125, 125, 255},
		"sand":                  {219, 207, 163, 255},
		"snow":                  {249, 254, 254, 255},
		"water":                 {20, 105, 201, 30},
		"minecraft:grass_block": {62, 204, 18, 255},
		"minecraft:water":       {20, 105, 201, 30},
		"minecraft:lava":        {255, 123, 0, 255},
		"minecraft:deepslate":   {77, 77, 77, 255},
		"minecraft:oak_log":     {112, 62, 8, 255},
		"minecraft:grass":       {0, 0, 0, 0},
		"minecraft:cave_air":    {0, 0, 0, 0},
	}
}

// Defaults are the built-in materials used when no palette file is configured:
// Fallbacks plus the terrain materials.
func Defaults() map[string][4]uint8 {
	m := Fallbacks()
	m["grass"] = [4]uint8{62, 204, 18, 255}
	m["dirt"] = [4]uint8{121, 85, 58, 255}
	m["minecraft:dirt"] = [4]uint8{121, 85, 58, 255}
	return m
}

// Default is the palette made of Defaults only.
func Default() *Palette {
	p, _ := build("builtin", Defaults(), nil)
	return p
}

// Load reads a JSON object of name -> [r,g,b,a], validates it and merges it
// over Fallbacks. An empty path yields Default().
func Load(path string) (*Palette, error) {
	if path == "" {
		return Default(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	p, err := Parse(path, raw)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func Parse(source string, raw []byte) (*Palette, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, &ConfigError{Path: source, Err: err}
	}
	if err := schema.Validate(doc); err != nil {
		return nil, &ConfigError{Path: source, Err: err}
	}
	var entries map[string][4]uint8
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, &ConfigError{Path: source, Err: err}
	}
	return build(source, Fallbacks(), entries)
}

func build(source string, base, override map[string][4]uint8) (*Palette, error) {
	merged := make(map[string][4]uint8, len(base)+len(override))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	p := &Palette{source: source, colors: make(map[string]brickmap.Color, len(merged))}
	for k, v := range merged {
		p.colors[k] = brickmap.RGBA(v[0], v[1], v[2], v[3])
	}
	// encoding/json sorts map keys, so the digest is stable
	canon, err := json.Marshal(merged)
	if err != nil {
		return nil, &ConfigError{Path: source, Err: err}
	}
	sum := sha256.Sum256(canon)
	p.digest = hex.EncodeToString(sum[:])
	return p, nil
}

func (p *Palette) Lookup(name string) (brickmap.Color, bool) {
	c, ok := p.colors[name]
	return c, ok
}

// Require resolves every name or returns a ConfigError listing the missing ones.
func (p *Palette) Require(names ...string) ([]brickmap.Color, error) {
	out := make([]brickmap.Color, len(names))
	var missing []string
	for i, n := range names {
		c, ok := p.colors[n]
		if !ok {
			missing = append(missing, n)
			continue
		}
		out[i] = c
	}
	if len(missing) > 0 {
		return nil, &ConfigError{Path: p.source, Missing: missing}
	}
	return out, nil
}

// Names lists the materials in sorted order.
func (p *Palette) Names() []string {
	out := make([]string, 0, len(p.colors))
	for k := range p.colors {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (p *Palette) Len() int { return len(p.colors) }

// Digest is the sha256 of the merged palette's canonical JSON.
func (p *Palette) Digest() string { return p.digest }

func (p *Palette) Source() string { return p.source }

// MarshalJSON writes the merged palette in the same form Load reads.
func (p *Palette) MarshalJSON() ([]byte, error) {
	m := make(map[string][4]uint8, len(p.colors))
	for k, c := range p.colors {
		m[k] = [4]uint8{c.R, c.G, c.B, c.A}
	}
	return json.Marshal(m)
}
