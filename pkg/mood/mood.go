package mood

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// Fallback is the mood used when an unknown mood id is requested.
const Fallback = "lock-in"

// Delta holds the signed adjustments a mood applies to the fused audio features.
type Delta struct {
	Tempo        float64 `json:"tempo" yaml:"tempo"`
	Energy       float64 `json:"energy" yaml:"energy"`
	Danceability float64 `json:"danceability" yaml:"danceability"`
}

// Preset is a named bundle of musical tags and audio-feature adjustments.
type Preset struct {
	ID           string   `json:"id" yaml:"-"`
	Tags         []string `json:"tags" yaml:"tags"`
	Delta        Delta    `json:"delta" yaml:"delta"`
	Instrumental bool     `json:"instrumental" yaml:"instrumental"`
}

func (p Preset) clone() Preset {
	p.Tags = append([]string(nil), p.Tags...)
	return p
}

// Catalog is an immutable set of presets.
type Catalog struct {
	presets map[string]Preset
	ids     []string
}

var defaultCatalog = sync.OnceValue(func() *Catalog {
	return newCatalog(map[string]Preset{
		"lock-in": {
			Tags:         []string{"electronic", "synthwave", "driving"},
			Delta:        Delta{Tempo: 10, Energy: 0.2, Danceability: 0.1},
			Instrumental: true,
		},
		"debug-spiral": {
			Tags:         []string{"lo-fi", "minimal", "chill"},
			Delta:        Delta{Tempo: -15, Energy: -0.2, Danceability: -0.05},
			Instrumental: true,
		},
		"help-pls": {
			Tags:  []string{"ambient pop", "uplifting", "light pads"},
			Delta: Delta{Tempo: 0, Energy: 0.05, Danceability: 0},
		},
		"free-swag-run": {
			Tags:  []string{"house", "pop", "bright", "groove"},
			Delta: Delta{Tempo: 20, Energy: 0.25, Danceability: 0.2},
		},
		"food-and-yap": {
			Tags:  []string{"bossa nova", "jazzy", "warm", "acoustic"},
			Delta: Delta{Tempo: 0, Energy: -0.05, Danceability: 0.05},
		},
		"monster-energy": {
			Tags:  []string{"dnb", "hard techno", "aggressive"},
			Delta: Delta{Tempo: 30, Energy: 0.35, Danceability: 0.1},
		},
	})
})

// Default returns the built-in catalog.
func Default() *Catalog {
	return defaultCatalog()
}

func newCatalog(presets map[string]Preset) *Catalog {
	c := &Catalog{presets: map[string]Preset{}}
	for id, p := range presets {
		p = p.clone()
		p.ID = id
		c.presets[id] = p
		c.ids = append(c.ids, id)
	}
	sort.Strings(c.ids)
	return c
}

// Get returns the preset for the given id.
func (c *Catalog) Get(id string) (Preset, bool) {
	p, ok := c.presets[id]
	if !ok {
		return Preset{}, false
	}
	return p.clone(), true
}

// Lookup returns the preset for the given id, or the fallback preset if the id
// is unknown.
func (c *Catalog) Lookup(id string) Preset {
	if p, ok := c.Get(id); ok {
		return p
	}
	if p, ok := c.Get(Fallback); ok {
		return p
	}
	// Extended catalogs always keep the built-in fallback.
	p, _ := Default().Get(Fallback)
	return p
}

// IDs returns the sorted preset ids.
func (c *Catalog) IDs() []string {
	return append([]string(nil), c.ids...)
}

// All returns every preset sorted by id.
func (c *Catalog) All() []Preset {
	var presets []Preset
	for _, id := range c.ids {
		presets = append(presets, c.presets[id].clone())
	}
	return presets
}

// With returns a new catalog with the given presets added or replaced.
func (c *Catalog) With(presets map[string]Preset) (*Catalog, error) {
	merged := map[string]Preset{}
	for id, p := range c.presets {
		merged[id] = p
	}
	for id, p := range presets {
		if id == "" {
			return nil, errors.New("mood: empty preset id")
		}
		if len(p.Tags) == 0 {
			return nil, fmt.Errorf("mood: preset %q has no tags", id)
		}
		merged[id] = p
	}
	return newCatalog(merged), nil
}

// Load returns the default catalog extended with the presets defined in the
// yaml file at path. An empty path returns the default catalog.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("mood: couldn't read %s: %w", path, err)
	}
	var presets map[string]Preset
	if err := yaml.Unmarshal(b, &presets); err != nil {
		return nil, fmt.Errorf("mood: couldn't parse %s: %w", path, err)
	}
	return Default().With(presets)
}
