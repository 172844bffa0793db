/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package sounds holds the catalog of loop elements users can drop onto characters.
package sounds

import (
	_ "embed"
	"errors"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var catalogYAML []byte

// ErrUnknownSound is returned for ids not in the catalog.
var ErrUnknownSound = errors.New("unknown sound")

// Category groups sounds by role.
type Category string

const (
	CategoryBeats    Category = "beats"
	CategoryEffects  Category = "effects"
	CategoryMelodies Category = "melodies"
	CategoryVoices   Category = "voices"
)

// CategoryInfo describes a category for display.
type CategoryInfo struct {
	ID    Category `yaml:"id" json:"id"`
	Name  string   `yaml:"name" json:"name"`
	Color string   `yaml:"color" json:"color"`
}

// Sound is one loop element.
type Sound struct {
	ID       string   `yaml:"id" json:"id"`
	Name     string   `yaml:"name" json:"name"`
	Category Category `yaml:"category" json:"category"`
	Color    string   `yaml:"-" json:"color"`
	Symbol   string   `yaml:"symbol" json:"symbol"`
	Audio    string   `yaml:"audio" json:"audio"`
}

// Catalog is an immutable, indexed set of sounds.
type Catalog struct {
	categories []CategoryInfo
	sounds     []Sound
	byID       map[string]Sound
}

type catalogFile struct {
	Categories []CategoryInfo `yaml:"categories"`
	Sounds     []Sound        `yaml:"sounds"`
}

// Load returns the built-in catalog.
func Load() (*Catalog, error) {
	return Parse(catalogYAML)
}

// Parse builds a catalog from YAML. Sound ids must be unique and every sound must name a
// declared category and an audio asset.
func Parse(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse sound catalog: %w", err)
	}

	colors := make(map[Category]string, len(file.Categories))
	for _, c := range file.Categories {
		colors[c.ID] = c.Color
	}

	c := &Catalog{
		categories: file.Categories,
		byID:       make(map[string]Sound, len(file.Sounds)),
	}
	for _, s := range file.Sounds {
		if s.ID == "" || s.Audio == "" {
			return nil, fmt.Errorf("sound %q: id and audio are required", s.ID)
		}
		color, ok := colors[s.Category]
		if !ok {
			return nil, fmt.Errorf("sound %q: undeclared category %q", s.ID, s.Category)
		}
		if _, dup := c.byID[s.ID]; dup {
			return nil, fmt.Errorf("sound %q declared twice", s.ID)
		}
		s.Color = color
		c.sounds = append(c.sounds, s)
		c.byID[s.ID] = s
	}
	return c, nil
}

// Get returns the sound with id.
func (c *Catalog) Get(id string) (Sound, error) {
	s, ok := c.byID[id]
	if !ok {
		return Sound{}, fmt.Errorf("%w: %q", ErrUnknownSound, id)
	}
	return s, nil
}

// List returns every sound in catalog order.
func (c *Catalog) List() []Sound {
	out := make([]Sound, len(c.sounds))
	copy(out, c.sounds)
	return out
}

// ByCategory returns the sounds in cat, in catalog order.
func (c *Catalog) ByCategory(cat Category) []Sound {
	var out []Sound
	for _, s := range c.sounds {
		if s.Category == cat {
			out = append(out, s)
		}
	}
	return out
}

// Categories returns the declared categories.
func (c *Catalog) Categories() []CategoryInfo {
	out := make([]CategoryInfo, len(c.categories))
	copy(out, c.categories)
	return out
}

// AudioKeys returns the distinct asset keys, sorted.
func (c *Catalog) AudioKeys() []string {
	seen := make(map[string]struct{}, len(c.sounds))
	keys := make([]string, 0, len(c.sounds))
	for _, s := range c.sounds {
		if _, ok := seen[s.Audio]; ok {
			continue
		}
		seen[s.Audio] = struct{}{}
		keys = append(keys, s.Audio)
	}
	sort.Strings(keys)
	return keys
}
