// Package world loads arena map templates from YAML. Each room instantiates
// a fresh GameMap from a template so rooms never share map state.
package world

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dinoarena/server/internal/game/entity"
)

// DefaultTemplateName selects the template used when a room does not ask for
// a specific arena.
const DefaultTemplateName = "arena"

// Default arena dimensions, used when no template directory is configured.
const (
	DefaultWidth  = 800
	DefaultHeight = 600
)

// yamlMapFile is the top-level YAML structure for map template files.
type yamlMapFile struct {
	Map yamlMap `yaml:"map"`
}

// yamlMap is the YAML representation of a map template.
type yamlMap struct {
	Name   string `yaml:"name"`
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
}

// Template describes an arena shape. Instantiate stamps out per-room maps.
type Template struct {
	Name   string
	Width  int
	Height int
}

// Validate checks the template's structural invariants.
//
// Postcondition: Returns nil only if the template can produce a usable map.
func (t *Template) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("map template has no name")
	}
	if t.Width <= 0 || t.Height <= 0 {
		return fmt.Errorf("map template %s has non-positive dimensions %dx%d", t.Name, t.Width, t.Height)
	}
	return nil
}

// Instantiate creates a fresh GameMap from the template.
func (t *Template) Instantiate() *entity.GameMap {
	return entity.NewGameMap(t.Name, t.Width, t.Height)
}

// Catalog is the set of loaded templates, keyed by name.
type Catalog struct {
	templates map[string]*Template
}

// DefaultCatalog returns a catalog holding only the built-in arena.
func DefaultCatalog() *Catalog {
	return &Catalog{templates: map[string]*Template{
		DefaultTemplateName: {Name: DefaultTemplateName, Width: DefaultWidth, Height: DefaultHeight},
	}}
}

// Lookup returns the named template, falling back to the default when name
// is empty or unknown.
func (c *Catalog) Lookup(name string) *Template {
	if t, ok := c.templates[name]; ok {
		return t
	}
	return c.templates[DefaultTemplateName]
}

// Names returns the catalog's template names.
func (c *Catalog) Names() []string {
	out := make([]string, 0, len(c.templates))
	for name := range c.templates {
		out = append(out, name)
	}
	return out
}

// LoadTemplateFromFile reads and validates a single map template YAML file.
//
// Precondition: path must point to a valid YAML map file.
// Postcondition: Returns a validated Template or a non-nil error.
func LoadTemplateFromFile(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading map file %s: %w", path, err)
	}
	return LoadTemplateFromBytes(data)
}

// LoadTemplateFromBytes parses and validates a map template from YAML bytes.
//
// Precondition: data must be valid YAML conforming to the map schema.
// Postcondition: Returns a validated Template or a non-nil error.
func LoadTemplateFromBytes(data []byte) (*Template, error) {
	var file yamlMapFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing map YAML: %w", err)
	}

	t := &Template{
		Name:   file.Map.Name,
		Width:  file.Map.Width,
		Height: file.Map.Height,
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("validating map template: %w", err)
	}
	return t, nil
}

// LoadCatalogFromDir loads all YAML files in a directory as map templates.
// The catalog always contains the built-in default arena, so an empty
// directory is not an error; a missing file or malformed template is.
//
// Postcondition: Returns a catalog with at least the default template.
func LoadCatalogFromDir(dir string) (*Catalog, error) {
	catalog := DefaultCatalog()
	if dir == "" {
		return catalog, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading map directory %s: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		t, err := LoadTemplateFromFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("loading map template from %s: %w", name, err)
		}
		catalog.templates[t.Name] = t
	}

	return catalog, nil
}
