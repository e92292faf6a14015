package catalog

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// PyIcebergConfig is the parsed form of ~/.pyiceberg.yaml.
type PyIcebergConfig struct {
	Path     string
	Catalogs map[string]Properties
}

// Properties are the key/value settings of one catalog entry (uri, token, warehouse, ...).
type Properties map[string]string

// Get returns the first non-empty value among keys.
func (p Properties) Get(keys ...string) string {
	for _, k := range keys {
		if v := p[k]; v != "" {
			return v
		}
	}
	return ""
}

type pyIcebergFile struct {
	Catalog map[string]map[string]any `yaml:"catalog"`
}

// LoadPyIcebergConfig reads the catalog section of a pyiceberg YAML file.
// A missing file yields an empty config.
func LoadPyIcebergConfig(path string) (*PyIcebergConfig, error) {
	cfg := &PyIcebergConfig{Path: path, Catalogs: map[string]Properties{}}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var file pyIcebergFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	for name, entry := range file.Catalog {
		props := make(Properties, len(entry))
		for k, v := range entry {
			s, err := cast.ToStringE(v)
			if err != nil {
				return nil, fmt.Errorf("catalog %q: property %q: %w", name, k, err)
			}
			props[k] = s
		}
		cfg.Catalogs[name] = props
	}

	return cfg, nil
}

// CatalogNames returns the configured catalog names, sorted.
func (c *PyIcebergConfig) CatalogNames() []string {
	names := make([]string, 0, len(c.Catalogs))
	for name := range c.Catalogs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Catalog returns the properties for name.
func (c *PyIcebergConfig) Catalog(name string) (Properties, error) {
	props, ok := c.Catalogs[name]
	if !ok {
		return nil, fmt.Errorf("catalog %q not found in %s", name, c.Path)
	}
	return props, nil
}
