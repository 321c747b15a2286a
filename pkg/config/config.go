package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Params is the flat game-setup mapping, e.g. username, server_host, ruleset.
type Params map[string]string

// Get returns a non-empty value for key.
func (p Params) Get(key string) (string, bool) {
	v, ok := p[key]
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

// String returns the value for key or def when it is unset.
func (p Params) String(key, def string) string {
	if v, ok := p.Get(key); ok {
		return v
	}
	return def
}

// Int parses the value for key, returning def when it is unset.
func (p Params) Int(key string, def int) (int, error) {
	v, ok := p.Get(key)
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s: %v", key, err)
	}
	return n, nil
}

// Keys returns the set keys in sorted order.
func (p Params) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Merge layers sources in increasing precedence. Empty values do not override.
func Merge(sources ...Params) Params {
	out := make(Params)
	for _, src := range sources {
		for k, v := range src {
			if strings.TrimSpace(v) == "" {
				if _, ok := out[k]; ok {
					continue
				}
			}
			out[k] = v
		}
	}
	return out
}

// LoadFile reads a flat YAML mapping of setup keys.
func LoadFile(path string) (Params, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %v", err)
	}
	return Parse(b)
}

// Parse decodes a flat YAML mapping. Scalars of any type are kept in their
// textual form; nested mappings and sequences are rejected.
func Parse(b []byte) (Params, error) {
	var doc map[string]yaml.Node
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse config: %v", err)
	}
	out := make(Params, len(doc))
	for key, node := range doc {
		if node.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("failed to parse config: %s must be a scalar", key)
		}
		if node.Tag == "!!null" {
			continue
		}
		out[key] = node.Value
	}
	return out, nil
}
