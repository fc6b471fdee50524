// Package providers maps upstream streaming-service ids to the catalog's own
// provider keys. The table is data, not code: the default is embedded and can
// be replaced with PROVIDERS_FILE.
package providers

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"sort"
	"strings"
)

//go:embed providers.json
var defaultTable []byte

// Provider is one curated streaming service.
type Provider struct {
	Key      string `json:"key"`
	Name     string `json:"name"`
	Homepage string `json:"homepage,omitempty"`
	// Aliases lists, per region, upstream ids that mean this provider there.
	Aliases map[string][]string `json:"aliases,omitempty"`
}

type table struct {
	Providers []Provider `json:"providers"`
}

// Registry is immutable after construction and safe for concurrent use.
type Registry struct {
	byKey map[string]Provider
	// alias[region][upstreamID] = key
	alias map[string]map[string]string
}

// Default returns the registry built from the embedded table.
func Default() *Registry {
	r, err := Load(strings.NewReader(string(defaultTable)))
	if err != nil {
		panic(fmt.Sprintf("providers: embedded table: %v", err))
	}
	return r
}

// LoadFile reads a registry from path; an empty path yields Default().
func LoadFile(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("providers: open %s: %w", path, err)
	}
	defer f.Close()
	return Load(f)
}

func Load(r io.Reader) (*Registry, error) {
	var t table
	if err := json.NewDecoder(r).Decode(&t); err != nil {
		return nil, fmt.Errorf("providers: decode: %w", err)
	}
	reg := &Registry{
		byKey: make(map[string]Provider, len(t.Providers)),
		alias: make(map[string]map[string]string),
	}
	for _, p := range t.Providers {
		key := normalizeID(p.Key)
		if key == "" {
			return nil, fmt.Errorf("providers: entry without key")
		}
		if _, dup := reg.byKey[key]; dup {
			return nil, fmt.Errorf("providers: duplicate key %q", key)
		}
		p.Key = key
		reg.byKey[key] = p
		for region, ids := range p.Aliases {
			region = normalizeID(region)
			if reg.alias[region] == nil {
				reg.alias[region] = make(map[string]string)
			}
			for _, id := range ids {
				id = normalizeID(id)
				if prev, ok := reg.alias[region][id]; ok && prev != key {
					return nil, fmt.Errorf("providers: %q in region %q aliased to both %q and %q", id, region, prev, key)
				}
				reg.alias[region][id] = key
			}
		}
	}
	return reg, nil
}

// Resolve maps an upstream service id to the internal key for region.
// Ids with no alias pass through unchanged so they can still be stored.
func (r *Registry) Resolve(upstreamID, region string) string {
	id := normalizeID(upstreamID)
	if m, ok := r.alias[normalizeID(region)]; ok {
		if key, ok := m[id]; ok {
			return key
		}
	}
	return id
}

// UpstreamIDs returns the upstream ids that resolve to key in region.
func (r *Registry) UpstreamIDs(key, region string) []string {
	key = normalizeID(key)
	region = normalizeID(region)
	var aliases []string
	for id, k := range r.alias[region] {
		if k == key && id != key {
			aliases = append(aliases, id)
		}
	}
	sort.Strings(aliases)
	if r.Resolve(key, region) != key {
		return aliases
	}
	return append([]string{key}, aliases...)
}

// Selection is a set of requested providers resolved for one region.
type Selection struct {
	keys []string
	ids  map[string]struct{}
}

// Select resolves requested keys in region. A key that is itself an alias
// there selects its target, so "disney" in "in" selects hotstar along with
// every upstream id stored under it.
func (r *Registry) Select(region string, keys ...string) Selection {
	s := Selection{ids: make(map[string]struct{})}
	for _, k := range keys {
		key := r.Resolve(k, region)
		if key == "" || slices.Contains(s.keys, key) {
			continue
		}
		s.keys = append(s.keys, key)
		for _, id := range r.UpstreamIDs(key, region) {
			s.ids[id] = struct{}{}
		}
	}
	return s
}

// Empty reports whether nothing was selected.
func (s Selection) Empty() bool { return len(s.keys) == 0 }

// Keys returns the selected catalog keys in request order.
func (s Selection) Keys() []string { return slices.Clone(s.keys) }

// Matches reports whether an upstream service id stores under a selected key.
func (s Selection) Matches(upstreamID string) bool {
	_, ok := s.ids[normalizeID(upstreamID)]
	return ok
}

// Known reports whether key is in the curated table.
func (r *Registry) Known(key string) bool {
	_, ok := r.byKey[normalizeID(key)]
	return ok
}

// DisplayName falls back to the capitalized key for uncurated providers.
func (r *Registry) DisplayName(key string) string {
	if p, ok := r.byKey[normalizeID(key)]; ok && p.Name != "" {
		return p.Name
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	return strings.ToUpper(key[:1]) + key[1:]
}

// All returns the curated providers sorted by key.
func (r *Registry) All() []Provider {
	out := make([]Provider, 0, len(r.byKey))
	for _, p := range r.byKey {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func normalizeID(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
