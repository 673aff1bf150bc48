// Package virtual maintains the alias map between virtual (provided) package
// names and the real repository packages that declare them, and answers the
// resolver's "does R provide P" question.
//
// Providers come from two sources: a repository index's own Provides
// control-file fields (the opkg/Debian convention), and an optional
// "virtual-provides.toml" override file that lets an operator pin a
// preferred provider for a given virtual name using a semver range, taking
// precedence over first-match-in-index ordering.
package virtual

import (
	"fmt"
	"os"

	"github.com/Masterminds/semver/v3"
	"github.com/pelletier/go-toml"
	"github.com/spf13/afero"

	"github.com/oSoWoSo/xbps-go/internal/pattern"
)

// fs is the filesystem LoadOverrides reads virtual-provides.toml from.
// Tests swap it for an afero.NewMemMapFs() to exercise parsing without
// touching disk, mirroring internal/pkgdb's Load/LoadFs split.
var fs afero.Fs = afero.NewOsFs()

// Override pins a preferred provider for a virtual name within a version
// range, read from virtual-provides.toml.
type Override struct {
	Name     string
	Provider string
	Range    string
}

// Map is the collaborator adapter over the alias table. It is built once
// from repository Provides fields plus optional overrides, and is read-only
// for the remainder of the process.
type Map struct {
	// providers maps a virtual name to the ordered list of real pkgnames
	// that declare it, in first-seen (pool scan) order.
	providers map[string][]string
	overrides map[string]Override
}

// NewMap creates an empty alias map.
func NewMap() *Map {
	return &Map{providers: map[string][]string{}, overrides: map[string]Override{}}
}

// Index records that pkgname provides the virtual name, preserving
// first-seen order so "first match wins" (spec §9 Open Questions) is
// reproducible across runs given a deterministic pool scan order.
func (m *Map) Index(pkgname, provides string) {
	for _, existing := range m.providers[provides] {
		if existing == pkgname {
			return
		}
	}
	m.providers[provides] = append(m.providers[provides], pkgname)
}

// Providers returns the real package names declaring the given virtual name,
// in first-match order.
func (m *Map) Providers(name string) []string {
	return m.providers[name]
}

// Matches reports whether a package record provides the pattern's name as a
// virtual package, honoring any override's pinned provider and semver range
// when one is configured for that name. pkgver is the candidate's own
// version (e.g. "1.2.3"), checked against the override's Range when set; a
// pkgver that fails to parse as semver is treated as out of range rather
// than panicking, since the resolver's own pattern versions are not
// required to be semver-shaped.
func (m *Map) Matches(pkgname, pkgver string, provides []string, p pattern.Pattern) bool {
	for _, v := range provides {
		if v != p.Name {
			continue
		}
		ov, ok := m.overrides[p.Name]
		if !ok {
			return true
		}
		if ov.Provider != pkgname {
			continue
		}
		if ov.Range == "" {
			return true
		}
		constraint, err := semver.NewConstraint(ov.Range)
		if err != nil {
			continue // invalid ranges are rejected at load time; defensive only
		}
		ver, err := semver.NewVersion(pkgver)
		if err != nil || !constraint.Check(ver) {
			continue
		}
		return true
	}
	return false
}

// LoadOverrides parses a virtual-provides.toml override file. Missing files
// are not an error; an empty map is left in place.
func LoadOverrides(path string) (map[string]Override, error) {
	return LoadOverridesFs(fs, path)
}

// LoadOverridesFs parses a virtual-provides.toml override file from the
// given filesystem, letting callers (chiefly tests) supply an
// afero.NewMemMapFs() instead of disk.
func LoadOverridesFs(fsys afero.Fs, path string) (map[string]Override, error) {
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Override{}, nil
		}
		return nil, fmt.Errorf("virtual: read overrides %s: %w", path, err)
	}

	var raw struct {
		Provides []struct {
			Name     string `toml:"name"`
			Provider string `toml:"provider"`
			Range    string `toml:"range"`
		} `toml:"provides"`
	}
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("virtual: parse overrides %s: %w", path, err)
	}

	out := map[string]Override{}
	for _, entry := range raw.Provides {
		if entry.Range != "" {
			if _, err := semver.NewConstraint(entry.Range); err != nil {
				return nil, fmt.Errorf("virtual: override %s has invalid range %q: %w", entry.Name, entry.Range, err)
			}
		}
		out[entry.Name] = Override{Name: entry.Name, Provider: entry.Provider, Range: entry.Range}
	}
	return out, nil
}

// WithOverrides returns a copy of m with the given overrides applied.
func (m *Map) WithOverrides(overrides map[string]Override) *Map {
	merged := &Map{providers: m.providers, overrides: map[string]Override{}}
	for k, v := range overrides {
		merged.overrides[k] = v
	}
	return merged
}
