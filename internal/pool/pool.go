// Package pool adapts the repository index set (internal/repo) to the
// narrow, read-only contract the resolver core needs: best-candidate lookup
// by pattern, and virtual-package resolution, plus the typed Package record
// the rest of the resolver operates on.
package pool

import (
	"fmt"
	"strings"

	"github.com/oSoWoSo/xbps-go/internal/installed"
	"github.com/oSoWoSo/xbps-go/internal/pattern"
	"github.com/oSoWoSo/xbps-go/internal/repo"
	"github.com/oSoWoSo/xbps-go/internal/txn"
	"github.com/oSoWoSo/xbps-go/internal/version"
	"github.com/oSoWoSo/xbps-go/internal/virtual"
)

// Package is the in-memory aggregate form of spec §3's "Package record":
// the read-only fields come straight from the repository control file, the
// Transaction/AutomaticInstall fields are written by the resolver.
type Package struct {
	Pkgname          string
	Pkgver           string
	Repository       string
	RunDepends       []pattern.Pattern
	Provides         []pattern.Pattern
	State            installed.State
	Transaction      txn.Action
	AutomaticInstall bool
}

// Name satisfies txn.Record.
func (p *Package) Name() string { return p.Pkgname }

// PkgverString satisfies txn.Record.
func (p *Package) PkgverString() string { return p.Pkgver }

// SetState satisfies txn.Record.
func (p *Package) SetState(s installed.State) { p.State = s }

// SetTransaction satisfies txn.Record.
func (p *Package) SetTransaction(a txn.Action) { p.Transaction = a }

// SetAutomaticInstall satisfies txn.Record.
func (p *Package) SetAutomaticInstall(v bool) { p.AutomaticInstall = v }

// ProvidesNames returns the bare virtual names p declares via Provides,
// used by the resolver's already-queued check (Pass 2) to find a match
// among queued records acting as virtual providers.
func (p *Package) ProvidesNames() []string {
	names := make([]string, 0, len(p.Provides))
	for _, provide := range p.Provides {
		names = append(names, provide.Name)
	}
	return names
}

// Pool is the collaborator adapter over a repository IndexSet and its
// virtual-package alias map.
type Pool struct {
	indexes repo.IndexSet
	virtual *virtual.Map
}

// New wraps an index set and its derived alias map.
func New(indexes repo.IndexSet, vmap *virtual.Map) *Pool {
	return &Pool{indexes: indexes, virtual: vmap}
}

// FindPkg returns the real-package candidate named p.Name from the first
// index in the set that carries that name, if its version satisfies p.
// Copies of the same name in other indexes are not consulted or compared, so
// this is not a highest-version search across feeds.
func (pl *Pool) FindPkg(p pattern.Pattern) (*Package, bool, error) {
	repoPkg, ok := pl.indexes.Find(p.Name)
	if !ok {
		return nil, false, nil
	}
	ok, err := p.Match(repoPkg.Name + "-" + repoPkg.Version)
	if err != nil {
		return nil, false, fmt.Errorf("pool: match %s against %s: %w", p, repoPkg.Version, err)
	}
	if !ok {
		return nil, false, nil
	}
	return toPackage(repoPkg), true, nil
}

// FindVirtualPkg returns the first real package in the pool that provides
// p.Name as a virtual package, per the spec's documented first-match
// semantics (no cross-branch conflict detection) — except when an override
// pins a preferred provider for p.Name, in which case only that provider (and
// only within its configured semver range, if any) can satisfy the lookup.
func (pl *Pool) FindVirtualPkg(p pattern.Pattern) (*Package, bool, error) {
	for _, providerName := range pl.virtual.Providers(p.Name) {
		repoPkg, ok := pl.indexes.Find(providerName)
		if !ok {
			continue
		}
		if !pl.virtual.Matches(providerName, repoPkg.Version, []string{p.Name}, p) {
			continue
		}
		return toPackage(repoPkg), true, nil
	}
	return nil, false, nil
}

// Compare exposes version.Compare for callers (e.g. the missing-dep
// accumulator) that need the host's three-way version comparator without
// importing internal/version directly.
func Compare(a, b string) int { return version.Compare(a, b) }

func toPackage(rp repo.Package) *Package {
	pkg := &Package{
		Pkgname:    rp.Name,
		Pkgver:     rp.Name + "-" + rp.Version,
		Repository: rp.Feed.Name,
	}
	if deps := rp.Raw.Value("Depends"); deps != "" {
		pkg.RunDepends = parsePatterns(deps)
	}
	if provides := rp.Raw.Value("Provides"); provides != "" {
		pkg.Provides = parsePatterns(provides)
	}
	return pkg
}

func parsePatterns(field string) []pattern.Pattern {
	var out []pattern.Pattern
	for _, raw := range splitRelations(field) {
		p, err := pattern.Parse(raw)
		if err != nil {
			continue
		}
		out = append(out, p)
	}
	return out
}

// splitRelations tokenizes a Debian-style relation field ("a, b (>= 1), c")
// into individual pattern strings, taking only the first alternative of any
// "a | b" OR-group, matching the resolver's pattern model which has no
// alternation of its own.
func splitRelations(field string) []string {
	var out []string
	for _, clause := range splitTop(field, ',') {
		alts := splitTop(clause, '|')
		if len(alts) == 0 {
			continue
		}
		out = append(out, normalizeClause(alts[0]))
	}
	return out
}

func splitTop(s string, sep byte) []string {
	return strings.Split(s, string(sep))
}

func normalizeClause(clause string) string {
	s := strings.TrimSpace(clause)
	// Debian relation syntax "name (>= 1.2)" -> pattern syntax "name>=1.2".
	if i := strings.IndexByte(s, '('); i >= 0 {
		name := strings.TrimSpace(s[:i])
		rest := strings.TrimSpace(s[i+1:])
		rest = strings.TrimSuffix(rest, ")")
		op, ver := splitRelOp(rest)
		return name + op + ver
	}
	return s
}

func splitRelOp(s string) (string, string) {
	for _, op := range []string{">=", "<=", "==", "<<", ">>", "=", ">", "<"} {
		if strings.HasPrefix(s, op) {
			return normalizeOp(op), strings.TrimSpace(s[len(op):])
		}
	}
	return "=", strings.TrimSpace(s)
}

func normalizeOp(op string) string {
	switch op {
	case "==":
		return "="
	case "<<":
		return "<"
	case ">>":
		return ">"
	default:
		return op
	}
}
