package pool

import (
	"testing"

	"github.com/oSoWoSo/xbps-go/internal/config"
	"github.com/oSoWoSo/xbps-go/internal/format"
	"github.com/oSoWoSo/xbps-go/internal/pattern"
	"github.com/oSoWoSo/xbps-go/internal/repo"
	"github.com/oSoWoSo/xbps-go/internal/virtual"
)

func newIndexSet(pkgs ...repo.Package) repo.IndexSet {
	idx := repo.Index{Packages: map[string]repo.Package{}}
	for _, pkg := range pkgs {
		idx.Packages[pkg.Name] = pkg
	}
	return repo.NewIndexSet([]repo.Index{idx})
}

func pkgWithFields(name, version string, fields map[string]string) repo.Package {
	return repo.Package{
		Name:    name,
		Version: version,
		Feed:    config.Feed{Name: "main"},
		Raw:     format.Paragraph{Fields: fields},
	}
}

func TestFindPkg(t *testing.T) {
	indexes := newIndexSet(pkgWithFields("foo", "2.0", map[string]string{
		"Depends":  "bar (>= 1.0), baz",
		"Provides": "foo-virtual",
	}))
	pl := New(indexes, virtual.NewMap())

	got, ok, err := pl.FindPkg(pattern.Pattern{Name: "foo", Op: pattern.OpGE, Version: "1.0", HasVersion: true})
	if err != nil {
		t.Fatalf("FindPkg returned error: %v", err)
	}
	if !ok {
		t.Fatal("expected foo to be found")
	}
	if got.Pkgver != "foo-2.0" {
		t.Fatalf("Pkgver = %q, want foo-2.0", got.Pkgver)
	}
	if len(got.RunDepends) != 2 {
		t.Fatalf("RunDepends = %v, want 2 entries", got.RunDepends)
	}
	if got.RunDepends[0].String() != "bar>=1.0" {
		t.Fatalf("RunDepends[0] = %q, want bar>=1.0", got.RunDepends[0].String())
	}
	if got.RunDepends[1].String() != "baz" {
		t.Fatalf("RunDepends[1] = %q, want baz", got.RunDepends[1].String())
	}
	if len(got.Provides) != 1 || got.Provides[0].Name != "foo-virtual" {
		t.Fatalf("Provides = %v, want [foo-virtual]", got.Provides)
	}
}

func TestFindPkgVersionMismatch(t *testing.T) {
	indexes := newIndexSet(pkgWithFields("foo", "1.0", nil))
	pl := New(indexes, virtual.NewMap())

	_, ok, err := pl.FindPkg(pattern.Pattern{Name: "foo", Op: pattern.OpGE, Version: "2.0", HasVersion: true})
	if err != nil {
		t.Fatalf("FindPkg returned error: %v", err)
	}
	if ok {
		t.Fatal("expected no match for an unsatisfiable version constraint")
	}
}

// Debian's strict-inequality spellings, << and >>, must translate to the
// strict pattern operators rather than their inclusive counterparts.
func TestFindPkgStrictDebianOperators(t *testing.T) {
	indexes := newIndexSet(pkgWithFields("app", "1.0", map[string]string{
		"Depends": "bar (<< 2.0), baz (>> 1.0)",
	}))
	pl := New(indexes, virtual.NewMap())

	got, ok, err := pl.FindPkg(pattern.Pattern{Name: "app"})
	if err != nil || !ok {
		t.Fatalf("FindPkg() = %v, %v, %v", got, ok, err)
	}
	if len(got.RunDepends) != 2 {
		t.Fatalf("RunDepends = %v, want 2 entries", got.RunDepends)
	}
	if got.RunDepends[0].String() != "bar<2.0" {
		t.Fatalf("RunDepends[0] = %q, want bar<2.0", got.RunDepends[0].String())
	}
	if got.RunDepends[1].String() != "baz>1.0" {
		t.Fatalf("RunDepends[1] = %q, want baz>1.0", got.RunDepends[1].String())
	}

	bar := newIndexSet(pkgWithFields("bar", "1.5", nil))
	barPool := New(bar, virtual.NewMap())
	match, ok, err := barPool.FindPkg(got.RunDepends[0])
	if err != nil {
		t.Fatalf("FindPkg(bar) returned error: %v", err)
	}
	if !ok || match.Pkgver != "bar-1.5" {
		t.Fatalf("expected bar-1.5 to satisfy bar<2.0, got %v, %v", match, ok)
	}
}

func TestFindVirtualPkg(t *testing.T) {
	indexes := newIndexSet(
		pkgWithFields("provider-a", "1.0", nil),
		pkgWithFields("provider-b", "1.0", nil),
	)
	vmap := virtual.NewMap()
	vmap.Index("provider-a", "virtual-x")
	vmap.Index("provider-b", "virtual-x")
	pl := New(indexes, vmap)

	got, ok, err := pl.FindVirtualPkg(pattern.Pattern{Name: "virtual-x"})
	if err != nil {
		t.Fatalf("FindVirtualPkg returned error: %v", err)
	}
	if !ok {
		t.Fatal("expected a virtual match")
	}
	if got.Pkgname != "provider-a" {
		t.Fatalf("Pkgname = %q, want provider-a (first match wins)", got.Pkgname)
	}
}

func TestFindVirtualPkgHonorsOverride(t *testing.T) {
	indexes := newIndexSet(
		pkgWithFields("provider-a", "1.0", nil),
		pkgWithFields("provider-b", "2.5", nil),
	)
	vmap := virtual.NewMap()
	vmap.Index("provider-a", "virtual-x")
	vmap.Index("provider-b", "virtual-x")
	vmap = vmap.WithOverrides(map[string]virtual.Override{
		"virtual-x": {Name: "virtual-x", Provider: "provider-b", Range: ">=2.0.0"},
	})
	pl := New(indexes, vmap)

	got, ok, err := pl.FindVirtualPkg(pattern.Pattern{Name: "virtual-x"})
	if err != nil {
		t.Fatalf("FindVirtualPkg returned error: %v", err)
	}
	if !ok {
		t.Fatal("expected a virtual match via the pinned provider")
	}
	if got.Pkgname != "provider-b" {
		t.Fatalf("Pkgname = %q, want provider-b (pinned by override, skipping first-match order)", got.Pkgname)
	}
}

func TestFindVirtualPkgOverrideRangeExcludesPinnedProvider(t *testing.T) {
	indexes := newIndexSet(pkgWithFields("provider-a", "1.0", nil))
	vmap := virtual.NewMap()
	vmap.Index("provider-a", "virtual-x")
	vmap = vmap.WithOverrides(map[string]virtual.Override{
		"virtual-x": {Name: "virtual-x", Provider: "provider-a", Range: ">=2.0.0"},
	})
	pl := New(indexes, vmap)

	_, ok, err := pl.FindVirtualPkg(pattern.Pattern{Name: "virtual-x"})
	if err != nil {
		t.Fatalf("FindVirtualPkg returned error: %v", err)
	}
	if ok {
		t.Fatal("expected no match: pinned provider's version falls outside the override range")
	}
}

func TestProvidesNames(t *testing.T) {
	indexes := newIndexSet(pkgWithFields("foo", "1.0", map[string]string{
		"Provides": "alpha, beta (>= 1.0)",
	}))
	pl := New(indexes, virtual.NewMap())
	got, ok, err := pl.FindPkg(pattern.Pattern{Name: "foo"})
	if err != nil || !ok {
		t.Fatalf("FindPkg() = %v, %v, %v", got, ok, err)
	}
	names := got.ProvidesNames()
	want := []string{"alpha", "beta"}
	if len(names) != len(want) {
		t.Fatalf("ProvidesNames() = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("ProvidesNames()[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}
