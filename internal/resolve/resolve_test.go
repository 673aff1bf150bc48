package resolve

import (
	"context"
	"errors"
	"testing"

	"github.com/oSoWoSo/xbps-go/internal/installed"
	"github.com/oSoWoSo/xbps-go/internal/pattern"
	"github.com/oSoWoSo/xbps-go/internal/pool"
	"github.com/oSoWoSo/xbps-go/internal/txn"
)

// fakeInstalled is an in-memory InstalledDB double keyed by pkgname, with a
// separate virtual-alias table mirroring the production adapter's split.
type fakeInstalled struct {
	byName   map[string]installed.Record
	virtuals map[string]string // virtual name -> providing real pkgname
}

func newFakeInstalled() *fakeInstalled {
	return &fakeInstalled{byName: map[string]installed.Record{}, virtuals: map[string]string{}}
}

func (f *fakeInstalled) add(r installed.Record) *fakeInstalled {
	f.byName[r.Pkgname] = r
	return f
}

func (f *fakeInstalled) FindByName(name string) (installed.Record, bool) {
	r, ok := f.byName[name]
	return r, ok
}

func (f *fakeInstalled) FindVirtualByName(name string) (installed.Record, bool) {
	provider, ok := f.virtuals[name]
	if !ok {
		return installed.Record{}, false
	}
	return f.FindByName(provider)
}

func (f *fakeInstalled) StateOf(r installed.Record) installed.State {
	if r.State == "" {
		return installed.NotInstalled
	}
	return r.State
}

// fakePool is an in-memory RepoPool double keyed by pkgname.
type fakePool struct {
	byName   map[string]*pool.Package
	virtuals map[string]string
}

func newFakePool() *fakePool {
	return &fakePool{byName: map[string]*pool.Package{}, virtuals: map[string]string{}}
}

func (f *fakePool) add(p *pool.Package) *fakePool {
	f.byName[p.Pkgname] = p
	return f
}

func (f *fakePool) FindPkg(p pattern.Pattern) (*pool.Package, bool, error) {
	pkg, ok := f.byName[p.Name]
	if !ok {
		return nil, false, nil
	}
	match, err := p.Match(pkg.Pkgver)
	if err != nil || !match {
		return nil, false, err
	}
	return pkg, true, nil
}

func (f *fakePool) FindVirtualPkg(p pattern.Pattern) (*pool.Package, bool, error) {
	provider, ok := f.virtuals[p.Name]
	if !ok {
		return nil, false, nil
	}
	return f.FindPkg(pattern.Pattern{Name: provider})
}

func newResolver(inst *fakeInstalled, pl *fakePool) *Resolver {
	return New(inst, pl)
}

// Scenario 1: leaf install — no run_depends, no side effects.
func TestResolveLeafInstall(t *testing.T) {
	r := newResolver(newFakeInstalled(), newFakePool())
	rec := &pool.Package{Pkgname: "a", Pkgver: "a-1"}
	tctx := txn.NewContext()

	if err := r.Resolve(context.Background(), tctx, rec); err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if len(tctx.UnsortedDeps) != 0 || len(tctx.MissingDeps) != 0 {
		t.Fatalf("expected no side effects, got unsorted=%v missing=%v", tctx.UnsortedDeps, tctx.MissingDeps)
	}
}

// Scenario 2: single satisfied installed dependency.
func TestResolveSatisfiedInstalledDep(t *testing.T) {
	inst := newFakeInstalled().add(installed.Record{Pkgname: "libc", Pkgver: "libc-2.5", State: installed.Installed})
	r := newResolver(inst, newFakePool())
	rec := &pool.Package{
		Pkgname:    "app",
		Pkgver:     "app-1",
		RunDepends: []pattern.Pattern{{Name: "libc", Op: pattern.OpGE, Version: "2", HasVersion: true}},
	}
	tctx := txn.NewContext()

	if err := r.Resolve(context.Background(), tctx, rec); err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if len(tctx.UnsortedDeps) != 0 || len(tctx.MissingDeps) != 0 {
		t.Fatalf("expected the installed dependency to satisfy the pattern with no side effects, got unsorted=%v missing=%v", tctx.UnsortedDeps, tctx.MissingDeps)
	}
}

// Scenario 3: single missing dependency, nowhere to be found.
func TestResolveSingleMissingDep(t *testing.T) {
	r := newResolver(newFakeInstalled(), newFakePool())
	rec := &pool.Package{
		Pkgname:    "app",
		Pkgver:     "app-1",
		RunDepends: []pattern.Pattern{{Name: "zzz", Op: pattern.OpGE, Version: "1", HasVersion: true}},
	}
	tctx := txn.NewContext()

	if err := r.Resolve(context.Background(), tctx, rec); err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if len(tctx.UnsortedDeps) != 0 {
		t.Fatalf("expected no queued dependency, got %v", tctx.UnsortedDeps)
	}
	if len(tctx.MissingDeps) != 1 || tctx.MissingDeps[0].String() != "zzz>=1" {
		t.Fatalf("MissingDeps = %v, want [zzz>=1]", tctx.MissingDeps)
	}
}

// Scenario 4: newest-wins missing-dep dedup, exercised end-to-end via two
// independent top-level targets sharing one transaction context.
func TestResolveNewestWinsMissingDedup(t *testing.T) {
	r := newResolver(newFakeInstalled(), newFakePool())
	target1 := &pool.Package{Pkgname: "t1", Pkgver: "t1-1", RunDepends: []pattern.Pattern{
		{Name: "foo", Op: pattern.OpGE, Version: "1.0", HasVersion: true},
	}}
	target2 := &pool.Package{Pkgname: "t2", Pkgver: "t2-1", RunDepends: []pattern.Pattern{
		{Name: "foo", Op: pattern.OpGE, Version: "2.0", HasVersion: true},
	}}
	tctx := txn.NewContext()

	if err := r.Resolve(context.Background(), tctx, target1); err != nil {
		t.Fatalf("Resolve(target1) returned error: %v", err)
	}
	if err := r.Resolve(context.Background(), tctx, target2); err != nil {
		t.Fatalf("Resolve(target2) returned error: %v", err)
	}
	if len(tctx.MissingDeps) != 1 || tctx.MissingDeps[0].String() != "foo>=2.0" {
		t.Fatalf("MissingDeps = %v, want [foo>=2.0]", tctx.MissingDeps)
	}
}

// Scenario 5: transitive install, two records in depth-first pre-order.
func TestResolveTransitiveInstall(t *testing.T) {
	pl := newFakePool().
		add(&pool.Package{Pkgname: "a", Pkgver: "a-1", RunDepends: []pattern.Pattern{
			{Name: "b", Op: pattern.OpGE, Version: "1", HasVersion: true},
		}}).
		add(&pool.Package{Pkgname: "b", Pkgver: "b-1"})
	r := newResolver(newFakeInstalled(), pl)
	rec := &pool.Package{
		Pkgname:    "app",
		Pkgver:     "app-1",
		RunDepends: []pattern.Pattern{{Name: "a", Op: pattern.OpGE, Version: "1", HasVersion: true}},
	}
	tctx := txn.NewContext()

	if err := r.Resolve(context.Background(), tctx, rec); err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if len(tctx.UnsortedDeps) != 2 {
		t.Fatalf("UnsortedDeps = %v, want 2 entries", tctx.UnsortedDeps)
	}
	if tctx.UnsortedDeps[0].Name() != "a" || tctx.UnsortedDeps[1].Name() != "b" {
		t.Fatalf("UnsortedDeps order = [%s, %s], want [a, b]", tctx.UnsortedDeps[0].Name(), tctx.UnsortedDeps[1].Name())
	}
	for _, dep := range tctx.UnsortedDeps {
		pkg := dep.(*pool.Package)
		if pkg.Transaction != txn.ActionInstall {
			t.Fatalf("%s.Transaction = %v, want install", pkg.Pkgname, pkg.Transaction)
		}
		if !pkg.AutomaticInstall {
			t.Fatalf("%s.AutomaticInstall = false, want true", pkg.Pkgname)
		}
	}
}

// Scenario 6: depth overflow over a long acyclic chain.
func TestResolveDepthOverflow(t *testing.T) {
	pl := newFakePool()
	const chainLen = maxDepth + 2
	for i := 0; i < chainLen; i++ {
		name := pkgNameAt(i)
		next := pkgNameAt(i + 1)
		pl.add(&pool.Package{
			Pkgname: name, Pkgver: name + "-1",
			RunDepends: []pattern.Pattern{{Name: next}},
		})
	}
	pl.add(&pool.Package{Pkgname: pkgNameAt(chainLen), Pkgver: pkgNameAt(chainLen) + "-1"})

	r := newResolver(newFakeInstalled(), pl)
	rec := &pool.Package{
		Pkgname:    "app",
		Pkgver:     "app-1",
		RunDepends: []pattern.Pattern{{Name: pkgNameAt(0)}},
	}
	tctx := txn.NewContext()

	err := r.Resolve(context.Background(), tctx, rec)
	if !errors.Is(err, ErrDepthExceeded) {
		t.Fatalf("Resolve() error = %v, want ErrDepthExceeded", err)
	}
}

// A cycle only surfaces through the path-based guard when it loops back to
// the root record passed to Resolve, since the root itself is never queued
// into t (only its dependencies are) and so the Pass 2 already-queued check
// can't short-circuit the repeat encounter the way it does for any other
// repeated name.
func TestResolveCycleDetected(t *testing.T) {
	pl := newFakePool().
		add(&pool.Package{Pkgname: "a", Pkgver: "a-1", RunDepends: []pattern.Pattern{{Name: "app"}}}).
		add(&pool.Package{Pkgname: "app", Pkgver: "app-1", RunDepends: []pattern.Pattern{{Name: "a"}}})
	r := newResolver(newFakeInstalled(), pl)
	rec := &pool.Package{Pkgname: "app", Pkgver: "app-1", RunDepends: []pattern.Pattern{{Name: "a"}}}
	tctx := txn.NewContext()

	err := r.Resolve(context.Background(), tctx, rec)
	if !errors.Is(err, ErrCycle) {
		t.Fatalf("Resolve() error = %v, want ErrCycle", err)
	}
}

func TestResolveInstalledVirtualSatisfies(t *testing.T) {
	inst := newFakeInstalled().add(installed.Record{Pkgname: "provider", Pkgver: "provider-1", State: installed.Installed})
	inst.virtuals["virtual-x"] = "provider"
	r := newResolver(inst, newFakePool())
	rec := &pool.Package{Pkgname: "app", Pkgver: "app-1", RunDepends: []pattern.Pattern{{Name: "virtual-x"}}}
	tctx := txn.NewContext()

	if err := r.Resolve(context.Background(), tctx, rec); err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if len(tctx.UnsortedDeps) != 0 || len(tctx.MissingDeps) != 0 {
		t.Fatalf("expected installed virtual provider to satisfy the dependency, got unsorted=%v missing=%v", tctx.UnsortedDeps, tctx.MissingDeps)
	}
}

func TestResolveAlreadyQueuedSkips(t *testing.T) {
	pl := newFakePool().add(&pool.Package{Pkgname: "shared", Pkgver: "shared-1"})
	r := newResolver(newFakeInstalled(), pl)
	rec := &pool.Package{
		Pkgname: "app", Pkgver: "app-1",
		RunDepends: []pattern.Pattern{{Name: "shared"}, {Name: "shared"}},
	}
	tctx := txn.NewContext()

	if err := r.Resolve(context.Background(), tctx, rec); err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if len(tctx.UnsortedDeps) != 1 {
		t.Fatalf("UnsortedDeps = %v, want exactly 1 entry (second reference already queued)", tctx.UnsortedDeps)
	}
}

func TestResolveUpdateActionForInstalledOlderVersion(t *testing.T) {
	inst := newFakeInstalled().add(installed.Record{Pkgname: "app", Pkgver: "app-1.0", State: installed.Installed})
	pl := newFakePool().add(&pool.Package{Pkgname: "app", Pkgver: "app-2.0"})
	r := newResolver(inst, pl)
	rec := &pool.Package{Pkgname: "top", Pkgver: "top-1", RunDepends: []pattern.Pattern{
		{Name: "app", Op: pattern.OpGE, Version: "2.0", HasVersion: true},
	}}
	tctx := txn.NewContext()

	if err := r.Resolve(context.Background(), tctx, rec); err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if len(tctx.UnsortedDeps) != 1 {
		t.Fatalf("UnsortedDeps = %v, want 1 entry", tctx.UnsortedDeps)
	}
	pkg := tctx.UnsortedDeps[0].(*pool.Package)
	if pkg.Transaction != txn.ActionUpdate {
		t.Fatalf("Transaction = %v, want update", pkg.Transaction)
	}
}

// Re-resolution of the same target against the same collaborators is a
// no-op: the already-queued check short-circuits every pattern the second
// time around.
func TestResolveIdempotent(t *testing.T) {
	pl := newFakePool().
		add(&pool.Package{Pkgname: "a", Pkgver: "a-1", RunDepends: []pattern.Pattern{{Name: "b"}}}).
		add(&pool.Package{Pkgname: "b", Pkgver: "b-1"})
	r := newResolver(newFakeInstalled(), pl)
	rec := &pool.Package{Pkgname: "app", Pkgver: "app-1", RunDepends: []pattern.Pattern{{Name: "a"}}}
	tctx := txn.NewContext()

	if err := r.Resolve(context.Background(), tctx, rec); err != nil {
		t.Fatalf("first Resolve returned error: %v", err)
	}
	before := append([]txn.Record(nil), tctx.UnsortedDeps...)

	if err := r.Resolve(context.Background(), tctx, rec); err != nil {
		t.Fatalf("second Resolve returned error: %v", err)
	}
	if len(tctx.UnsortedDeps) != len(before) {
		t.Fatalf("re-resolution changed UnsortedDeps: before=%v after=%v", before, tctx.UnsortedDeps)
	}
}

func pkgNameAt(i int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	return string(rune(letters[i%len(letters)])) + string(rune('0'+(i/len(letters))%10)) + string(rune('0'+(i/(len(letters)*10))%10))
}
