// Package resolve implements the dependency-resolution driver: the
// recursive, depth-first traversal that, given a repository package record,
// classifies every transitively reachable runtime dependency as already
// satisfied, newly queued for installation, or missing.
package resolve

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"

	"github.com/oSoWoSo/xbps-go/internal/installed"
	"github.com/oSoWoSo/xbps-go/internal/logging"
	"github.com/oSoWoSo/xbps-go/internal/pattern"
	"github.com/oSoWoSo/xbps-go/internal/pool"
	"github.com/oSoWoSo/xbps-go/internal/txn"
)

// maxDepth bounds the recursion depth of the dependency traversal.
const maxDepth = 512

// Error kinds. NotFound, AlreadyPresent are internal signals the driver
// recovers from and never escape Resolve; the rest abort the traversal.
var (
	ErrInvalidArgument = errors.New("resolve: invalid argument")
	ErrNotFound        = errors.New("resolve: not found")
	ErrDepthExceeded   = errors.New("resolve: recursion depth exceeded")
	ErrCycle           = errors.New("resolve: dependency cycle detected")
	ErrInternal        = errors.New("resolve: internal error")
	ErrLookupError     = errors.New("resolve: collaborator lookup error")
)

var tracer = otel.Tracer("xbps-go/internal/resolve")

// virtualProvider is satisfied by queued records that can answer "which
// virtual names do you declare", used by Pass 2's already-queued check.
type virtualProvider interface {
	ProvidesNames() []string
}

// InstalledDB is the installed-lookup collaborator Pass 1 and Pass 4 depend
// on. *installed.DB satisfies it; tests substitute an in-memory fake.
type InstalledDB interface {
	FindByName(name string) (installed.Record, bool)
	FindVirtualByName(name string) (installed.Record, bool)
	StateOf(installed.Record) installed.State
}

// RepoPool is the repository-pool collaborator Pass 3 depends on.
// *pool.Pool satisfies it; tests substitute an in-memory fake.
type RepoPool interface {
	FindPkg(p pattern.Pattern) (*pool.Package, bool, error)
	FindVirtualPkg(p pattern.Pattern) (*pool.Package, bool, error)
}

// Resolver is the dependency resolution core. It is stateless between
// top-level Resolve calls; all per-call state (depth, visited path) lives on
// the stack of that call.
type Resolver struct {
	Installed InstalledDB
	Pool      RepoPool
}

// New builds a Resolver over the given installed-database and repository
// pool adapters.
func New(db InstalledDB, p RepoPool) *Resolver {
	return &Resolver{Installed: db, Pool: p}
}

// Resolve computes the transitive install/update/configure set for rec's
// runtime dependencies, extending t in place. On success every pattern
// reachable from rec.RunDepends is classified per the closure property: it
// is already satisfied, queued in t.UnsortedDeps, or present in
// t.MissingDeps. On failure t is left in an indeterminate state and must be
// discarded by the caller.
func (r *Resolver) Resolve(ctx context.Context, t *txn.Context, rec *pool.Package) error {
	ctx, span := tracer.Start(ctx, "Resolve")
	defer span.End()
	return r.walk(ctx, t, rec, 0, map[string]bool{})
}

// walk is the recursive traversal body. depth and path are threaded
// explicitly (rather than held on the Resolver) so that concurrent
// top-level Resolve calls over independent transaction contexts never share
// mutable state — see the concurrency notes in SPEC_FULL.md.
func (r *Resolver) walk(ctx context.Context, t *txn.Context, rec *pool.Package, depth int, path map[string]bool) error {
	if rec == nil {
		return fmt.Errorf("%w: nil package record", ErrInvalidArgument)
	}
	if depth >= maxDepth {
		return ErrDepthExceeded
	}
	if len(rec.RunDepends) == 0 {
		return nil
	}
	if path[rec.Pkgname] {
		return fmt.Errorf("%w: %s", ErrCycle, rec.Pkgname)
	}
	path[rec.Pkgname] = true
	defer delete(path, rec.Pkgname)

	log := logging.FromContext(ctx)

	for _, p := range rec.RunDepends {
		candidate, recurse, err := r.resolveOne(ctx, t, p)
		if err != nil {
			log.Debug("dependency resolution failed", "package", rec.Pkgname, "pattern", p.String(), "error", err)
			return err
		}
		if !recurse || candidate == nil {
			continue
		}
		if len(candidate.RunDepends) == 0 {
			continue
		}
		if err := r.walk(ctx, t, candidate, depth+1, path); err != nil {
			return err
		}
	}
	return nil
}

// resolveOne runs the four passes for a single pattern. It returns the
// queued candidate and true if the driver should recurse into its
// dependencies, or (nil, false, nil) when the pattern was skipped, recorded
// as missing, or otherwise fully handled without producing a new candidate
// to recurse into.
func (r *Resolver) resolveOne(ctx context.Context, t *txn.Context, p pattern.Pattern) (*pool.Package, bool, error) {
	// installedVersionHint carries the installed-but-incompatible version
	// across to Pass 3's not-found branch below, so that a pattern nobody
	// can satisfy is at least logged next to what is actually installed.
	var installedVersionHint string

	// Pass 1 — installed lookup.
	if real, ok := r.Installed.FindByName(p.Name); ok {
		if containsName(real.Provides, p.Name) {
			return nil, false, nil // declared as a provided virtual: satisfied
		}
		match, err := p.Match(real.Pkgver)
		if err != nil {
			return nil, false, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
		if match {
			switch r.Installed.StateOf(real) {
			case installed.Installed:
				return nil, false, nil // satisfied, nothing to do
			case installed.Unpacked:
				// Intended action would be "configure", but Pass 4 always
				// recomputes the action tag for whatever candidate is
				// eventually queued; that intent only ever "wins" when
				// Pass 2 below short-circuits to a skip, in which case no
				// record is queued at all. Preserved as observed.
			}
		} else {
			installedVersionHint = real.Pkgver
		}
		// No match, or a match in any state other than INSTALLED: fall
		// through to Pass 2.
	} else if _, ok := r.Installed.FindVirtualByName(p.Name); ok {
		return nil, false, nil // satisfied by an installed virtual provider
	}

	// Pass 2 — already-queued check.
	if _, ok, err := findVirtualIn(t, p); err != nil {
		return nil, false, err
	} else if ok {
		return nil, false, nil
	}
	if _, ok, err := t.FindPkgIn(p); err != nil {
		return nil, false, err
	} else if ok {
		return nil, false, nil
	}

	// Pass 3 — repository pool lookup.
	candidate, ok, err := r.Pool.FindVirtualPkg(p)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrLookupError, err)
	}
	if !ok {
		candidate, ok, err = r.Pool.FindPkg(p)
		if err != nil {
			return nil, false, fmt.Errorf("%w: %v", ErrLookupError, err)
		}
	}
	if !ok {
		if installedVersionHint != "" {
			logging.FromContext(ctx).Debug("no repository candidate for pattern with incompatible installed version",
				"pattern", p.String(), "installed_version", installedVersionHint)
		}
		if !p.HasVersion {
			// The accumulator requires an explicit version; an
			// unversioned pattern with no candidate anywhere is recorded
			// as name>=0 (any version). A later versioned pattern for the
			// same name compares newer and replaces it, while this entry
			// never displaces an existing versioned one.
			p = pattern.Pattern{Name: p.Name, Op: pattern.OpGE, Version: "0", HasVersion: true}
		}
		switch err := txn.AddMissing(t, p, pool.Compare); {
		case errors.Is(err, txn.ErrAlreadyPresent):
			return nil, false, nil
		case err != nil:
			return nil, false, fmt.Errorf("%w: %v", ErrInternal, err)
		default:
			return nil, false, nil
		}
	}

	// Pass 4 — post-lookup installed check.
	installedState := installed.NotInstalled
	action := txn.ActionInstall
	if crec, ok := r.Installed.FindByName(candidate.Pkgname); ok {
		installedState = r.Installed.StateOf(crec)
		switch installedState {
		case installed.Installed:
			action = txn.ActionUpdate
		case installed.Unpacked:
			action = txn.ActionInstall
		}
	}
	// A virtual-alias lookup of the candidate's own real pkgname has no
	// useful second meaning here (unlike Pass 1, where the pattern being
	// looked up may itself be a virtual name) — C already has a concrete
	// pkgname, so only the real-package lookup applies.

	candidate.SetTransaction(action)
	if err := txn.Store(t, candidate, installedState); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrInternal, err)
	}

	return candidate, true, nil
}

// findVirtualIn searches t.UnsortedDeps for an already-queued record that
// declares p.Name as a provided virtual, mirroring
// transaction.find_virtualpkg_in(T, "unsorted_deps", P).
func findVirtualIn(t *txn.Context, p pattern.Pattern) (txn.Record, bool, error) {
	for _, r := range t.UnsortedDeps {
		vp, ok := r.(virtualProvider)
		if !ok {
			continue
		}
		if containsName(vp.ProvidesNames(), p.Name) {
			return r, true, nil
		}
	}
	return nil, false, nil
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
