// Package txn implements the transaction context and its two accumulators:
// the unsorted-deps transaction set (§4.2) and the missing-deps set with
// newest-version-wins deduplication (§4.3).
package txn

import (
	"errors"
	"fmt"

	"github.com/oSoWoSo/xbps-go/internal/installed"
	"github.com/oSoWoSo/xbps-go/internal/pattern"
)

// Action is the action tag a resolved record is annotated with.
type Action string

const (
	ActionInstall   Action = "install"
	ActionUpdate    Action = "update"
	ActionConfigure Action = "configure"
)

// Record is the minimal view of a pool.Package the accumulators need. It is
// defined here (rather than importing internal/pool) to keep txn
// dependency-free of the pool/installed adapters it is itself a
// collaborator of — internal/pool imports internal/txn for the Action type,
// so the reverse import would cycle.
type Record interface {
	Name() string
	PkgverString() string
	SetState(installed.State)
	SetTransaction(Action)
	SetAutomaticInstall(bool)
}

// ErrInternal mirrors the core's Internal error kind: allocation failure,
// corrupt container, unexpected state.
var ErrInternal = errors.New("txn: internal error")

// ErrAlreadyPresent is the missing-dep accumulator's internal EEXIST signal,
// swallowed by the resolver driver.
var ErrAlreadyPresent = errors.New("txn: already present")

// Context is the transaction context (T): the pending transaction set and
// the deduplicated missing-dependency set, both owned exclusively by the
// caller of the top-level resolve operation for its duration.
type Context struct {
	UnsortedDeps []Record
	MissingDeps  []pattern.Pattern

	// index speeds up the uniqueness check Store enforces; it is kept in
	// lockstep with UnsortedDeps and never exposed.
	index map[string]bool
}

// NewContext returns an empty transaction context ready for a top-level
// resolve call.
func NewContext() *Context {
	return &Context{index: map[string]bool{}}
}

// FindPkgIn returns the unsorted-deps entry whose pkgver satisfies p, or
// false if none does. Mirrors transaction.find_pkg_in(T, "unsorted_deps", P).
func (t *Context) FindPkgIn(p pattern.Pattern) (Record, bool, error) {
	for _, r := range t.UnsortedDeps {
		if r.Name() != p.Name {
			continue
		}
		ok, err := p.Match(r.PkgverString())
		if err != nil {
			return nil, false, fmt.Errorf("txn: match %s: %w", p, err)
		}
		if ok {
			return r, true, nil
		}
	}
	return nil, false, nil
}

// Store is the transaction accumulator's sole operation (§4.2): it writes
// the record's pre-transaction state, marks it automatic, and appends it to
// UnsortedDeps. A second Store for a pkgname already present is rejected —
// spec §3's uniqueness invariant is enforced here rather than relied upon.
func Store(t *Context, c Record, state installed.State) error {
	if t == nil {
		return fmt.Errorf("%w: nil transaction context", ErrInternal)
	}
	if t.index == nil {
		t.index = map[string]bool{}
	}
	name := c.Name()
	if t.index[name] {
		return fmt.Errorf("%w: pkgname %q already queued", ErrInternal, name)
	}
	c.SetState(state)
	c.SetAutomaticInstall(true)
	t.UnsortedDeps = append(t.UnsortedDeps, c)
	t.index[name] = true
	return nil
}

// AddMissing is the missing-dep accumulator (§4.3): newest-version-wins
// deduplication keyed by pattern name. p must carry an explicit version
// constraint; the caller is responsible for only routing versioned patterns
// here (spec §4.3's stated precondition).
func AddMissing(t *Context, p pattern.Pattern, compare func(a, b string) int) error {
	if t == nil {
		return fmt.Errorf("%w: nil transaction context", ErrInternal)
	}
	if !p.HasVersion {
		return fmt.Errorf("%w: pattern %q has no version constraint", ErrInternal, p.Name)
	}

	for i, existing := range t.MissingDeps {
		if existing.Name != p.Name {
			continue
		}
		if existing.Version == p.Version {
			return ErrAlreadyPresent
		}
		if compare(existing.Version, p.Version) <= 0 {
			// existing is older than p: newer wins, replace in place.
			t.MissingDeps[i] = p
			return nil
		}
		// existing is newer than p: keep existing, signal duplicate.
		return ErrAlreadyPresent
	}

	t.MissingDeps = append(t.MissingDeps, p)
	return nil
}
