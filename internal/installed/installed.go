// Package installed adapts the on-disk package status database
// (internal/pkgdb) to the narrow read-only contract the resolver core
// expects: lookup of real and virtual packages by name, and state queries.
package installed

import (
	"errors"
	"strings"

	"github.com/oSoWoSo/xbps-go/internal/pkgdb"
)

// State mirrors the on-disk lifecycle state of a package.
type State string

const (
	NotInstalled State = "NOT_INSTALLED"
	Unpacked     State = "UNPACKED"
	Installed    State = "INSTALLED"
	ConfigFiles  State = "CONFIG_FILES"
)

// Record is the subset of an installed package entry the resolver needs.
type Record struct {
	Pkgname  string
	Pkgver   string
	State    State
	Provides []string
}

// ErrNotFound mirrors pkgdb.ErrNotFound for callers that only depend on this
// package.
var ErrNotFound = errors.New("installed: package not found")

// DB is the collaborator adapter over the status database.
type DB struct {
	status   *pkgdb.Status
	virtuals map[string][]string // virtual name -> providing real pkgnames
}

// New wraps a status database. virtuals maps a virtual/alias name to the
// real packages that declare it in their Provides field; the package
// manager builds it from the repository indexes' Provides fields.
func New(status *pkgdb.Status, virtuals map[string][]string) *DB {
	if status == nil {
		status = pkgdb.Empty()
	}
	return &DB{status: status, virtuals: virtuals}
}

// FindByName looks up a real installed package by exact name.
func (db *DB) FindByName(name string) (Record, bool) {
	entry, err := db.status.Lookup(name)
	if err != nil {
		return Record{}, false
	}
	return Record{
		Pkgname:  entry.Name,
		Pkgver:   entry.Name + "-" + entry.Version,
		State:    stateFromStatusField(entry.Status),
		Provides: providesFromField(entry.Raw.Value("Provides")),
	}, true
}

// providesFromField parses a comma-separated Provides control field into
// bare virtual names, ignoring any version annotation — the installed
// database only needs to answer "does this record provide name X", not
// compare versions of the provided alias.
func providesFromField(field string) []string {
	if field == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(field, ",") {
		name := strings.TrimSpace(part)
		if idx := strings.IndexAny(name, " ("); idx >= 0 {
			name = name[:idx]
		}
		if name != "" {
			out = append(out, name)
		}
	}
	return out
}

// FindVirtualByName looks up an installed package that provides the given
// virtual name. First-match wins among installed providers.
func (db *DB) FindVirtualByName(name string) (Record, bool) {
	for _, provider := range db.virtuals[name] {
		if rec, ok := db.FindByName(provider); ok {
			return rec, true
		}
	}
	return Record{}, false
}

// StateOf returns the installed-state of a record, defaulting to
// NotInstalled for zero-value records.
func (db *DB) StateOf(r Record) State {
	if r.State == "" {
		return NotInstalled
	}
	return r.State
}

func stateFromStatusField(status string) State {
	switch {
	case strings.Contains(status, "config-files"):
		return ConfigFiles
	case strings.Contains(status, "unpacked"):
		return Unpacked
	case strings.Contains(status, "installed"):
		return Installed
	default:
		return NotInstalled
	}
}
