// Package pattern parses and matches dependency patterns of the form
// "name<op><version>" or bare "name", mirroring the relation syntax opkg and
// xbps both derive from Debian control files.
package pattern

import (
	"fmt"
	"strings"

	"github.com/oSoWoSo/xbps-go/internal/version"
)

// Operator is one of the five comparison operators a pattern may carry.
type Operator string

const (
	OpNone Operator = ""
	OpGE   Operator = ">="
	OpLE   Operator = "<="
	OpGT   Operator = ">"
	OpLT   Operator = "<"
	OpEQ   Operator = "="
)

// orderedOperators lists operators longest-first so that "<=" is not
// mis-tokenized as "<" followed by a stray "=".
var orderedOperators = []Operator{OpGE, OpLE, OpEQ, OpGT, OpLT}

// Pattern is a parsed dependency pattern.
type Pattern struct {
	Name       string
	Op         Operator
	Version    string
	HasVersion bool
}

// String reassembles the pattern into its canonical textual form.
func (p Pattern) String() string {
	if !p.HasVersion {
		return p.Name
	}
	return p.Name + string(p.Op) + p.Version
}

// Parse splits a raw pattern string into name and optional version
// constraint. A bare name with no operator yields HasVersion=false.
func Parse(raw string) (Pattern, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Pattern{}, fmt.Errorf("pattern: empty pattern")
	}
	for _, op := range orderedOperators {
		if idx := strings.Index(raw, string(op)); idx > 0 {
			name := raw[:idx]
			ver := raw[idx+len(op):]
			if ver == "" {
				return Pattern{}, fmt.Errorf("pattern: %q missing version after operator %q", raw, op)
			}
			return Pattern{Name: name, Op: op, Version: ver, HasVersion: true}, nil
		}
	}
	return Pattern{Name: raw}, nil
}

// Match reports whether pkgver (a fully-qualified "name-version" string, or
// a bare version) satisfies the pattern's constraint. A pattern without a
// version constraint matches any version of the same name.
func (p Pattern) Match(pkgver string) (bool, error) {
	if !p.HasVersion {
		return true, nil
	}
	ver := versionOf(pkgver)
	if strings.HasPrefix(pkgver, p.Name+"-") {
		ver = pkgver[len(p.Name)+1:]
	}
	return version.CompareOp(ver, string(p.Op), p.Version)
}

// versionOf returns the part of pkgver after its last hyphen, or the whole
// string if it has no hyphen. Match uses it only when pkgver does not start
// with the pattern's own "name-" prefix.
func versionOf(pkgver string) string {
	if idx := strings.LastIndexByte(pkgver, '-'); idx >= 0 {
		return pkgver[idx+1:]
	}
	return pkgver
}
