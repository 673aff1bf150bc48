package pkgmgr

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/theckman/go-flock"

	"github.com/oSoWoSo/xbps-go/internal/config"
	"github.com/oSoWoSo/xbps-go/internal/downloader"
	"github.com/oSoWoSo/xbps-go/internal/format"
	"github.com/oSoWoSo/xbps-go/internal/installed"
	"github.com/oSoWoSo/xbps-go/internal/logging"
	"github.com/oSoWoSo/xbps-go/internal/pattern"
	"github.com/oSoWoSo/xbps-go/internal/pkgdb"
	"github.com/oSoWoSo/xbps-go/internal/pool"
	"github.com/oSoWoSo/xbps-go/internal/repo"
	"github.com/oSoWoSo/xbps-go/internal/resolve"
	"github.com/oSoWoSo/xbps-go/internal/txn"
	"github.com/oSoWoSo/xbps-go/internal/virtual"
)

// lockPollInterval is the retry delay TryLockContext uses while waiting for
// another process to release the status database lock.
const lockPollInterval = 50 * time.Millisecond

// Manager coordinates package operations by wiring configuration, repository
// metadata, the status database and the dependency resolver together.
type Manager struct {
	cfg           *config.Config
	client        *downloader.Client
	status        *pkgdb.Status
	statusPath    string
	indexes       repo.IndexSet
	indexesLoaded bool
	cache         string
	virtuals      *virtual.Map
	lock          *flock.Flock
}

// New creates a package manager using the provided configuration file.
func New(ctx context.Context, cfgPath string) (*Manager, error) {
	cfg, err := config.Load(ctx, cfgPath)
	if err != nil {
		return nil, err
	}
	cache, err := config.EnsureCacheDir(ctx, cfg)
	if err != nil {
		return nil, err
	}
	statusPath, err := cfg.StatusPath()
	var status *pkgdb.Status
	if err != nil {
		status = pkgdb.Empty()
	} else {
		status, err = pkgdb.Load(statusPath)
		if err != nil {
			// When the status file is missing we continue with an empty DB.
			if errors.Is(err, os.ErrNotExist) {
				status = pkgdb.Empty()
			} else {
				return nil, err
			}
		}
	}

	lockPath := statusPath
	if lockPath == "" {
		lockPath = filepath.Join(cache, "xbps-go.lock")
	} else {
		lockPath += ".lock"
	}

	return &Manager{
		cfg:        cfg,
		client:     downloader.New(0),
		status:     status,
		statusPath: statusPath,
		cache:      cache,
		virtuals:   virtual.NewMap(),
		lock:       flock.New(lockPath),
	}, nil
}

// Update refreshes the remote package metadata and rebuilds the
// virtual-package alias map from the feeds' Provides fields.
func (m *Manager) Update(ctx context.Context) error {
	indexes, err := repo.Update(ctx, m.cfg, m.cache, m.client)
	if err != nil {
		return err
	}
	m.indexes = repo.NewIndexSet(indexes)
	m.indexesLoaded = true

	vmap := virtual.NewMap()
	for _, pkg := range m.indexes.All() {
		if provides := pkg.Raw.Value("Provides"); provides != "" {
			for _, name := range providesNames(provides) {
				vmap.Index(pkg.Name, name)
			}
		}
	}
	if path := m.cfg.FindOption("virtual_provides", ""); path != "" {
		overrides, err := virtual.LoadOverrides(path)
		if err != nil {
			return fmt.Errorf("update: load virtual-provides overrides: %w", err)
		}
		vmap = vmap.WithOverrides(overrides)
	}
	m.virtuals = vmap
	return nil
}

func providesNames(field string) []string {
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

// List returns a human readable representation of packages available in the
// repositories. When installedOnly is true only packages present in the status
// database are returned.
func (m *Manager) List(installedOnly bool) []string {
	var lines []string
	if installedOnly {
		for _, entry := range m.status.Entries() {
			lines = append(lines, fmt.Sprintf("%s - %s", entry.Name, entry.Version))
		}
		return lines
	}

	for _, pkg := range m.indexes.All() {
		status := ""
		if m.status.Installed(pkg.Name) {
			status = " [installed]"
		}
		desc := strings.ReplaceAll(pkg.Description, "\n", " ")
		lines = append(lines, fmt.Sprintf("%s - %s%s", pkg.Name, desc, status))
	}
	return lines
}

// Info returns detailed information about the provided package name.
func (m *Manager) Info(name string) (string, error) {
	pkg, ok := m.indexes.Find(name)
	if !ok {
		if entry, err := m.status.Lookup(name); err == nil {
			return formatParagraph(entry.Raw), nil
		}
		return "", fmt.Errorf("package %s not found", name)
	}
	return formatParagraph(pkg.Raw), nil
}

// newPool builds the pool adapter over the currently loaded indexes and
// virtual-package alias map.
func (m *Manager) newPool() *pool.Pool {
	return pool.New(m.indexes, m.virtuals)
}

// newInstalled builds the installed-db adapter over the current status
// database, with a virtual-provider table derived from the loaded indexes'
// Provides fields. The table is built separately from the pool's alias map:
// virtual_provides overrides are not applied to it, and the order of several
// providers of one name follows index iteration, which is not guaranteed to
// match the pool's order.
func (m *Manager) newInstalled() *installed.DB {
	providers := map[string][]string{}
	for _, pkg := range m.indexes.All() {
		if provides := pkg.Raw.Value("Provides"); provides != "" {
			for _, name := range providesNames(provides) {
				providers[name] = append(providers[name], pkg.Name)
			}
		}
	}
	return installed.New(m.status, providers)
}

// Resolve computes the transitive install/update/configure set for name,
// without downloading or mutating anything on disk. The returned
// transaction context's UnsortedDeps are in depth-first pre-order.
func (m *Manager) Resolve(ctx context.Context, name string) (*txn.Context, error) {
	if err := m.ensureIndexesLoaded(); err != nil {
		return nil, err
	}

	locked, err := m.lock.TryLockContext(ctx, lockPollInterval)
	if err != nil {
		return nil, fmt.Errorf("resolve: acquire status lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("resolve: status database is locked by another process")
	}
	defer m.lock.Unlock()

	p := m.newPool()
	target, ok, err := p.FindPkg(pattern.Pattern{Name: name})
	if err != nil {
		return nil, fmt.Errorf("resolve: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("resolve: package %s not found", name)
	}

	r := resolve.New(m.newInstalled(), p)
	t := txn.NewContext()
	log := logging.FromContext(ctx)
	log.Debug("resolving package", "package", name)
	if err := r.Resolve(ctx, t, target); err != nil {
		return nil, err
	}
	return t, nil
}

// Install resolves name's full transaction and downloads the target package
// plus every queued dependency into the cache directory. It does not
// unpack, configure, or execute maintainer scripts; that remains the
// responsibility of the caller or external tooling.
func (m *Manager) Install(ctx context.Context, name string) (string, error) {
	t, err := m.Resolve(ctx, name)
	if err != nil {
		return "", err
	}

	log := logging.FromContext(ctx)
	for _, dep := range t.UnsortedDeps {
		pkg, ok := dep.(*pool.Package)
		if !ok {
			continue
		}
		if _, err := m.downloadPackage(ctx, pkg.Pkgname); err != nil {
			return "", fmt.Errorf("install dependency %s: %w", pkg.Pkgname, err)
		}
		log.Debug("queued dependency downloaded", "package", pkg.Pkgname, "action", pkg.Transaction)
	}

	return m.downloadPackage(ctx, name)
}

func (m *Manager) downloadPackage(ctx context.Context, name string) (string, error) {
	pkg, ok := m.indexes.Find(name)
	if !ok {
		return "", fmt.Errorf("package %s not available", name)
	}
	if pkg.Filename == "" {
		return "", fmt.Errorf("package %s does not declare a Filename field", name)
	}
	url := strings.TrimSuffix(pkg.Feed.URI, "/") + "/" + strings.TrimPrefix(pkg.Filename, "/")
	dest := filepath.Join(m.cache, filepath.Base(pkg.Filename))
	if err := m.client.DownloadToFile(ctx, url, dest); err != nil {
		return "", err
	}
	return dest, nil
}

func formatParagraph(p format.Paragraph) string {
	var lines []string
	keys := p.Keys()
	for _, key := range keys {
		lines = append(lines, fmt.Sprintf("%s: %s", key, strings.ReplaceAll(p.Fields[key], "\n", "\n ")))
	}
	return strings.Join(lines, "\n")
}

// Status returns the current status database.
func (m *Manager) Status() *pkgdb.Status {
	return m.status
}
