package repo

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel"

	"github.com/oSoWoSo/xbps-go/internal/config"
	"github.com/oSoWoSo/xbps-go/internal/downloader"
	"github.com/oSoWoSo/xbps-go/internal/format"
	"github.com/oSoWoSo/xbps-go/internal/logging"
)

var tracer = otel.Tracer("xbps-go/internal/repo")

// Package captures the metadata required to perform dependency resolution and
// installation for a single package entry.
type Package struct {
	Name         string
	Version      string
	Architecture string
	Description  string
	Filename     string
	Size         string
	Feed         config.Feed
	Raw          format.Paragraph
}

// Index contains the parsed metadata for a feed.
type Index struct {
	Feed     config.Feed
	Packages map[string]Package
	Updated  time.Time
}

// Update fetches the Packages files for all feeds defined in the configuration
// and stores them inside cacheDir. The function runs downloads concurrently
// and accumulates every feed's failure rather than stopping at the first,
// since an operator refreshing a dozen mirrors wants to know all of the
// broken ones, not just whichever happened to fail first.
func Update(ctx context.Context, cfg *config.Config, cacheDir string, client *downloader.Client) ([]Index, error) {
	if cfg == nil {
		return nil, errors.New("configuration required")
	}
	if client == nil {
		return nil, errors.New("downloader required")
	}

	ctx, span := tracer.Start(ctx, "Update")
	defer span.End()

	log := logging.FromContext(ctx)
	log.Debug("updating feeds", "count", len(cfg.Feeds))

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		result []Index
		errs   *multierror.Error
	)

	for _, feed := range cfg.Feeds {
		feed := feed
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Debug("fetching feed", "feed", feed.Name)
			idx, err := fetchFeed(ctx, feed, cacheDir, client)
			if err != nil {
				mu.Lock()
				errs = multierror.Append(errs, err)
				mu.Unlock()
				log.Debug("feed failed", "feed", feed.Name, "error", err)
				return
			}
			log.Debug("feed loaded", "feed", feed.Name, "packages", len(idx.Packages))
			mu.Lock()
			result = append(result, *idx)
			mu.Unlock()
		}()
	}

	wg.Wait()
	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	return result, nil
}

func fetchFeed(ctx context.Context, feed config.Feed, cacheDir string, client *downloader.Client) (*Index, error) {
	if feed.URI == "" {
		return nil, fmt.Errorf("feed %s has empty URI", feed.Name)
	}
	log := logging.FromContext(ctx)
	base := strings.TrimSuffix(feed.URI, "/")
	urls := []string{base + "/Packages.gz", base + "/Packages"}
	var data []byte
	var err error
	for _, url := range urls {
		log.Debug("attempting feed url", "url", url)
		data, err = client.GetBytes(ctx, url)
		if err == nil {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("fetch feed %s: %w", feed.Name, err)
	}

	// If data is gzipped decompress it.
	if bytes.HasPrefix(data, []byte{0x1f, 0x8b}) {
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decompress %s: %w", feed.Name, err)
		}
		defer zr.Close()
		data, err = ioReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", feed.Name, err)
		}
	}

	cf, err := format.ParseControl(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", feed.Name, err)
	}

	log.Debug("parsing feed", "feed", feed.Name)

	index := Index{
		Feed:     feed,
		Packages: map[string]Package{},
		Updated:  time.Now(),
	}

	for _, paragraph := range cf.Paragraphs {
		name := paragraph.Value("Package")
		if name == "" {
			continue
		}
		index.Packages[name] = Package{
			Name:         name,
			Version:      paragraph.Value("Version"),
			Architecture: paragraph.Value("Architecture"),
			Description:  paragraph.Value("Description"),
			Filename:     paragraph.Value("Filename"),
			Size:         paragraph.Value("Size"),
			Feed:         feed,
			Raw:          paragraph,
		}
	}

	if cacheDir != "" {
		path := filepath.Join(cacheDir, fmt.Sprintf("%s.Packages", feed.Name))
		if err := osWriteFile(path, data, 0o644); err != nil {
			return nil, fmt.Errorf("cache feed %s: %w", feed.Name, err)
		}
		log.Debug("cached feed", "feed", feed.Name, "path", path)
	}

	return &index, nil
}

// IndexSet aggregates multiple indexes, providing helper functions to query
// packages across feeds.
type IndexSet struct {
	indexes []Index
}

// NewIndexSet wraps indexes into a set.
func NewIndexSet(indexes []Index) IndexSet {
	return IndexSet{indexes: indexes}
}

// Find returns the package with the provided name across all feeds.
func (s IndexSet) Find(name string) (Package, bool) {
	for _, idx := range s.indexes {
		if pkg, ok := idx.Packages[name]; ok {
			return pkg, true
		}
	}
	return Package{}, false
}

// All returns a flattened slice of all packages.
func (s IndexSet) All() []Package {
	var out []Package
	for _, idx := range s.indexes {
		for _, pkg := range idx.Packages {
			out = append(out, pkg)
		}
	}
	return out
}

// Helpers extracted for testing.
var (
	ioReadAll   = func(r io.Reader) ([]byte, error) { return io.ReadAll(r) }
	osWriteFile = func(name string, data []byte, perm os.FileMode) error { return os.WriteFile(name, data, perm) }
)
