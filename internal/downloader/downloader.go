package downloader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/oSoWoSo/xbps-go/internal/logging"
)

// Client wraps a retryablehttp.Client to provide convenient helpers for
// downloading repository metadata and package archives. Repository feed
// fetches are exactly the flaky-network operation retryablehttp exists for:
// a dropped connection mid-mirror-sync should not fail an entire Update.
type Client struct {
	http    *retryablehttp.Client
	timeout time.Duration
}

// New creates a downloader with sane defaults.
func New(timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.Logger = hclog.Default().Named("downloader")
	rc.HTTPClient.Timeout = timeout
	return &Client{http: rc, timeout: timeout}
}

// GetBytes fetches the URL and returns the body as a byte slice.
func (c *Client) GetBytes(ctx context.Context, url string) ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("nil downloader client")
	}
	log := logging.FromContext(ctx)
	log.Debug("fetching", "url", url)
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s for %s", resp.Status, url)
	}
	body, err := io.ReadAll(resp.Body)
	if err == nil {
		log.Debug("fetched", "url", url, "bytes", len(body))
	}
	return body, err
}

// DownloadToFile downloads the content from url and writes it to the provided
// path, creating parent directories as necessary.
func (c *Client) DownloadToFile(ctx context.Context, url, path string) error {
	log := logging.FromContext(ctx)
	log.Debug("downloading", "url", url, "dest", path)
	data, err := c.GetBytes(ctx, url)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("prepare directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit download: %w", err)
	}
	log.Debug("download completed", "dest", path)
	return nil
}
