package pdf

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FontCache fetches the CJK font file once and keeps it on disk. Ensure is
// idempotent and safe for concurrent report requests: the download goes to a
// temp file first and is renamed into place.
type FontCache struct {
	// Path is the cached font location on disk.
	Path string
	// URL is fetched when Path does not exist yet. Empty disables fetching.
	URL string
	// Client defaults to a 30s-timeout client.
	Client *http.Client

	mu sync.Mutex
}

func (c *FontCache) httpClient() *http.Client {
	if c.Client != nil {
		return c.Client
	}
	return &http.Client{Timeout: 30 * time.Second}
}

// Ensure returns the font path, downloading it first when absent.
func (c *FontCache) Ensure(ctx context.Context) (string, error) {
	if c == nil || c.Path == "" {
		return "", errors.New("no font configured")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := os.Stat(c.Path); err == nil {
		return c.Path, nil
	}
	if c.URL == "" {
		return "", fmt.Errorf("font %s missing and no fetch url configured", c.Path)
	}

	if err := os.MkdirAll(filepath.Dir(c.Path), 0o755); err != nil {
		return "", fmt.Errorf("creating font dir: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching font: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetching font: unexpected status %d", resp.StatusCode)
	}

	tmp := c.Path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("writing font: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, c.Path); err != nil {
		os.Remove(tmp)
		return "", err
	}
	return c.Path, nil
}
