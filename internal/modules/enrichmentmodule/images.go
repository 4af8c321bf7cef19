package enrichmentmodule

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/ferrite-media/ferrite/internal/logger"
)

// ImageCache downloads provider artwork into a local directory so clients
// never hit the provider's CDN directly.
type ImageCache struct {
	dir  string
	http *http.Client
}

// NewImageCache creates a cache rooted at dir.
func NewImageCache(dir string) *ImageCache {
	return &ImageCache{
		dir:  dir,
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

// Fetch downloads the image at url into the cache as
// "<remoteID>_<kind>.jpg" and returns the local filename. Existing files are
// reused. Transient failures retry with exponential backoff.
func (ic *ImageCache) Fetch(ctx context.Context, url string, remoteID int64, kind string) (string, error) {
	return ic.FetchNamed(ctx, url, fmt.Sprintf("%d_%s.jpg", remoteID, kind))
}

// FetchNamed downloads url into the cache under an explicit filename, for
// callers whose naming carries more than an id and kind, like episode
// stills. Same reuse and retry behavior as Fetch.
func (ic *ImageCache) FetchNamed(ctx context.Context, url, name string) (string, error) {
	if url == "" {
		return "", nil
	}
	dest := filepath.Join(ic.dir, name)

	if fi, err := os.Stat(dest); err == nil && fi.Size() > 0 {
		return name, nil
	}
	if err := os.MkdirAll(ic.dir, 0o755); err != nil {
		return "", err
	}

	err := retry.Do(
		func() error { return ic.download(ctx, url, dest) },
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		logger.Warn("artwork download failed", "url", url, "error", err)
		os.Remove(dest)
		return "", err
	}
	return name, nil
}

func (ic *ImageCache) download(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := ic.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("artwork fetch returned %d", resp.StatusCode)
	}

	tmp := dest + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dest)
}
