package infra

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

const gnuOriginalURL = "https://ftp.gnu.org/gnu"

// Downloader is the file download primitive: it retrieves url into dir under
// its remote file name and returns the resulting path.
type Downloader interface {
	Download(ctx context.Context, url, dir string) (string, error)
}

// Fetcher downloads http(s) and s3 URLs through a content cache shared by
// all packages and runs.
type Fetcher struct {
	CacheDir  string // empty disables the cache
	Client    *http.Client
	Mirror    *Mirror // serves s3:// URLs, optional
	GNUMirror string  // replaces https://ftp.gnu.org/gnu when set
	Progress  bool
	Log       *log.Logger
}

// NewFetcher returns a fetcher caching into cacheDir. A progress bar is shown
// when stderr is a terminal.
func NewFetcher(cacheDir string, logger *log.Logger) *Fetcher {
	if logger == nil {
		logger = log.Default()
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	// Some upstream mirrors are slow to complete the handshake.
	transport.TLSHandshakeTimeout = 30 * time.Second
	return &Fetcher{
		CacheDir: cacheDir,
		Client:   &http.Client{Transport: transport},
		Progress: term.IsTerminal(int(os.Stderr.Fd())),
		Log:      logger,
	}
}

// RemoteName returns the file name a URL downloads to.
func RemoteName(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("bad url %q: %w", raw, err)
	}
	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		return "", fmt.Errorf("url %q has no file name", raw)
	}
	return name, nil
}

// applyGnuMirror rewrites canonical GNU URLs to the configured mirror.
func (f *Fetcher) applyGnuMirror(originalURL string) string {
	if f.GNUMirror != "" && strings.HasPrefix(originalURL, gnuOriginalURL) {
		return strings.Replace(originalURL, gnuOriginalURL, strings.TrimRight(f.GNUMirror, "/"), 1)
	}
	return originalURL
}

// Download implements Downloader.
func (f *Fetcher) Download(ctx context.Context, rawURL, dir string) (string, error) {
	name, err := RemoteName(rawURL)
	if err != nil {
		return "", err
	}
	dest := filepath.Join(dir, name)

	if f.CacheDir == "" {
		if err := f.fetchTo(ctx, rawURL, dest); err != nil {
			return "", err
		}
		return dest, nil
	}

	// The cache key is the original URL so switching mirrors keeps hits.
	cachePath := filepath.Join(f.CacheDir, hashString(rawURL)+"-"+name)
	if err := f.fillCache(ctx, rawURL, cachePath); err != nil {
		return "", err
	}
	if err := copyFile(cachePath, dest); err != nil {
		return "", fmt.Errorf("failed to copy %s from cache: %w", name, err)
	}
	return dest, nil
}

// fillCache makes sure cachePath holds the body of rawURL. An exclusive
// flock serializes concurrent runs sharing the cache.
func (f *Fetcher) fillCache(ctx context.Context, rawURL, cachePath string) error {
	if err := os.MkdirAll(f.CacheDir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory %s: %w", f.CacheDir, err)
	}
	lockFile, err := os.OpenFile(cachePath+".lock", os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create lock file: %w", err)
	}
	defer lockFile.Close()
	if err := unix.Flock(int(lockFile.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("failed to acquire lock for download: %w", err)
	}
	defer unix.Flock(int(lockFile.Fd()), unix.LOCK_UN)

	if _, err := os.Stat(cachePath); err == nil {
		f.Log.Debug("already in cache", "url", rawURL, "path", cachePath)
		return nil
	}
	return f.fetchTo(ctx, rawURL, cachePath)
}

// fetchTo downloads into a temporary file next to dest and renames it into
// place, so dest never holds a partial download.
func (f *Fetcher) fetchTo(ctx context.Context, rawURL, dest string) error {
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := f.get(ctx, rawURL, tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dest)
}

func (f *Fetcher) get(ctx context.Context, rawURL string, out io.Writer) error {
	name, _ := RemoteName(rawURL)

	if strings.HasPrefix(rawURL, "s3://") {
		if f.Mirror == nil {
			return fmt.Errorf("no mirror configured for %s", rawURL)
		}
		f.Log.Info("fetching from mirror", "url", rawURL)
		_, err := f.Mirror.Fetch(ctx, rawURL, out)
		return err
	}

	if src := f.Mirror.SourceURL(name); src != "" {
		n, err := f.Mirror.Fetch(ctx, src, out)
		if err == nil {
			f.Log.Info("fetched from mirror", "url", src)
			return nil
		}
		if n > 0 {
			return err
		}
		f.Log.Debug("not on mirror, using upstream", "url", src, "err", err)
	}

	finalURL := f.applyGnuMirror(rawURL)
	if finalURL != rawURL {
		f.Log.Debug("using GNU mirror", "url", finalURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, finalURL, nil)
	if err != nil {
		return err
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", finalURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s failed with status: %s", finalURL, resp.Status)
	}

	Status("Fetching source: %s", name)
	w := out
	if f.Progress {
		bar := progressbar.NewOptions64(resp.ContentLength,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription(name),
			progressbar.OptionShowBytes(true),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionClearOnFinish(),
		)
		defer bar.Close()
		w = io.MultiWriter(out, bar)
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
