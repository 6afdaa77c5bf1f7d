package infra

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFetcher(t *testing.T, cache bool) *Fetcher {
	t.Helper()
	dir := ""
	if cache {
		dir = filepath.Join(t.TempDir(), "cache")
	}
	f := NewFetcher(dir, log.New(io.Discard))
	f.Progress = false
	return f
}

func TestFetcherDownloadCaches(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		io.WriteString(w, "tarball "+r.URL.Path)
	}))
	defer srv.Close()

	f := newTestFetcher(t, true)
	url := srv.URL + "/releases/pkg-1.0.tar.gz"

	for range 2 {
		dir := t.TempDir()
		path, err := f.Download(context.Background(), url, dir)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "pkg-1.0.tar.gz"), path)
		body, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "tarball /releases/pkg-1.0.tar.gz", string(body))
	}
	assert.EqualValues(t, 1, hits.Load(), "second download comes from the cache")
}

func TestFetcherWithoutCache(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		io.WriteString(w, "data")
	}))
	defer srv.Close()

	f := newTestFetcher(t, false)
	for range 2 {
		_, err := f.Download(context.Background(), srv.URL+"/a.tar.xz", t.TempDir())
		require.NoError(t, err)
	}
	assert.EqualValues(t, 2, hits.Load())
}

func TestFetcherHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	f := newTestFetcher(t, true)
	dir := t.TempDir()
	_, err := f.Download(context.Background(), srv.URL+"/missing.tar.gz", dir)
	require.ErrorContains(t, err, "404")
	assert.NoFileExists(t, filepath.Join(dir, "missing.tar.gz"))

	entries, err := os.ReadDir(f.CacheDir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), "missing.tar.gz"), "no cache entry for a failed download")
		assert.False(t, strings.HasPrefix(e.Name(), ".download-"), "no partial download left behind")
	}
}

func TestFetcherGNUMirror(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		io.WriteString(w, "make")
	}))
	defer srv.Close()

	f := newTestFetcher(t, true)
	f.GNUMirror = srv.URL + "/gnu/"
	got, err := f.Download(context.Background(), "https://ftp.gnu.org/gnu/make/make-4.3.tar.gz", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "make-4.3.tar.gz", filepath.Base(got))
	assert.Equal(t, "/gnu/make/make-4.3.tar.gz", path)
}

func TestFetcherS3WithoutMirror(t *testing.T) {
	f := newTestFetcher(t, false)
	_, err := f.Download(context.Background(), "s3://bucket/llvm.tar.xz", t.TempDir())
	assert.ErrorContains(t, err, "no mirror configured")
}

func TestRemoteName(t *testing.T) {
	name, err := RemoteName("https://github.com/ninja-build/ninja/archive/v1.8.2.tar.gz")
	require.NoError(t, err)
	assert.Equal(t, "v1.8.2.tar.gz", name)

	_, err = RemoteName("https://example.org/")
	assert.Error(t, err)
}

func TestParseS3URL(t *testing.T) {
	bucket, key, err := ParseS3URL("s3://sources/llvm/llvm-project-15.0.7.src.tar.xz")
	require.NoError(t, err)
	assert.Equal(t, "sources", bucket)
	assert.Equal(t, "llvm/llvm-project-15.0.7.src.tar.xz", key)

	_, _, err = ParseS3URL("https://sources/x")
	assert.Error(t, err)
	_, _, err = ParseS3URL("s3://bucket-only")
	assert.Error(t, err)
}

func TestMirrorConfig(t *testing.T) {
	assert.False(t, MirrorConfig{}.Enabled())
	assert.True(t, MirrorConfig{Bucket: "sources"}.Enabled())

	var none *Mirror
	assert.Empty(t, none.SourceURL("x.tar.gz"))
	assert.Equal(t, "s3://sources/x.tar.gz", (&Mirror{Bucket: "sources"}).SourceURL("x.tar.gz"))
}

func TestNewMirrorKeepsBucket(t *testing.T) {
	m, err := NewMirror(context.Background(), MirrorConfig{
		Bucket:    "sources",
		Endpoint:  "http://127.0.0.1:9000/",
		AccessKey: "key",
		SecretKey: "secret",
	}, false)
	require.NoError(t, err)
	assert.Equal(t, "sources", m.Bucket)
	assert.Equal(t, "s3://sources/make-4.3.tar.gz", m.SourceURL("make-4.3.tar.gz"))
}
