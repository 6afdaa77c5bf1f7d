package packages

import (
	"archive/tar"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/klauspost/pgzip"
	"github.com/stretchr/testify/require"

	"infra/internal/infra"
)

// scriptedRunner records commands and lets a test simulate their effects.
type scriptedRunner struct {
	cmds   []string
	script func(line string, cmd infra.Command) (*infra.Result, error)
}

func (r *scriptedRunner) Run(cmd infra.Command) (*infra.Result, error) {
	line := cmd.Shell
	if len(cmd.Args) > 0 {
		line = strings.Join(cmd.Args, " ")
	}
	r.cmds = append(r.cmds, line)
	if r.script != nil {
		return r.script(line, cmd)
	}
	return &infra.Result{}, nil
}

// memDownloader serves tarballs built in memory.
type memDownloader struct {
	files map[string][]byte
	urls  []string
}

func (d *memDownloader) Download(_ context.Context, url, dir string) (string, error) {
	d.urls = append(d.urls, url)
	body, ok := d.files[url]
	if !ok {
		return "", os.ErrNotExist
	}
	name, err := infra.RemoteName(url)
	if err != nil {
		return "", err
	}
	dest := filepath.Join(dir, name)
	return dest, os.WriteFile(dest, body, 0o644)
}

func tarball(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := pgzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, body := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: name, Mode: 0o755, Size: int64(len(body)), Typeflag: tar.TypeReg,
		}))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func newTestContext(t *testing.T, r infra.Runner, d infra.Downloader) *infra.BuildContext {
	t.Helper()
	ctx := infra.NewBuildContext(context.Background(), infra.NewPaths(t.TempDir(), ""), log.New(io.Discard), io.Discard)
	ctx.Jobs = 4
	if r != nil {
		ctx.Runner = r
	}
	if d != nil {
		ctx.Fetcher = d
	}
	return ctx
}

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, nil, 0o755))
}
