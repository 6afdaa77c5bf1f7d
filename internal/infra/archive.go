package infra

import (
	"archive/tar"
	"compress/bzip2"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/ulikunitz/xz"
	"golang.org/x/sys/unix"
)

// format maps an archive suffix to the reader that undoes its compression.
// A nil open means a plain tar stream.
type format struct {
	suffix string
	open   func(io.Reader) (io.ReadCloser, error)
}

var formats = []format{
	{".tar.gz", openGzip},
	{".tgz", openGzip},
	{".tar.bz2", func(r io.Reader) (io.ReadCloser, error) { return io.NopCloser(bzip2.NewReader(r)), nil }},
	{".tar.xz", openXz},
	{".txz", openXz},
	{".tar.zst", func(r io.Reader) (io.ReadCloser, error) {
		d, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return d.IOReadCloser(), nil
	}},
	{".tar", nil},
	{".zip", nil},
}

func openGzip(r io.Reader) (io.ReadCloser, error) { return pgzip.NewReader(r) }

func openXz(r io.Reader) (io.ReadCloser, error) {
	xr, err := xz.NewReader(r)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(xr), nil
}

// ArchiveSuffixes lists the formats Extract understands.
var ArchiveSuffixes = func() []string {
	out := make([]string, len(formats))
	for i, f := range formats {
		out[i] = f.suffix
	}
	return out
}()

func formatOf(name string) (format, bool) {
	for _, f := range formats {
		if strings.HasSuffix(name, f.suffix) {
			return f, true
		}
	}
	return format{}, false
}

// TrimArchiveSuffix removes a known archive extension from a file name.
func TrimArchiveSuffix(name string) string {
	if f, ok := formatOf(name); ok {
		return strings.TrimSuffix(name, f.suffix)
	}
	return name
}

// Extract unpacks archive into dest, keeping the archive's own top-level
// directory. Entries escaping dest are rejected.
func Extract(archive, dest string) error {
	f, ok := formatOf(archive)
	if !ok {
		return fmt.Errorf("unsupported archive format: %s", archive)
	}
	dest, err := filepath.Abs(dest)
	if err != nil {
		return err
	}
	if f.suffix == ".zip" {
		return unzip(archive, dest)
	}

	file, err := os.Open(archive)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer file.Close()

	var r io.Reader = file
	if f.open != nil {
		rc, err := f.open(file)
		if err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(archive), err)
		}
		defer rc.Close()
		r = rc
	}
	if err := untar(tar.NewReader(r), dest); err != nil {
		return fmt.Errorf("%s: %w", filepath.Base(archive), err)
	}
	return nil
}

func untar(tr *tar.Reader, dest string) error {
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		target, err := within(dest, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			err = os.MkdirAll(target, os.FileMode(hdr.Mode)|0o700)
		case tar.TypeReg:
			if err = writeEntry(target, os.FileMode(hdr.Mode), tr); err == nil {
				err = os.Chtimes(target, hdr.AccessTime, hdr.ModTime)
			}
		case tar.TypeSymlink:
			err = mkparent(target)
			if err == nil {
				err = os.Symlink(hdr.Linkname, target)
			}
			if err == nil {
				// links keep their archived mtime
				tv := unix.NsecToTimeval(hdr.ModTime.UnixNano())
				_ = unix.Lutimes(target, []unix.Timeval{tv, tv})
			}
		case tar.TypeLink:
			var old string
			if old, err = within(dest, hdr.Linkname); err == nil {
				if err = mkparent(target); err == nil {
					err = os.Link(old, target)
				}
			}
		}
		if err != nil && !os.IsExist(err) {
			return fmt.Errorf("extract %s: %w", hdr.Name, err)
		}
	}
}

func unzip(src, dest string) error {
	zr, err := zip.OpenReader(src)
	if err != nil {
		return err
	}
	defer zr.Close()

	for _, f := range zr.File {
		target, err := within(dest, f.Name)
		if err != nil {
			return err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return err
		}
		err = writeEntry(target, f.Mode(), rc)
		rc.Close()
		if err != nil {
			return fmt.Errorf("extract %s: %w", f.Name, err)
		}
	}
	return nil
}

func mkparent(path string) error { return os.MkdirAll(filepath.Dir(path), 0o755) }

// writeEntry copies one archive member to path, creating parents.
func writeEntry(path string, mode os.FileMode, r io.Reader) error {
	if err := mkparent(path); err != nil {
		return err
	}
	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// within joins name onto dest and refuses results outside dest.
func within(dest, name string) (string, error) {
	p := filepath.Join(dest, name)
	if p != dest && !strings.HasPrefix(p, dest+string(os.PathSeparator)) {
		return "", fmt.Errorf("illegal file path in archive: %s", name)
	}
	return p, nil
}

// Unpack downloads url into the current directory, extracts it, renames the
// archive's top-level directory topDir to dest and removes the archive.
// It is the usual body of a tarball package's Fetch.
func Unpack(ctx *BuildContext, url, topDir, dest string) error {
	archive, err := ctx.Fetcher.Download(ctx.Ctx(), url, ".")
	if err != nil {
		return err
	}
	if err := Extract(archive, "."); err != nil {
		return err
	}
	if topDir != dest {
		if err := os.RemoveAll(dest); err != nil {
			return err
		}
		if err := os.Rename(topDir, dest); err != nil {
			return fmt.Errorf("archive %s has no %s directory: %w", filepath.Base(archive), topDir, err)
		}
	}
	return os.Remove(archive)
}
