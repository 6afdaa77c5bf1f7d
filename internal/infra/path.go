package infra

import (
	"fmt"
	"os"
	"path/filepath"
)

// Path returns the private working directory of p, or a path below it such
// as "install/lib". Configure steps use it to reference install trees.
func Path(ctx *BuildContext, p Package, sub ...string) string {
	return filepath.Join(append([]string{ctx.Paths.Packages, p.Ident()}, sub...)...)
}

// Goto makes the package directory (or a path below it) the current working
// directory, creating it if needed. All relative paths in probes and stages
// are resolved against it.
func Goto(ctx *BuildContext, p Package, sub ...string) error {
	dir := Path(ctx, p, sub...)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	if err := os.Chdir(dir); err != nil {
		return fmt.Errorf("failed to enter %s: %w", dir, err)
	}
	return nil
}

// Exists reports whether a path relative to the current directory exists.
// Probes are usually written in terms of it.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
