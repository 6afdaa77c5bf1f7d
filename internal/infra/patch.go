package infra

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
)

// PatchRef is one entry of a package's patch list.
type PatchRef struct {
	// Path is either a bare name, looked up in the package family's
	// built-in patch directory, or a path containing a separator, used as is.
	Path string
	// Dir, if set, is the subdirectory of the source tree to apply the
	// patch in, e.g. "llvm" inside llvm-project.
	Dir string
}

// Patches turns plain names or paths into patch references.
func Patches(names ...string) []PatchRef {
	refs := make([]PatchRef, 0, len(names))
	for _, n := range names {
		refs = append(refs, PatchRef{Path: n})
	}
	return refs
}

// PatchSet describes how a package family names its built-in patches.
type PatchSet struct {
	Family string // subdirectory of Paths.Patches
	Suffix string // appended to bare names, e.g. "-15.0.7"
	Strip  int    // the -p level
}

// Resolve returns the patch file a reference points to.
func (s PatchSet) Resolve(ctx *BuildContext, ref PatchRef) string {
	if strings.ContainsRune(ref.Path, os.PathSeparator) {
		return ref.Path
	}
	return filepath.Join(ctx.Paths.Patches, s.Family, ref.Path+s.Suffix+".patch")
}

// PatchApplier is the patch application primitive. Apply reports whether it
// changed anything; a patch that is already applied is not an error.
type PatchApplier interface {
	Apply(file, dir string, strip int) (bool, error)
}

// PatchTool applies patches with patch(1).
type PatchTool struct {
	Runner  Runner
	Program string
}

// NewPatchTool returns a PatchTool running "patch" through r.
func NewPatchTool(r Runner) *PatchTool {
	return &PatchTool{Runner: r, Program: "patch"}
}

// Apply first checks whether the reverse patch applies cleanly, which means
// the changes are already in the tree. Only otherwise is the patch applied.
func (t *PatchTool) Apply(file, dir string, strip int) (bool, error) {
	if _, err := os.Stat(file); err != nil {
		return false, fmt.Errorf("patch file: %w", err)
	}
	p := fmt.Sprintf("-p%d", strip)

	check, err := t.Runner.Run(Command{
		Args:       []string{t.Program, p, "-R", "-f", "-s", "--dry-run", "-i", file},
		Dir:        dir,
		AllowError: true,
	})
	if err != nil {
		return false, err
	}
	if check.OK() {
		return false, nil
	}

	if _, err := t.Runner.Run(Command{
		Args: []string{t.Program, p, "-N", "-s", "-i", file},
		Dir:  dir,
	}); err != nil {
		return false, err
	}
	return true, nil
}

// ApplyPatches applies refs, in order, to the source tree at srcDir. It does
// not change the working directory.
func ApplyPatches(ctx *BuildContext, set PatchSet, srcDir string, refs []PatchRef) error {
	for _, ref := range refs {
		file := set.Resolve(ctx, ref)
		dir := srcDir
		if ref.Dir != "" {
			dir = filepath.Join(srcDir, ref.Dir)
		}
		applied, err := ctx.Patcher.Apply(file, dir, set.Strip)
		if err != nil {
			return fmt.Errorf("patch %s: %w", file, err)
		}
		if applied {
			ctx.Log.Warn("applied patch", "patch", file, "dir", dir)
		} else {
			ctx.Log.Info("patch already applied", "patch", file)
		}
	}

	if len(refs) > 0 && ctx.Log.GetLevel() <= log.DebugLevel {
		if sum, err := HashTree(srcDir); err == nil {
			ctx.Log.Debug("patched source tree", "dir", srcDir, "blake3", sum)
		}
	}
	return nil
}
