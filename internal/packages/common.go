// Package packages holds the concrete recipes driven by the infra lifecycle
// and the setup file that selects them.
package packages

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"infra/internal/infra"
)

// autotoolsBuild configures the source tree out of tree in obj, unless a
// Makefile is already there, and runs make.
func autotoolsBuild(ctx *infra.BuildContext, p infra.Package, args ...string) error {
	if err := infra.Goto(ctx, p, "obj"); err != nil {
		return err
	}
	if !infra.Exists("Makefile") {
		argv := append([]string{"../src/configure", "--prefix=" + infra.Path(ctx, p, "install")}, args...)
		if _, err := infra.Run(ctx, argv...); err != nil {
			return err
		}
	}
	_, err := infra.Run(ctx, "make", fmt.Sprintf("-j%d", ctx.Jobs))
	return err
}

func makeInstall(ctx *infra.BuildContext, p infra.Package) error {
	if err := infra.Goto(ctx, p, "obj"); err != nil {
		return err
	}
	_, err := infra.Run(ctx, "make", "install")
	return err
}

func applyPatches(ctx *infra.BuildContext, p infra.Package, set infra.PatchSet, refs []infra.PatchRef) error {
	return infra.ApplyPatches(ctx, set, infra.Path(ctx, p, "src"), refs)
}

// addBinDir puts the package's install/bin in front of PATH for later
// packages.
func addBinDir(ctx *infra.BuildContext, p infra.Package) {
	ctx.AddPath(infra.Path(ctx, p, "install", "bin"))
}

// installFile copies src to dst, creating dst's directory.
func installFile(src, dst string, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
