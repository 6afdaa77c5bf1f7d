package packages

import (
	"fmt"
	"path/filepath"

	"infra/internal/infra"
)

// CMake is built with its bootstrap script so that no system cmake is needed.
type CMake struct {
	infra.Leaf
	Version string
}

func NewCMake(version string) *CMake { return &CMake{Version: version} }

func (c *CMake) Ident() string { return "cmake-" + c.Version }

func (c *CMake) IsFetched(*infra.BuildContext) bool { return infra.Exists("src") }

func (c *CMake) Fetch(ctx *infra.BuildContext) error {
	url := fmt.Sprintf("https://github.com/Kitware/CMake/releases/download/v%s/cmake-%s.tar.gz", c.Version, c.Version)
	return infra.Unpack(ctx, url, "cmake-"+c.Version, "src")
}

func (c *CMake) IsBuilt(*infra.BuildContext) bool { return infra.Exists("obj/bin/cmake") }

func (c *CMake) Build(ctx *infra.BuildContext) error {
	if err := infra.Goto(ctx, c, "obj"); err != nil {
		return err
	}
	if !infra.Exists("Makefile") {
		if _, err := infra.Run(ctx, "../src/bootstrap",
			"--prefix="+infra.Path(ctx, c, "install"),
			fmt.Sprintf("--parallel=%d", ctx.Jobs)); err != nil {
			return err
		}
	}
	_, err := infra.Run(ctx, "make", fmt.Sprintf("-j%d", ctx.Jobs))
	return err
}

func (c *CMake) IsInstalled(*infra.BuildContext) bool { return infra.Exists("install/bin/cmake") }

func (c *CMake) Install(ctx *infra.BuildContext) error { return makeInstall(ctx, c) }

func (c *CMake) Configure(ctx *infra.BuildContext) error {
	addBinDir(ctx, c)
	return nil
}

// Ninja bootstraps itself inside the source tree.
type Ninja struct {
	infra.Leaf
	Version string
}

func NewNinja(version string) *Ninja { return &Ninja{Version: version} }

func (n *Ninja) Ident() string { return "ninja-" + n.Version }

func (n *Ninja) IsFetched(*infra.BuildContext) bool { return infra.Exists("src") }

func (n *Ninja) Fetch(ctx *infra.BuildContext) error {
	url := fmt.Sprintf("https://github.com/ninja-build/ninja/archive/v%s.tar.gz", n.Version)
	return infra.Unpack(ctx, url, "ninja-"+n.Version, "src")
}

func (n *Ninja) IsBuilt(*infra.BuildContext) bool { return infra.Exists("src/ninja") }

func (n *Ninja) Build(ctx *infra.BuildContext) error {
	if err := infra.Goto(ctx, n, "src"); err != nil {
		return err
	}
	_, err := infra.Run(ctx, "python3", "configure.py", "--bootstrap")
	return err
}

func (n *Ninja) IsInstalled(*infra.BuildContext) bool { return infra.Exists("install/bin/ninja") }

func (n *Ninja) Install(ctx *infra.BuildContext) error {
	return installFile(infra.Path(ctx, n, "src", "ninja"), filepath.Join(infra.Path(ctx, n, "install", "bin"), "ninja"), 0o755)
}

func (n *Ninja) Configure(ctx *infra.BuildContext) error {
	addBinDir(ctx, n)
	return nil
}
