package packages

import (
	"fmt"
	"path/filepath"

	"infra/internal/infra"
)

const gnuURL = "https://ftp.gnu.org/gnu"

// GNU is a GNU project package built with its own configure script. Its
// install/bin is put on PATH for every package processed after it.
type GNU struct {
	Name    string
	Version string
	Variant string   // appended to the identifier, e.g. "-gold"
	Ext     string   // archive extension, ".tar.gz" when empty
	Args    []string // extra configure arguments
	Built   string   // file below obj that exists once make has run
	Bin     string   // program below install/bin that exists once installed
	Deps    []infra.Package
	Patches []infra.PatchRef

	postInstall func(ctx *infra.BuildContext, g *GNU) error
}

func (g *GNU) Ident() string { return g.Name + "-" + g.Version + g.Variant }

func (g *GNU) Dependencies() []infra.Package { return g.Deps }

// URL is the canonical download location. The fetcher rewrites it when a
// GNU mirror is configured.
func (g *GNU) URL() string {
	ext := g.Ext
	if ext == "" {
		ext = ".tar.gz"
	}
	dir := g.Name + "-" + g.Version
	return fmt.Sprintf("%s/%s/%s%s", gnuURL, g.Name, dir, ext)
}

func (g *GNU) IsFetched(*infra.BuildContext) bool { return infra.Exists("src") }

func (g *GNU) Fetch(ctx *infra.BuildContext) error {
	return infra.Unpack(ctx, g.URL(), g.Name+"-"+g.Version, "src")
}

func (g *GNU) IsBuilt(*infra.BuildContext) bool {
	return infra.Exists(filepath.Join("obj", g.Built))
}

func (g *GNU) Build(ctx *infra.BuildContext) error {
	if err := applyPatches(ctx, g, infra.PatchSet{Family: g.Name, Strip: 1}, g.Patches); err != nil {
		return err
	}
	return autotoolsBuild(ctx, g, g.Args...)
}

func (g *GNU) IsInstalled(*infra.BuildContext) bool {
	return infra.Exists(filepath.Join("install", "bin", g.Bin))
}

func (g *GNU) Install(ctx *infra.BuildContext) error {
	if err := makeInstall(ctx, g); err != nil {
		return err
	}
	if g.postInstall != nil {
		return g.postInstall(ctx, g)
	}
	return nil
}

func (g *GNU) Configure(ctx *infra.BuildContext) error {
	addBinDir(ctx, g)
	return nil
}

func Bash(version string) *GNU {
	return &GNU{Name: "bash", Version: version, Built: "bash", Bin: "bash"}
}

func CoreUtils(version string) *GNU {
	return &GNU{Name: "coreutils", Version: version, Ext: ".tar.xz", Built: "src/ls", Bin: "ls"}
}

func Make(version string) *GNU {
	return &GNU{Name: "make", Version: version, Built: "make", Bin: "make"}
}

func M4(version string) *GNU {
	return &GNU{Name: "m4", Version: version, Built: "src/m4", Bin: "m4"}
}

func AutoConf(version string, m4 infra.Package) *GNU {
	return &GNU{
		Name: "autoconf", Version: version, Built: "bin/autoconf", Bin: "autoconf",
		Deps: []infra.Package{m4},
	}
}

func LibTool(version string) *GNU {
	return &GNU{Name: "libtool", Version: version, Built: "libtool", Bin: "libtool"}
}

func AutoMake(version string, autoconf, libtool infra.Package) *GNU {
	return &GNU{
		Name: "automake", Version: version, Built: "bin/automake", Bin: "automake",
		Deps: []infra.Package{autoconf, libtool},
	}
}

// DefaultAutoMake is the autotools stack used to regenerate configure
// scripts of packages fetched from git.
func DefaultAutoMake() *GNU {
	m4 := M4("1.4.19")
	return AutoMake("1.16.5", AutoConf("2.71", m4), LibTool("2.4.7"))
}

// BinUtils builds binutils, optionally with the gold linker and plugin
// support. With gold, plugin-api.h is installed to install/include for
// building the LLVM gold plugin.
func BinUtils(version string, gold bool) *GNU {
	g := &GNU{
		Name: "binutils", Version: version,
		Args:  []string{"--disable-werror"},
		Built: "ld/ld-new", Bin: "ld",
	}
	if gold {
		g.Variant = "-gold"
		g.Args = append(g.Args, "--enable-gold", "--enable-plugins")
		g.Built = "gold/ld-new"
		g.Bin = "ld.gold"
		g.postInstall = installPluginHeader
	}
	return g
}

func installPluginHeader(ctx *infra.BuildContext, g *GNU) error {
	src := infra.Path(ctx, g, "src", "include", "plugin-api.h")
	dst := infra.Path(ctx, g, "install", "include", "plugin-api.h")
	if err := installFile(src, dst, 0o644); err != nil {
		return fmt.Errorf("failed to install plugin-api.h: %w", err)
	}
	return nil
}
