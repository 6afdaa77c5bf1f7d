package packages

import (
	"infra/internal/infra"
)

const (
	DefaultLibUnwindVersion = "1.4-rc1"
	gperftoolsRepo          = "https://github.com/gperftools/gperftools.git"
	libunwindURL            = "http://download.savannah.gnu.org/releases/libunwind/"
)

// LibUnwind is identified as libunwind-<version>.
type LibUnwind struct {
	infra.Leaf
	Version string
	Patches []infra.PatchRef
}

func NewLibUnwind(version string, patches ...infra.PatchRef) *LibUnwind {
	return &LibUnwind{Version: version, Patches: patches}
}

func (u *LibUnwind) Ident() string { return "libunwind-" + u.Version }

func (u *LibUnwind) IsFetched(*infra.BuildContext) bool { return infra.Exists("src") }

func (u *LibUnwind) Fetch(ctx *infra.BuildContext) error {
	dir := u.Ident()
	return infra.Unpack(ctx, libunwindURL+dir+".tar.gz", dir, "src")
}

func (u *LibUnwind) IsBuilt(*infra.BuildContext) bool {
	return infra.Exists("obj/src/.libs/libunwind.so")
}

func (u *LibUnwind) Build(ctx *infra.BuildContext) error {
	if err := applyPatches(ctx, u, infra.PatchSet{Family: "libunwind", Strip: 1}, u.Patches); err != nil {
		return err
	}
	return autotoolsBuild(ctx, u)
}

func (u *LibUnwind) IsInstalled(*infra.BuildContext) bool {
	return infra.Exists("install/lib/libunwind.so")
}

func (u *LibUnwind) Install(ctx *infra.BuildContext) error { return makeInstall(ctx, u) }

func (u *LibUnwind) Configure(ctx *infra.BuildContext) error {
	ctx.AddLDFlags("-L"+infra.Path(ctx, u, "install", "lib"), "-lunwind")
	return nil
}

// Gperftools builds tcmalloc from a git commit against libunwind. It is
// identified as gperftools-<commit>, plus -lu<version> when libunwind is not
// the default one.
type Gperftools struct {
	Commit    string
	LibUnwind *LibUnwind
	Patches   []infra.PatchRef
}

func NewGperftools(commit string, patches ...infra.PatchRef) *Gperftools {
	return &Gperftools{
		Commit:    commit,
		LibUnwind: NewLibUnwind(DefaultLibUnwindVersion),
		Patches:   patches,
	}
}

func (g *Gperftools) Ident() string {
	id := "gperftools-" + g.Commit
	if g.LibUnwind != nil && g.LibUnwind.Version != DefaultLibUnwindVersion {
		id += "-lu" + g.LibUnwind.Version
	}
	return id
}

func (g *Gperftools) Dependencies() []infra.Package {
	return []infra.Package{DefaultAutoMake(), g.LibUnwind}
}

func (g *Gperftools) IsFetched(*infra.BuildContext) bool { return infra.Exists("src") }

func (g *Gperftools) Fetch(ctx *infra.BuildContext) error {
	return infra.GitCheckout(ctx, gperftoolsRepo, "src", g.Commit)
}

func (g *Gperftools) IsBuilt(*infra.BuildContext) bool {
	return infra.Exists("obj/.libs/libtcmalloc.so")
}

func (g *Gperftools) Build(ctx *infra.BuildContext) error {
	if err := applyPatches(ctx, g, infra.PatchSet{Family: "gperftools", Strip: 1}, g.Patches); err != nil {
		return err
	}

	if !infra.Exists("src/configure") || !infra.Exists("src/INSTALL") {
		if err := infra.Goto(ctx, g, "src"); err != nil {
			return err
		}
		if _, err := infra.RunShell(ctx, "autoreconf -vfi"); err != nil {
			return err
		}
	}

	return autotoolsBuild(ctx, g,
		"CPPFLAGS=-I"+infra.Path(ctx, g.LibUnwind, "install", "include"),
		"LDFLAGS=-L"+infra.Path(ctx, g.LibUnwind, "install", "lib"),
	)
}

func (g *Gperftools) IsInstalled(*infra.BuildContext) bool {
	return infra.Exists("install/lib/libtcmalloc.so")
}

func (g *Gperftools) Install(ctx *infra.BuildContext) error { return makeInstall(ctx, g) }

// Configure adds the tcmalloc include and link flags and keeps the compiler
// from replacing allocator calls with builtins. The libunwind flags come from
// the libunwind dependency, which is configured first.
func (g *Gperftools) Configure(ctx *infra.BuildContext) error {
	var cflags []string
	for _, fn := range []string{"malloc", "calloc", "realloc", "free"} {
		cflags = append(cflags, "-fno-builtin-"+fn)
	}
	cflags = append(cflags, "-I", infra.Path(ctx, g, "install", "include", "gperftools"))

	ctx.AddCFlags(cflags...)
	ctx.AddCXXFlags(cflags...)
	ctx.AddLDFlags("-L"+infra.Path(ctx, g, "install", "lib"), "-ltcmalloc", "-lpthread")
	return nil
}
