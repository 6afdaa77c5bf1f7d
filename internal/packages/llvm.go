package packages

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"lukechampine.com/blake3"

	"infra/internal/infra"
)

const (
	llvmRepo            = "https://github.com/llvm/llvm-project.git"
	llvmBinUtilsVersion = "2.38"
)

// LLVM builds clang, and optionally compiler-rt and lld, from release
// tarballs or from a git commit of llvm-project.
//
// Bare patch names resolve to <patches>/llvm/<name>-<version>.patch and are
// applied with -p1 inside src, or inside PatchRef.Dir below it. Built-in
// patches include gold-plugins, statsfilter, lto-nodiscard-value-names,
// safestack and compiler-rt-typefix, the last of which is added
// automatically for 4.0.0 with compiler-rt.
type LLVM struct {
	Version    string
	Commit     string // build this llvm-project commit instead of the release
	CompilerRT bool
	LLD        bool
	Patches    []infra.PatchRef
	BuildFlags []string // passed to cmake as is

	// BinUtils provides plugin-api.h for the gold plugin.
	BinUtils *GNU
}

func NewLLVM(version string, compilerRT bool, patches ...infra.PatchRef) *LLVM {
	return &LLVM{
		Version:    version,
		CompilerRT: compilerRT,
		Patches:    patches,
		BinUtils:   BinUtils(llvmBinUtilsVersion, true),
	}
}

// Ident is llvm-<version>, followed by the commit, -crt and -lld when set,
// and a digest of the patches and build flags when there are any.
func (l *LLVM) Ident() string {
	id := "llvm-" + l.Version
	if l.Commit != "" {
		id += "-" + shortCommit(l.Commit)
	}
	if l.CompilerRT {
		id += "-crt"
	}
	if l.LLD {
		id += "-lld"
	}
	if len(l.Patches) > 0 || len(l.BuildFlags) > 0 {
		id += "-" + l.variantDigest()
	}
	return id
}

// variantDigest names a patch and flag combination in 8 hex digits.
func (l *LLVM) variantDigest() string {
	h := blake3.New(32, nil)
	for _, p := range l.Patches {
		fmt.Fprintf(h, "patch\x00%s\x00%s\x00", p.Dir, p.Path)
	}
	for _, f := range l.BuildFlags {
		fmt.Fprintf(h, "flag\x00%s\x00", f)
	}
	return hex.EncodeToString(h.Sum(nil))[:8]
}

func shortCommit(c string) string {
	if len(c) > 12 {
		return c[:12]
	}
	return c
}

func (l *LLVM) Dependencies() []infra.Package {
	return []infra.Package{
		Bash("5.1.16"),
		CoreUtils("9.1"),
		l.binutils(),
		Make("4.3"),
		DefaultAutoMake(),
		NewCMake("3.28.6"),
		NewNinja("1.8.2"),
	}
}

func (l *LLVM) binutils() *GNU {
	if l.BinUtils == nil {
		l.BinUtils = BinUtils(llvmBinUtilsVersion, true)
	}
	return l.BinUtils
}

func (l *LLVM) major() (int, error) {
	major, _, _ := strings.Cut(l.Version, ".")
	n, err := strconv.Atoi(major)
	if err != nil {
		return 0, fmt.Errorf("%w: bad LLVM version %q", infra.ErrConfiguration, l.Version)
	}
	return n, nil
}

// patchList is Patches plus the patches implied by the configuration.
func (l *LLVM) patchList() []infra.PatchRef {
	refs := slices.Clone(l.Patches)
	if l.CompilerRT && l.Version == "4.0.0" {
		fix := infra.PatchRef{Path: "compiler-rt-typefix"}
		if !slices.Contains(refs, fix) {
			refs = append(refs, fix)
		}
	}
	return refs
}

func (l *LLVM) patchSet() infra.PatchSet {
	return infra.PatchSet{Family: "llvm", Suffix: "-" + l.Version, Strip: 1}
}

// A usable system LLVM satisfies every stage, so nothing is fetched.
func (l *LLVM) IsFetched(ctx *infra.BuildContext) bool {
	return infra.Exists("src") || l.systemLLVM(ctx)
}

func (l *LLVM) Fetch(ctx *infra.BuildContext) error {
	if l.Commit != "" {
		return infra.GitCheckout(ctx, llvmRepo, "src", l.Commit)
	}

	major, err := l.major()
	if err != nil {
		return err
	}
	// From 9 on the monorepo tarball has everything, and from 15 on the
	// split tarballs no longer build.
	if major >= 9 {
		return l.fetchComponent(ctx, major, "llvm-project", "src")
	}

	if err := l.fetchComponent(ctx, major, "llvm", "src"); err != nil {
		return err
	}
	clang := "cfe"
	if major >= 8 {
		clang = "clang"
	}
	if err := l.fetchComponent(ctx, major, clang, "src/tools/clang"); err != nil {
		return err
	}
	if l.CompilerRT {
		if err := l.fetchComponent(ctx, major, "compiler-rt", "src/projects/compiler-rt"); err != nil {
			return err
		}
	}
	if l.LLD {
		if err := l.fetchComponent(ctx, major, "lld", "src/projects/lld"); err != nil {
			return err
		}
	}
	return nil
}

func (l *LLVM) fetchComponent(ctx *infra.BuildContext, major int, repo, dest string) error {
	if dir := filepath.Dir(dest); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	dirname := fmt.Sprintf("%s-%s.src", repo, l.Version)
	return infra.Unpack(ctx, llvmReleaseURL(l.Version, major, dirname+".tar.xz"), dirname, dest)
}

func llvmReleaseURL(version string, major int, file string) string {
	if major >= 8 {
		return fmt.Sprintf("https://github.com/llvm/llvm-project/releases/download/llvmorg-%s/%s", version, file)
	}
	return fmt.Sprintf("https://releases.llvm.org/%s/%s", version, file)
}

func (l *LLVM) IsBuilt(ctx *infra.BuildContext) bool {
	return infra.Exists("obj/bin/llvm-config") || l.systemLLVM(ctx)
}

// Build applies the patches here rather than after fetching so that a forced
// rebuild checks them again.
func (l *LLVM) Build(ctx *infra.BuildContext) error {
	major, err := l.major()
	if err != nil {
		return err
	}
	if err := applyPatches(ctx, l, l.patchSet(), l.patchList()); err != nil {
		return err
	}

	if err := infra.Goto(ctx, l, "obj"); err != nil {
		return err
	}
	args := []string{
		"cmake", "-G", "Ninja",
		"-DCMAKE_INSTALL_PREFIX=" + infra.Path(ctx, l, "install"),
		"-DLLVM_BINUTILS_INCDIR=" + infra.Path(ctx, l.binutils(), "install", "include"),
	}
	src := "../src"
	if l.Commit != "" || major >= 9 {
		projects := []string{"clang"}
		if l.LLD {
			projects = append(projects, "lld")
		}
		var runtimes []string
		if l.CompilerRT {
			runtimes = append(runtimes, "compiler-rt")
		}
		args = append(args,
			"-DLLVM_ENABLE_PROJECTS="+strings.Join(projects, ","),
			"-DLLVM_ENABLE_RUNTIMES="+strings.Join(runtimes, ","))
		src = "../src/llvm"
	}
	args = append(args,
		"-DCMAKE_BUILD_TYPE=Release",
		"-DLLVM_ENABLE_ASSERTIONS=On",
		"-DLLVM_OPTIMIZED_TABLEGEN=On",
		"-DCMAKE_C_COMPILER=gcc",
		// passes built against this LLVM must use the same compiler
		"-DCMAKE_CXX_COMPILER=g++",
	)
	args = append(args, l.BuildFlags...)
	args = append(args, src)

	if _, err := infra.Run(ctx, args...); err != nil {
		return err
	}
	_, err = infra.Run(ctx, "cmake", "--build", ".", "--", "-j", strconv.Itoa(ctx.Jobs))
	return err
}

func (l *LLVM) IsInstalled(ctx *infra.BuildContext) bool {
	return infra.Exists("install/bin/llvm-config") || l.systemLLVM(ctx)
}

// systemLLVM reports whether the llvm-config on PATH has exactly the
// requested version. Only plain release builds may use it.
func (l *LLVM) systemLLVM(ctx *infra.BuildContext) bool {
	if l.Commit != "" || len(l.patchList()) > 0 || len(l.BuildFlags) > 0 {
		return false
	}
	res := infra.Probe(ctx, "llvm-config --version")
	if !res.OK() {
		return false
	}
	installed := strings.TrimSpace(res.Stdout)
	if installed != l.Version {
		ctx.Log.Debug("installed llvm-config has a different version",
			"installed", installed, "required", l.Version)
		return false
	}
	return true
}

func (l *LLVM) Install(ctx *infra.BuildContext) error {
	if err := infra.Goto(ctx, l, "obj"); err != nil {
		return err
	}
	_, err := infra.Run(ctx, "cmake", "--build", ".", "--target", "install")
	return err
}

// Configure selects the LLVM toolchain programs. Flags set by earlier
// packages are kept.
func (l *LLVM) Configure(ctx *infra.BuildContext) error {
	if infra.Exists("install/bin/llvm-config") {
		addBinDir(ctx, l)
	}
	return setTools(ctx, map[infra.Tool]string{
		infra.ToolCC:     "clang",
		infra.ToolCXX:    "clang++",
		infra.ToolAR:     "llvm-ar",
		infra.ToolNM:     "llvm-nm",
		infra.ToolRanlib: "llvm-ranlib",
	})
}

func setTools(ctx *infra.BuildContext, tools map[infra.Tool]string) error {
	keys := make([]infra.Tool, 0, len(tools))
	for t := range tools {
		keys = append(keys, t)
	}
	slices.Sort(keys)
	for _, t := range keys {
		if err := ctx.SetTool(t, tools[t]); err != nil {
			return err
		}
	}
	return nil
}

// AddPluginFlags passes flags to the LLVM linker plugin by appending them to
// the link flags, as -Wl,-plugin-opt=<flag> for gold or as -Wl,-mllvm=<flag>
// otherwise.
func AddPluginFlags(ctx *infra.BuildContext, gold bool, flags ...string) {
	prefix := "-Wl,-mllvm="
	if gold {
		prefix = "-Wl,-plugin-opt="
	}
	for _, f := range flags {
		ctx.AddLDFlags(prefix + f)
	}
}

// LLVMBinDist installs a clang+llvm release archive. With BinSuffix set,
// clang, clang++, opt and llvm-config get suffixed symlinks, e.g. clang-15.
type LLVMBinDist struct {
	infra.Leaf
	infra.Prebuilt
	Version   string
	Target    string // e.g. x86_64-linux-gnu-ubuntu-22.04
	BinSuffix string
}

func (b *LLVMBinDist) Ident() string { return "llvmbin-" + b.Version }

// The install stage moves src to install, so either one means fetched.
func (b *LLVMBinDist) IsFetched(*infra.BuildContext) bool {
	return infra.Exists("src") || infra.Exists("install")
}

func (b *LLVMBinDist) Fetch(ctx *infra.BuildContext) error {
	major, err := (&LLVM{Version: b.Version}).major()
	if err != nil {
		return err
	}
	name := fmt.Sprintf("clang+llvm-%s-%s", b.Version, b.Target)
	return infra.Unpack(ctx, llvmReleaseURL(b.Version, major, name+".tar.xz"), name, "src")
}

func (b *LLVMBinDist) IsInstalled(*infra.BuildContext) bool { return infra.Exists("install") }

// Install moves a freshly unpacked src over any previous install tree. A
// reinstall without src only renews the symlinks.
func (b *LLVMBinDist) Install(ctx *infra.BuildContext) error {
	if infra.Exists("src") {
		if err := os.RemoveAll("install"); err != nil {
			return err
		}
		if err := os.Rename("src", "install"); err != nil {
			return err
		}
	}
	if b.BinSuffix == "" {
		return nil
	}
	bin := infra.Path(ctx, b, "install", "bin")
	for _, name := range []string{"clang", "clang++", "opt", "llvm-config"} {
		src := filepath.Join(bin, name)
		tgt := src + b.BinSuffix
		if !infra.Exists(src) || infra.Exists(tgt) {
			continue
		}
		ctx.Log.Debug("creating symlink", "link", tgt, "target", name)
		if err := os.Symlink(name, tgt); err != nil {
			return err
		}
	}
	return nil
}

func (b *LLVMBinDist) Configure(ctx *infra.BuildContext) error {
	addBinDir(ctx, b)
	return nil
}
