package packages

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"infra/internal/infra"
)

const sampleSetup = `
targets:
  - recipe: llvm
    version: 4.0.0
    compiler_rt: true
    lld: true
    build_flags: [-DLLVM_TARGETS_TO_BUILD=X86]
    patches:
      - gold-plugins
      - {dir: llvm, path: /srv/patches/uniqueptr.patch}
  - recipe: gperftools
    commit: gperftools-2.15
    libunwind: "1.6.2"
  - recipe: binutils
    gold: true
  - recipe: llvm-bin
    version: 15.0.6
    target: x86_64-linux-gnu-ubuntu-18.04
    bin_suffix: "-15"
`

func TestParseSetup(t *testing.T) {
	s, err := ParseSetup(strings.NewReader(sampleSetup))
	require.NoError(t, err)
	require.Len(t, s.Targets, 4)

	llvm := s.Targets[0]
	assert.Equal(t, []PatchSpec{
		{Path: "gold-plugins"},
		{Path: "/srv/patches/uniqueptr.patch", Dir: "llvm"},
	}, llvm.Patches)

	pkgs, err := s.Packages()
	require.NoError(t, err)
	require.Len(t, pkgs, 4)

	l := pkgs[0].(*LLVM)
	assert.True(t, strings.HasPrefix(l.Ident(), "llvm-4.0.0-crt-lld-"), l.Ident())
	assert.True(t, l.CompilerRT)
	assert.Equal(t, []string{"-DLLVM_TARGETS_TO_BUILD=X86"}, l.BuildFlags)
	assert.Len(t, l.patchList(), 3)

	g := pkgs[1].(*Gperftools)
	assert.Equal(t, "gperftools-gperftools-2.15-lu1.6.2", g.Ident())
	assert.Equal(t, "libunwind-1.6.2", g.LibUnwind.Ident())

	assert.Equal(t, "binutils-2.38-gold", pkgs[2].Ident())
	assert.Equal(t, "llvmbin-15.0.6", pkgs[3].Ident())
	assert.Equal(t, "-15", pkgs[3].(*LLVMBinDist).BinSuffix)
}

func TestParseSetupRejectsUnknownKeys(t *testing.T) {
	_, err := ParseSetup(strings.NewReader("targets:\n  - recipe: cmake\n    flavour: fast\n"))
	assert.ErrorIs(t, err, infra.ErrConfiguration)
}

func TestParseSetupBadPatch(t *testing.T) {
	_, err := ParseSetup(strings.NewReader("targets:\n  - recipe: make\n    patches:\n      - [a, b]\n"))
	assert.Error(t, err)
	_, err = ParseSetup(strings.NewReader("targets:\n  - recipe: make\n    patches:\n      - {dir: src}\n"))
	assert.ErrorContains(t, err, "patch has no path")
}

func TestParseSetupEmpty(t *testing.T) {
	s, err := ParseSetup(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, s.Targets)
}

func TestLoadSetup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "setup.yaml")
	require.NoError(t, os.WriteFile(path, []byte("targets:\n  - recipe: ninja\n"), 0o644))

	s, err := LoadSetup(path)
	require.NoError(t, err)
	pkgs, err := s.Packages()
	require.NoError(t, err)
	assert.Equal(t, "ninja-1.8.2", pkgs[0].Ident())

	_, err = LoadSetup(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, infra.ErrConfiguration)
}

func TestSetupPackagesReportsTarget(t *testing.T) {
	s := &Setup{Targets: []Target{{Recipe: "cmake"}, {Recipe: "llvm"}}}
	_, err := s.Packages()
	assert.ErrorContains(t, err, "target 2")
	assert.ErrorIs(t, err, infra.ErrConfiguration)
}

func TestParseTarget(t *testing.T) {
	cases := map[string]Target{
		"cmake":                   {Recipe: "cmake"},
		"llvm:15.0.7":             {Recipe: "llvm", Version: "15.0.7"},
		"llvm:15.0.7@abc123":      {Recipe: "llvm", Version: "15.0.7", Commit: "abc123"},
		" gperftools:@deadbeef ": {Recipe: "gperftools", Commit: "deadbeef"},
	}
	for in, want := range cases {
		got, err := ParseTarget(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseTarget(":1.0")
	assert.ErrorIs(t, err, infra.ErrConfiguration)
}

func TestTargetPackage(t *testing.T) {
	p, err := Target{Recipe: "make"}.Package()
	require.NoError(t, err)
	assert.Equal(t, "make-4.3", p.Ident())

	p, err = Target{Recipe: "gperftools", Commit: "abc"}.Package()
	require.NoError(t, err)
	assert.Equal(t, "gperftools-abc", p.Ident())

	for _, bad := range []Target{
		{Recipe: "nope"},
		{Recipe: "llvm"},
		{Recipe: "llvm", Version: "x.y"},
		{Recipe: "llvm-bin", Version: "15.0.6"},
		{Recipe: "gperftools"},
	} {
		_, err := bad.Package()
		assert.ErrorIs(t, err, infra.ErrConfiguration, "%+v", bad)
	}
}

func TestRecipes(t *testing.T) {
	names := Recipes()
	assert.Contains(t, names, "llvm")
	assert.Contains(t, names, "libunwind")
	assert.IsIncreasing(t, names)
	assert.Equal(t, "3.28.6", DefaultVersion("cmake"))
	assert.Empty(t, DefaultVersion("llvm"))

	for _, name := range names {
		target := Target{Recipe: name, Version: "1.0.0", Commit: "c0ffee", Triple: "x86_64-linux-gnu"}
		_, err := target.Package()
		assert.NoError(t, err, name)
	}
}
