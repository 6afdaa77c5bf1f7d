package infra

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPaths(t *testing.T) {
	p := NewPaths("/r", "")
	assert.Equal(t, "/r/packages", p.Packages)
	assert.Equal(t, "/r/patches", p.Patches)
	assert.Equal(t, "/r/cache", p.Cache)
	assert.Equal(t, "/r/logs", p.Logs)

	assert.Equal(t, "/srv/patches", NewPaths("/r", "/srv/patches").Patches)
}

func TestBuildContextDefaults(t *testing.T) {
	ctx := newTestContext(t)
	assert.Equal(t, "cc", ctx.Tool(ToolCC))
	assert.Equal(t, "c++", ctx.Tool(ToolCXX))
	assert.Equal(t, "ranlib", ctx.Tool(ToolRanlib))
	assert.Positive(t, ctx.Jobs)
	assert.NotNil(t, ctx.Ctx())
	assert.NotNil(t, (&BuildContext{}).Ctx())
}

func TestFlagsAccumulate(t *testing.T) {
	ctx := newTestContext(t)
	ctx.AddCFlags("-O2")
	ctx.AddCFlags("-fno-builtin-malloc", "-I", "/x")
	ctx.AddCXXFlags("-std=c++17")
	ctx.AddLDFlags("-L/a", "-la")
	ctx.AddLDFlags("-L/b", "-lb")

	assert.Equal(t, []string{"-O2", "-fno-builtin-malloc", "-I", "/x"}, ctx.CFlags)
	assert.Equal(t, []string{"-std=c++17"}, ctx.CXXFlags)
	assert.Equal(t, []string{"-L/a", "-la", "-L/b", "-lb"}, ctx.LDFlags)
}

func TestSetTool(t *testing.T) {
	ctx := newTestContext(t)

	ctx.current = "llvm-15.0.7"
	require.NoError(t, ctx.SetTool(ToolCC, "clang"))
	// same owner may change its mind
	require.NoError(t, ctx.SetTool(ToolCC, "clang-15"))

	ctx.current = "llvmbin-15.0.7"
	// same value from another package is fine
	require.NoError(t, ctx.SetTool(ToolCC, "clang-15"))

	ctx.current = "gcc-13"
	err := ctx.SetTool(ToolCC, "gcc")
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "cc", conflict.Field)
	assert.Equal(t, "clang-15", conflict.Current)
	assert.Equal(t, "gcc", conflict.Requested)
	assert.Equal(t, "gcc-13", conflict.RequestedFrom)
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.Equal(t, "clang-15", ctx.CC)

	assert.ErrorIs(t, ctx.SetTool(Tool("linker"), "ld"), ErrConfiguration)
}

func TestSetToolOutsideConfigure(t *testing.T) {
	ctx := newTestContext(t)
	require.NoError(t, ctx.SetTool(ToolAR, "gcc-ar"))

	ctx.current = "llvm-15.0.7"
	var conflict *ConflictError
	require.ErrorAs(t, ctx.SetTool(ToolAR, "llvm-ar"), &conflict)
	assert.Equal(t, "setup", conflict.CurrentOwner)
}

func TestAddPathEnviron(t *testing.T) {
	ctx := newTestContext(t)
	t.Setenv("PATH", "/usr/bin")
	ctx.AddPath("/r/cmake/install/bin")
	ctx.AddPath("/r/ninja/install/bin")
	ctx.AddPath("/r/cmake/install/bin")

	assert.Equal(t, []string{"/r/ninja/install/bin", "/r/cmake/install/bin"}, ctx.BinDirs())

	var path string
	for _, kv := range ctx.Environ() {
		if v, ok := strings.CutPrefix(kv, "PATH="); ok {
			path = v
		}
	}
	assert.Equal(t, "/r/ninja/install/bin:/r/cmake/install/bin:/usr/bin", path)
}

func TestGotoAndPath(t *testing.T) {
	ctx := newTestContext(t)
	t.Chdir(t.TempDir())
	p := newFake(calls{}, "zlib-1.3")

	assert.Equal(t, filepath.Join(ctx.Paths.Packages, "zlib-1.3", "install", "lib"), Path(ctx, p, "install", "lib"))

	require.NoError(t, Goto(ctx, p, "obj"))
	wd, err := os.Getwd()
	require.NoError(t, err)
	want, err := filepath.EvalSymlinks(Path(ctx, p, "obj"))
	require.NoError(t, err)
	got, err := filepath.EvalSymlinks(wd)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	require.NoError(t, os.WriteFile("marker", nil, 0o644))
	assert.True(t, Exists("marker"))
	assert.False(t, Exists("missing"))
}
