package infra

import (
	"context"
	"errors"
	"io"
	"os"
	"testing"

	"github.com/charmbracelet/log"
)

// calls counts stage invocations across fake packages, keyed by
// "<ident>/<stage>".
type calls map[string]int

func (c calls) of(id string, s Stage) int { return c[id+"/"+string(s)] }

// fakePkg keeps its lifecycle state as marker files in its package
// directory, the way real recipes do.
type fakePkg struct {
	id    string
	deps  []Package
	calls calls

	ldflags   []string
	configure func(*BuildContext) error
	failIn    Stage // stage returning an error
	noMarker  Stage // stage returning nil without producing its marker
}

func newFake(c calls, id string, deps ...Package) *fakePkg {
	return &fakePkg{id: id, deps: deps, calls: c}
}

func (f *fakePkg) Ident() string           { return f.id }
func (f *fakePkg) Dependencies() []Package { return f.deps }

func (f *fakePkg) stage(s Stage, marker string) error {
	f.calls[f.id+"/"+string(s)]++
	if f.failIn == s {
		return errors.New("boom")
	}
	if f.noMarker == s {
		return nil
	}
	return os.WriteFile(marker, []byte(f.id), 0o644)
}

func (f *fakePkg) IsFetched(*BuildContext) bool   { return Exists("fetched") }
func (f *fakePkg) Fetch(*BuildContext) error      { return f.stage(StageFetch, "fetched") }
func (f *fakePkg) IsBuilt(*BuildContext) bool     { return Exists("built") }
func (f *fakePkg) Build(*BuildContext) error      { return f.stage(StageBuild, "built") }
func (f *fakePkg) IsInstalled(*BuildContext) bool { return Exists("installed") }
func (f *fakePkg) Install(*BuildContext) error    { return f.stage(StageInstall, "installed") }

func (f *fakePkg) Configure(ctx *BuildContext) error {
	f.calls[f.id+"/"+string(StageConfigure)]++
	if f.failIn == StageConfigure {
		return errors.New("boom")
	}
	ctx.AddLDFlags(f.ldflags...)
	if f.configure != nil {
		return f.configure(ctx)
	}
	return nil
}

// otherPkg is a second package kind for identifier clash tests.
type otherPkg struct {
	Leaf
	Prebuilt
	id string
}

func (o *otherPkg) Ident() string                  { return o.id }
func (o *otherPkg) IsFetched(*BuildContext) bool   { return true }
func (o *otherPkg) Fetch(*BuildContext) error      { return nil }
func (o *otherPkg) IsInstalled(*BuildContext) bool { return true }
func (o *otherPkg) Install(*BuildContext) error    { return nil }
func (o *otherPkg) Configure(*BuildContext) error  { return nil }

func newTestContext(t *testing.T) *BuildContext {
	t.Helper()
	paths := NewPaths(t.TempDir(), "")
	return NewBuildContext(context.Background(), paths, log.New(io.Discard), io.Discard)
}

func idents(pkgs []Package) []string {
	out := make([]string, 0, len(pkgs))
	for _, p := range pkgs {
		out = append(out, p.Ident())
	}
	return out
}
