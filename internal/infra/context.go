package infra

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"github.com/charmbracelet/log"
)

// Tool names one of the program fields a configure step may set.
type Tool string

const (
	ToolCC     Tool = "cc"
	ToolCXX    Tool = "cxx"
	ToolAR     Tool = "ar"
	ToolNM     Tool = "nm"
	ToolRanlib Tool = "ranlib"
)

// Paths is the on-disk layout of one build root.
type Paths struct {
	Root     string // everything lives below here
	Packages string // <Root>/packages/<ident>/{src,obj,install}
	Patches  string // built-in patches, <Patches>/<family>/<name>.patch
	Cache    string // download cache
	Logs     string // per-run log files
}

// NewPaths lays out the standard directories below root.
func NewPaths(root, patchDir string) Paths {
	if patchDir == "" {
		patchDir = filepath.Join(root, "patches")
	}
	return Paths{
		Root:     root,
		Packages: filepath.Join(root, "packages"),
		Patches:  patchDir,
		Cache:    filepath.Join(root, "cache"),
		Logs:     filepath.Join(root, "logs"),
	}
}

// BuildContext is the configuration record shared by every package during a
// run. It is created once per run and handed to each lifecycle call; configure
// steps append to it so that packages later in dependency order see the flags
// left by earlier ones. Flag lists only ever grow.
type BuildContext struct {
	// Context cancels running subprocesses when the run is aborted.
	Context context.Context

	CC     string
	CXX    string
	AR     string
	NM     string
	Ranlib string

	CFlags   []string
	CXXFlags []string
	LDFlags  []string

	// Jobs is passed verbatim to build tools (make -jN, ninja -jN).
	Jobs int

	// Log is the run's log sink. It is never reassigned mid-run.
	Log *log.Logger

	Paths Paths

	Runner  Runner
	Fetcher Downloader
	Patcher PatchApplier

	binDirs []string
	owners  map[Tool]string
	current string
}

// NewBuildContext returns a context with toolchain defaults and the
// standard collaborators wired up. Subprocess output is copied to output.
func NewBuildContext(ctx context.Context, paths Paths, logger *log.Logger, output io.Writer) *BuildContext {
	if logger == nil {
		logger = log.Default()
	}
	if output == nil {
		output = io.Discard
	}
	runner := NewExecutor(ctx, output)
	return &BuildContext{
		Context: ctx,
		CC:      "cc",
		CXX:     "c++",
		AR:      "ar",
		NM:      "nm",
		Ranlib:  "ranlib",
		Jobs:    runtime.NumCPU(),
		Log:     logger,
		Paths:   paths,
		Runner:  runner,
		Fetcher: NewFetcher(paths.Cache, logger),
		Patcher: NewPatchTool(runner),
		owners:  make(map[Tool]string),
	}
}

// Ctx returns the run's context.Context, never nil.
func (c *BuildContext) Ctx() context.Context {
	if c.Context == nil {
		return context.Background()
	}
	return c.Context
}

// AddCFlags appends C compiler flags.
func (c *BuildContext) AddCFlags(flags ...string) { c.CFlags = append(c.CFlags, flags...) }

// AddCXXFlags appends C++ compiler flags.
func (c *BuildContext) AddCXXFlags(flags ...string) { c.CXXFlags = append(c.CXXFlags, flags...) }

// AddLDFlags appends linker flags.
func (c *BuildContext) AddLDFlags(flags ...string) { c.LDFlags = append(c.LDFlags, flags...) }

// AddPath makes dir take precedence in PATH for every command run after this call.
func (c *BuildContext) AddPath(dir string) {
	if slices.Contains(c.binDirs, dir) {
		return
	}
	c.binDirs = append(c.binDirs, dir)
}

// BinDirs returns the PATH prefixes added so far, most recent first.
func (c *BuildContext) BinDirs() []string {
	out := slices.Clone(c.binDirs)
	slices.Reverse(out)
	return out
}

// SetTool sets one of the toolchain program fields. Setting a field that a
// different package already set to another value is a ConflictError.
func (c *BuildContext) SetTool(t Tool, program string) error {
	field := c.toolField(t)
	if field == nil {
		return fmt.Errorf("%w: unknown tool %q", ErrConfiguration, t)
	}
	owner := c.owner()
	if c.owners == nil {
		c.owners = make(map[Tool]string)
	}
	if prev, ok := c.owners[t]; ok && prev != owner && *field != program {
		return &ConflictError{
			Field:         string(t),
			Current:       *field,
			CurrentOwner:  prev,
			Requested:     program,
			RequestedFrom: owner,
		}
	}
	*field = program
	c.owners[t] = owner
	return nil
}

// Tool returns the current value of a program field.
func (c *BuildContext) Tool(t Tool) string {
	if f := c.toolField(t); f != nil {
		return *f
	}
	return ""
}

func (c *BuildContext) toolField(t Tool) *string {
	switch t {
	case ToolCC:
		return &c.CC
	case ToolCXX:
		return &c.CXX
	case ToolAR:
		return &c.AR
	case ToolNM:
		return &c.NM
	case ToolRanlib:
		return &c.Ranlib
	}
	return nil
}

func (c *BuildContext) owner() string {
	if c.current == "" {
		return "setup"
	}
	return c.current
}

// Environ returns the environment for subprocesses: the current process
// environment with the accumulated bin dirs prepended to PATH.
func (c *BuildContext) Environ() []string {
	env := os.Environ()
	if len(c.binDirs) == 0 {
		return env
	}
	prefix := strings.Join(c.BinDirs(), string(os.PathListSeparator))
	for i, kv := range env {
		if rest, ok := strings.CutPrefix(kv, "PATH="); ok {
			env[i] = "PATH=" + prefix + string(os.PathListSeparator) + rest
			return env
		}
	}
	return append(env, "PATH="+prefix)
}
