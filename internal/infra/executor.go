package infra

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"mvdan.cc/sh/v3/shell"
)

// Command describes one subprocess invocation.
type Command struct {
	Args  []string
	Shell string // used when Args is empty; split into words without a shell
	Dir   string // empty means the current working directory
	Env   []string
	Stdin io.Reader
	// AllowError turns a non-zero exit (or a missing program) into a
	// Result instead of an error. Only used for capability probes.
	AllowError bool
}

// Result is what a finished command reports back.
type Result struct {
	ExitCode int
	Stdout   string
}

// OK reports whether the command exited with status 0.
func (r *Result) OK() bool { return r != nil && r.ExitCode == 0 }

// Runner is the process invocation primitive.
type Runner interface {
	Run(cmd Command) (*Result, error)
}

// Executor runs commands as child processes in their own process group so
// that cancelling the context kills the whole build tree.
type Executor struct {
	Context           context.Context // The context to use for cancellation
	ApplyIdlePriority bool            // Apply nice -n 19 to every command
	Output            io.Writer       // receives stdout and stderr of every command
}

// NewExecutor returns an executor writing subprocess output to out.
func NewExecutor(ctx context.Context, out io.Writer) *Executor {
	if out == nil {
		out = io.Discard
	}
	return &Executor{Context: ctx, Output: out}
}

// argv resolves the final argument vector of cmd.
func (c Command) argv() ([]string, error) {
	if len(c.Args) > 0 {
		return c.Args, nil
	}
	if strings.TrimSpace(c.Shell) == "" {
		return nil, errors.New("empty command")
	}
	lookup := os.Getenv
	if len(c.Env) > 0 {
		lookup = func(name string) string {
			for i := len(c.Env) - 1; i >= 0; i-- {
				if v, ok := strings.CutPrefix(c.Env[i], name+"="); ok {
					return v
				}
			}
			return ""
		}
	}
	words, err := shell.Fields(c.Shell, lookup)
	if err != nil {
		return nil, fmt.Errorf("parsing %q: %w", c.Shell, err)
	}
	if len(words) == 0 {
		return nil, errors.New("empty command")
	}
	return words, nil
}

// Run executes cmd and waits for it. Stdout is captured and also copied to
// the executor's output.
func (e *Executor) Run(cmd Command) (*Result, error) {
	args, err := cmd.argv()
	if err != nil {
		return nil, err
	}
	ctx := e.Context
	if ctx == nil {
		ctx = context.Background()
	}

	// --- Phase 1: build the final command ---
	if e.ApplyIdlePriority {
		args = append([]string{"nice", "-n", "19"}, args...)
	}
	env := cmd.Env
	if len(env) == 0 {
		env = os.Environ()
	}
	// exec looks programs up in our own PATH, which lacks the bin dirs
	// of packages installed earlier in the run.
	name := args[0]
	if p := lookPathIn(name, env); p != "" {
		name = p
	}
	c := exec.CommandContext(ctx, name, args[1:]...)
	c.Dir = cmd.Dir
	c.Env = env
	out := e.Output
	if out == nil {
		out = io.Discard
	}
	var stdout bytes.Buffer
	c.Stdin = cmd.Stdin
	c.Stdout = io.MultiWriter(&stdout, out)
	c.Stderr = out

	// --- Phase 2: isolate process group for context-based cleanup ---
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	// --- Phase 3: start and watch for cancel ---
	if err := c.Start(); err != nil {
		if cmd.AllowError && errors.Is(err, exec.ErrNotFound) {
			return &Result{ExitCode: 127}, nil
		}
		return nil, fmt.Errorf("failed to start %s: %w", args[0], err)
	}

	pgid := c.Process.Pid
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			syscall.Kill(-pgid, syscall.SIGKILL)
		case <-done:
		}
	}()

	// --- Phase 4: wait and return ---
	waitErr := c.Wait()
	res := &Result{Stdout: stdout.String()}
	if waitErr == nil {
		return res, nil
	}
	if ctx.Err() != nil {
		time.Sleep(100 * time.Millisecond)
		return nil, fmt.Errorf("command aborted: %v", ctx.Err())
	}
	var exitErr *exec.ExitError
	if !errors.As(waitErr, &exitErr) {
		return nil, fmt.Errorf("%s: %w", args[0], waitErr)
	}
	res.ExitCode = exitErr.ExitCode()
	if cmd.AllowError {
		return res, nil
	}
	return res, fmt.Errorf("%s exited with status %d", strings.Join(args, " "), res.ExitCode)
}

// lookPathIn finds an executable in the PATH of env. It returns "" when
// name contains a slash or is not found.
func lookPathIn(name string, env []string) string {
	if strings.Contains(name, "/") {
		return ""
	}
	var path string
	for _, kv := range env {
		if v, ok := strings.CutPrefix(kv, "PATH="); ok {
			path = v
		}
	}
	for _, dir := range filepath.SplitList(path) {
		if dir == "" {
			continue
		}
		candidate := filepath.Join(dir, name)
		if fi, err := os.Stat(candidate); err == nil && fi.Mode().IsRegular() && fi.Mode()&0o111 != 0 {
			return candidate
		}
	}
	return ""
}

// Run runs an argument vector in the current directory with the context's
// environment. A non-zero exit is an error.
func Run(ctx *BuildContext, args ...string) (*Result, error) {
	return ctx.run(Command{Args: args})
}

// RunShell runs a command line given as one string, e.g. "make -j8".
func RunShell(ctx *BuildContext, line string) (*Result, error) {
	return ctx.run(Command{Shell: line})
}

// Probe runs a command line whose failure is acceptable. It returns nil if
// the command could not be run at all.
func Probe(ctx *BuildContext, line string) *Result {
	res, err := ctx.run(Command{Shell: line, AllowError: true})
	if err != nil {
		ctx.Log.Debug("probe failed", "cmd", line, "err", err)
		return nil
	}
	return res
}

func (c *BuildContext) run(cmd Command) (*Result, error) {
	if cmd.Dir == "" {
		if wd, err := os.Getwd(); err == nil {
			cmd.Dir = wd
		}
	}
	if cmd.Env == nil {
		cmd.Env = c.Environ()
	}
	what := cmd.Shell
	if len(cmd.Args) > 0 {
		what = strings.Join(cmd.Args, " ")
	}
	c.Log.Debug("run", "cmd", what, "dir", cmd.Dir)
	return c.Runner.Run(cmd)
}
