// Package cli is the infra command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/alecthomas/kong"

	"infra/internal/infra"
	"infra/internal/packages"
)

// Global is what every command gets after flag parsing.
type Global struct {
	Ctx      context.Context
	Settings infra.Settings
}

// Paths returns the layout of the configured build root.
func (g *Global) Paths() infra.Paths {
	return infra.NewPaths(g.Settings.Root, g.Settings.PatchDir)
}

// CLI definition & global flags.
type CLI struct {
	Config string `short:"c" help:"Configuration file (KEY=VALUE lines)" default:"${config}"`
	Root   string `short:"r" help:"Build root, overrides INFRA_ROOT"`
	Setup  string `short:"s" help:"Setup file listing the targets, overrides INFRA_SETUP"`
	Debug  bool   `short:"d" help:"Enable debug logging"`

	Build   BuildCmd   `cmd:"" aliases:"b" help:"Fetch, build and install targets and their dependencies"`
	Order   OrderCmd   `cmd:"" help:"Print the processing order of targets"`
	List    ListCmd    `cmd:"" aliases:"ls" help:"List available recipes"`
	Path    PathCmd    `cmd:"" help:"Print the working directory of a package"`
	Log     LogCmd     `cmd:"" help:"View a run log"`
	Version VersionCmd `cmd:"" help:"Version information"`
}

func (c *CLI) global(ctx context.Context) (*Global, error) {
	cfg, err := infra.LoadConfig(c.Config)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", infra.ErrConfiguration, err)
	}
	if c.Root != "" {
		cfg.Values["INFRA_ROOT"] = c.Root
	}
	if c.Setup != "" {
		cfg.Values["INFRA_SETUP"] = c.Setup
	}
	if c.Debug {
		cfg.Values["INFRA_DEBUG"] = "1"
	}
	s, err := cfg.Settings()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", infra.ErrConfiguration, err)
	}
	return &Global{Ctx: ctx, Settings: s}, nil
}

// roots turns command line targets, or the setup file when there are none,
// into root packages.
func (g *Global) roots(targets []string) ([]infra.Package, error) {
	if len(targets) == 0 {
		if g.Settings.Setup == "" {
			return nil, fmt.Errorf("%w: no targets given and no setup file configured", infra.ErrConfiguration)
		}
		setup, err := packages.LoadSetup(g.Settings.Setup)
		if err != nil {
			return nil, err
		}
		return setup.Packages()
	}

	roots := make([]infra.Package, 0, len(targets))
	for _, arg := range targets {
		t, err := packages.ParseTarget(arg)
		if err != nil {
			return nil, err
		}
		p, err := t.Package()
		if err != nil {
			return nil, err
		}
		roots = append(roots, p)
	}
	return roots, nil
}

// ExitCode maps an error to the process exit status: 2 for configuration
// errors, 1 for everything else.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, infra.ErrConfiguration):
		return 2
	}
	return 1
}

// Main is the CLI entrypoint.
func Main() {
	var c CLI
	k := kong.Parse(&c,
		kong.Name("infra"),
		kong.Description("Builds and installs native toolchain dependencies."),
		kong.UsageOnError(),
		kong.Vars{"config": infra.ConfigPath()},
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, err := c.global(ctx)
	if err == nil {
		err = k.Run(g)
	}
	if err != nil {
		infra.Errorf("%v", err)
		stop()
		os.Exit(ExitCode(err))
	}
}

// OrderCmd prints the resolved processing order.
type OrderCmd struct {
	Targets []string `arg:"" optional:"" help:"recipe[:version[@commit]] targets, defaults to the setup file"`
}

func (o *OrderCmd) Run(g *Global) error {
	roots, err := g.roots(o.Targets)
	if err != nil {
		return err
	}
	order, err := infra.Resolve(roots...)
	if err != nil {
		return err
	}
	for i, p := range order {
		fmt.Printf("%3d  %s\n", i+1, p.Ident())
	}
	return nil
}

// ListCmd prints the known recipes.
type ListCmd struct{}

func (ListCmd) Run(*Global) error {
	for _, name := range packages.Recipes() {
		v := packages.DefaultVersion(name)
		if v == "" {
			v = "-"
		}
		fmt.Printf("%-12s %s\n", name, v)
	}
	return nil
}

// PathCmd prints where a package lives in the build root.
type PathCmd struct {
	Target string `arg:"" help:"recipe[:version[@commit]]"`
	Sub    string `arg:"" optional:"" help:"subdirectory, e.g. install/lib"`
}

func (p *PathCmd) Run(g *Global) error {
	t, err := packages.ParseTarget(p.Target)
	if err != nil {
		return err
	}
	pkg, err := t.Package()
	if err != nil {
		return err
	}
	ctx := &infra.BuildContext{Paths: g.Paths()}
	fmt.Println(infra.Path(ctx, pkg, filepath.FromSlash(p.Sub)))
	return nil
}

// LogCmd shows a run log, the newest one by default.
type LogCmd struct {
	File string `arg:"" optional:"" help:"log file, defaults to the latest run"`
}

func (l *LogCmd) Run(g *Global) error {
	file := l.File
	if file == "" {
		latest, err := infra.LatestRunLog(g.Paths().Logs)
		if err != nil {
			return err
		}
		file = latest
	}
	return ShowLog(file)
}

type VersionCmd struct{}

func (VersionCmd) Run(*Global) error {
	fmt.Printf("infra %s (%s, built %s)\n", infra.Version, infra.Arch, infra.BuildDate)
	return nil
}
