package cli

import (
	"path/filepath"
	"strings"
	"time"

	"infra/internal/infra"
)

// BuildCmd runs the lifecycle over the targets.
type BuildCmd struct {
	Targets   []string `arg:"" optional:"" help:"recipe[:version[@commit]] targets, defaults to the setup file"`
	Jobs      int      `short:"j" help:"Parallel jobs for build tools, overrides INFRA_JOBS"`
	Verbose   bool     `short:"v" help:"Show subprocess output on the terminal"`
	Refetch   bool     `help:"Fetch again even if the source is present"`
	Rebuild   bool     `help:"Build again even if the build output is present"`
	Reinstall bool     `help:"Install again even if the install tree is present"`
	Only      []string `help:"Restrict the force flags to these package identifiers"`
}

func (b *BuildCmd) Run(g *Global) error {
	roots, err := g.roots(b.Targets)
	if err != nil {
		return err
	}
	// Catch graph errors before touching the build root.
	if _, err := infra.Resolve(roots...); err != nil {
		return err
	}

	s := g.Settings
	lock, err := infra.Lock(s.Root)
	if err != nil {
		return err
	}
	defer lock.Unlock()

	paths := g.Paths()
	runLog, err := infra.OpenRunLog(paths.Logs, s.Debug)
	if err != nil {
		return err
	}
	defer runLog.Close()
	logger := runLog.Logger

	ctx := infra.NewBuildContext(g.Ctx, paths, logger, runLog.Output(b.Verbose))
	ctx.Jobs = s.Jobs
	if b.Jobs > 0 {
		ctx.Jobs = b.Jobs
	}
	if e, ok := ctx.Runner.(*infra.Executor); ok {
		e.ApplyIdlePriority = s.IdlePriority
	}

	fetcher := infra.NewFetcher(paths.Cache, logger)
	fetcher.GNUMirror = s.GNUMirror
	if s.Mirror.Enabled() {
		mirror, err := infra.NewMirror(g.Ctx, s.Mirror, s.Debug)
		if err != nil {
			return err
		}
		fetcher.Mirror = mirror
	}
	ctx.Fetcher = fetcher

	metrics := infra.NewMetrics()
	lc := &infra.Lifecycle{
		Ctx: ctx,
		Force: infra.Force{
			Fetch:   b.Refetch,
			Build:   b.Rebuild,
			Install: b.Reinstall,
			Only:    b.Only,
		},
		Metrics: metrics,
	}

	logger.Info("starting run", "root", s.Root, "jobs", ctx.Jobs, "targets", len(roots))
	report, runErr := lc.Run(roots...)
	printReport(report)

	if err := metrics.WriteTextfile(filepath.Join(s.Root, "metrics.prom")); err != nil {
		logger.Warn("failed to write metrics", "err", err)
	}
	if runErr != nil {
		infra.Warnf("Full log: %s", runLog.Path)
		return runErr
	}

	logger.Info("run finished",
		"cflags", strings.Join(ctx.CFlags, " "),
		"ldflags", strings.Join(ctx.LDFlags, " "))
	infra.Status("All %d packages are up to date", len(report.Order))
	return nil
}

func printReport(r *infra.Report) {
	if r == nil {
		return
	}
	for _, o := range r.Outcomes {
		var ran []string
		if o.Fetched {
			ran = append(ran, "fetched")
		}
		if o.Built {
			ran = append(ran, "built")
		}
		if o.Installed {
			ran = append(ran, "installed")
		}
		if len(ran) == 0 {
			infra.Infof("  %-28s up to date", o.Ident)
			continue
		}
		infra.Infof("  %-28s %s (%s)", o.Ident, strings.Join(ran, ", "), o.Duration.Round(time.Second))
	}
}
