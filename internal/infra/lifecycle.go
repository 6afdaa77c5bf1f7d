package infra

import (
	"fmt"
	"os"
	"slices"
	"time"
)

// Force makes the lifecycle run stages even when their probe is satisfied.
type Force struct {
	Fetch   bool
	Build   bool
	Install bool
	// Only limits the force flags to these identifiers. Empty means all.
	Only []string
}

func (f Force) appliesTo(id string) bool {
	return len(f.Only) == 0 || slices.Contains(f.Only, id)
}

// Outcome records which stages actually ran for one package.
type Outcome struct {
	Ident     string
	Fetched   bool
	Built     bool
	Installed bool
	Duration  time.Duration
}

// Report is the result of one lifecycle run, in processing order.
type Report struct {
	Order    []string
	Outcomes []Outcome
}

// Lifecycle drives packages through fetch, build, install and configure.
type Lifecycle struct {
	Ctx     *BuildContext
	Force   Force
	Metrics *Metrics // optional
}

// Run resolves roots and processes every package in dependency order. The
// first failing stage stops the run: every later package either depends on
// the failed one or is left for the next run, and the returned error is a
// *StageError naming the package and stage. Graph errors are returned before
// any stage runs. The working directory is restored on return.
func (l *Lifecycle) Run(roots ...Package) (*Report, error) {
	order, err := Resolve(roots...)
	if err != nil {
		return nil, err
	}

	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}
	defer func() {
		if err := os.Chdir(wd); err != nil {
			l.Ctx.Log.Warn("failed to restore working directory", "dir", wd, "err", err)
		}
	}()

	report := &Report{}
	for _, p := range order {
		report.Order = append(report.Order, p.Ident())
	}

	configured := make(map[string]bool, len(order))
	for _, p := range order {
		if err := l.Ctx.Ctx().Err(); err != nil {
			return report, fmt.Errorf("run aborted before %s: %w", p.Ident(), err)
		}
		out, err := l.process(p, configured)
		report.Outcomes = append(report.Outcomes, out)
		if err != nil {
			l.Ctx.Log.Error("stopping run", "package", p.Ident(), "err", err)
			return report, err
		}
	}
	return report, nil
}

type stageStep struct {
	stage Stage
	force bool
	probe func(*BuildContext) bool
	run   func(*BuildContext) error
	ran   *bool
}

func (l *Lifecycle) process(p Package, configured map[string]bool) (Outcome, error) {
	ctx := l.Ctx
	id := p.Ident()
	start := time.Now()
	out := Outcome{Ident: id}
	force := l.Force.appliesTo(id)

	steps := []stageStep{
		{StageFetch, force && l.Force.Fetch, p.IsFetched, p.Fetch, &out.Fetched},
		{StageBuild, force && l.Force.Build, p.IsBuilt, p.Build, &out.Built},
		{StageInstall, force && l.Force.Install, p.IsInstalled, p.Install, &out.Installed},
	}

	for _, s := range steps {
		if err := Goto(ctx, p); err != nil {
			return out, &StageError{Package: id, Stage: s.stage, Err: err}
		}
		if !s.force && s.probe(ctx) {
			ctx.Log.Debug("stage already satisfied", "package", id, "stage", s.stage)
			l.Metrics.skipped(s.stage)
			continue
		}

		Status("%s %s", stageVerb(s.stage), id)
		t := time.Now()
		err := s.run(ctx)
		if err == nil {
			// stages are free to chdir; the probe needs the package dir back
			if err = Goto(ctx, p); err == nil && !s.probe(ctx) {
				err = ErrProbe
			}
		}
		l.Metrics.observe(s.stage, err, time.Since(t))
		if err != nil {
			return out, &StageError{Package: id, Stage: s.stage, Err: err}
		}
		*s.ran = true
	}

	if !configured[id] {
		if err := Goto(ctx, p); err != nil {
			return out, &StageError{Package: id, Stage: StageConfigure, Err: err}
		}
		ctx.current = id
		err := p.Configure(ctx)
		ctx.current = ""
		configured[id] = true
		l.Metrics.observe(StageConfigure, err, 0)
		if err != nil {
			return out, &StageError{Package: id, Stage: StageConfigure, Err: err}
		}
	}

	out.Duration = time.Since(start)
	return out, nil
}

func stageVerb(s Stage) string {
	switch s {
	case StageFetch:
		return "Fetching"
	case StageBuild:
		return "Building"
	case StageInstall:
		return "Installing"
	}
	return "Configuring"
}
