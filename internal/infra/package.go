package infra

// Package is implemented by every concrete dependency recipe.
//
// The probes must be cheap and free of side effects; they return true as soon
// as the artifact of their stage exists on disk, so running the pipeline twice
// in a row does nothing the second time. Probes and stages run with the
// package directory as the current working directory.
type Package interface {
	// Ident is unique per concrete configuration (name, version and any
	// parameter that changes the artifact). It is both the dedup key and
	// the package directory name.
	Ident() string
	// Dependencies are processed before this package. They must not lead
	// back to the package itself.
	Dependencies() []Package

	IsFetched(ctx *BuildContext) bool
	Fetch(ctx *BuildContext) error

	IsBuilt(ctx *BuildContext) bool
	// Build applies the package's patches before compiling so that a
	// forced rebuild re-checks them even if the source tree persisted.
	Build(ctx *BuildContext) error

	IsInstalled(ctx *BuildContext) bool
	Install(ctx *BuildContext) error

	// Configure appends the flags downstream packages need. It is called
	// once per run, also when every other stage was skipped.
	Configure(ctx *BuildContext) error
}

// Leaf can be embedded by packages without dependencies.
type Leaf struct{}

func (Leaf) Dependencies() []Package { return nil }

// Prebuilt can be embedded by packages that have nothing to compile.
type Prebuilt struct{}

func (Prebuilt) IsBuilt(*BuildContext) bool { return true }
func (Prebuilt) Build(*BuildContext) error  { return nil }
