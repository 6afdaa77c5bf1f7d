package infra

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Every error the engine returns wraps exactly one of these.
var (
	// ErrConfiguration marks problems with the package graph or with
	// configure steps: cycles, identifier clashes, conflicting settings.
	// They abort the run before (or instead of) executing further stages.
	ErrConfiguration = errors.New("configuration error")
	// ErrStage marks a failed fetch/build/install/configure stage.
	ErrStage = errors.New("stage failed")
	// ErrProbe is wrapped by a StageError when a stage returned without
	// error but its probe still reports the artifact as missing.
	ErrProbe = errors.New("stage completed but its artifact is missing")
)

// Stage names a lifecycle step.
type Stage string

const (
	StageFetch     Stage = "fetch"
	StageBuild     Stage = "build"
	StageInstall   Stage = "install"
	StageConfigure Stage = "configure"
)

// StageError reports which package failed in which stage.
type StageError struct {
	Package string
	Stage   Stage
	Err     error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %s failed: %v", e.Package, e.Stage, e.Err)
}

func (e *StageError) Unwrap() []error { return []error{ErrStage, e.Err} }

// CycleError indicates that the dependency graph contains a cycle.
// Path starts and ends with the same identifier.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Path, " -> "))
}

func (e *CycleError) Unwrap() error { return ErrConfiguration }

// DuplicateError is returned when two packages of different kinds claim the
// same identifier.
type DuplicateError struct {
	Ident string
	First string
	Other string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("identifier %q claimed by both %s and %s", e.Ident, e.First, e.Other)
}

func (e *DuplicateError) Unwrap() error { return ErrConfiguration }

// ConflictError is returned when two packages configure the same program
// field with different values.
type ConflictError struct {
	Field         string
	Current       string
	CurrentOwner  string
	Requested     string
	RequestedFrom string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %s wants %q but %s already set %q",
		e.Field, e.RequestedFrom, e.Requested, e.CurrentOwner, e.Current)
}

func (e *ConflictError) Unwrap() error { return ErrConfiguration }
