package infra

import (
	"fmt"
	"reflect"
)

// Resolve returns every package reachable from roots, each exactly once,
// ordered so that a package comes after all of its dependencies. Roots are
// walked in the given order and dependencies in declaration order, so the
// result is deterministic. Packages sharing an identifier are merged; the
// first instance seen is kept.
//
// A cycle, or two packages of different kinds claiming one identifier, is a
// configuration error and nothing is returned.
func Resolve(roots ...Package) ([]Package, error) {
	r := &resolver{
		state: make(map[string]visitState),
		kinds: make(map[string]reflect.Type),
	}
	for _, root := range roots {
		if err := r.visit(root); err != nil {
			return nil, err
		}
	}
	return r.order, nil
}

type visitState int

const (
	unvisited visitState = iota
	visiting
	done
)

type resolver struct {
	state map[string]visitState
	kinds map[string]reflect.Type
	path  []string
	order []Package
}

func (r *resolver) visit(p Package) error {
	if p == nil {
		return fmt.Errorf("%w: nil package in dependency list", ErrConfiguration)
	}
	id := p.Ident()

	// one identifier, one kind of package
	kind := reflect.TypeOf(p)
	if prev, ok := r.kinds[id]; ok && prev != kind {
		return &DuplicateError{Ident: id, First: prev.String(), Other: kind.String()}
	}
	r.kinds[id] = kind

	switch r.state[id] {
	case done:
		return nil
	case visiting:
		cycle := []string{id}
		for i := len(r.path) - 1; i >= 0; i-- {
			cycle = append([]string{r.path[i]}, cycle...)
			if r.path[i] == id {
				break
			}
		}
		return &CycleError{Path: cycle}
	}
	r.state[id] = visiting
	r.path = append(r.path, id)

	for _, dep := range p.Dependencies() {
		if err := r.visit(dep); err != nil {
			return err
		}
	}

	// dependencies are already in r.order
	r.path = r.path[:len(r.path)-1]
	r.state[id] = done
	r.order = append(r.order, p)
	return nil
}
