package packages

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"infra/internal/infra"
)

// Setup is the set of targets a build root is meant to provide.
//
//	targets:
//	  - recipe: llvm
//	    version: 15.0.7
//	    compiler_rt: true
//	    patches:
//	      - gold-plugins
//	      - {dir: llvm, path: /srv/patches/uniqueptr.patch}
//	  - recipe: gperftools
//	    commit: gperftools-2.15
type Setup struct {
	Targets []Target `yaml:"targets"`
}

// LoadSetup reads a setup file. Unknown keys are rejected.
func LoadSetup(path string) (*Setup, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", infra.ErrConfiguration, err)
	}
	defer f.Close()
	return ParseSetup(f)
}

// ParseSetup decodes a setup document from r.
func ParseSetup(r io.Reader) (*Setup, error) {
	var s Setup
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: setup file: %v", infra.ErrConfiguration, err)
	}
	return &s, nil
}

// Packages builds the root packages of every target, in file order.
func (s *Setup) Packages() ([]infra.Package, error) {
	pkgs := make([]infra.Package, 0, len(s.Targets))
	for i, t := range s.Targets {
		p, err := t.Package()
		if err != nil {
			return nil, fmt.Errorf("target %d: %w", i+1, err)
		}
		pkgs = append(pkgs, p)
	}
	return pkgs, nil
}
