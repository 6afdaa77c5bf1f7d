package packages

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"infra/internal/infra"
)

// Target selects one recipe and its parameters. It is the unit of a setup
// file and of a command line target such as "cmake:3.28.6".
type Target struct {
	Recipe     string      `yaml:"recipe"`
	Version    string      `yaml:"version,omitempty"`
	Commit     string      `yaml:"commit,omitempty"`
	Patches    []PatchSpec `yaml:"patches,omitempty"`
	CompilerRT bool        `yaml:"compiler_rt,omitempty"`
	LLD        bool        `yaml:"lld,omitempty"`
	Gold       bool        `yaml:"gold,omitempty"`
	BuildFlags []string    `yaml:"build_flags,omitempty"`
	LibUnwind  string      `yaml:"libunwind,omitempty"`
	Triple     string      `yaml:"target,omitempty"`
	BinSuffix  string      `yaml:"bin_suffix,omitempty"`
}

// PatchSpec is written either as a plain name or path, or as a mapping with
// path and dir keys.
type PatchSpec infra.PatchRef

func (p *PatchSpec) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		p.Path = value.Value
		return nil
	case yaml.MappingNode:
		var m struct {
			Path string `yaml:"path"`
			Dir  string `yaml:"dir"`
		}
		if err := value.Decode(&m); err != nil {
			return err
		}
		if m.Path == "" {
			return fmt.Errorf("line %d: patch has no path", value.Line)
		}
		p.Path, p.Dir = m.Path, m.Dir
		return nil
	}
	return fmt.Errorf("line %d: patch must be a string or a mapping", value.Line)
}

func (t Target) patchRefs() []infra.PatchRef {
	refs := make([]infra.PatchRef, 0, len(t.Patches))
	for _, p := range t.Patches {
		refs = append(refs, infra.PatchRef(p))
	}
	return refs
}

type recipe struct {
	version string // used when the target has none
	build   func(t Target) (infra.Package, error)
}

func gnuRecipe(version string, ctor func(string) *GNU) recipe {
	return recipe{version, func(t Target) (infra.Package, error) {
		g := ctor(t.Version)
		g.Patches = t.patchRefs()
		return g, nil
	}}
}

var recipes = map[string]recipe{
	"bash":      gnuRecipe("5.1.16", Bash),
	"coreutils": gnuRecipe("9.1", CoreUtils),
	"make":      gnuRecipe("4.3", Make),
	"m4":        gnuRecipe("1.4.19", M4),
	"libtool":   gnuRecipe("2.4.7", LibTool),
	"autoconf": gnuRecipe("2.71", func(v string) *GNU {
		return AutoConf(v, M4("1.4.19"))
	}),
	"automake": gnuRecipe("1.16.5", func(v string) *GNU {
		return AutoMake(v, AutoConf("2.71", M4("1.4.19")), LibTool("2.4.7"))
	}),
	"binutils": {llvmBinUtilsVersion, func(t Target) (infra.Package, error) {
		g := BinUtils(t.Version, t.Gold)
		g.Patches = t.patchRefs()
		return g, nil
	}},
	"cmake": {"3.28.6", func(t Target) (infra.Package, error) {
		return NewCMake(t.Version), nil
	}},
	"ninja": {"1.8.2", func(t Target) (infra.Package, error) {
		return NewNinja(t.Version), nil
	}},
	"libunwind": {DefaultLibUnwindVersion, func(t Target) (infra.Package, error) {
		return NewLibUnwind(t.Version, t.patchRefs()...), nil
	}},
	"gperftools": {"", func(t Target) (infra.Package, error) {
		commit := t.Commit
		if commit == "" {
			commit = t.Version
		}
		if commit == "" {
			return nil, fmt.Errorf("%w: gperftools needs a commit", infra.ErrConfiguration)
		}
		g := NewGperftools(commit, t.patchRefs()...)
		if t.LibUnwind != "" {
			g.LibUnwind = NewLibUnwind(t.LibUnwind)
		}
		return g, nil
	}},
	"llvm": {"", func(t Target) (infra.Package, error) {
		if t.Version == "" {
			return nil, fmt.Errorf("%w: llvm needs a version", infra.ErrConfiguration)
		}
		l := NewLLVM(t.Version, t.CompilerRT, t.patchRefs()...)
		l.Commit = t.Commit
		l.LLD = t.LLD
		l.BuildFlags = t.BuildFlags
		if _, err := l.major(); err != nil {
			return nil, err
		}
		return l, nil
	}},
	"llvm-bin": {"", func(t Target) (infra.Package, error) {
		if t.Version == "" || t.Triple == "" {
			return nil, fmt.Errorf("%w: llvm-bin needs a version and a target", infra.ErrConfiguration)
		}
		return &LLVMBinDist{Version: t.Version, Target: t.Triple, BinSuffix: t.BinSuffix}, nil
	}},
}

// Recipes returns the names of all known recipes, sorted.
func Recipes() []string {
	return slices.Sorted(maps.Keys(recipes))
}

// DefaultVersion returns the version used for a recipe when none is given.
func DefaultVersion(name string) string {
	return recipes[name].version
}

// Package builds the package a target describes.
func (t Target) Package() (infra.Package, error) {
	r, ok := recipes[t.Recipe]
	if !ok {
		return nil, fmt.Errorf("%w: unknown recipe %q (known: %s)",
			infra.ErrConfiguration, t.Recipe, strings.Join(Recipes(), ", "))
	}
	if t.Version == "" {
		t.Version = r.version
	}
	return r.build(t)
}

// ParseTarget parses "recipe", "recipe:version" or "recipe:version@commit".
func ParseTarget(s string) (Target, error) {
	name, rest, _ := strings.Cut(strings.TrimSpace(s), ":")
	if name == "" {
		return Target{}, fmt.Errorf("%w: empty target", infra.ErrConfiguration)
	}
	version, commit, _ := strings.Cut(rest, "@")
	return Target{Recipe: name, Version: version, Commit: commit}, nil
}
