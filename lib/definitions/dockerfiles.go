package definitions

import (
	"fmt"
	"os"
	"slices"

	"github.com/samber/lo"

	"github.com/onkernel/layerbuild/lib/dockerfile"
)

// Imported is a definition recovered from legacy Dockerfiles, with the
// instructions of each file that had no place in it.
type Imported struct {
	Definition *Definition         `json:"definition"`
	Skipped    map[string][]string `json:"skipped,omitempty"`
	Sources    map[string]string   `json:"sources"`
}

// FromDockerfiles imports one variant per Dockerfile. Fields every file
// agrees on move to the top level; packages shared by all files become the
// top-level lists and each variant keeps its full list where it differs.
// The alphabetically first file also provides any field the files disagree
// on, so it becomes the default variant's source.
func FromDockerfiles(name string, files map[string]string) (*Imported, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no dockerfiles given", ErrInvalidDefinition)
	}

	variants := lo.Keys(files)
	slices.Sort(variants)

	recipes := make(map[string]*dockerfile.Imported, len(files))
	out := &Imported{Skipped: map[string][]string{}, Sources: files}
	for _, v := range variants {
		f, err := os.Open(files[v])
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", files[v], err)
		}
		instructions, err := dockerfile.Parse(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", files[v], err)
		}
		imp, err := dockerfile.Import(instructions)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", files[v], err)
		}
		recipes[v] = imp
		if len(imp.Skipped) > 0 {
			out.Skipped[v] = imp.Skipped
		}
	}

	first := recipes[variants[0]]
	def := &Definition{
		Name:             name,
		Base:             first.Base,
		RuntimeUser:      first.RuntimeUser,
		OSPackageManager: lo.CoalesceOrEmpty(string(first.OSInstaller), ManagerAuto),
		OSPackages:       first.OSPackages,
		RuntimePackages:  first.RuntimePackages,
	}
	for _, v := range variants[1:] {
		r := recipes[v]
		def.OSPackages = lo.Intersect(def.OSPackages, r.OSPackages)
		def.RuntimePackages = lo.Intersect(def.RuntimePackages, r.RuntimePackages)
	}
	if len(variants) == 1 {
		out.Definition = def
		return out, nil
	}

	def.Variants = map[string]Variant{}
	for _, v := range variants {
		r := recipes[v]
		var variant Variant
		if r.Base != def.Base {
			variant.Base = r.Base
		}
		if r.RuntimeUser != def.RuntimeUser {
			variant.RuntimeUser = r.RuntimeUser
		}
		if m := lo.CoalesceOrEmpty(string(r.OSInstaller), ManagerAuto); m != def.OSPackageManager {
			variant.OSPackageManager = m
		}
		if !slices.Equal(r.OSPackages, def.OSPackages) {
			variant.OSPackages = r.OSPackages
		}
		if !slices.Equal(r.RuntimePackages, def.RuntimePackages) {
			variant.RuntimePackages = r.RuntimePackages
		}
		def.Variants[v] = variant
	}
	out.Definition = def
	return out, nil
}
