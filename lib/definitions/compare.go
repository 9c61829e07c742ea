package definitions

import (
	"github.com/samber/lo"

	"github.com/onkernel/layerbuild/lib/layers"
)

// SetDiff splits two package lists by identity (versions stripped, pip
// names normalized).
type SetDiff struct {
	Shared []string `json:"shared"`
	OnlyA  []string `json:"only_a"`
	OnlyB  []string `json:"only_b"`
}

// Diverges reports whether either side has packages the other lacks.
func (s SetDiff) Diverges() bool {
	return len(s.OnlyA) > 0 || len(s.OnlyB) > 0
}

// Comparison describes how two recipes differ.
type Comparison struct {
	A                string  `json:"a"`
	B                string  `json:"b"`
	BaseDiffers      bool    `json:"base_differs"`
	UserDiffers      bool    `json:"user_differs"`
	InstallerDiffers bool    `json:"installer_differs"`
	OSPackages       SetDiff `json:"os_packages"`
	RuntimePackages  SetDiff `json:"runtime_packages"`
}

// Identical reports whether the recipes would produce the same plan.
func (c Comparison) Identical() bool {
	return !c.BaseDiffers && !c.UserDiffers && !c.InstallerDiffers &&
		!c.OSPackages.Diverges() && !c.RuntimePackages.Diverges()
}

// Compare reports shared and divergent packages of two recipes.
func Compare(a, b Recipe) Comparison {
	osInstaller := layers.InstallerAPK
	if a.OSPackageManager == ManagerAPT {
		osInstaller = layers.InstallerAPT
	}
	return Comparison{
		A:                a.Variant,
		B:                b.Variant,
		BaseDiffers:      a.Base != b.Base,
		UserDiffers:      a.RuntimeUser != b.RuntimeUser,
		InstallerDiffers: a.OSPackageManager != b.OSPackageManager,
		OSPackages:       diffSets(layers.NewPackageSet(osInstaller, a.OSPackages...), layers.NewPackageSet(osInstaller, b.OSPackages...)),
		RuntimePackages:  diffSets(layers.NewPackageSet(layers.InstallerPip, a.RuntimePackages...), layers.NewPackageSet(layers.InstallerPip, b.RuntimePackages...)),
	}
}

// CompareVariants compares two variants of d.
func (d *Definition) CompareVariants(a, b string) (Comparison, error) {
	ra, err := d.Recipe(a)
	if err != nil {
		return Comparison{}, err
	}
	rb, err := d.Recipe(b)
	if err != nil {
		return Comparison{}, err
	}
	return Compare(ra, rb), nil
}

func diffSets(a, b layers.PackageSet) SetDiff {
	keysA, keysB := a.Keys(), b.Keys()
	onlyA, onlyB := lo.Difference(keysA, keysB)
	return SetDiff{
		Shared: orEmpty(lo.Intersect(keysA, keysB)),
		OnlyA:  orEmpty(onlyA),
		OnlyB:  orEmpty(onlyB),
	}
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
