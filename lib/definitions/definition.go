// Package definitions loads build definition files: one base image, two
// package lists and a runtime user, with named variants that override any
// of them.
package definitions

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"

	"github.com/ghodss/yaml"
	"github.com/samber/lo"

	"github.com/onkernel/layerbuild/lib/images"
	"github.com/onkernel/layerbuild/lib/layers"
)

// DefaultVariant names the top-level recipe of a definition.
const DefaultVariant = "default"

// OS package manager settings.
const (
	ManagerAPK  = "apk"
	ManagerAPT  = "apt"
	ManagerAuto = "auto"
)

var (
	// ErrInvalidDefinition is wrapped by every validation failure.
	ErrInvalidDefinition = errors.New("invalid build definition")

	// ErrUnknownVariant is returned when a variant is not defined.
	ErrUnknownVariant = errors.New("unknown variant")
)

var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// Definition is the on-disk build definition.
type Definition struct {
	Name             string             `json:"name"`
	Base             string             `json:"base"`
	RuntimeUser      string             `json:"runtimeUser"`
	OSPackageManager string             `json:"osPackageManager,omitempty"`
	OSPackages       []string           `json:"osPackages,omitempty"`
	RuntimePackages  []string           `json:"runtimePackages,omitempty"`
	Tag              string             `json:"tag,omitempty"`
	Variants         map[string]Variant `json:"variants,omitempty"`
}

// Variant overrides the fields it sets. A nil list inherits; an empty list
// replaces with nothing.
type Variant struct {
	Base             string   `json:"base,omitempty"`
	RuntimeUser      string   `json:"runtimeUser,omitempty"`
	OSPackageManager string   `json:"osPackageManager,omitempty"`
	OSPackages       []string `json:"osPackages,omitempty"`
	RuntimePackages  []string `json:"runtimePackages,omitempty"`
	Tag              string   `json:"tag,omitempty"`
}

// Recipe is a fully resolved variant.
type Recipe struct {
	Name             string   `json:"name"`
	Variant          string   `json:"variant"`
	Base             string   `json:"base"`
	RuntimeUser      string   `json:"runtimeUser"`
	OSPackageManager string   `json:"osPackageManager"`
	OSPackages       []string `json:"osPackages"`
	RuntimePackages  []string `json:"runtimePackages"`
	Tag              string   `json:"tag,omitempty"`
}

// Load reads and validates a definition file (YAML or JSON).
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read definition: %w", err)
	}
	def, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}

// Parse decodes and validates a definition.
func Parse(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// Marshal renders the definition as YAML.
func (d *Definition) Marshal() ([]byte, error) {
	return yaml.Marshal(d)
}

// VariantNames returns the default variant followed by the named variants
// in sorted order.
func (d *Definition) VariantNames() []string {
	names := lo.Keys(d.Variants)
	slices.Sort(names)
	return append([]string{DefaultVariant}, names...)
}

// Validate checks the definition and every variant it produces. All
// problems are reported together.
func (d *Definition) Validate() error {
	var errs []error
	if !namePattern.MatchString(d.Name) {
		errs = append(errs, fmt.Errorf("name %q must match %s", d.Name, namePattern))
	}
	for name := range d.Variants {
		if name == DefaultVariant || !namePattern.MatchString(name) {
			errs = append(errs, fmt.Errorf("variant name %q is not allowed", name))
		}
	}
	for _, variant := range d.VariantNames() {
		recipe, err := d.Recipe(variant)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := recipe.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("variant %s: %w", variant, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidDefinition, errors.Join(errs...))
	}
	return nil
}

// Recipe resolves a variant against the top-level fields. "" and
// DefaultVariant select the top level.
func (d *Definition) Recipe(variant string) (Recipe, error) {
	r := Recipe{
		Name:             d.Name,
		Variant:          DefaultVariant,
		Base:             d.Base,
		RuntimeUser:      d.RuntimeUser,
		OSPackageManager: lo.CoalesceOrEmpty(d.OSPackageManager, ManagerAuto),
		OSPackages:       slices.Clone(d.OSPackages),
		RuntimePackages:  slices.Clone(d.RuntimePackages),
		Tag:              d.Tag,
	}
	if variant == "" || variant == DefaultVariant {
		return r.normalized(), nil
	}

	v, ok := d.Variants[variant]
	if !ok {
		return Recipe{}, fmt.Errorf("%w: %q", ErrUnknownVariant, variant)
	}
	r.Variant = variant
	r.Base = lo.CoalesceOrEmpty(v.Base, r.Base)
	r.RuntimeUser = lo.CoalesceOrEmpty(v.RuntimeUser, r.RuntimeUser)
	r.OSPackageManager = lo.CoalesceOrEmpty(v.OSPackageManager, r.OSPackageManager)
	r.Tag = lo.CoalesceOrEmpty(v.Tag, r.Tag)
	if v.OSPackages != nil {
		r.OSPackages = slices.Clone(v.OSPackages)
	}
	if v.RuntimePackages != nil {
		r.RuntimePackages = slices.Clone(v.RuntimePackages)
	}
	return r.normalized(), nil
}

func (r Recipe) normalized() Recipe {
	if r.OSPackages == nil {
		r.OSPackages = []string{}
	}
	if r.RuntimePackages == nil {
		r.RuntimePackages = []string{}
	}
	return r
}

// Validate checks the recipe fields without building a plan.
func (r Recipe) Validate() error {
	var errs []error
	if strings.TrimSpace(r.Base) == "" {
		errs = append(errs, errors.New("base is required"))
	} else if _, err := images.ParseNormalizedRef(r.Base); err != nil {
		errs = append(errs, fmt.Errorf("base: %w", err))
	}
	if id, err := layers.ParseIdentity(r.RuntimeUser); err != nil {
		errs = append(errs, fmt.Errorf("runtimeUser: %w", err))
	} else if id.IsAdministrative() {
		errs = append(errs, fmt.Errorf("runtimeUser %q is administrative", r.RuntimeUser))
	}

	switch r.OSPackageManager {
	case ManagerAPK, ManagerAPT:
		installer, _ := layers.ParseInstaller(r.OSPackageManager)
		if _, err := layers.NewPackageSet(installer, r.OSPackages...).Validate(); err != nil {
			errs = append(errs, fmt.Errorf("osPackages: %w", err))
		}
	case ManagerAuto:
	default:
		errs = append(errs, fmt.Errorf("osPackageManager %q must be apk, apt or auto", r.OSPackageManager))
	}
	if _, err := layers.NewPackageSet(layers.InstallerPip, r.RuntimePackages...).Validate(); err != nil {
		errs = append(errs, fmt.Errorf("runtimePackages: %w", err))
	}
	if r.Tag != "" {
		if _, err := images.ParseNormalizedRef(r.Tag); err != nil {
			errs = append(errs, fmt.Errorf("tag: %w", err))
		}
	}
	return errors.Join(errs...)
}

// OSInstaller returns the configured OS installer. With "auto" the base
// image's detected package manager decides.
func (r Recipe) OSInstaller(detected images.PackageManager) (layers.Installer, error) {
	name := r.OSPackageManager
	if name == ManagerAuto || name == "" {
		name = string(detected)
	}
	if name == "" {
		return "", fmt.Errorf("%w: cannot detect the OS package manager of %s", layers.ErrUnsupportedInstaller, r.Base)
	}
	return layers.ParseInstaller(name)
}

// Plan compiles the recipe into a layer plan with the given OS installer
// and an unpinned base.
func (r Recipe) Plan(installer layers.Installer) (*layers.Plan, error) {
	return r.plan(installer, "", "")
}

// PlanFor compiles the recipe against an inspected base image: the base is
// pinned to its digest and "auto" resolves to the detected package manager.
func (r Recipe) PlanFor(info *images.BaseImageInfo) (*layers.Plan, error) {
	installer, err := r.OSInstaller(info.PackageManager())
	if err != nil {
		return nil, &layers.PackageInstallError{Step: 2, Err: err}
	}
	return r.plan(installer, info.Digest, info.ConfigUser)
}

func (r Recipe) plan(installer layers.Installer, digest, baseUser string) (*layers.Plan, error) {
	ref, err := images.ParseNormalizedRef(r.Base)
	if err != nil {
		return nil, &layers.BaseImageResolutionError{Ref: r.Base, Err: err}
	}
	user, err := layers.ParseIdentity(r.RuntimeUser)
	if err != nil {
		return nil, &layers.PrivilegeTransitionError{Step: 4, Identity: r.RuntimeUser, Err: err}
	}
	return layers.Build(
		layers.BaseImage{Ref: ref, Digest: digest, User: baseUser},
		layers.NewPackageSet(installer, r.OSPackages...),
		layers.NewPackageSet(layers.InstallerPip, r.RuntimePackages...),
		user,
	)
}
