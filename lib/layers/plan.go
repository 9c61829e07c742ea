// Package layers turns a base image, two package sets and a runtime identity
// into the fixed four-step layer plan: escalate, install OS packages, install
// runtime packages with the environment-protection override, de-escalate.
//
// Privilege and the layer stack are explicit values threaded through
// Plan.Walk instead of ambient build state, so ordering and privilege rules
// can be checked without a container engine.
package layers

import (
	"errors"
	"fmt"
	"slices"

	"github.com/opencontainers/go-digest"

	"github.com/onkernel/layerbuild/lib/images"
)

// BaseImage is the immutable starting point of a plan.
type BaseImage struct {
	Ref *images.NormalizedRef
	// Digest pins Ref when known (sha256:...).
	Digest string
	// User is the image's configured USER, "" meaning root.
	User string
}

// Pinned returns repository@digest when a digest is known, otherwise the
// normalized reference.
func (b BaseImage) Pinned() string {
	if b.Ref == nil {
		return ""
	}
	if b.Digest != "" {
		return b.Ref.Repository() + "@" + b.Digest
	}
	return b.Ref.String()
}

// Privilege returns the context the base image starts in.
func (b BaseImage) Privilege() PrivilegeContext {
	if b.User == "" {
		return Root()
	}
	id, err := ParseIdentity(b.User)
	if err != nil {
		return Root()
	}
	return AsUser(id)
}

// Plan is the ordered step sequence for one image.
type Plan struct {
	Base  BaseImage
	Steps []Step
}

// ErrInvariant is wrapped when a plan breaks the step ordering or
// privilege rules.
var ErrInvariant = errors.New("plan invariant violated")

// Build validates its inputs in step order and returns the four-step plan.
// The first invalid input aborts with the error of the step that would
// have failed; later steps are never reached.
func Build(base BaseImage, osPackages, runtimePackages PackageSet, runtimeUser Identity) (*Plan, error) {
	if base.Ref == nil {
		return nil, &BaseImageResolutionError{Err: errors.New("no base image reference")}
	}

	if !osPackages.Installer.IsOS() {
		return nil, &PackageInstallError{
			Step:      2,
			Installer: osPackages.Installer,
			Err:       fmt.Errorf("%w: %q is not an OS package manager", ErrUnsupportedInstaller, osPackages.Installer),
		}
	}
	if bad, err := osPackages.Validate(); err != nil {
		return nil, &PackageInstallError{Step: 2, Installer: osPackages.Installer, Packages: []string{bad}, Err: err}
	}

	if runtimePackages.Installer != InstallerPip {
		return nil, &PackageInstallError{
			Step:      3,
			Installer: runtimePackages.Installer,
			Err:       fmt.Errorf("%w: %q is not a language package installer", ErrUnsupportedInstaller, runtimePackages.Installer),
		}
	}
	if bad, err := runtimePackages.Validate(); err != nil {
		return nil, &PackageInstallError{Step: 3, Installer: runtimePackages.Installer, Packages: []string{bad}, Err: err}
	}

	if runtimeUser.IsZero() {
		return nil, &PrivilegeTransitionError{Step: 4, Err: errors.New("no runtime identity")}
	}
	if runtimeUser.IsAdministrative() {
		return nil, &PrivilegeTransitionError{
			Step:     4,
			Identity: runtimeUser.String(),
			Err:      errors.New("runtime identity must not be administrative"),
		}
	}

	plan := &Plan{
		Base: base,
		Steps: []Step{
			{Index: 1, Kind: StepEscalate, Privilege: Root()},
			{
				Index:     2,
				Kind:      StepInstallOS,
				Privilege: Root(),
				Installer: osPackages.Installer,
				Packages:  slices.Clone(osPackages.Names),
			},
			{
				Index:          3,
				Kind:           StepInstallRuntime,
				Privilege:      Root(),
				Installer:      runtimePackages.Installer,
				Packages:       slices.Clone(runtimePackages.Names),
				PolicyOverride: true,
			},
			{Index: 4, Kind: StepDeescalate, Privilege: AsUser(runtimeUser)},
		},
	}

	parent := BaseKey(base)
	for i := range plan.Steps {
		plan.Steps[i].CacheKey = ChainKey(parent, plan.Steps[i])
		parent = plan.Steps[i].CacheKey
	}

	return plan, nil
}

// BaseKey is the cache identity of the base image.
func BaseKey(base BaseImage) digest.Digest {
	return digest.FromString("base\n" + base.Pinned())
}

// ChainKey derives a step's cache key from its parent's. Changing a step
// changes its key and every key after it, never one before it.
func ChainKey(parent digest.Digest, step Step) digest.Digest {
	return digest.FromString(parent.String() + "\n" + step.Kind.String() + "\n" + step.String())
}

// FinalPrivilege returns the identity the image runs as once every step
// has been applied.
func (p *Plan) FinalPrivilege() PrivilegeContext {
	if len(p.Steps) == 0 {
		return p.Base.Privilege()
	}
	return p.Steps[len(p.Steps)-1].Privilege
}

// Layers returns the layer stack the plan produces, bottom first.
func (p *Plan) Layers() []Layer {
	layers := make([]Layer, 0, len(p.Steps))
	for _, s := range p.Steps {
		layers = append(layers, Layer{Step: s.Index, Kind: s.Kind, CacheKey: s.CacheKey})
	}
	return layers
}

// Step returns the step with the given 1-based index.
func (p *Plan) Step(index int) (Step, bool) {
	if index < 1 || index > len(p.Steps) {
		return Step{}, false
	}
	return p.Steps[index-1], true
}

// Walk applies the steps in order to an explicit State that starts in the
// base image's privilege context. fn sees each step together with the state
// it runs in; its first error stops the walk and is returned unchanged.
// Walk itself fails if a step would install packages without root or if
// anything follows de-escalation.
func (p *Plan) Walk(fn func(State, Step) error) (State, error) {
	state := State{Privilege: p.Base.Privilege()}
	deescalated := false

	for _, step := range p.Steps {
		if deescalated {
			return state, fmt.Errorf("%w: step %d (%s) follows de-escalation", ErrInvariant, step.Index, step.Kind)
		}

		switch step.Kind {
		case StepInstallOS, StepInstallRuntime:
			if !state.Privilege.IsRoot() {
				return state, fmt.Errorf("%w: step %d (%s) would run as %s", ErrInvariant, step.Index, step.Kind, state.Privilege)
			}
		case StepDeescalate:
			if step.Privilege.IsRoot() {
				return state, fmt.Errorf("%w: step %d de-escalates to root", ErrInvariant, step.Index)
			}
		}

		if fn != nil {
			view := State{Privilege: state.Privilege, Layers: slices.Clone(state.Layers)}
			if err := fn(view, step); err != nil {
				return state, err
			}
		}

		switch step.Kind {
		case StepEscalate:
			state.Privilege = Root()
		case StepDeescalate:
			state.Privilege = step.Privilege
			deescalated = true
		}
		state.Layers = append(state.Layers, Layer{Step: step.Index, Kind: step.Kind, CacheKey: step.CacheKey})
	}

	return state, nil
}

// Validate checks the structural invariants: four steps in fixed order,
// indices 1..4, the policy override on the runtime install, a chained cache,
// and a non-root final identity.
func (p *Plan) Validate() error {
	if len(p.Steps) != len(StepOrder) {
		return fmt.Errorf("%w: %d steps, want %d", ErrInvariant, len(p.Steps), len(StepOrder))
	}
	parent := BaseKey(p.Base)
	for i, step := range p.Steps {
		if step.Index != i+1 {
			return fmt.Errorf("%w: step at position %d has index %d", ErrInvariant, i+1, step.Index)
		}
		if step.Kind != StepOrder[i] {
			return fmt.Errorf("%w: step %d is %s, want %s", ErrInvariant, step.Index, step.Kind, StepOrder[i])
		}
		if step.CacheKey != ChainKey(parent, step) {
			return fmt.Errorf("%w: step %d cache key does not chain", ErrInvariant, step.Index)
		}
		parent = step.CacheKey
	}
	if !p.Steps[2].PolicyOverride {
		return fmt.Errorf("%w: runtime install without policy override", ErrInvariant)
	}
	if p.FinalPrivilege().IsRoot() {
		return fmt.Errorf("%w: final identity is root", ErrInvariant)
	}
	_, err := p.Walk(nil)
	return err
}

// Summary renders the step notation of every step, in order.
func (p *Plan) Summary() []string {
	out := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		out[i] = s.String()
	}
	return out
}
