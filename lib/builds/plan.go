package builds

import (
	"context"
	"fmt"

	"github.com/onkernel/layerbuild/lib/definitions"
	"github.com/onkernel/layerbuild/lib/images"
	"github.com/onkernel/layerbuild/lib/layers"
)

// ValidateRecipe rejects recipes that cannot produce a plan. Errors are the
// typed step errors the plan would fail with. With an "auto" OS package
// manager the OS packages are checked once the base image is inspected.
func ValidateRecipe(r definitions.Recipe) error {
	check := r
	installer, err := r.OSInstaller(images.PackageManagerUnknown)
	if err != nil {
		check.OSPackages = nil
		installer = layers.InstallerAPK
	}
	if _, err := check.Plan(installer); err != nil {
		return err
	}
	return r.Validate()
}

// ResolvePlan inspects the recipe's base image and compiles the plan
// against it. When only the runtime identity check fails, the plan is
// returned together with the step 4 error.
func ResolvePlan(ctx context.Context, inspector Inspector, r definitions.Recipe) (*layers.Plan, *images.BaseImageInfo, error) {
	ref, err := images.ParseNormalizedRef(r.Base)
	if err != nil {
		return nil, nil, &layers.BaseImageResolutionError{Ref: r.Base, Err: err}
	}
	info, err := inspector.Inspect(ctx, ref)
	if err != nil {
		return nil, nil, &layers.BaseImageResolutionError{Ref: r.Base, Err: err}
	}

	plan, err := r.PlanFor(info)
	if err != nil {
		return nil, info, err
	}
	return plan, info, checkRuntimeIdentity(info, plan)
}

// checkRuntimeIdentity fails step 4 when the runtime user or group is a
// name the base image does not define.
func checkRuntimeIdentity(info *images.BaseImageInfo, plan *layers.Plan) error {
	last := plan.Steps[len(plan.Steps)-1]
	id := last.Privilege.Identity
	if !info.HasUser(id.User) {
		return &layers.PrivilegeTransitionError{
			Step:     last.Index,
			Identity: id.String(),
			Err:      fmt.Errorf("user %q does not exist in %s", id.User, info.Name),
		}
	}
	if id.Group != "" && !info.HasGroup(id.Group) {
		return &layers.PrivilegeTransitionError{
			Step:     last.Index,
			Identity: id.String(),
			Err:      fmt.Errorf("group %q does not exist in %s", id.Group, info.Name),
		}
	}
	return nil
}
