package builds

import (
	"errors"
	"fmt"
	"strings"

	"github.com/onkernel/layerbuild/lib/builds/templates"
	"github.com/onkernel/layerbuild/lib/layers"
)

// ErrUnattributed is wrapped when a failed build cannot be traced to a step.
var ErrUnattributed = errors.New("build failed outside any plan step")

var missingUserMarkers = []string{
	"unable to find user",
	"no matching entries in passwd file",
	"unknown user",
}

// Attribute maps a failed engine run back to the plan step that failed and
// returns the matching typed error, carrying the failing step's output
// unchanged. buildErr is the error returned by the engine.
func Attribute(plan *layers.Plan, rendered *templates.Rendered, output string, buildErr error) error {
	parsed := parseBuildOutput(output)

	if user, ok := missingUser(output); ok {
		step := 4
		for _, s := range plan.Steps {
			if s.Privilege.Identity.User == user && (s.Kind == layers.StepEscalate || s.Kind == layers.StepDeescalate) {
				step = s.Index
			}
		}
		return stepError(plan, step, missingUserLine(output), buildErr)
	}

	v := parsed.failed()
	if v == nil {
		return fmt.Errorf("%w: %w", ErrUnattributed, buildErr)
	}
	if strings.HasPrefix(v.name, "[internal] load metadata for ") {
		return stepError(plan, 0, v.diagnostic(), buildErr)
	}

	ins, idx := v.instruction()
	if strings.HasPrefix(strings.ToUpper(ins), "FROM ") {
		return stepError(plan, 0, v.diagnostic(), buildErr)
	}
	step, ok := rendered.StepFor(ins)
	if !ok && idx > 0 {
		step, ok = vertexStep(rendered, idx)
	}
	if !ok {
		return fmt.Errorf("%w: %s: %w", ErrUnattributed, v.name, buildErr)
	}
	return stepError(plan, step, v.diagnostic(), buildErr)
}

// vertexStep maps a 1-based build vertex index to a step. Only FROM and
// RUN produce vertices; USER and LABEL only change image config.
func vertexStep(rendered *templates.Rendered, idx int) (int, bool) {
	n := 0
	for _, ins := range rendered.Instructions {
		if strings.HasPrefix(ins.Text, "FROM ") || strings.HasPrefix(ins.Text, "RUN ") {
			n++
			if n == idx {
				return ins.Step, true
			}
		}
	}
	return 0, false
}

func stepError(plan *layers.Plan, index int, output string, buildErr error) error {
	if index == 0 {
		return &layers.BaseImageResolutionError{Ref: plan.Base.Pinned(), Output: output, Err: buildErr}
	}
	step, ok := plan.Step(index)
	if !ok {
		return fmt.Errorf("%w: step %d: %w", ErrUnattributed, index, buildErr)
	}
	switch step.Kind {
	case layers.StepInstallOS, layers.StepInstallRuntime:
		return &layers.PackageInstallError{
			Step:      step.Index,
			Installer: step.Installer,
			Packages:  step.Packages,
			Output:    output,
			Err:       buildErr,
		}
	default:
		return &layers.PrivilegeTransitionError{
			Step:     step.Index,
			Identity: step.Privilege.Identity.String(),
			Output:   output,
			Err:      buildErr,
		}
	}
}

// missingUser finds the engine's "user does not exist" diagnostic and the
// user it names.
func missingUser(output string) (string, bool) {
	line := missingUserLine(output)
	if line == "" {
		return "", false
	}
	lower := strings.ToLower(line)
	for _, marker := range missingUserMarkers {
		i := strings.Index(lower, marker)
		if i < 0 {
			continue
		}
		rest := strings.TrimLeft(line[i+len(marker):], " :\"'")
		user := strings.FieldsFunc(rest, func(r rune) bool {
			return r == ' ' || r == ':' || r == '"' || r == '\''
		})
		if len(user) > 0 {
			return user[0], true
		}
		return "", true
	}
	return "", false
}

func missingUserLine(output string) string {
	for _, line := range strings.Split(output, "\n") {
		lower := strings.ToLower(line)
		for _, marker := range missingUserMarkers {
			if strings.Contains(lower, marker) {
				return strings.TrimSpace(line)
			}
		}
	}
	return ""
}
