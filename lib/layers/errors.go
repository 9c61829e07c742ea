package layers

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrBaseImageResolution is matched by every *BaseImageResolutionError.
	ErrBaseImageResolution = errors.New("base image resolution failed")

	// ErrPackageInstall is matched by every *PackageInstallError.
	ErrPackageInstall = errors.New("package install failed")

	// ErrPrivilegeTransition is matched by every *PrivilegeTransitionError.
	ErrPrivilegeTransition = errors.New("privilege transition failed")
)

// StepError is implemented by all build failures. StepIndex is 0 for the
// base image and 1..4 for the steps of a plan. Output carries the failing
// tool's diagnostic text unchanged.
type StepError interface {
	error
	StepIndex() int
	Diagnostic() string
}

// BaseImageResolutionError reports that the base image could not be pulled.
type BaseImageResolutionError struct {
	Ref    string
	Output string
	Err    error
}

func (e *BaseImageResolutionError) Error() string {
	return formatStepError(0, fmt.Sprintf("resolve base image %q", e.Ref), e.Output, e.Err)
}

func (e *BaseImageResolutionError) Unwrap() error        { return e.Err }
func (e *BaseImageResolutionError) Is(target error) bool { return target == ErrBaseImageResolution }
func (e *BaseImageResolutionError) StepIndex() int       { return 0 }
func (e *BaseImageResolutionError) Diagnostic() string   { return e.Output }

// PackageInstallError reports an OS or runtime package that failed to
// resolve or install.
type PackageInstallError struct {
	Step      int
	Installer Installer
	Packages  []string
	Output    string
	Err       error
}

func (e *PackageInstallError) Error() string {
	what := fmt.Sprintf("%s install", e.Installer)
	if len(e.Packages) > 0 {
		what = fmt.Sprintf("%s install of %s", e.Installer, strings.Join(e.Packages, ", "))
	}
	return formatStepError(e.Step, what, e.Output, e.Err)
}

func (e *PackageInstallError) Unwrap() error        { return e.Err }
func (e *PackageInstallError) Is(target error) bool { return target == ErrPackageInstall }
func (e *PackageInstallError) StepIndex() int       { return e.Step }
func (e *PackageInstallError) Diagnostic() string   { return e.Output }

// PrivilegeTransitionError reports a runtime identity the base image
// cannot switch to.
type PrivilegeTransitionError struct {
	Step     int
	Identity string
	Output   string
	Err      error
}

func (e *PrivilegeTransitionError) Error() string {
	return formatStepError(e.Step, fmt.Sprintf("switch to identity %q", e.Identity), e.Output, e.Err)
}

func (e *PrivilegeTransitionError) Unwrap() error        { return e.Err }
func (e *PrivilegeTransitionError) Is(target error) bool { return target == ErrPrivilegeTransition }
func (e *PrivilegeTransitionError) StepIndex() int       { return e.Step }
func (e *PrivilegeTransitionError) Diagnostic() string   { return e.Output }

func formatStepError(step int, what, output string, err error) string {
	var b strings.Builder
	fmt.Fprintf(&b, "step %d: %s failed", step, what)
	if err != nil {
		fmt.Fprintf(&b, ": %v", err)
	}
	if output != "" {
		b.WriteString("\n")
		b.WriteString(output)
	}
	return b.String()
}

// AsStepError extracts the StepError from err's chain.
func AsStepError(err error) (StepError, bool) {
	var se StepError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
