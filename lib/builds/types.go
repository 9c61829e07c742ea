package builds

import (
	"time"

	"github.com/onkernel/layerbuild/lib/definitions"
	"github.com/onkernel/layerbuild/lib/layers"
)

// Build status constants
const (
	StatusQueued    = "queued"
	StatusResolving = "resolving"
	StatusBuilding  = "building"
	StatusReady     = "ready"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Error codes reported on failed builds
const (
	CodeBaseImageResolution = "base_image_resolution"
	CodePackageInstall      = "package_install"
	CodePrivilegeTransition = "privilege_transition"
	CodeTimeout             = "timeout"
	CodeCancelled           = "cancelled"
	CodeEngine              = "engine_failure"
	CodeInternal            = "internal"
)

// CreateBuildRequest is a recipe plus build options.
type CreateBuildRequest struct {
	Name             string   `json:"name,omitempty"`
	Base             string   `json:"base"`
	RuntimeUser      string   `json:"runtime_user"`
	OSPackageManager string   `json:"os_package_manager,omitempty"`
	OSPackages       []string `json:"os_packages,omitempty"`
	RuntimePackages  []string `json:"runtime_packages,omitempty"`
	Tag              string   `json:"tag,omitempty"`
	NoCache          bool     `json:"no_cache,omitempty"`
	// TimeoutSeconds overrides the manager default when positive.
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`
}

// Recipe converts the request into a definitions.Recipe.
func (r CreateBuildRequest) Recipe() definitions.Recipe {
	name := r.Name
	if name == "" {
		name = "adhoc"
	}
	manager := r.OSPackageManager
	if manager == "" {
		manager = definitions.ManagerAuto
	}
	return definitions.Recipe{
		Name:             name,
		Variant:          definitions.DefaultVariant,
		Base:             r.Base,
		RuntimeUser:      r.RuntimeUser,
		OSPackageManager: manager,
		OSPackages:       append([]string{}, r.OSPackages...),
		RuntimePackages:  append([]string{}, r.RuntimePackages...),
		Tag:              r.Tag,
	}
}

// RequestFromRecipe builds a request for a resolved definition variant.
func RequestFromRecipe(r definitions.Recipe) CreateBuildRequest {
	name := r.Name
	if r.Variant != "" && r.Variant != definitions.DefaultVariant {
		name += "-" + r.Variant
	}
	return CreateBuildRequest{
		Name:             name,
		Base:             r.Base,
		RuntimeUser:      r.RuntimeUser,
		OSPackageManager: r.OSPackageManager,
		OSPackages:       r.OSPackages,
		RuntimePackages:  r.RuntimePackages,
		Tag:              r.Tag,
	}
}

// BuildError is the recorded cause of a failed build.
type BuildError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// Step is the failing plan step (0 for the base image), when known.
	Step *int `json:"step,omitempty"`
	// Output is the failing tool's diagnostic text, unchanged.
	Output string `json:"output,omitempty"`
}

// Build is the externally visible state of a build.
type Build struct {
	ID            string             `json:"id"`
	Name          string             `json:"name"`
	Status        string             `json:"status"`
	Request       CreateBuildRequest `json:"request"`
	QueuePosition *int               `json:"queue_position,omitempty"`
	BaseDigest    string             `json:"base_digest,omitempty"`
	Steps         []layers.Step      `json:"steps,omitempty"`
	ImageID       string             `json:"image_id,omitempty"`
	Tag           string             `json:"tag,omitempty"`
	Error         *BuildError        `json:"error,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	StartedAt     *time.Time         `json:"started_at,omitempty"`
	CompletedAt   *time.Time         `json:"completed_at,omitempty"`
	DurationMS    *int64             `json:"duration_ms,omitempty"`
}

// IsTerminal reports whether the build has finished.
func (b *Build) IsTerminal() bool {
	return isTerminalStatus(b.Status)
}

// isTerminalStatus returns true if the status represents a completed build
func isTerminalStatus(status string) bool {
	switch status {
	case StatusReady, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}
