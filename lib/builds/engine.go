package builds

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"

	"github.com/samber/lo"
)

// EngineType identifies a container build engine.
type EngineType string

const (
	EngineTypeDocker EngineType = "docker"
	EngineTypePodman EngineType = "podman"
)

// ParseEngineType accepts "docker", "podman" or "" (docker).
func ParseEngineType(s string) (EngineType, error) {
	switch EngineType(strings.ToLower(strings.TrimSpace(s))) {
	case "", EngineTypeDocker:
		return EngineTypeDocker, nil
	case EngineTypePodman:
		return EngineTypePodman, nil
	default:
		return "", fmt.Errorf("unknown container engine %q", s)
	}
}

// ErrEngineNotAvailable is returned when no container engine can be used.
type ErrEngineNotAvailable struct {
	Engine string
	Reason string
}

func (e *ErrEngineNotAvailable) Error() string {
	return fmt.Sprintf("container engine %s is not available: %s", e.Engine, e.Reason)
}

// EngineError is returned when the engine process exits unsuccessfully.
type EngineError struct {
	Engine   string
	ExitCode int
	Err      error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("%s build failed (exit code %d): %v", e.Engine, e.ExitCode, e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }

// BuildOptions describes one image build.
type BuildOptions struct {
	// ContextDir is the build context; nothing outside it is visible.
	ContextDir string
	// Dockerfile is resolved relative to ContextDir when not absolute.
	Dockerfile string
	// Tag is applied by the engine only when the build succeeds.
	Tag string
	// IIDFile receives the image id on success.
	IIDFile string
	NoCache bool
	Labels  map[string]string
	Stdout  io.Writer
	Stderr  io.Writer
}

// Engine builds images from rendered Dockerfiles.
type Engine interface {
	Name() string
	Available(ctx context.Context) bool
	// Build runs the build and returns the image id.
	Build(ctx context.Context, opts BuildOptions) (string, error)
}

// ExecCommandFunc is the function signature for creating exec.Cmd.
type ExecCommandFunc func(ctx context.Context, name string, arg ...string) *exec.Cmd

// CLIEngine drives the docker or podman command line.
type CLIEngine struct {
	engineType  EngineType
	binaryPath  string
	execCommand ExecCommandFunc
}

// CLIEngineOption configures a CLIEngine.
type CLIEngineOption func(*CLIEngine)

// WithExecCommand sets a custom exec command function for testing.
func WithExecCommand(fn ExecCommandFunc) CLIEngineOption {
	return func(e *CLIEngine) {
		e.execCommand = fn
	}
}

// WithBinaryPath overrides the engine binary found on PATH.
func WithBinaryPath(path string) CLIEngineOption {
	return func(e *CLIEngine) {
		e.binaryPath = path
	}
}

// NewCLIEngine returns an engine for t using the binary found on PATH.
func NewCLIEngine(t EngineType, opts ...CLIEngineOption) *CLIEngine {
	path, _ := exec.LookPath(string(t))
	e := &CLIEngine{
		engineType:  t,
		binaryPath:  path,
		execCommand: exec.CommandContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name returns the engine name.
func (e *CLIEngine) Name() string {
	return string(e.engineType)
}

// Available checks that the binary exists and can reach its daemon.
func (e *CLIEngine) Available(ctx context.Context) bool {
	if e.binaryPath == "" {
		return false
	}
	format := "{{.Server.Version}}"
	if e.engineType == EngineTypePodman {
		format = "{{.Version}}"
	}
	return e.createCommand(ctx, "version", "--format", format).Run() == nil
}

// BuildArgs constructs the arguments of a build invocation.
//
// Generated command: <binary> build [options] <context>
func (e *CLIEngine) BuildArgs(opts BuildOptions) []string {
	args := []string{"build"}
	if e.engineType == EngineTypeDocker {
		args = append(args, "--progress=plain")
	}

	if opts.Dockerfile != "" {
		dockerfile := opts.Dockerfile
		if !filepath.IsAbs(dockerfile) && opts.ContextDir != "" {
			dockerfile = filepath.Join(opts.ContextDir, dockerfile)
		}
		args = append(args, "-f", dockerfile)
	}
	if opts.IIDFile != "" {
		args = append(args, "--iidfile", opts.IIDFile)
	}
	if opts.Tag != "" {
		args = append(args, "-t", opts.Tag)
	}
	if opts.NoCache {
		args = append(args, "--no-cache")
	}

	keys := lo.Keys(opts.Labels)
	slices.Sort(keys)
	for _, k := range keys {
		args = append(args, "--label", fmt.Sprintf("%s=%s", k, opts.Labels[k]))
	}

	return append(args, opts.ContextDir)
}

// Build runs the engine and returns the id written to opts.IIDFile.
func (e *CLIEngine) Build(ctx context.Context, opts BuildOptions) (string, error) {
	if opts.ContextDir == "" {
		return "", errors.New("build context directory is required")
	}

	cmd := e.createCommand(ctx, e.BuildArgs(opts)...)
	cmd.Stdout = opts.Stdout
	cmd.Stderr = opts.Stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return "", &EngineError{Engine: e.Name(), ExitCode: exitCode, Err: err}
	}

	if opts.IIDFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(opts.IIDFile)
	if err != nil {
		return "", fmt.Errorf("read image id: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (e *CLIEngine) createCommand(ctx context.Context, args ...string) *exec.Cmd {
	cmd := e.execCommand(ctx, e.binaryPath, args...)
	if e.engineType == EngineTypeDocker {
		if cmd.Env == nil {
			cmd.Env = os.Environ()
		}
		cmd.Env = append(cmd.Env, "DOCKER_BUILDKIT=1")
	}
	return cmd
}

// NewEngine returns the preferred engine, falling back to the other one
// when the preferred engine is not usable.
func NewEngine(ctx context.Context, preferred EngineType, opts ...CLIEngineOption) (Engine, error) {
	order := []EngineType{EngineTypeDocker, EngineTypePodman}
	if preferred == EngineTypePodman {
		order = []EngineType{EngineTypePodman, EngineTypeDocker}
	}
	for _, t := range order {
		engine := NewCLIEngine(t, opts...)
		if engine.Available(ctx) {
			return engine, nil
		}
	}
	return nil, &ErrEngineNotAvailable{
		Engine: string(order[0]),
		Reason: fmt.Sprintf("%s is not installed or not accessible, and %s fallback is also not available", order[0], order[1]),
	}
}
