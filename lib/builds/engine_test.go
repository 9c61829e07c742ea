package builds

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockCommand records invocations and runs TestHelperProcess in place of
// the engine binary.
type mockCommand struct {
	invocations [][]string
	exitCode    int
	stdout      string
	stderr      string
	iid         string
}

func (m *mockCommand) commandFunc() ExecCommandFunc {
	return func(_ context.Context, name string, args ...string) *exec.Cmd {
		m.invocations = append(m.invocations, append([]string{name}, args...))

		cs := append([]string{"-test.run=TestHelperProcess", "--", name}, args...)
		cmd := exec.Command(os.Args[0], cs...)
		cmd.Env = []string{
			"GO_WANT_HELPER_PROCESS=1",
			"GO_HELPER_EXIT_CODE=" + strconv.Itoa(m.exitCode),
			"GO_HELPER_STDOUT=" + m.stdout,
			"GO_HELPER_STDERR=" + m.stderr,
			"GO_HELPER_IID=" + m.iid,
		}
		return cmd
	}
}

// TestHelperProcess is not a real test. It stands in for docker/podman.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}

	args := os.Args
	for i, a := range args {
		if a == "--" {
			args = args[i+1:]
			break
		}
	}
	for i, a := range args {
		if a == "--iidfile" && i+1 < len(args) && os.Getenv("GO_HELPER_IID") != "" {
			_ = os.WriteFile(args[i+1], []byte(os.Getenv("GO_HELPER_IID")+"\n"), 0644)
		}
	}

	fmt.Fprint(os.Stdout, os.Getenv("GO_HELPER_STDOUT"))
	fmt.Fprint(os.Stderr, os.Getenv("GO_HELPER_STDERR"))
	code, _ := strconv.Atoi(os.Getenv("GO_HELPER_EXIT_CODE"))
	os.Exit(code)
}

func TestBuildArgs(t *testing.T) {
	opts := BuildOptions{
		ContextDir: "/data/builds/abc/context",
		Dockerfile: "Dockerfile",
		Tag:        "registry.example.com/workflow-engine:python",
		IIDFile:    "/data/builds/abc/iid",
		NoCache:    true,
		Labels:     map[string]string{"b": "2", "a": "1"},
	}

	docker := NewCLIEngine(EngineTypeDocker, WithBinaryPath("/usr/bin/docker"))
	assert.Equal(t, []string{
		"build", "--progress=plain",
		"-f", "/data/builds/abc/context/Dockerfile",
		"--iidfile", "/data/builds/abc/iid",
		"-t", "registry.example.com/workflow-engine:python",
		"--no-cache",
		"--label", "a=1", "--label", "b=2",
		"/data/builds/abc/context",
	}, docker.BuildArgs(opts))

	podman := NewCLIEngine(EngineTypePodman, WithBinaryPath("/usr/bin/podman"))
	args := podman.BuildArgs(opts)
	assert.Equal(t, "build", args[0])
	assert.NotContains(t, args, "--progress=plain")
	assert.Equal(t, "/data/builds/abc/context", args[len(args)-1])
}

func TestCLIEngineBuild(t *testing.T) {
	dir := t.TempDir()
	mock := &mockCommand{stdout: "#1 [1/3] FROM docker.io/library/alpine\n", iid: "sha256:feedface"}
	engine := NewCLIEngine(EngineTypeDocker, WithBinaryPath("docker"), WithExecCommand(mock.commandFunc()))

	var out bytes.Buffer
	id, err := engine.Build(context.Background(), BuildOptions{
		ContextDir: dir,
		Dockerfile: "Dockerfile",
		IIDFile:    filepath.Join(dir, "iid"),
		Stdout:     &out,
		Stderr:     &out,
	})
	require.NoError(t, err)
	assert.Equal(t, "sha256:feedface", id)
	assert.Equal(t, "#1 [1/3] FROM docker.io/library/alpine\n", out.String())
	require.Len(t, mock.invocations, 1)
	assert.Equal(t, "docker", mock.invocations[0][0])
}

func TestCLIEngineBuildFailure(t *testing.T) {
	dir := t.TempDir()
	mock := &mockCommand{exitCode: 1, stderr: "ERROR: failed to solve\n"}
	engine := NewCLIEngine(EngineTypePodman, WithBinaryPath("podman"), WithExecCommand(mock.commandFunc()))

	var out bytes.Buffer
	_, err := engine.Build(context.Background(), BuildOptions{ContextDir: dir, Stdout: &out, Stderr: &out})

	var engineErr *EngineError
	require.ErrorAs(t, err, &engineErr)
	assert.Equal(t, "podman", engineErr.Engine)
	assert.Equal(t, 1, engineErr.ExitCode)
	assert.Equal(t, "ERROR: failed to solve\n", out.String())
}

func TestCLIEngineRequiresContext(t *testing.T) {
	engine := NewCLIEngine(EngineTypeDocker, WithBinaryPath("docker"))
	_, err := engine.Build(context.Background(), BuildOptions{})
	assert.Error(t, err)
}

func TestDockerEnablesBuildKit(t *testing.T) {
	mock := &mockCommand{}
	engine := NewCLIEngine(EngineTypeDocker, WithBinaryPath("docker"), WithExecCommand(mock.commandFunc()))

	cmd := engine.createCommand(context.Background(), "version")
	assert.Contains(t, cmd.Env, "DOCKER_BUILDKIT=1")
	assert.Contains(t, cmd.Env, "GO_WANT_HELPER_PROCESS=1")
}

func TestNewEngineFallback(t *testing.T) {
	mock := &mockCommand{}
	engine, err := NewEngine(context.Background(), EngineTypePodman, WithBinaryPath("engine"), WithExecCommand(mock.commandFunc()))
	require.NoError(t, err)
	assert.Equal(t, "podman", engine.Name())

	failing := &mockCommand{exitCode: 1}
	_, err = NewEngine(context.Background(), EngineTypeDocker, WithBinaryPath("engine"), WithExecCommand(failing.commandFunc()))
	var notAvailable *ErrEngineNotAvailable
	require.ErrorAs(t, err, &notAvailable)
	assert.Equal(t, "docker", notAvailable.Engine)
	assert.Len(t, failing.invocations, 2)
}

func TestParseEngineType(t *testing.T) {
	for in, want := range map[string]EngineType{"": EngineTypeDocker, "Docker": EngineTypeDocker, "podman": EngineTypePodman} {
		got, err := ParseEngineType(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseEngineType("nerdctl")
	assert.Error(t, err)
}
