package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onkernel/layerbuild/lib/builds"
	"github.com/onkernel/layerbuild/lib/images"
)

const testDigest = "sha256:0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

type fakeInspector struct {
	calls int
	err   error
}

func (f *fakeInspector) Inspect(ctx context.Context, ref *images.NormalizedRef) (*images.BaseImageInfo, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &images.BaseImageInfo{
		Name:          ref.String(),
		Digest:        testDigest,
		ConfigUser:    "node",
		OSID:          "alpine",
		Users:         []images.Account{{Name: "root", ID: 0}, {Name: "node", ID: 1000}},
		Groups:        []images.Account{{Name: "root", ID: 0}, {Name: "node", ID: 1000}},
		ExternallyMgd: true,
	}, nil
}

// fakeEngine records the tag of every build and succeeds.
type fakeEngine struct {
	mu    sync.Mutex
	built []string
}

func (f *fakeEngine) Name() string                       { return "fake" }
func (f *fakeEngine) Available(ctx context.Context) bool { return true }

func (f *fakeEngine) Build(ctx context.Context, opts builds.BuildOptions) (string, error) {
	if _, err := os.Stat(filepath.Join(opts.ContextDir, opts.Dockerfile)); err != nil {
		return "", err
	}
	io.WriteString(opts.Stdout, "#1 DONE 0.1s\n")
	f.mu.Lock()
	f.built = append(f.built, opts.Tag)
	f.mu.Unlock()
	return "sha256:built", nil
}

const definitionYAML = `name: workflow
base: workflow-engine:latest
runtimeUser: node
osPackageManager: apk
osPackages: [python3, py3-pip]
runtimePackages: [discord.py]
tag: workflow:latest
variants:
  slim:
    runtimePackages: []
    tag: workflow:slim
  broken:
    runtimeUser: nobody-here
    tag: workflow:broken
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// run executes layerctl with the given fakes and returns stdout.
func run(t *testing.T, opts Options, args ...string) (string, error) {
	t.Helper()
	if opts.Inspector == nil {
		opts.Inspector = &fakeInspector{}
	}
	var stdout, stderr bytes.Buffer
	cmd := NewRootCommand(opts)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append(args, "--log-level", "error"))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func TestPlan(t *testing.T) {
	def := writeFile(t, "def.yaml", definitionYAML)
	out, err := run(t, Options{}, "plan", def, "--variant", "default")
	require.NoError(t, err)

	assert.Contains(t, out, "default: docker.io/library/workflow-engine@"+testDigest)
	assert.Contains(t, out, "1  root")
	assert.Contains(t, out, "2  apk-install(python3,py3-pip)")
	assert.Contains(t, out, "3  pip-install(discord.py, policy-override=true)")
	assert.Contains(t, out, "4  user(node)")
	assert.Contains(t, out, "runs as node")
}

func TestPlanJSON(t *testing.T) {
	def := writeFile(t, "def.yaml", definitionYAML)
	out, err := run(t, Options{}, "plan", def, "--json", "--variant", "default,slim")
	require.NoError(t, err)

	var plans []planned
	require.NoError(t, json.Unmarshal([]byte(out), &plans))
	require.Len(t, plans, 2)
	assert.Equal(t, "default", plans[0].Variant)
	assert.Equal(t, "slim", plans[1].Variant)
	for _, p := range plans {
		assert.Len(t, p.Steps, 4)
		assert.Equal(t, "node", p.FinalUser)
	}
}

func TestPlanOffline(t *testing.T) {
	def := writeFile(t, "def.yaml", definitionYAML)
	inspector := &fakeInspector{err: images.ErrNotFound}
	out, err := run(t, Options{Inspector: inspector}, "plan", def, "--offline", "--variant", "default")
	require.NoError(t, err)
	assert.Zero(t, inspector.calls)
	assert.Contains(t, out, "default: docker.io/library/workflow-engine:latest")

	_, err = run(t, Options{Inspector: inspector}, "plan", def, "--variant", "default")
	require.Error(t, err)
	assert.ErrorIs(t, err, images.ErrNotFound)
}

func TestPlanUnknownVariant(t *testing.T) {
	def := writeFile(t, "def.yaml", definitionYAML)
	_, err := run(t, Options{}, "plan", def, "--variant", "nope")
	require.Error(t, err)
}

func TestRender(t *testing.T) {
	def := writeFile(t, "def.yaml", definitionYAML)
	out, err := run(t, Options{}, "render", def, "--variant", "default")
	require.NoError(t, err)
	assert.NotContains(t, out, "# variant:")
	assert.Contains(t, out, "FROM docker.io/library/workflow-engine@"+testDigest)
	assert.Contains(t, out, "USER root")
	assert.True(t, strings.Index(out, "USER root") < strings.Index(out, "USER node"))

	out, err = run(t, Options{}, "render", def, "--variant", "default,slim")
	require.NoError(t, err)
	assert.Contains(t, out, "# variant: default")
	assert.Contains(t, out, "# variant: slim")
}

func TestLint(t *testing.T) {
	clean := writeFile(t, "clean/Dockerfile", "FROM alpine\nUSER root\nRUN apk add python3\nUSER app\n")
	dirty := writeFile(t, "dirty/Dockerfile", "FROM alpine\nRUN apk add curl\n")

	out, err := run(t, Options{}, "lint", clean)
	require.NoError(t, err)
	assert.Empty(t, out)

	out, err = run(t, Options{}, "lint", clean, dirty)
	require.ErrorIs(t, err, errLintFailed)
	assert.Contains(t, out, dirty+":")
	assert.Contains(t, out, "LB001 error")
	assert.NotContains(t, out, clean+":")
}

func TestImport(t *testing.T) {
	full := writeFile(t, "full/Dockerfile", "FROM node:20\nUSER root\nRUN apk add python3 py3-pip\nRUN pip install --break-system-packages flask\nUSER node\n")
	slim := writeFile(t, "slim/Dockerfile", "FROM node:20\nUSER root\nRUN apk add python3\nUSER node\n")

	out, err := run(t, Options{}, "import", "--name", "legacy", "full="+full, "slim="+slim)
	require.NoError(t, err)
	assert.Contains(t, out, "name: legacy")
	assert.Contains(t, out, "node:20")
	assert.Contains(t, out, "runtimeUser: node")
	assert.Contains(t, out, "slim:")

	_, err = run(t, Options{}, "import", "a="+full, "a="+slim)
	assert.ErrorContains(t, err, "given twice")
}

func TestCutVariant(t *testing.T) {
	v, p, ok := cutVariant("slim=./a/Dockerfile")
	assert.True(t, ok)
	assert.Equal(t, "slim", v)
	assert.Equal(t, "./a/Dockerfile", p)

	_, _, ok = cutVariant("./a=b/Dockerfile")
	assert.False(t, ok)
	_, _, ok = cutVariant("=x")
	assert.False(t, ok)
}

func TestScan(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bot.py"), []byte("import os\nimport discord\nimport requests\n"), 0o644))

	out, err := run(t, Options{}, "scan", dir)
	require.NoError(t, err)
	assert.Equal(t, "discord.py\nrequests\n", out)
}

func TestInspect(t *testing.T) {
	out, err := run(t, Options{}, "inspect", "alpine")
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, testDigest, got["digest"])
	assert.Equal(t, "apk", got["package_manager"])
}

func TestBuild(t *testing.T) {
	def := writeFile(t, "def.yaml", definitionYAML)
	engine := &fakeEngine{}
	out, err := run(t, Options{Engine: engine}, "build", def, "--data-dir", t.TempDir(), "--variant", "default,slim")
	require.NoError(t, err)

	assert.Contains(t, out, "default: ready workflow:latest (sha256:built)")
	assert.Contains(t, out, "slim: ready workflow:slim (sha256:built)")
	assert.ElementsMatch(t, []string{"workflow:latest", "workflow:slim"}, engine.built)
}

func TestBuildReportsFailingStep(t *testing.T) {
	def := writeFile(t, "def.yaml", definitionYAML)
	engine := &fakeEngine{}

	// broken names a user the base image lacks; it fails before the engine
	// runs and does not stop its siblings.
	out, err := run(t, Options{Engine: engine}, "build", def, "--data-dir", t.TempDir())
	require.Error(t, err)
	assert.EqualError(t, err, "1 of 3 builds failed")
	assert.Contains(t, out, "default: ready")
	assert.Contains(t, out, "slim: ready")
	assert.Contains(t, out, "broken: failed at step 4 [privilege_transition]")
	assert.ElementsMatch(t, []string{"workflow:latest", "workflow:slim"}, engine.built)
}
