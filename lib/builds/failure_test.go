package builds

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onkernel/layerbuild/lib/builds/templates"
	"github.com/onkernel/layerbuild/lib/images"
	"github.com/onkernel/layerbuild/lib/layers"
)

const testDigest = "sha256:0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

func workflowPlan(t *testing.T) (*layers.Plan, *templates.Rendered) {
	t.Helper()
	ref, err := images.ParseNormalizedRef("workflow-engine:latest")
	require.NoError(t, err)
	plan, err := layers.Build(
		layers.BaseImage{Ref: ref, Digest: testDigest, User: "node"},
		layers.NewPackageSet(layers.InstallerAPK, "python3", "py3-pip"),
		layers.NewPackageSet(layers.InstallerPip, "discord.py"),
		layers.Identity{User: "node"},
	)
	require.NoError(t, err)
	rendered, err := templates.Render(plan)
	require.NoError(t, err)
	return plan, rendered
}

func lines(s ...string) string {
	return strings.Join(s, "\n") + "\n"
}

var errExit = errors.New("exit status 1")

func TestAttributeBuildkitRuntimeInstall(t *testing.T) {
	plan, rendered := workflowPlan(t)
	output := lines(
		`#0 building with "default" instance using docker driver`,
		``,
		`#1 [internal] load build definition from Dockerfile`,
		`#1 transferring dockerfile: 398B done`,
		`#1 DONE 0.0s`,
		``,
		`#2 [internal] load metadata for docker.io/library/workflow-engine@`+testDigest,
		`#2 DONE 0.4s`,
		``,
		`#3 [1/3] FROM docker.io/library/workflow-engine@`+testDigest,
		`#3 CACHED`,
		``,
		`#4 [2/3] RUN apk update && apk add --no-cache python3 py3-pip`,
		`#4 CACHED`,
		``,
		`#5 [3/3] RUN pip install --no-cache-dir --break-system-packages discord.py`,
		`#5 0.512 ERROR: Could not find a version that satisfies the requirement discord.py (from versions: none)`,
		`#5 0.513 ERROR: No matching distribution found for discord.py`,
		`#5 ERROR: process "/bin/sh -c pip install --no-cache-dir --break-system-packages discord.py" did not complete successfully: exit code: 1`,
		`------`,
		` > [3/3] RUN pip install --no-cache-dir --break-system-packages discord.py:`,
		`0.512 ERROR: Could not find a version that satisfies the requirement discord.py (from versions: none)`,
		`------`,
		`ERROR: failed to solve: process "/bin/sh -c pip install" did not complete successfully: exit code: 1`,
	)

	err := Attribute(plan, rendered, output, errExit)

	var pkgErr *layers.PackageInstallError
	require.ErrorAs(t, err, &pkgErr)
	assert.Equal(t, 3, pkgErr.Step)
	assert.Equal(t, layers.InstallerPip, pkgErr.Installer)
	assert.Equal(t, []string{"discord.py"}, pkgErr.Packages)
	assert.Equal(t, "ERROR: Could not find a version that satisfies the requirement discord.py (from versions: none)\n"+
		"ERROR: No matching distribution found for discord.py", pkgErr.Output)
	assert.ErrorIs(t, err, layers.ErrPackageInstall)
	assert.ErrorIs(t, err, errExit)
}

func TestAttributeBuildkitVertexIndexFallback(t *testing.T) {
	plan, rendered := workflowPlan(t)
	output := lines(
		`#4 [stage-0 2/3] RUN apk update && apk add --no-cache python3 py...`,
		`#4 0.201 fetch https://dl-cdn.alpinelinux.org/alpine/v3.20/main/x86_64/APKINDEX.tar.gz`,
		`#4 1.034 ERROR: unable to select packages:`,
		`#4 ERROR: process "/bin/sh -c apk update" did not complete successfully: exit code: 1`,
	)

	err := Attribute(plan, rendered, output, errExit)

	var pkgErr *layers.PackageInstallError
	require.ErrorAs(t, err, &pkgErr)
	assert.Equal(t, 2, pkgErr.Step)
	assert.Equal(t, layers.InstallerAPK, pkgErr.Installer)
	assert.Equal(t, "fetch https://dl-cdn.alpinelinux.org/alpine/v3.20/main/x86_64/APKINDEX.tar.gz\nERROR: unable to select packages:", pkgErr.Output)
}

func TestAttributeBuildkitBaseImage(t *testing.T) {
	plan, rendered := workflowPlan(t)
	output := lines(
		`#2 [internal] load metadata for docker.io/library/workflow-engine@`+testDigest,
		`#2 ERROR: docker.io/library/workflow-engine@`+testDigest+`: not found`,
	)

	err := Attribute(plan, rendered, output, errExit)

	var baseErr *layers.BaseImageResolutionError
	require.ErrorAs(t, err, &baseErr)
	assert.Equal(t, "docker.io/library/workflow-engine@"+testDigest, baseErr.Ref)
	assert.Equal(t, "docker.io/library/workflow-engine@"+testDigest+": not found", baseErr.Output)
	assert.Equal(t, 0, baseErr.StepIndex())
}

func TestAttributeMissingUser(t *testing.T) {
	plan, rendered := workflowPlan(t)
	output := lines(
		`#6 [3/3] RUN pip install --no-cache-dir --break-system-packages discord.py`,
		`#6 ERROR: unable to find user node: no matching entries in passwd file`,
	)

	err := Attribute(plan, rendered, output, errExit)

	var privErr *layers.PrivilegeTransitionError
	require.ErrorAs(t, err, &privErr)
	assert.Equal(t, 4, privErr.Step)
	assert.Equal(t, "node", privErr.Identity)
	assert.Equal(t, "#6 ERROR: unable to find user node: no matching entries in passwd file", privErr.Output)
}

func TestAttributeBuildah(t *testing.T) {
	plan, rendered := workflowPlan(t)
	output := lines(
		`STEP 1/6: FROM docker.io/library/workflow-engine@`+testDigest,
		`STEP 2/6: LABEL org.opencontainers.image.base.name="docker.io/library/workflow-engine:latest"`,
		`--> Using cache 1c2f0a`,
		`STEP 3/6: USER root`,
		`STEP 4/6: RUN apk update && apk add --no-cache python3 py3-pip`,
		`fetch https://dl-cdn.alpinelinux.org/alpine/v3.20/main/x86_64/APKINDEX.tar.gz`,
		`ERROR: unable to select packages:`,
		`  py3-pip (no such package):`,
		`Error: building at STEP "RUN apk update && apk add --no-cache python3 py3-pip": while running runtime: exit status 1`,
	)

	err := Attribute(plan, rendered, output, errExit)

	var pkgErr *layers.PackageInstallError
	require.ErrorAs(t, err, &pkgErr)
	assert.Equal(t, 2, pkgErr.Step)
	assert.Equal(t, "fetch https://dl-cdn.alpinelinux.org/alpine/v3.20/main/x86_64/APKINDEX.tar.gz\n"+
		"ERROR: unable to select packages:\n"+
		"  py3-pip (no such package):", pkgErr.Output)
}

func TestAttributeBuildahBasePull(t *testing.T) {
	plan, rendered := workflowPlan(t)
	output := lines(
		`STEP 1/6: FROM docker.io/library/workflow-engine@`+testDigest,
		`Trying to pull docker.io/library/workflow-engine@`+testDigest+`...`,
		`Error: creating build container: reading manifest: manifest unknown`,
	)

	err := Attribute(plan, rendered, output, errExit)

	var baseErr *layers.BaseImageResolutionError
	require.ErrorAs(t, err, &baseErr)
	assert.Contains(t, baseErr.Output, "manifest unknown")
}

func TestAttributeUnattributed(t *testing.T) {
	plan, rendered := workflowPlan(t)

	err := Attribute(plan, rendered, "ERROR: failed to solve: failed to read dockerfile\n", errExit)

	assert.ErrorIs(t, err, ErrUnattributed)
	assert.ErrorIs(t, err, errExit)
	_, ok := layers.AsStepError(err)
	assert.False(t, ok)
}

func TestStepWriter(t *testing.T) {
	var seen []string
	w := newStepWriter(func(name string) { seen = append(seen, name) })

	_, err := w.Write([]byte("#1 [internal] load build definition from Dockerfile\n#4 [2/3] RUN apk upd"))
	require.NoError(t, err)
	_, err = w.Write([]byte("ate\n#4 0.1 fetch\nSTEP 3/6: USER root\n"))
	require.NoError(t, err)

	assert.Equal(t, []string{"[2/3] RUN apk update", "[3/6] USER root"}, seen)
}
