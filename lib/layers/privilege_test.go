package layers

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIdentity(t *testing.T) {
	tests := []struct {
		in      string
		want    Identity
		wantErr bool
	}{
		{in: "node", want: Identity{User: "node"}},
		{in: "node:node", want: Identity{User: "node", Group: "node"}},
		{in: "1000:1000", want: Identity{User: "1000", Group: "1000"}},
		{in: " app ", want: Identity{User: "app"}},
		{in: "", wantErr: true},
		{in: "Node", wantErr: true},
		{in: "node:", wantErr: true},
		{in: "node; id", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseIdentity(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIdentityIsAdministrative(t *testing.T) {
	assert.True(t, Identity{User: "root"}.IsAdministrative())
	assert.True(t, Identity{User: "0"}.IsAdministrative())
	assert.True(t, Identity{User: "000", Group: "1000"}.IsAdministrative())
	assert.False(t, Identity{User: "node", Group: "root"}.IsAdministrative())
	assert.False(t, Identity{User: "1000"}.IsAdministrative())
	assert.False(t, Identity{}.IsAdministrative())
}

func TestPrivilegeContext(t *testing.T) {
	assert.True(t, Root().IsRoot())
	assert.Equal(t, "root", Root().String())

	node := AsUser(Identity{User: "node", Group: "staff"})
	assert.False(t, node.IsRoot())
	assert.Equal(t, "node:staff", node.String())

	assert.True(t, AsUser(Identity{User: "0"}).IsRoot())
}

func TestStepErrorFormatting(t *testing.T) {
	err := &PackageInstallError{
		Step:      3,
		Installer: InstallerPip,
		Packages:  []string{"discord.py"},
		Output:    "ERROR: No matching distribution found for discord.py",
		Err:       errors.New("exit status 1"),
	}

	assert.Equal(t,
		"step 3: pip install of discord.py failed: exit status 1\nERROR: No matching distribution found for discord.py",
		err.Error())
	assert.ErrorIs(t, err, ErrPackageInstall)
	assert.NotErrorIs(t, err, ErrPrivilegeTransition)

	wrapped := errors.Join(errors.New("build failed"), err)
	se, ok := AsStepError(wrapped)
	require.True(t, ok)
	assert.Equal(t, 3, se.StepIndex())
	assert.Equal(t, err.Output, se.Diagnostic())

	_, ok = AsStepError(errors.New("plain"))
	assert.False(t, ok)
}

func TestPrivilegeTransitionError(t *testing.T) {
	err := &PrivilegeTransitionError{Step: 4, Identity: "node", Output: "unable to find user node: no matching entries in passwd file"}
	assert.ErrorIs(t, err, ErrPrivilegeTransition)
	assert.Contains(t, err.Error(), `step 4: switch to identity "node" failed`)

	base := &BaseImageResolutionError{Ref: "docker.io/library/nope:latest", Err: errors.New("not found")}
	assert.ErrorIs(t, base, ErrBaseImageResolution)
	assert.Equal(t, 0, base.StepIndex())
}
