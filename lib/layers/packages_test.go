package layers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackageSetValidate(t *testing.T) {
	tests := []struct {
		name    string
		set     PackageSet
		wantBad string
		wantErr error
	}{
		{"apk plain", NewPackageSet(InstallerAPK, "python3", "py3-pip"), "", nil},
		{"apk pinned", NewPackageSet(InstallerAPK, "python3=3.12.3-r1", "curl@edge"), "", nil},
		{"apt pinned", NewPackageSet(InstallerAPT, "python3-pip", "ca-certificates=20230311"), "", nil},
		{"apt arch", NewPackageSet(InstallerAPT, "libc6:amd64"), "", nil},
		{"pip specifiers", NewPackageSet(InstallerPip, "discord.py>=2.3,<3", "requests[socks]==2.32.3"), "", nil},
		{"empty set", NewPackageSet(InstallerPip), "", nil},
		{"apk uppercase", NewPackageSet(InstallerAPK, "Python3"), "Python3", ErrMalformedPackage},
		{"apk option", NewPackageSet(InstallerAPK, "--allow-untrusted"), "--allow-untrusted", ErrMalformedPackage},
		{"pip empty", NewPackageSet(InstallerPip, "flask", ""), "", ErrMalformedPackage},
		{"pip url", NewPackageSet(InstallerPip, "git+https://example.com/x.git"), "git+https://example.com/x.git", ErrMalformedPackage},
		{"apk duplicate with version", NewPackageSet(InstallerAPK, "curl", "curl=8.5.0-r0"), "curl", ErrDuplicatePackage},
		{"pip normalized duplicate", NewPackageSet(InstallerPip, "python-dotenv", "Python_Dotenv"), "python-dotenv", ErrDuplicatePackage},
		{"unknown installer", NewPackageSet("npm", "left-pad"), "", ErrUnsupportedInstaller},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bad, err := tt.set.Validate()
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.wantBad, bad)
		})
	}
}

func TestPackageSetKeys(t *testing.T) {
	pip := NewPackageSet(InstallerPip, "Discord.py==2.3.2", "google_auth_oauthlib", "requests[socks]>=2")
	assert.Equal(t, []string{"discord-py", "google-auth-oauthlib", "requests"}, pip.Keys())

	apk := NewPackageSet(InstallerAPK, "python3=3.12.3-r1", "curl@edge")
	assert.Equal(t, []string{"python3", "curl"}, apk.Keys())
}

func TestPackageSetString(t *testing.T) {
	assert.Equal(t, "apk(python3,py3-pip)", NewPackageSet(InstallerAPK, "python3", "py3-pip").String())
	assert.Equal(t, "pip()", NewPackageSet(InstallerPip).String())
}

func TestNewPackageSetCopies(t *testing.T) {
	names := []string{"a", "b"}
	set := NewPackageSet(InstallerAPK, names...)
	names[0] = "z"
	assert.Equal(t, []string{"a", "b"}, set.Names)
	assert.Equal(t, 2, set.Len())
	assert.False(t, set.IsEmpty())
}

func TestParseInstaller(t *testing.T) {
	tests := map[string]Installer{
		"apk":     InstallerAPK,
		"APT":     InstallerAPT,
		"apt-get": InstallerAPT,
		"pip3":    InstallerPip,
		" pip ":   InstallerPip,
	}
	for in, want := range tests {
		got, err := ParseInstaller(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := ParseInstaller("yum")
	assert.ErrorIs(t, err, ErrUnsupportedInstaller)

	assert.True(t, InstallerAPK.IsOS())
	assert.True(t, InstallerAPT.IsOS())
	assert.False(t, InstallerPip.IsOS())
}
