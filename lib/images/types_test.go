package images

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const testPasswd = `root:x:0:0:root:/root:/bin/sh
# comment
daemon:x:2:2:daemon:/sbin:/sbin/nologin
node:x:1000:1000:Linux User,,,:/home/node:/bin/sh
broken-line
bad:x:notanumber:0::/:/bin/false
`

func TestParseAccounts(t *testing.T) {
	accounts := parseAccounts([]byte(testPasswd))
	assert.Equal(t, []Account{
		{Name: "root", ID: 0},
		{Name: "daemon", ID: 2},
		{Name: "node", ID: 1000},
	}, accounts)
}

func TestParseOSRelease(t *testing.T) {
	id, like := parseOSRelease([]byte(`NAME="Ubuntu"
ID=ubuntu
ID_LIKE="debian"
VERSION_ID="24.04"
`))
	assert.Equal(t, "ubuntu", id)
	assert.Equal(t, []string{"debian"}, like)

	id, like = parseOSRelease([]byte("ID=alpine\nVERSION_ID=3.20.3\n"))
	assert.Equal(t, "alpine", id)
	assert.Empty(t, like)
}

func TestBaseImageInfoPackageManager(t *testing.T) {
	tests := []struct {
		id   string
		like []string
		want PackageManager
	}{
		{"alpine", nil, PackageManagerAPK},
		{"wolfi", nil, PackageManagerAPK},
		{"debian", nil, PackageManagerAPT},
		{"linuxmint", []string{"ubuntu", "debian"}, PackageManagerAPT},
		{"fedora", nil, PackageManagerUnknown},
		{"", nil, PackageManagerUnknown},
	}
	for _, tt := range tests {
		info := &BaseImageInfo{OSID: tt.id, OSIDLike: tt.like}
		assert.Equal(t, tt.want, info.PackageManager(), tt.id)
	}
}

func TestBaseImageInfoAccounts(t *testing.T) {
	info := &BaseImageInfo{
		Users:  parseAccounts([]byte(testPasswd)),
		Groups: parseAccounts([]byte("root:x:0:\nnode:x:1000:\n")),
	}

	assert.True(t, info.HasUser("node"))
	assert.True(t, info.HasUser("1000"))
	assert.False(t, info.HasUser("app"))
	assert.False(t, info.HasUser("1001"))
	assert.True(t, info.HasGroup("node"))
	assert.False(t, info.HasGroup("staff"))
}

func TestParseEnv(t *testing.T) {
	env := parseEnv([]string{"PATH=/usr/local/bin:/usr/bin", "EMPTY=", "NOVALUE", "A=b=c"})
	assert.Equal(t, map[string]string{
		"PATH":  "/usr/local/bin:/usr/bin",
		"EMPTY": "",
		"A":     "b=c",
	}, env)
}
