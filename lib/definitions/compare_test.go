package definitions

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompareVariants(t *testing.T) {
	def, err := Parse([]byte(workflowYAML))
	require.NoError(t, err)

	c, err := def.CompareVariants(DefaultVariant, "full")
	require.NoError(t, err)

	assert.False(t, c.BaseDiffers)
	assert.False(t, c.UserDiffers)
	assert.False(t, c.OSPackages.Diverges())
	assert.Equal(t, []string{"python3", "py3-pip"}, c.OSPackages.Shared)
	assert.Equal(t, []string{"discord-py"}, c.RuntimePackages.Shared)
	assert.Empty(t, c.RuntimePackages.OnlyA)
	assert.Equal(t, []string{"flask", "google-api-python-client"}, c.RuntimePackages.OnlyB)
	assert.False(t, c.Identical())

	same, err := def.CompareVariants("full", "full")
	require.NoError(t, err)
	assert.True(t, same.Identical())

	_, err = def.CompareVariants("full", "nope")
	assert.ErrorIs(t, err, ErrUnknownVariant)
}

func TestCompareNormalizesNames(t *testing.T) {
	a := Recipe{Variant: "a", RuntimePackages: []string{"Discord.py==2.3.2", "python_dotenv"}}
	b := Recipe{Variant: "b", RuntimePackages: []string{"discord-py", "python-dotenv>=1"}}
	assert.True(t, Compare(a, b).Identical())
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestFromDockerfiles(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"discord": writeFile(t, dir, "Dockerfile.discord", `FROM n8nio/n8n:latest
USER root
RUN apk add --no-cache python3 py3-pip
RUN pip3 install --break-system-packages discord.py
USER node
`),
		"google": writeFile(t, dir, "Dockerfile.google", `FROM n8nio/n8n:latest
USER root
RUN apk add --no-cache python3 py3-pip
RUN pip3 install --break-system-packages discord.py google-api-python-client google-auth-oauthlib
COPY scripts /opt/scripts
USER node
`),
	}

	imp, err := FromDockerfiles("workflow-python", files)
	require.NoError(t, err)
	def := imp.Definition

	assert.Equal(t, "n8nio/n8n:latest", def.Base)
	assert.Equal(t, "node", def.RuntimeUser)
	assert.Equal(t, ManagerAPK, def.OSPackageManager)
	assert.Equal(t, []string{"python3", "py3-pip"}, def.OSPackages)
	assert.Equal(t, []string{"discord.py"}, def.RuntimePackages)

	require.Len(t, def.Variants, 2)
	assert.Equal(t, Variant{}, def.Variants["discord"])
	assert.Equal(t, []string{"discord.py", "google-api-python-client", "google-auth-oauthlib"}, def.Variants["google"].RuntimePackages)
	assert.Nil(t, def.Variants["google"].OSPackages)

	assert.Equal(t, []string{"COPY scripts /opt/scripts"}, imp.Skipped["google"])
	require.NoError(t, def.Validate())

	c, err := def.CompareVariants("discord", "google")
	require.NoError(t, err)
	assert.Equal(t, []string{"google-api-python-client", "google-auth-oauthlib"}, c.RuntimePackages.OnlyB)
}

func TestFromDockerfilesSingle(t *testing.T) {
	dir := t.TempDir()
	imp, err := FromDockerfiles("one", map[string]string{
		"main": writeFile(t, dir, "Dockerfile", "FROM alpine\nRUN apk add curl\nUSER app\n"),
	})
	require.NoError(t, err)
	assert.Empty(t, imp.Definition.Variants)
	assert.Equal(t, []string{"curl"}, imp.Definition.OSPackages)
}

func TestFromDockerfilesErrors(t *testing.T) {
	_, err := FromDockerfiles("x", nil)
	assert.ErrorIs(t, err, ErrInvalidDefinition)

	_, err = FromDockerfiles("x", map[string]string{"a": filepath.Join(t.TempDir(), "missing")})
	assert.ErrorIs(t, err, os.ErrNotExist)
}
