package dockerfile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onkernel/layerbuild/lib/layers"
)

const legacyRecipe = `FROM n8nio/n8n:latest
USER root
RUN apk add --update python3 py3-pip
RUN pip3 install --break-system-packages \
      discord.py \
      flask
COPY scripts/ /opt/scripts/
USER node
`

func TestParse(t *testing.T) {
	instructions, err := ParseString(`ARG BASE=alpine
FROM golang:1.25 AS build
RUN go build ./...
FROM ${BASE}
RUN ["pip", "install", "flask"]
USER node
`)
	require.NoError(t, err)
	require.Len(t, instructions, 6)

	assert.Equal(t, "ARG", instructions[0].Command)
	assert.Equal(t, -1, instructions[0].Stage)

	assert.Equal(t, "FROM", instructions[1].Command)
	assert.Equal(t, "golang:1.25", instructions[1].BaseImage())
	assert.Equal(t, 0, instructions[1].Stage)

	assert.Equal(t, "go build ./...", instructions[2].RunCommand())
	assert.Equal(t, 3, instructions[2].StartLine)

	assert.True(t, instructions[4].JSON)
	assert.Equal(t, "pip install flask", instructions[4].RunCommand())
	assert.Equal(t, 1, instructions[4].Stage)

	final := FinalStage(instructions)
	require.Len(t, final, 3)
	assert.Equal(t, "USER", final[2].Command)
	assert.Equal(t, "node", final[2].Arg(0))
	assert.Equal(t, "", final[2].Arg(5))
}

func TestParseWithoutFrom(t *testing.T) {
	_, err := ParseString("RUN echo hi\n")
	assert.ErrorIs(t, err, ErrNoFrom)
}

func TestAnalyzeRun(t *testing.T) {
	tests := []struct {
		name string
		cmd  string
		want []Invocation
	}{
		{
			name: "apk update and add",
			cmd:  "apk update && apk add --no-cache python3 py3-pip",
			want: []Invocation{
				{Installer: layers.InstallerAPK, Subcommand: "update", Offset: 1},
				{Installer: layers.InstallerAPK, Subcommand: "add", Packages: []string{"python3", "py3-pip"}, Offset: 1},
			},
		},
		{
			name: "apk flag values are not packages",
			cmd:  "apk add --virtual .build-deps -X https://dl-cdn.alpinelinux.org/alpine/edge/testing gcc",
			want: []Invocation{
				{Installer: layers.InstallerAPK, Subcommand: "add", Packages: []string{"gcc"}, Offset: 1},
			},
		},
		{
			name: "apt-get with options",
			cmd:  "apt-get update && apt-get install -y --no-install-recommends python3-pip && rm -rf /var/lib/apt/lists/*",
			want: []Invocation{
				{Installer: layers.InstallerAPT, Subcommand: "update", Offset: 1},
				{Installer: layers.InstallerAPT, Subcommand: "install", Packages: []string{"python3-pip"}, Offset: 1},
			},
		},
		{
			name: "pip with override and quoted specifier",
			cmd:  `pip3 install --no-cache-dir --break-system-packages discord.py "requests>=2.31"`,
			want: []Invocation{
				{Installer: layers.InstallerPip, Subcommand: "install", Packages: []string{"discord.py", "requests>=2.31"}, PolicyOverride: true, Offset: 1},
			},
		},
		{
			name: "python -m pip with requirements",
			cmd:  "python3 -m pip install -r requirements.txt flask",
			want: []Invocation{
				{Installer: layers.InstallerPip, Subcommand: "install", Packages: []string{"flask"}, Requirements: []string{"requirements.txt"}, Offset: 1},
			},
		},
		{
			name: "override from environment",
			cmd:  "PIP_BREAK_SYSTEM_PACKAGES=1 pip install flask",
			want: []Invocation{
				{Installer: layers.InstallerPip, Subcommand: "install", Packages: []string{"flask"}, PolicyOverride: true, Offset: 1},
			},
		},
		{
			name: "multi-line",
			cmd:  "set -e\nsudo apk add curl",
			want: []Invocation{
				{Installer: layers.InstallerAPK, Subcommand: "add", Packages: []string{"curl"}, Offset: 2},
			},
		},
		{
			name: "unrelated commands",
			cmd:  "mkdir -p /opt/scripts && chown node /opt/scripts",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := AnalyzeRun(tt.cmd)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAnalyzeRunSyntaxError(t *testing.T) {
	_, err := AnalyzeRun("apk add (")
	assert.Error(t, err)
}

func rules(findings []Finding) []string {
	out := make([]string, len(findings))
	for i, f := range findings {
		out[i] = f.Rule
	}
	return out
}

func TestLint(t *testing.T) {
	tests := []struct {
		name       string
		dockerfile string
		want       []string
	}{
		{
			name:       "legacy recipe is clean",
			dockerfile: legacyRecipe,
			want:       []string{},
		},
		{
			name:       "never sets user",
			dockerfile: "FROM alpine\nRUN apk add curl\n",
			want:       []string{RuleRunsAsRoot},
		},
		{
			name:       "ends as root",
			dockerfile: "FROM node:20\nUSER node\nRUN echo hi\nUSER root\n",
			want:       []string{RuleReescalated},
		},
		{
			name:       "root between two drops",
			dockerfile: "FROM alpine\nUSER node\nUSER root\nRUN apk add curl\nUSER node\n",
			want:       []string{RuleReescalated},
		},
		{
			name:       "root before the first drop",
			dockerfile: "FROM alpine\nUSER root\nRUN apk add curl\nUSER 0\nRUN apk add git\nUSER app\n",
			want:       []string{},
		},
		{
			name:       "install after de-escalation",
			dockerfile: "FROM alpine\nUSER root\nRUN apk add python3\nUSER node\nRUN pip install --break-system-packages flask\n",
			want:       []string{RuleInstallAfterDrop},
		},
		{
			name:       "pip without override on OS python",
			dockerfile: "FROM alpine\nUSER root\nRUN apk add python3 py3-pip\nRUN pip install flask\nUSER app\n",
			want:       []string{RuleMissingOverride},
		},
		{
			name:       "duplicate package",
			dockerfile: "FROM alpine\nRUN apk add curl curl=8.5.0-r0\nUSER app\n",
			want:       []string{RuleDuplicatePackage},
		},
		{
			name:       "only final stage is checked",
			dockerfile: "FROM alpine AS build\nRUN apk add gcc\nFROM alpine\nUSER app\n",
			want:       []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			instructions, err := ParseString(tt.dockerfile)
			require.NoError(t, err)
			assert.Equal(t, tt.want, rules(Lint(instructions)))
		})
	}
}

func TestLintFindingDetails(t *testing.T) {
	instructions, err := ParseString("FROM node:20\nUSER node\nUSER 0\n")
	require.NoError(t, err)

	findings := Lint(instructions)
	require.Len(t, findings, 1)
	assert.Equal(t, SeverityError, findings[0].Severity)
	assert.Equal(t, 3, findings[0].Line)
	assert.True(t, HasErrors(findings))
	assert.Equal(t, `3: LB002 error: final USER is "0"; the image runs as root`, findings[0].String())
}

func TestLintFlagsEveryReescalation(t *testing.T) {
	instructions, err := ParseString("FROM alpine\nUSER app\nUSER root\nRUN apk add curl\nUSER app\nUSER 0\nUSER app\n")
	require.NoError(t, err)

	findings := Lint(instructions)
	require.Len(t, findings, 2)
	assert.Equal(t, []string{RuleReescalated, RuleReescalated}, rules(findings))
	assert.Equal(t, 3, findings[0].Line)
	assert.Equal(t, 6, findings[1].Line)
	assert.Contains(t, findings[0].Message, "re-escalates")
}

func TestImport(t *testing.T) {
	instructions, err := ParseString(legacyRecipe)
	require.NoError(t, err)

	imp, err := Import(instructions)
	require.NoError(t, err)

	assert.Equal(t, "n8nio/n8n:latest", imp.Base)
	assert.Equal(t, layers.InstallerAPK, imp.OSInstaller)
	assert.Equal(t, []string{"python3", "py3-pip"}, imp.OSPackages)
	assert.Equal(t, []string{"discord.py", "flask"}, imp.RuntimePackages)
	assert.Equal(t, "node", imp.RuntimeUser)
	assert.True(t, imp.PolicyOverride)
	assert.Equal(t, []string{"COPY scripts/ /opt/scripts/"}, imp.Skipped)
}

func TestImportMixedInstallers(t *testing.T) {
	instructions, err := ParseString("FROM debian\nRUN apt-get install -y python3\nRUN apk add curl\nUSER app\n")
	require.NoError(t, err)

	_, err = Import(instructions)
	assert.ErrorIs(t, err, ErrMixedInstallers)
}
