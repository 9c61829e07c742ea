package dockerfile

import (
	"fmt"
	"path"
	"strings"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/syntax"

	"github.com/onkernel/layerbuild/lib/layers"
)

// Invocation is one package manager call found in a RUN command.
type Invocation struct {
	Installer layers.Installer `json:"installer"`
	// Subcommand is the verb, e.g. "add", "install", "update".
	Subcommand string   `json:"subcommand"`
	Packages   []string `json:"packages,omitempty"`
	// Requirements lists -r files passed to pip.
	Requirements   []string `json:"requirements,omitempty"`
	PolicyOverride bool     `json:"policy_override,omitempty"`
	// Offset is the 1-based line within the RUN command.
	Offset int `json:"offset"`
}

// IsInstall reports whether the invocation adds packages.
func (v Invocation) IsInstall() bool {
	return v.Subcommand == "add" || v.Subcommand == "install"
}

// PackageSet returns the invocation's packages as a set.
func (v Invocation) PackageSet() layers.PackageSet {
	return layers.NewPackageSet(v.Installer, v.Packages...)
}

// Options that consume the following word, per tool.
var (
	apkValueFlags = map[string]bool{
		"-X": true, "--repository": true, "-t": true, "--virtual": true,
		"-p": true, "--root": true, "--arch": true, "--keys-dir": true,
	}
	aptValueFlags = map[string]bool{
		"-o": true, "--option": true, "-t": true, "--target-release": true,
		"-c": true, "--config-file": true,
	}
	pipValueFlags = map[string]bool{
		"-r": true, "--requirement": true, "-c": true, "--constraint": true,
		"-i": true, "--index-url": true, "--extra-index-url": true,
		"-e": true, "--editable": true, "-t": true, "--target": true,
		"--prefix": true, "--root": true, "-f": true, "--find-links": true,
		"--trusted-host": true, "--platform": true, "--python-version": true,
	}
)

// AnalyzeRun parses a RUN shell command and returns every apk, apt and pip
// invocation in it, in source order. Words that cannot be expanded without
// running anything (command substitutions) are treated as "".
func AnalyzeRun(cmd string) ([]Invocation, error) {
	file, err := syntax.NewParser(syntax.Variant(syntax.LangBash)).Parse(strings.NewReader(cmd), "")
	if err != nil {
		return nil, fmt.Errorf("parse shell: %w", err)
	}

	var out []Invocation
	syntax.Walk(file, func(node syntax.Node) bool {
		call, ok := node.(*syntax.CallExpr)
		if !ok || len(call.Args) == 0 {
			return true
		}

		words := make([]string, 0, len(call.Args))
		for _, w := range call.Args {
			words = append(words, literal(w))
		}

		envOverride := false
		for _, assign := range call.Assigns {
			if assign.Name != nil && assign.Name.Value == pipOverrideEnv && assign.Value != nil {
				envOverride = truthy(literal(assign.Value))
			}
		}

		if inv, ok := classify(words); ok {
			inv.PolicyOverride = inv.PolicyOverride || (inv.Installer == layers.InstallerPip && envOverride)
			inv.Offset = int(call.Pos().Line())
			out = append(out, inv)
		}
		return true
	})
	return out, nil
}

const pipOverrideEnv = "PIP_BREAK_SYSTEM_PACKAGES"

func literal(w *syntax.Word) string {
	lit, err := expand.Literal(nil, w)
	if err != nil {
		return ""
	}
	return lit
}

func truthy(v string) bool {
	return v != "" && v != "0" && !strings.EqualFold(v, "false")
}

func classify(words []string) (Invocation, bool) {
	envOverride := false
	for len(words) > 0 && (words[0] == "sudo" || words[0] == "env" || strings.Contains(words[0], "=")) {
		if name, value, ok := strings.Cut(words[0], "="); ok && name == pipOverrideEnv {
			envOverride = truthy(value)
		}
		words = words[1:]
	}
	if len(words) == 0 {
		return Invocation{}, false
	}

	tool := path.Base(words[0])
	args := words[1:]
	var inv Invocation
	var ok bool
	switch {
	case tool == "apk":
		inv, ok = parseInvocation(layers.InstallerAPK, args, apkValueFlags)
	case tool == "apt-get" || tool == "apt":
		inv, ok = parseInvocation(layers.InstallerAPT, args, aptValueFlags)
	case tool == "pip" || tool == "pip3" || strings.HasPrefix(tool, "pip3."):
		inv, ok = parseInvocation(layers.InstallerPip, args, pipValueFlags)
	case tool == "python" || tool == "python3" || strings.HasPrefix(tool, "python3."):
		if len(args) >= 2 && args[0] == "-m" && args[1] == "pip" {
			inv, ok = parseInvocation(layers.InstallerPip, args[2:], pipValueFlags)
		}
	}
	if ok && inv.Installer == layers.InstallerPip && envOverride {
		inv.PolicyOverride = true
	}
	return inv, ok
}

func parseInvocation(installer layers.Installer, args []string, valueFlags map[string]bool) (Invocation, bool) {
	inv := Invocation{Installer: installer}
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "" {
			continue
		}
		if strings.HasPrefix(arg, "-") {
			flag, value, hasValue := strings.Cut(arg, "=")
			if flag == "--break-system-packages" {
				inv.PolicyOverride = true
				continue
			}
			if valueFlags[flag] && !hasValue && i+1 < len(args) {
				i++
				value = args[i]
			}
			if installer == layers.InstallerPip && (flag == "-r" || flag == "--requirement") && value != "" {
				inv.Requirements = append(inv.Requirements, value)
			}
			continue
		}
		if inv.Subcommand == "" {
			inv.Subcommand = arg
			continue
		}
		if inv.IsInstall() {
			inv.Packages = append(inv.Packages, arg)
		}
	}
	return inv, inv.Subcommand != ""
}
