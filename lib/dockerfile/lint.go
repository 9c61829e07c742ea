package dockerfile

import (
	"fmt"
	"slices"
	"strings"

	"github.com/samber/lo"

	"github.com/onkernel/layerbuild/lib/layers"
)

// Severity of a lint finding.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Rule identifiers.
const (
	RuleRunsAsRoot         = "LB001"
	RuleReescalated        = "LB002"
	RuleMissingOverride    = "LB003"
	RuleInstallAfterDrop   = "LB004"
	RuleDuplicatePackage   = "LB005"
	RuleUnparseableCommand = "LB000"
)

// Finding is one lint result.
type Finding struct {
	Rule     string   `json:"rule"`
	Severity Severity `json:"severity"`
	Line     int      `json:"line"`
	Message  string   `json:"message"`
}

func (f Finding) String() string {
	return fmt.Sprintf("%d: %s %s: %s", f.Line, f.Rule, f.Severity, f.Message)
}

// HasErrors reports whether any finding is an error.
func HasErrors(findings []Finding) bool {
	return slices.ContainsFunc(findings, func(f Finding) bool { return f.Severity == SeverityError })
}

type analyzedRun struct {
	ins         Instruction
	invocations []Invocation
}

// Lint checks the final stage of a Dockerfile against the layering rules:
// the image must end unprivileged without switching back to root once it
// has dropped, nothing may install after that, runtime
// installs on an OS-provided Python need the environment-protection
// override, and no install lists a package twice.
func Lint(instructions []Instruction) []Finding {
	final := FinalStage(instructions)
	if len(final) == 0 {
		return nil
	}

	var findings []Finding
	var runs []analyzedRun
	for _, ins := range final {
		if ins.Command != "RUN" {
			continue
		}
		invs, err := AnalyzeRun(ins.RunCommand())
		if err != nil {
			findings = append(findings, Finding{
				Rule:     RuleUnparseableCommand,
				Severity: SeverityWarning,
				Line:     ins.StartLine,
				Message:  fmt.Sprintf("RUN command not analyzed: %v", err),
			})
			continue
		}
		runs = append(runs, analyzedRun{ins: ins, invocations: invs})
	}

	lastUser, _, hasUser := lo.FindLastIndexOf(final, func(ins Instruction) bool { return ins.Command == "USER" })

	// Any switch back to root after the image has dropped privileges is a
	// re-escalation, whether or not a later USER drops again.
	dropped := false
	for _, ins := range final {
		if ins.Command != "USER" {
			continue
		}
		if !isRootUser(ins.Arg(0)) {
			dropped = true
			continue
		}
		if !dropped {
			continue
		}
		msg := fmt.Sprintf("USER %s re-escalates after privileges were dropped", ins.Arg(0))
		if ins.StartLine == lastUser.StartLine {
			msg = fmt.Sprintf("final USER is %q; the image runs as root", ins.Arg(0))
		}
		findings = append(findings, Finding{
			Rule:     RuleReescalated,
			Severity: SeverityError,
			Line:     ins.StartLine,
			Message:  msg,
		})
	}

	switch {
	case !hasUser:
		findings = append(findings, Finding{
			Rule:     RuleRunsAsRoot,
			Severity: SeverityError,
			Line:     final[0].StartLine,
			Message:  "final stage never sets USER; the image runs as root",
		})
	case isRootUser(lastUser.Arg(0)):
		if !dropped {
			findings = append(findings, Finding{
				Rule:     RuleReescalated,
				Severity: SeverityError,
				Line:     lastUser.StartLine,
				Message:  fmt.Sprintf("final USER is %q; the image runs as root", lastUser.Arg(0)),
			})
		}
	default:
		for _, run := range runs {
			if run.ins.StartLine <= lastUser.StartLine || len(run.invocations) == 0 {
				continue
			}
			findings = append(findings, Finding{
				Rule:     RuleInstallAfterDrop,
				Severity: SeverityError,
				Line:     run.ins.StartLine,
				Message:  fmt.Sprintf("%s invoked after USER %s", run.invocations[0].Installer, lastUser.Arg(0)),
			})
		}
	}

	osPython := false
	for _, run := range runs {
		for _, inv := range run.invocations {
			if inv.Installer.IsOS() && inv.IsInstall() && slices.ContainsFunc(inv.Packages, isPythonPackage) {
				osPython = true
			}
			if inv.Installer == layers.InstallerPip && inv.IsInstall() && osPython && !inv.PolicyOverride {
				findings = append(findings, Finding{
					Rule:     RuleMissingOverride,
					Severity: SeverityWarning,
					Line:     run.ins.StartLine,
					Message:  "pip install on an OS-managed Python without --break-system-packages",
				})
			}
			if dups := lo.FindDuplicates(inv.PackageSet().Keys()); len(dups) > 0 {
				findings = append(findings, Finding{
					Rule:     RuleDuplicatePackage,
					Severity: SeverityWarning,
					Line:     run.ins.StartLine,
					Message:  fmt.Sprintf("%s %s lists %s more than once", inv.Installer, inv.Subcommand, strings.Join(dups, ", ")),
				})
			}
		}
	}

	slices.SortStableFunc(findings, func(a, b Finding) int {
		if a.Line != b.Line {
			return a.Line - b.Line
		}
		return strings.Compare(a.Rule, b.Rule)
	})
	return findings
}

func isRootUser(user string) bool {
	id, err := layers.ParseIdentity(user)
	if err != nil {
		return false
	}
	return id.IsAdministrative()
}

func isPythonPackage(name string) bool {
	name = strings.ToLower(name)
	return name == "python3" || strings.HasPrefix(name, "python3-") ||
		strings.HasPrefix(name, "python3=") || strings.HasPrefix(name, "py3-")
}
