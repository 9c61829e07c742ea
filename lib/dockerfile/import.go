package dockerfile

import (
	"errors"
	"fmt"

	"github.com/samber/lo"

	"github.com/onkernel/layerbuild/lib/layers"
)

// ErrMixedInstallers is returned when a recipe installs OS packages with
// more than one package manager.
var ErrMixedInstallers = errors.New("recipe uses more than one OS package manager")

// Imported is what a legacy Dockerfile says about the four layering
// inputs. Instructions with no place in the plan are listed in Skipped.
type Imported struct {
	Base            string           `json:"base"`
	OSInstaller     layers.Installer `json:"os_installer,omitempty"`
	OSPackages      []string         `json:"os_packages"`
	RuntimePackages []string         `json:"runtime_packages"`
	RuntimeUser     string           `json:"runtime_user,omitempty"`
	PolicyOverride  bool             `json:"policy_override"`
	// Requirements are pip -r files; their contents are not known here.
	Requirements []string `json:"requirements,omitempty"`
	Skipped      []string `json:"skipped,omitempty"`
}

// Import recovers the base image, package sets and final user from the
// final stage of a Dockerfile. Package order is kept and repeats dropped.
func Import(instructions []Instruction) (*Imported, error) {
	final := FinalStage(instructions)
	if len(final) == 0 || final[0].Command != "FROM" {
		return nil, ErrNoFrom
	}

	imp := &Imported{Base: final[0].BaseImage()}
	for _, ins := range final[1:] {
		switch ins.Command {
		case "USER":
			imp.RuntimeUser = ins.Arg(0)
		case "RUN":
			invs, err := AnalyzeRun(ins.RunCommand())
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", ins.StartLine, err)
			}
			installs := lo.Filter(invs, func(inv Invocation, _ int) bool { return inv.IsInstall() })
			for _, inv := range installs {
				if inv.Installer.IsOS() {
					if imp.OSInstaller != "" && imp.OSInstaller != inv.Installer {
						return nil, fmt.Errorf("line %d: %w: %s and %s", ins.StartLine, ErrMixedInstallers, imp.OSInstaller, inv.Installer)
					}
					imp.OSInstaller = inv.Installer
					imp.OSPackages = append(imp.OSPackages, inv.Packages...)
					continue
				}
				imp.RuntimePackages = append(imp.RuntimePackages, inv.Packages...)
				imp.Requirements = append(imp.Requirements, inv.Requirements...)
				imp.PolicyOverride = imp.PolicyOverride || inv.PolicyOverride
			}
			if len(invs) == 0 {
				imp.Skipped = append(imp.Skipped, ins.Original)
			}
		case "LABEL", "ARG":
		default:
			imp.Skipped = append(imp.Skipped, ins.Original)
		}
	}

	imp.OSPackages = lo.Uniq(imp.OSPackages)
	imp.RuntimePackages = lo.Uniq(imp.RuntimePackages)
	if imp.OSPackages == nil {
		imp.OSPackages = []string{}
	}
	if imp.RuntimePackages == nil {
		imp.RuntimePackages = []string{}
	}
	return imp, nil
}
