// Package templates renders layer plans into Dockerfiles.
package templates

import (
	"fmt"
	"strconv"
	"strings"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"mvdan.cc/sh/v3/syntax"

	"github.com/onkernel/layerbuild/lib/layers"
)

// InstallCommand renders the shell command for one package manager.
type InstallCommand interface {
	// Command returns the RUN argument that installs packages. ok is false
	// when nothing needs to run.
	Command(packages []string, policyOverride bool) (cmd string, ok bool, err error)
}

// GetInstallCommand returns the InstallCommand for installer.
func GetInstallCommand(installer layers.Installer) (InstallCommand, error) {
	switch installer {
	case layers.InstallerAPK:
		return &APKCommand{}, nil
	case layers.InstallerAPT:
		return &APTCommand{}, nil
	case layers.InstallerPip:
		return &PipCommand{}, nil
	default:
		return nil, fmt.Errorf("unsupported installer: %s", installer)
	}
}

// APKCommand installs Alpine packages. The index is always refreshed so
// that the step's result does not depend on a stale cache in the base.
type APKCommand struct{}

func (c *APKCommand) Command(packages []string, _ bool) (string, bool, error) {
	if len(packages) == 0 {
		return "apk update", true, nil
	}
	words, err := quoteAll(packages)
	if err != nil {
		return "", false, err
	}
	return "apk update && apk add --no-cache " + words, true, nil
}

// APTCommand installs Debian packages and drops the downloaded lists.
type APTCommand struct{}

func (c *APTCommand) Command(packages []string, _ bool) (string, bool, error) {
	if len(packages) == 0 {
		return "apt-get update && rm -rf /var/lib/apt/lists/*", true, nil
	}
	words, err := quoteAll(packages)
	if err != nil {
		return "", false, err
	}
	return "apt-get update && apt-get install -y --no-install-recommends " + words +
		" && rm -rf /var/lib/apt/lists/*", true, nil
}

// PipCommand installs Python distributions system-wide.
type PipCommand struct{}

func (c *PipCommand) Command(packages []string, policyOverride bool) (string, bool, error) {
	if len(packages) == 0 {
		return "", false, nil
	}
	words, err := quoteAll(packages)
	if err != nil {
		return "", false, err
	}
	cmd := "pip install --no-cache-dir "
	if policyOverride {
		cmd += "--break-system-packages "
	}
	return cmd + words, true, nil
}

func quoteAll(words []string) (string, error) {
	quoted := make([]string, len(words))
	for i, w := range words {
		q, err := syntax.Quote(w, syntax.LangPOSIX)
		if err != nil {
			return "", fmt.Errorf("quote %q: %w", w, err)
		}
		quoted[i] = q
	}
	return strings.Join(quoted, " "), nil
}

// Instruction is one emitted Dockerfile line and the plan step it belongs
// to. Step 0 is the base image.
type Instruction struct {
	Step int    `json:"step"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

// Rendered is a Dockerfile together with its step map.
type Rendered struct {
	Dockerfile   string        `json:"dockerfile"`
	Instructions []Instruction `json:"instructions"`
}

// StepFor returns the step that emitted the instruction whose text equals
// text, compared after whitespace normalization.
func (r *Rendered) StepFor(text string) (int, bool) {
	want := strings.Join(strings.Fields(text), " ")
	for _, ins := range r.Instructions {
		if strings.Join(strings.Fields(ins.Text), " ") == want {
			return ins.Step, true
		}
	}
	return 0, false
}

// ForStep returns the instructions a step emitted.
func (r *Rendered) ForStep(step int) []Instruction {
	var out []Instruction
	for _, ins := range r.Instructions {
		if ins.Step == step {
			out = append(out, ins)
		}
	}
	return out
}

type writer struct {
	b     strings.Builder
	line  int
	instr []Instruction
}

func (w *writer) emit(step int, text string) {
	w.line++
	w.b.WriteString(text)
	w.b.WriteString("\n")
	if !strings.HasPrefix(text, "#") {
		w.instr = append(w.instr, Instruction{Step: step, Line: w.line, Text: text})
	}
}

// Render validates plan and walks it into a Dockerfile. Identical plans
// render byte-identical output.
func Render(plan *layers.Plan) (*Rendered, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}

	w := &writer{}
	w.emit(0, "FROM "+plan.Base.Pinned())
	label := fmt.Sprintf("LABEL %s=%s", ocispec.AnnotationBaseImageName, strconv.Quote(plan.Base.Ref.String()))
	if plan.Base.Digest != "" {
		label += fmt.Sprintf(" %s=%s", ocispec.AnnotationBaseImageDigest, strconv.Quote(plan.Base.Digest))
	}
	w.emit(0, label)

	_, err := plan.Walk(func(_ layers.State, step layers.Step) error {
		switch step.Kind {
		case layers.StepEscalate, layers.StepDeescalate:
			w.emit(step.Index, "USER "+step.Privilege.Identity.String())
			return nil
		}

		gen, err := GetInstallCommand(step.Installer)
		if err != nil {
			return fmt.Errorf("step %d: %w", step.Index, err)
		}
		cmd, ok, err := gen.Command(step.Packages, step.PolicyOverride)
		if err != nil {
			return fmt.Errorf("step %d: %w", step.Index, err)
		}
		if !ok {
			w.emit(step.Index, fmt.Sprintf("# step %d: no %s packages", step.Index, step.Installer))
			return nil
		}
		w.emit(step.Index, "RUN "+cmd)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &Rendered{Dockerfile: w.b.String(), Instructions: w.instr}, nil
}
