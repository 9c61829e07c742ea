// Package dockerfile reads existing Dockerfiles: it parses them with the
// buildkit frontend parser, analyzes RUN commands for package installs,
// lints privilege ordering and imports legacy recipes into package sets.
package dockerfile

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/moby/buildkit/frontend/dockerfile/parser"
)

// ErrNoFrom is returned for a Dockerfile without any FROM instruction.
var ErrNoFrom = errors.New("dockerfile has no FROM instruction")

// Instruction is one parsed Dockerfile instruction.
type Instruction struct {
	// Command is the upper-cased instruction keyword (FROM, RUN, USER, ...).
	Command string `json:"command"`
	// Args are the instruction arguments. A shell-form RUN has a single arg
	// holding the whole command line.
	Args  []string `json:"args"`
	Flags []string `json:"flags,omitempty"`
	// JSON is set for exec-form instructions (RUN ["..."]).
	JSON      bool   `json:"json,omitempty"`
	Original  string `json:"original"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
	// Stage is the 0-based index of the build stage the instruction is in.
	// Instructions before the first FROM (ARG) have stage -1.
	Stage int `json:"stage"`
}

// Arg returns the i-th argument or "".
func (i Instruction) Arg(n int) string {
	if n < 0 || n >= len(i.Args) {
		return ""
	}
	return i.Args[n]
}

// Parse reads a Dockerfile into instructions in source order.
func Parse(r io.Reader) ([]Instruction, error) {
	result, err := parser.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse dockerfile: %w", err)
	}

	stage := -1
	var out []Instruction
	for _, node := range result.AST.Children {
		ins := Instruction{
			Command:   strings.ToUpper(node.Value),
			Flags:     append([]string(nil), node.Flags...),
			JSON:      node.Attributes["json"],
			Original:  node.Original,
			StartLine: node.StartLine,
			EndLine:   node.EndLine,
		}
		for n := node.Next; n != nil; n = n.Next {
			ins.Args = append(ins.Args, n.Value)
		}
		if ins.Command == "FROM" {
			stage++
		}
		ins.Stage = stage
		out = append(out, ins)
	}

	if stage < 0 {
		return nil, ErrNoFrom
	}
	return out, nil
}

// ParseString is Parse for in-memory text.
func ParseString(s string) ([]Instruction, error) {
	return Parse(strings.NewReader(s))
}

// FinalStage returns the instructions of the last build stage.
func FinalStage(instructions []Instruction) []Instruction {
	last := -1
	for _, ins := range instructions {
		if ins.Stage > last {
			last = ins.Stage
		}
	}
	var out []Instruction
	for _, ins := range instructions {
		if ins.Stage == last {
			out = append(out, ins)
		}
	}
	return out
}

// BaseImage returns the image a FROM instruction builds on.
func (i Instruction) BaseImage() string {
	if i.Command != "FROM" {
		return ""
	}
	return i.Arg(0)
}

// RunCommand returns the shell text of a RUN instruction. Exec-form
// arguments are joined with spaces.
func (i Instruction) RunCommand() string {
	if i.Command != "RUN" {
		return ""
	}
	return strings.Join(i.Args, " ")
}
