package layers

import (
	"fmt"
	"strings"

	"github.com/opencontainers/go-digest"
)

// StepKind identifies one of the four fixed steps.
type StepKind int

const (
	StepEscalate StepKind = iota + 1
	StepInstallOS
	StepInstallRuntime
	StepDeescalate
)

var stepKindNames = map[StepKind]string{
	StepEscalate:       "escalate",
	StepInstallOS:      "install-os",
	StepInstallRuntime: "install-runtime",
	StepDeescalate:     "de-escalate",
}

// StepOrder is the only order steps may appear in.
var StepOrder = []StepKind{StepEscalate, StepInstallOS, StepInstallRuntime, StepDeescalate}

func (k StepKind) String() string {
	if name, ok := stepKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("StepKind(%d)", int(k))
}

func (k StepKind) MarshalText() ([]byte, error) {
	if _, ok := stepKindNames[k]; !ok {
		return nil, fmt.Errorf("unknown step kind %d", int(k))
	}
	return []byte(k.String()), nil
}

func (k *StepKind) UnmarshalText(text []byte) error {
	for kind, name := range stepKindNames {
		if name == string(text) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown step kind %q", text)
}

func (p PrivilegeContext) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *PrivilegeContext) UnmarshalText(text []byte) error {
	if string(text) == "root" {
		*p = Root()
		return nil
	}
	id, err := ParseIdentity(string(text))
	if err != nil {
		return err
	}
	*p = AsUser(id)
	return nil
}

// Step is one entry of a plan. Privilege is the context the step runs
// under, or for escalate/de-escalate the context it switches to.
type Step struct {
	Index          int              `json:"index"`
	Kind           StepKind         `json:"kind"`
	Privilege      PrivilegeContext `json:"privilege"`
	Installer      Installer        `json:"installer,omitempty"`
	Packages       []string         `json:"packages,omitempty"`
	PolicyOverride bool             `json:"policy_override,omitempty"`
	CacheKey       digest.Digest    `json:"cache_key"`
}

// PackageSet returns the packages an install step installs.
func (s Step) PackageSet() PackageSet {
	return NewPackageSet(s.Installer, s.Packages...)
}

// String renders the compact step notation, e.g.
// "apk-install(python3,py3-pip)" or "user(node)".
func (s Step) String() string {
	switch s.Kind {
	case StepEscalate:
		return "root"
	case StepInstallOS:
		return fmt.Sprintf("%s-install(%s)", s.Installer, strings.Join(s.Packages, ","))
	case StepInstallRuntime:
		return fmt.Sprintf("%s-install(%s, policy-override=%t)", s.Installer, strings.Join(s.Packages, ","), s.PolicyOverride)
	case StepDeescalate:
		return fmt.Sprintf("user(%s)", s.Privilege)
	}
	return s.Kind.String()
}

// Layer is the cache identity of a step's filesystem diff.
type Layer struct {
	Step     int           `json:"step"`
	Kind     StepKind      `json:"kind"`
	CacheKey digest.Digest `json:"cache_key"`
}

// State is threaded through a plan walk: the identity in effect and the
// layer stack built so far.
type State struct {
	Privilege PrivilegeContext
	Layers    []Layer
}

// Top returns the cache key of the topmost layer, or "" for an empty stack.
func (s State) Top() digest.Digest {
	if len(s.Layers) == 0 {
		return ""
	}
	return s.Layers[len(s.Layers)-1].CacheKey
}
