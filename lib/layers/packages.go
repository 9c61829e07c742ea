package layers

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/samber/lo"
)

// Installer is the tool that installs a PackageSet.
type Installer string

const (
	InstallerAPK Installer = "apk"
	InstallerAPT Installer = "apt"
	InstallerPip Installer = "pip"
)

var (
	// ErrMalformedPackage is wrapped when a package name does not parse.
	ErrMalformedPackage = errors.New("malformed package name")

	// ErrDuplicatePackage is wrapped when a name appears twice in one set.
	ErrDuplicatePackage = errors.New("duplicate package name")

	// ErrUnsupportedInstaller is wrapped for installers outside a set's role.
	ErrUnsupportedInstaller = errors.New("unsupported installer")
)

var (
	apkNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9+._-]*(@[a-z0-9_-]+)?((=|~=|~|>=|<=|>|<)[A-Za-z0-9._+~-]+)?$`)
	aptNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9+.-]+(:[a-z0-9-]+)?(=[A-Za-z0-9.+~:-]+)?$`)

	// PEP 508 name, optional extras, optional comma-separated specifiers.
	pipNamePattern = regexp.MustCompile(
		`^([A-Za-z0-9]|[A-Za-z0-9][A-Za-z0-9._-]*[A-Za-z0-9])` +
			`(\[[A-Za-z0-9._-]+(,[A-Za-z0-9._-]+)*\])?` +
			`(\s*(===|==|!=|~=|>=|<=|>|<)\s*[A-Za-z0-9.*+!_-]+(\s*,\s*(===|==|!=|~=|>=|<=|>|<)\s*[A-Za-z0-9.*+!_-]+)*)?$`)

	pipSeparatorRun = regexp.MustCompile(`[-_.]+`)
	osNameEnd       = regexp.MustCompile(`[@:=~<>]`)
	pipNameEnd      = regexp.MustCompile(`[\[\s=!~<>]`)
)

// ParseInstaller maps a configured name onto an Installer.
func ParseInstaller(s string) (Installer, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "apk":
		return InstallerAPK, nil
	case "apt", "apt-get":
		return InstallerAPT, nil
	case "pip", "pip3":
		return InstallerPip, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedInstaller, s)
}

// IsOS reports whether the installer is a system package manager.
func (i Installer) IsOS() bool {
	return i == InstallerAPK || i == InstallerAPT
}

// PackageSet is an ordered list of package names installed by one tool.
// Order is kept as given: it does not change what ends up installed but it
// does change the step's cache key.
type PackageSet struct {
	Installer Installer
	Names     []string
}

// NewPackageSet copies names into a set for installer.
func NewPackageSet(installer Installer, names ...string) PackageSet {
	return PackageSet{Installer: installer, Names: append([]string(nil), names...)}
}

// Len returns the number of packages.
func (s PackageSet) Len() int {
	return len(s.Names)
}

// IsEmpty reports whether the set installs nothing.
func (s PackageSet) IsEmpty() bool {
	return len(s.Names) == 0
}

// Validate checks every name against the installer's grammar and rejects
// duplicates. It returns the offending name alongside the error.
func (s PackageSet) Validate() (string, error) {
	var pattern *regexp.Regexp
	switch s.Installer {
	case InstallerAPK:
		pattern = apkNamePattern
	case InstallerAPT:
		pattern = aptNamePattern
	case InstallerPip:
		pattern = pipNamePattern
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedInstaller, s.Installer)
	}

	for _, name := range s.Names {
		if strings.TrimSpace(name) == "" {
			return name, fmt.Errorf("%w: empty name", ErrMalformedPackage)
		}
		if !pattern.MatchString(name) {
			return name, fmt.Errorf("%w: %q is not a valid %s package", ErrMalformedPackage, name, s.Installer)
		}
	}

	keys := lo.Map(s.Names, func(name string, _ int) string { return s.key(name) })
	if dups := lo.FindDuplicates(keys); len(dups) > 0 {
		idx := lo.IndexOf(keys, dups[0])
		return s.Names[idx], fmt.Errorf("%w: %q", ErrDuplicatePackage, s.Names[idx])
	}
	return "", nil
}

// Keys returns the identity of each package with versions stripped, in
// order. pip names are normalized per PEP 503.
func (s PackageSet) Keys() []string {
	return lo.Map(s.Names, func(name string, _ int) string { return s.key(name) })
}

func (s PackageSet) key(name string) string {
	name = strings.TrimSpace(name)
	if s.Installer == InstallerPip {
		if loc := pipNameEnd.FindStringIndex(name); loc != nil {
			name = name[:loc[0]]
		}
		return pipSeparatorRun.ReplaceAllString(strings.ToLower(name), "-")
	}
	if loc := osNameEnd.FindStringIndex(name); loc != nil {
		name = name[:loc[0]]
	}
	return strings.ToLower(name)
}

// String renders "installer(a,b)".
func (s PackageSet) String() string {
	return fmt.Sprintf("%s(%s)", s.Installer, strings.Join(s.Names, ","))
}
