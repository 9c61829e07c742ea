package layers

import (
	"fmt"
	"regexp"
	"strings"
)

// identityPattern accepts POSIX-ish user and group names as well as
// numeric ids.
var identityPattern = regexp.MustCompile(`^[a-z_][a-z0-9_.-]*\$?$|^[0-9]+$`)

// Identity is the user (and optional group) a container runs as.
type Identity struct {
	User  string
	Group string
}

// ParseIdentity parses "user", "user:group", "uid" or "uid:gid".
func ParseIdentity(s string) (Identity, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Identity{}, fmt.Errorf("identity is empty")
	}
	user, group, hasGroup := strings.Cut(s, ":")
	if !identityPattern.MatchString(user) {
		return Identity{}, fmt.Errorf("invalid user %q", user)
	}
	if hasGroup && !identityPattern.MatchString(group) {
		return Identity{}, fmt.Errorf("invalid group %q", group)
	}
	return Identity{User: user, Group: group}, nil
}

// String renders the identity as a USER directive argument.
func (i Identity) String() string {
	if i.Group == "" {
		return i.User
	}
	return i.User + ":" + i.Group
}

// IsZero reports whether no user is set.
func (i Identity) IsZero() bool {
	return i.User == ""
}

// IsAdministrative reports whether the identity is root by name or uid.
// Only the user part decides: "node:root" is still unprivileged.
func (i Identity) IsAdministrative() bool {
	return i.User == "root" || (i.User != "" && strings.TrimLeft(i.User, "0") == "")
}

// PrivilegeKind enumerates the two contexts a step may run under.
type PrivilegeKind int

const (
	PrivilegeRoot PrivilegeKind = iota
	PrivilegeUser
)

// PrivilegeContext is the identity in effect for a step.
type PrivilegeContext struct {
	Kind     PrivilegeKind
	Identity Identity
}

// Root returns the administrative context.
func Root() PrivilegeContext {
	return PrivilegeContext{Kind: PrivilegeRoot, Identity: Identity{User: "root"}}
}

// AsUser returns the context for a named identity. Administrative
// identities collapse to Root.
func AsUser(id Identity) PrivilegeContext {
	if id.IsAdministrative() {
		return Root()
	}
	return PrivilegeContext{Kind: PrivilegeUser, Identity: id}
}

// IsRoot reports whether the context is administrative.
func (p PrivilegeContext) IsRoot() bool {
	return p.Kind == PrivilegeRoot
}

func (p PrivilegeContext) String() string {
	if p.IsRoot() {
		return "root"
	}
	return p.Identity.String()
}
