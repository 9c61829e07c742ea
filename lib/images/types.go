package images

import (
	"slices"
	"strconv"
	"strings"
)

// PackageManager names the OS package manager a base image ships with.
type PackageManager string

const (
	PackageManagerUnknown PackageManager = ""
	PackageManagerAPK     PackageManager = "apk"
	PackageManagerAPT     PackageManager = "apt"
)

// Account is one entry of /etc/passwd or /etc/group.
type Account struct {
	Name string `json:"name"`
	ID   int    `json:"id"`
}

// BaseImageInfo is what the layer builder needs to know about a base image
// before it runs any step on top of it.
type BaseImageInfo struct {
	Name          string            `json:"name"`   // Normalized ref (e.g., docker.io/n8nio/n8n:latest)
	Digest        string            `json:"digest"` // Resolved manifest digest (sha256:...)
	ConfigUser    string            `json:"config_user,omitempty"`
	Env           map[string]string `json:"env,omitempty"`
	OSID          string            `json:"os_id,omitempty"`
	OSIDLike      []string          `json:"os_id_like,omitempty"`
	Users         []Account         `json:"users,omitempty"`
	Groups        []Account         `json:"groups,omitempty"`
	ExternallyMgd bool              `json:"externally_managed"`
}

// PackageManager infers the OS package manager from os-release.
func (b *BaseImageInfo) PackageManager() PackageManager {
	ids := append([]string{b.OSID}, b.OSIDLike...)
	for _, id := range ids {
		switch id {
		case "alpine", "wolfi", "chainguard":
			return PackageManagerAPK
		case "debian", "ubuntu":
			return PackageManagerAPT
		}
	}
	return PackageManagerUnknown
}

// HasUser reports whether name (or a numeric uid) exists in /etc/passwd.
func (b *BaseImageInfo) HasUser(name string) bool {
	return hasAccount(b.Users, name)
}

// HasGroup reports whether name (or a numeric gid) exists in /etc/group.
func (b *BaseImageInfo) HasGroup(name string) bool {
	return hasAccount(b.Groups, name)
}

// EnforcesEnvironmentProtection reports whether the base image's Python
// refuses system-wide pip installs without an override.
func (b *BaseImageInfo) EnforcesEnvironmentProtection() bool {
	return b.ExternallyMgd
}

func hasAccount(accounts []Account, name string) bool {
	if id, err := strconv.Atoi(name); err == nil {
		return slices.ContainsFunc(accounts, func(a Account) bool { return a.ID == id })
	}
	return slices.ContainsFunc(accounts, func(a Account) bool { return a.Name == name })
}

// parseAccounts parses the passwd/group format: name:x:id:...
// Malformed lines are skipped.
func parseAccounts(data []byte) []Account {
	var accounts []Account
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ":")
		if len(fields) < 3 || fields[0] == "" {
			continue
		}
		id, err := strconv.Atoi(fields[2])
		if err != nil {
			continue
		}
		accounts = append(accounts, Account{Name: fields[0], ID: id})
	}
	return accounts
}

// parseOSRelease extracts ID and ID_LIKE from an os-release file.
func parseOSRelease(data []byte) (string, []string) {
	var id string
	var like []string
	for _, line := range strings.Split(string(data), "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		value = strings.Trim(value, `"'`)
		switch key {
		case "ID":
			id = value
		case "ID_LIKE":
			like = strings.Fields(value)
		}
	}
	return id, like
}

// parseEnv splits KEY=VALUE pairs from an image config.
func parseEnv(env []string) map[string]string {
	out := make(map[string]string, len(env))
	for _, kv := range env {
		if k, v, ok := strings.Cut(kv, "="); ok {
			out[k] = v
		}
	}
	return out
}
