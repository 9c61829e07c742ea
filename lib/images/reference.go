package images

import (
	"context"
	"fmt"

	"github.com/distribution/reference"
	"github.com/opencontainers/go-digest"
)

// NormalizedRef is a validated and normalized OCI image reference.
// It can be either a tagged reference (e.g., "docker.io/library/alpine:latest")
// or a digest reference (e.g., "docker.io/library/alpine@sha256:abc123...").
type NormalizedRef struct {
	raw        string
	repository string
	tag        string // empty if digest ref
	digest     string // empty if tag ref
	isDigest   bool
}

// ParseNormalizedRef validates and normalizes a user-provided image reference.
// Examples:
//   - "alpine" -> "docker.io/library/alpine:latest"
//   - "alpine:3.18" -> "docker.io/library/alpine:3.18"
//   - "alpine@sha256:abc..." -> "docker.io/library/alpine@sha256:abc..."
func ParseNormalizedRef(s string) (*NormalizedRef, error) {
	named, err := reference.ParseNormalizedNamed(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidName, err)
	}

	ref := &NormalizedRef{}

	// Extract repository (always present)
	ref.repository = reference.Domain(named) + "/" + reference.Path(named)

	// If it's canonical (has digest), extract digest
	if canonical, ok := named.(reference.Canonical); ok {
		ref.isDigest = true
		ref.digest = canonical.Digest().String()
		ref.raw = canonical.String()
		return ref, nil
	}

	// Otherwise it's a tagged reference - ensure tag (add :latest if missing)
	tagged := reference.TagNameOnly(named)
	if t, ok := tagged.(reference.Tagged); ok {
		ref.tag = t.Tag()
	}
	ref.raw = tagged.String()

	return ref, nil
}

// String returns the full normalized reference.
func (r *NormalizedRef) String() string {
	return r.raw
}

// IsDigest returns true if this reference contains a digest (@sha256:...).
func (r *NormalizedRef) IsDigest() bool {
	return r.isDigest
}

// Digest returns the digest if present (e.g., "sha256:abc123...").
// Returns empty string if this is a tagged reference.
func (r *NormalizedRef) Digest() string {
	return r.digest
}

// Repository returns the repository path without tag or digest.
// Example: "docker.io/library/alpine"
func (r *NormalizedRef) Repository() string {
	return r.repository
}

// Tag returns the tag if this is a tagged reference (e.g., "latest").
// Returns empty string if this is a digest reference.
func (r *NormalizedRef) Tag() string {
	return r.tag
}

// DigestHex returns just the hex portion of the digest (without "sha256:" prefix).
// Returns empty string if this is a tagged reference.
func (r *NormalizedRef) DigestHex() string {
	return digestHex(r.digest)
}

// ResolvedRef is a NormalizedRef that has been resolved to include the actual
// manifest digest from the registry. The digest is always present.
type ResolvedRef struct {
	normalized *NormalizedRef
	digest     string // Always populated (e.g., "sha256:abc123...")
}

// NewResolvedRef creates a ResolvedRef from a NormalizedRef and digest.
func NewResolvedRef(normalized *NormalizedRef, d string) (*ResolvedRef, error) {
	if _, err := digest.Parse(d); err != nil {
		return nil, fmt.Errorf("invalid manifest digest %q: %w", d, err)
	}
	return &ResolvedRef{
		normalized: normalized,
		digest:     d,
	}, nil
}

// String returns the full normalized reference (the original user input format).
func (r *ResolvedRef) String() string {
	return r.normalized.String()
}

// Normalized returns the reference the digest was resolved from.
func (r *ResolvedRef) Normalized() *NormalizedRef {
	return r.normalized
}

// Repository returns the repository path without tag or digest.
func (r *ResolvedRef) Repository() string {
	return r.normalized.Repository()
}

// Tag returns the tag if this was originally a tagged reference (e.g., "latest").
// Returns empty string if this was originally a digest reference.
func (r *ResolvedRef) Tag() string {
	return r.normalized.Tag()
}

// Digest returns the resolved manifest digest (e.g., "sha256:abc123...").
func (r *ResolvedRef) Digest() string {
	return r.digest
}

// DigestHex returns just the hex portion of the digest.
func (r *ResolvedRef) DigestHex() string {
	return digestHex(r.digest)
}

// Pinned returns "repository@digest", which always names the same bytes.
func (r *ResolvedRef) Pinned() string {
	return r.Repository() + "@" + r.digest
}

// ManifestResolver looks up the authoritative manifest digest of a reference.
type ManifestResolver interface {
	Resolve(ctx context.Context, ref *NormalizedRef) (*ResolvedRef, error)
}

// Resolve returns a ResolvedRef. Digest references resolve to themselves
// without touching the registry.
func (r *NormalizedRef) Resolve(ctx context.Context, resolver ManifestResolver) (*ResolvedRef, error) {
	if r.isDigest {
		return NewResolvedRef(r, r.digest)
	}
	return resolver.Resolve(ctx, r)
}

func digestHex(d string) string {
	if d == "" {
		return ""
	}
	parsed, err := digest.Parse(d)
	if err != nil {
		return ""
	}
	return parsed.Encoded()
}
