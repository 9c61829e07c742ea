package images

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/remote/transport"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	hotel "github.com/onkernel/layerbuild/lib/otel"
)

// maxMetadataFileSize bounds how much of a single /etc file we read.
const maxMetadataFileSize = 1 << 20

var externallyManagedPattern = regexp.MustCompile(`^usr/lib/python3\.[0-9]+/EXTERNALLY-MANAGED$`)

// ResolverOptions configures registry access.
type ResolverOptions struct {
	// Insecure allows plain HTTP registries.
	Insecure bool
	// Platform selects an entry from multi-arch indexes. Defaults to linux/amd64.
	Platform *v1.Platform
	// Keychain supplies registry credentials. Defaults to the docker config keychain.
	Keychain authn.Keychain
	Logger   *slog.Logger
	Meter    metric.Meter
}

// Resolver talks to registries to pin and inspect base images.
// It is safe for concurrent use; inspections are cached per manifest digest.
type Resolver struct {
	opts    ResolverOptions
	logger  *slog.Logger
	metrics *hotel.ResolverMetrics

	mu    sync.Mutex
	cache map[string]*BaseImageInfo
}

// NewResolver creates a resolver.
func NewResolver(opts ResolverOptions) (*Resolver, error) {
	if opts.Platform == nil {
		opts.Platform = &v1.Platform{OS: "linux", Architecture: "amd64"}
	}
	if opts.Keychain == nil {
		opts.Keychain = authn.DefaultKeychain
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Resolver{
		opts:   opts,
		logger: logger,
		cache:  make(map[string]*BaseImageInfo),
	}

	if opts.Meter != nil {
		m, err := hotel.NewResolverMetrics(opts.Meter)
		if err != nil {
			return nil, fmt.Errorf("create resolver metrics: %w", err)
		}
		r.metrics = m
	}
	return r, nil
}

func (r *Resolver) parse(ref *NormalizedRef) (name.Reference, error) {
	var nameOpts []name.Option
	if r.opts.Insecure {
		nameOpts = append(nameOpts, name.Insecure)
	}
	parsed, err := name.ParseReference(ref.String(), nameOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidName, err)
	}
	return parsed, nil
}

func (r *Resolver) remoteOptions(ctx context.Context) []remote.Option {
	return []remote.Option{
		remote.WithContext(ctx),
		remote.WithAuthFromKeychain(r.opts.Keychain),
		remote.WithPlatform(*r.opts.Platform),
	}
}

// Resolve fetches the manifest digest for ref. A HEAD request is tried
// first; some registries do not return Docker-Content-Digest on HEAD.
func (r *Resolver) Resolve(ctx context.Context, ref *NormalizedRef) (*ResolvedRef, error) {
	if ref.IsDigest() {
		return NewResolvedRef(ref, ref.Digest())
	}

	parsed, err := r.parse(ref)
	if err != nil {
		return nil, err
	}

	desc, err := remote.Head(parsed, r.remoteOptions(ctx)...)
	if err == nil {
		return NewResolvedRef(ref, desc.Digest.String())
	}
	r.logger.DebugContext(ctx, "manifest HEAD failed, retrying with GET", "ref", ref.String(), "error", err)

	full, err := remote.Get(parsed, r.remoteOptions(ctx)...)
	if err != nil {
		return nil, classifyRegistryError(ref.String(), err)
	}
	return NewResolvedRef(ref, full.Digest.String())
}

// Inspect resolves ref and reads the parts of the image the builder checks
// against: config user, os-release, passwd, group and the Python
// EXTERNALLY-MANAGED marker.
func (r *Resolver) Inspect(ctx context.Context, ref *NormalizedRef) (*BaseImageInfo, error) {
	start := time.Now()

	parsed, err := r.parse(ref)
	if err != nil {
		return nil, err
	}

	img, err := remote.Image(parsed, r.remoteOptions(ctx)...)
	if err != nil {
		r.record(ctx, "error", start)
		return nil, classifyRegistryError(ref.String(), err)
	}

	manifestDigest, err := img.Digest()
	if err != nil {
		r.record(ctx, "error", start)
		return nil, fmt.Errorf("compute manifest digest: %w", err)
	}

	r.mu.Lock()
	cached, ok := r.cache[manifestDigest.String()]
	r.mu.Unlock()
	if ok {
		r.record(ctx, "cached", start)
		return cached, nil
	}

	info, err := inspectImage(img)
	if err != nil {
		r.record(ctx, "error", start)
		return nil, classifyRegistryError(ref.String(), err)
	}
	info.Name = ref.String()
	info.Digest = manifestDigest.String()

	r.mu.Lock()
	r.cache[info.Digest] = info
	r.mu.Unlock()

	r.record(ctx, "fetched", start)
	r.logger.InfoContext(ctx, "inspected base image",
		"ref", info.Name, "digest", info.Digest, "os", info.OSID,
		"users", len(info.Users), "externally_managed", info.ExternallyMgd)
	return info, nil
}

func (r *Resolver) record(ctx context.Context, result string, start time.Time) {
	if r.metrics == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("result", result))
	r.metrics.InspectionsTotal.Add(ctx, 1, attrs)
	r.metrics.InspectDuration.Record(ctx, time.Since(start).Seconds(), attrs)
}

// inspectImage reads config and the flattened filesystem of img.
func inspectImage(img v1.Image) (*BaseImageInfo, error) {
	cfg, err := img.ConfigFile()
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	info := &BaseImageInfo{
		ConfigUser: cfg.Config.User,
		Env:        parseEnv(cfg.Config.Env),
	}

	// mutate.Extract walks layers top-down and applies whiteouts, so every
	// path appears at most once with its effective content.
	rc := mutate.Extract(img)
	defer rc.Close()

	tr := tar.NewReader(rc)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read filesystem: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		p := strings.TrimPrefix(path.Clean("/"+hdr.Name), "/")
		switch {
		case p == "etc/passwd":
			data, err := readSmall(tr)
			if err != nil {
				return nil, fmt.Errorf("read /etc/passwd: %w", err)
			}
			info.Users = parseAccounts(data)
		case p == "etc/group":
			data, err := readSmall(tr)
			if err != nil {
				return nil, fmt.Errorf("read /etc/group: %w", err)
			}
			info.Groups = parseAccounts(data)
		case p == "etc/os-release" || p == "usr/lib/os-release":
			if info.OSID != "" {
				continue
			}
			data, err := readSmall(tr)
			if err != nil {
				return nil, fmt.Errorf("read os-release: %w", err)
			}
			info.OSID, info.OSIDLike = parseOSRelease(data)
		case externallyManagedPattern.MatchString(p):
			info.ExternallyMgd = true
		}
	}

	return info, nil
}

func readSmall(r io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, maxMetadataFileSize))
}

// classifyRegistryError maps transport failures onto package sentinels while
// keeping the registry's own message.
func classifyRegistryError(ref string, err error) error {
	var terr *transport.Error
	if errors.As(err, &terr) {
		switch terr.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %s: %v", ErrNotFound, ref, err)
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %s: %v", ErrUnauthorized, ref, err)
		}
	}
	return fmt.Errorf("resolve %s: %w", ref, err)
}
