package assets

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"strings"
)

// DefaultPrefix is the URL path the client build directory is served under.
const DefaultPrefix = "/build/client/"

// Resolver maps a bundle name to the URL a page loads it from.
type Resolver interface {
	Asset(source string) string
}

type manifestResolver struct {
	manifest *Manifest
	prefix   string
}

// NewResolver creates a Resolver that looks names up in m and prepends
// prefix.
func NewResolver(m *Manifest, prefix string) Resolver {
	return &manifestResolver{
		manifest: m,
		prefix:   prefix,
	}
}

func (r *manifestResolver) Asset(source string) string {
	return r.prefix + r.manifest.Resolve(source)
}

type passthrough struct {
	prefix string
}

// NewPassthroughResolver creates a resolver for unfingerprinted builds: it
// only prepends prefix.
func NewPassthroughResolver(prefix string) Resolver {
	return &passthrough{prefix: prefix}
}

func (p *passthrough) Asset(source string) string {
	return p.prefix + source
}

// Open builds a Resolver from a manifest location. An empty location, or a
// local file that does not exist, yields a passthrough resolver. Locations
// starting with "s3://" are fetched with getter, which may be nil to use a
// client built from the environment.
func Open(ctx context.Context, location, prefix string, getter ObjectGetter) (Resolver, error) {
	if location == "" {
		return NewPassthroughResolver(prefix), nil
	}

	if strings.HasPrefix(location, "s3://") {
		bucket, key, err := ParseS3URL(location)
		if err != nil {
			return nil, err
		}
		if getter == nil {
			getter = NewS3Client(ctx, "", "")
		}
		m, err := LoadS3(ctx, getter, bucket, key)
		if err != nil {
			return nil, err
		}
		return NewResolver(m, prefix), nil
	}

	m, err := Load(location)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Warn("asset manifest not found, serving unfingerprinted bundles",
			"component", "assets", "path", location)
		return NewPassthroughResolver(prefix), nil
	}
	if err != nil {
		return nil, err
	}
	return NewResolver(m, prefix), nil
}
