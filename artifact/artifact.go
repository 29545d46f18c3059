// Package artifact moves training data and model artifacts between blob
// storage and the local filesystem.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/klejdi94/embedtune/artifact/s3blob"
)

// ErrUnsafePath is returned when an archive entry would be written outside the destination.
var ErrUnsafePath = errors.New("artifact: unsafe path in archive")

// ErrUnsupportedScheme is returned by ParseURI for schemes other than s3 and file.
var ErrUnsupportedScheme = errors.New("artifact: unsupported URI scheme")

// BlobStore is a minimal key-value store for S3-compatible backends and local directories.
// Get of a missing key returns an error matching fs.ErrNotExist.
type BlobStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, body []byte) error
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error
}

// Opener is implemented by stores that can stream an object.
type Opener interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

var (
	_ BlobStore = (*s3blob.Store)(nil)
	_ Opener    = (*s3blob.Store)(nil)
	_ BlobStore = (*FileStore)(nil)
	_ Opener    = (*FileStore)(nil)
)

// Location is a parsed artifact URI.
type Location struct {
	Scheme string // "s3" or "file"
	Bucket string // s3 only
	Key    string // object key, or a filesystem path for "file"
}

func (l Location) String() string {
	if l.Scheme == "s3" {
		return "s3://" + l.Bucket + "/" + l.Key
	}
	return "file://" + l.Key
}

// ParseURI parses s3://bucket/key, file:///path or a plain path.
func ParseURI(uri string) (Location, error) {
	if !strings.Contains(uri, "://") {
		if uri == "" {
			return Location{}, fmt.Errorf("artifact: empty URI")
		}
		return Location{Scheme: "file", Key: filepath.Clean(uri)}, nil
	}
	u, err := url.Parse(uri)
	if err != nil {
		return Location{}, fmt.Errorf("artifact: parse %q: %w", uri, err)
	}
	switch u.Scheme {
	case "s3":
		if u.Host == "" {
			return Location{}, fmt.Errorf("artifact: %q has no bucket", uri)
		}
		return Location{Scheme: "s3", Bucket: u.Host, Key: strings.TrimPrefix(u.Path, "/")}, nil
	case "file":
		return Location{Scheme: "file", Key: filepath.Clean(filepath.FromSlash(u.Host + u.Path))}, nil
	default:
		return Location{}, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
}

// Open returns a store for uri and the object key inside it. For s3 URIs the store
// covers the whole bucket; for file URIs it is rooted at the file's directory.
func Open(ctx context.Context, uri string, cfg s3blob.Config) (BlobStore, string, error) {
	loc, err := ParseURI(uri)
	if err != nil {
		return nil, "", err
	}
	if loc.Scheme == "s3" {
		store, err := s3blob.NewFromConfig(ctx, loc.Bucket, "", cfg)
		if err != nil {
			return nil, "", err
		}
		return store, loc.Key, nil
	}
	dir, file := filepath.Split(loc.Key)
	if dir == "" {
		dir = "."
	}
	return NewFileStore(dir), file, nil
}
