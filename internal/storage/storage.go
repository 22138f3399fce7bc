// Package storage is the encryption-unaware object layer: hierarchical string
// keys mapped to opaque bytes. Failures are surfaced, never retried here.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/rowjay/secret-vault/internal/vaulterr"
)

type ObjectInfo struct {
	Key      string
	Size     int64
	Modified time.Time
	ETag     string
	Metadata map[string]string
	// IsPrefix marks a common prefix produced by a delimited listing.
	IsPrefix bool
}

type Storage interface {
	Name() string
	Put(ctx context.Context, key string, reader io.Reader, size int64, metadata map[string]string) error
	// Get returns an error matching vaulterr.ErrNotFound when the key is absent.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	// List returns objects whose key starts with prefix. A non-empty delimiter
	// collapses everything after the first delimiter into a common prefix.
	List(ctx context.Context, prefix, delimiter string) ([]ObjectInfo, error)
	// Delete removes key; deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// ServerSideEncrypter is implemented by backends that can encrypt objects
// natively with a key supplied per request (SSE-C).
type ServerSideEncrypter interface {
	SupportsSSEC() bool
	PutSSEC(ctx context.Context, key string, reader io.Reader, size int64, metadata map[string]string, encKey []byte) error
	GetSSEC(ctx context.Context, key string, encKey []byte) (io.ReadCloser, error)
}

func notFound(key string) error {
	return &vaulterr.ObjectError{Op: "get", Key: key, Err: vaulterr.ErrNotFound}
}

// IsNotFound reports whether err means the object is absent.
func IsNotFound(err error) bool {
	return errors.Is(err, vaulterr.ErrNotFound)
}

func unavailable(op, key string, err error) error {
	return &vaulterr.ObjectError{Op: op, Key: key, Err: fmt.Errorf("%w: %v", vaulterr.ErrStorageUnavailable, err)}
}

// ValidateKey rejects keys that are empty or not in canonical slash form.
func ValidateKey(key string) error {
	if key == "" {
		return vaulterr.Invalid("object key is empty")
	}
	if path.Clean("/"+key) != "/"+key {
		return vaulterr.Invalid("object key %q is not canonical", key)
	}
	return nil
}

func checkContext(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// collapse applies delimiter semantics to a flat, prefix-filtered listing and
// sorts the result by key.
func collapse(objects []ObjectInfo, prefix, delimiter string) []ObjectInfo {
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	if delimiter == "" {
		return objects
	}
	out := make([]ObjectInfo, 0, len(objects))
	seen := map[string]bool{}
	for _, obj := range objects {
		rest := strings.TrimPrefix(obj.Key, prefix)
		idx := strings.Index(rest, delimiter)
		if idx < 0 {
			out = append(out, obj)
			continue
		}
		common := prefix + rest[:idx+len(delimiter)]
		if seen[common] {
			continue
		}
		seen[common] = true
		out = append(out, ObjectInfo{Key: common, IsPrefix: true})
	}
	return out
}
