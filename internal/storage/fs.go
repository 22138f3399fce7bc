package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

const partialSuffix = ".partial"

// FS stores objects as files on an afero filesystem. Object metadata is not
// persisted by this backend.
type FS struct {
	fs   afero.Fs
	name string
}

// NewLocal roots an FS at a directory on disk.
func NewLocal(basePath string) (*FS, error) {
	if basePath == "" {
		return nil, fmt.Errorf("local storage path is required")
	}
	if err := os.MkdirAll(basePath, 0o700); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	return &FS{fs: afero.NewBasePathFs(afero.NewOsFs(), basePath), name: "local"}, nil
}

// NewMemory returns a process-local FS, mainly for tests and dry runs.
func NewMemory() *FS {
	return &FS{fs: afero.NewMemMapFs(), name: "memory"}
}

func (f *FS) Name() string { return f.name }

func (f *FS) path(key string) string { return "/" + key }

func (f *FS) Put(ctx context.Context, key string, reader io.Reader, _ int64, _ map[string]string) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	if err := ValidateKey(key); err != nil {
		return err
	}
	target := f.path(key)
	if err := f.fs.MkdirAll(path.Dir(target), 0o700); err != nil {
		return unavailable("put", key, fmt.Errorf("create directories: %w", err))
	}

	tmp := target + partialSuffix
	file, err := f.fs.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return unavailable("put", key, err)
	}
	if _, err := io.Copy(file, reader); err != nil {
		_ = file.Close()
		_ = f.fs.Remove(tmp)
		return unavailable("put", key, err)
	}
	if err := file.Close(); err != nil {
		_ = f.fs.Remove(tmp)
		return unavailable("put", key, err)
	}
	if err := f.fs.Rename(tmp, target); err != nil {
		_ = f.fs.Remove(tmp)
		return unavailable("put", key, err)
	}
	return nil
}

func (f *FS) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	file, err := f.fs.Open(f.path(key))
	if err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return nil, notFound(key)
		}
		return nil, unavailable("get", key, err)
	}
	return file, nil
}

func (f *FS) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	if err := checkContext(ctx); err != nil {
		return ObjectInfo{}, err
	}
	if err := ValidateKey(key); err != nil {
		return ObjectInfo{}, err
	}
	info, err := f.fs.Stat(f.path(key))
	if err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return ObjectInfo{}, notFound(key)
		}
		return ObjectInfo{}, unavailable("stat", key, err)
	}
	return ObjectInfo{Key: key, Size: info.Size(), Modified: info.ModTime()}, nil
}

func (f *FS) List(ctx context.Context, prefix, delimiter string) ([]ObjectInfo, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	root := "/"
	if idx := strings.LastIndex(prefix, "/"); idx >= 0 {
		root = path.Clean("/" + prefix[:idx])
	}
	if ok, err := afero.DirExists(f.fs, root); err != nil {
		return nil, unavailable("list", prefix, err)
	} else if !ok {
		return []ObjectInfo{}, nil
	}

	infos := []ObjectInfo{}
	err := afero.Walk(f.fs, root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if errors.Is(err, iofs.ErrNotExist) {
				return nil
			}
			return err
		}
		if info.IsDir() || strings.HasSuffix(p, partialSuffix) {
			return nil
		}
		key := strings.TrimPrefix(filepath.ToSlash(p), "/")
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		infos = append(infos, ObjectInfo{Key: key, Size: info.Size(), Modified: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, unavailable("list", prefix, err)
	}
	return collapse(infos, prefix, delimiter), nil
}

func (f *FS) Delete(ctx context.Context, key string) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	if err := ValidateKey(key); err != nil {
		return err
	}
	err := f.fs.Remove(f.path(key))
	if err != nil && !errors.Is(err, iofs.ErrNotExist) {
		return unavailable("delete", key, err)
	}
	return nil
}

func (f *FS) Exists(ctx context.Context, key string) (bool, error) {
	if _, err := f.Stat(ctx, key); err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
