package lock

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

type Lock struct {
	file *flock.Flock
}

// Acquire obtains a filesystem lock so only one process mutates vaults on
// this host at a time.
func Acquire(path string) (*Lock, error) {
	if path == "" {
		path = filepath.Join(os.TempDir(), "svault.lock")
	}
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("another vault operation is already running (lock: %s)", path)
	}
	return &Lock{file: lock}, nil
}

// Release frees the lock.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Unlock()
}
