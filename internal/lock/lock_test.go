package lock

import (
	"path/filepath"
	"testing"
)

func TestAcquireIsExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "svault.lock")
	first, err := Acquire(path)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := Acquire(path); err == nil {
		t.Fatalf("second acquire should fail while held")
	}
	if err := first.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	again, err := Acquire(path)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	_ = again.Release()
}
