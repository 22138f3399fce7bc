//go:build !linux && !darwin && !freebsd

package secure

func lockMemory([]byte) error   { return nil }
func unlockMemory([]byte) error { return nil }
