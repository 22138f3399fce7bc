package util

import "testing"

func TestVaultKeys(t *testing.T) {
	id := "0b7c"
	if got := ManifestKey("/tenant/", id); got != "tenant/vaults/0b7c/manifest.json" {
		t.Fatalf("unexpected manifest key: %s", got)
	}
	if got := InfoKey("", id, 3); got != "vaults/0b7c/info/3" {
		t.Fatalf("unexpected info key: %s", got)
	}
	if got := IndexKey("p", id, 12); got != "p/vaults/0b7c/index/12" {
		t.Fatalf("unexpected index key: %s", got)
	}
	if got := SecretKey("p", id, "s1", 2); got != "p/vaults/0b7c/secrets/s1/2" {
		t.Fatalf("unexpected secret key: %s", got)
	}
	if got := VaultPrefix("", id); got != "vaults/0b7c/" {
		t.Fatalf("unexpected vault prefix: %s", got)
	}
}

func TestVaultIDFromPrefix(t *testing.T) {
	if got := VaultIDFromPrefix("p", "p/vaults/abc/"); got != "abc" {
		t.Fatalf("unexpected id: %s", got)
	}
}
