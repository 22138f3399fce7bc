package util

import (
	"path"
	"strconv"
	"strings"
)

const vaultsDir = "vaults"

// VaultsPrefix is the listing prefix that holds one directory per vault.
func VaultsPrefix(prefix string) string {
	return joinKey(prefix, vaultsDir) + "/"
}

// VaultPrefix is the prefix under which every object of one vault lives.
func VaultPrefix(prefix, vaultID string) string {
	return joinKey(prefix, vaultsDir, vaultID) + "/"
}

// ManifestKey is the plaintext manifest of a vault.
func ManifestKey(prefix, vaultID string) string {
	return joinKey(prefix, vaultsDir, vaultID, "manifest.json")
}

// InfoKey is the encrypted vault info written at revision rev.
func InfoKey(prefix, vaultID string, rev int) string {
	return joinKey(prefix, vaultsDir, vaultID, "info", strconv.Itoa(rev))
}

// IndexKey is the encrypted vault index written at revision rev.
func IndexKey(prefix, vaultID string, rev int) string {
	return joinKey(prefix, vaultsDir, vaultID, "index", strconv.Itoa(rev))
}

// SecretKey is the encrypted payload of secretID written at revision rev.
func SecretKey(prefix, vaultID, secretID string, rev int) string {
	return joinKey(prefix, vaultsDir, vaultID, "secrets", secretID, strconv.Itoa(rev))
}

// VaultIDFromPrefix extracts the vault id from a common prefix returned by a
// delimiter listing of VaultsPrefix.
func VaultIDFromPrefix(prefix, common string) string {
	rest := strings.TrimPrefix(common, VaultsPrefix(prefix))
	return strings.Trim(rest, "/")
}

func joinKey(prefix string, parts ...string) string {
	all := make([]string, 0, len(parts)+1)
	if p := strings.Trim(prefix, "/"); p != "" {
		all = append(all, p)
	}
	all = append(all, parts...)
	return path.Join(all...)
}
