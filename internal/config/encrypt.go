package config

import (
	"fmt"
	"os"

	"github.com/rowjay/secret-vault/internal/cryptoutil"
)

// EncryptConfigFile encrypts a config file with the provided key. The output
// is readable by Load when its name ends in .enc.
func EncryptConfigFile(inputPath, outputPath, key string) error {
	if !isEncryptedPath(outputPath) {
		return fmt.Errorf("encrypted config %q must end in .enc or .encrypted", outputPath)
	}
	plain, err := os.ReadFile(inputPath)
	if err != nil {
		return err
	}
	defer cryptoutil.Zero(plain)
	parsed, err := cryptoutil.ParseKey(key)
	if err != nil {
		return err
	}
	defer cryptoutil.Zero(parsed)
	ciphertext, err := cryptoutil.EncryptConfig(plain, parsed)
	if err != nil {
		return err
	}
	return os.WriteFile(outputPath, ciphertext, 0o600)
}
