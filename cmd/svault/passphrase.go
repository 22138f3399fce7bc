package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/howeyc/gopass"

	"github.com/rowjay/secret-vault/internal/secure"
)

const passphraseEnv = "SVAULT_PASSPHRASE"

// readPassphrase takes the passphrase from SVAULT_PASSPHRASE or prompts for
// it without echo. The caller must Wipe the result.
func readPassphrase(confirm bool) (*secure.Buffer, error) {
	if env, ok := os.LookupEnv(passphraseEnv); ok {
		if env == "" {
			return nil, errors.New(passphraseEnv + " is set but empty")
		}
		return secure.FromString(env), nil
	}
	first, err := gopass.GetPasswdPrompt("Passphrase: ", true, os.Stdin, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("read passphrase: %w", err)
	}
	pass := secure.NewBuffer(first)
	if pass.Len() == 0 {
		pass.Wipe()
		return nil, errors.New("passphrase is empty")
	}
	if !confirm {
		return pass, nil
	}
	second, err := gopass.GetPasswdPrompt("Repeat passphrase: ", true, os.Stdin, os.Stderr)
	defer secure.Zero(second)
	if err != nil {
		pass.Wipe()
		return nil, fmt.Errorf("read passphrase: %w", err)
	}
	if !bytes.Equal(pass.Bytes(), second) {
		pass.Wipe()
		return nil, errors.New("passphrases do not match")
	}
	return pass, nil
}

// readField prompts for a single hidden value such as a password field.
func readField(name string) (string, error) {
	b, err := gopass.GetPasswdPrompt(name+": ", true, os.Stdin, os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", name, err)
	}
	defer secure.Zero(b)
	return string(b), nil
}
