package kdf

import (
	"bytes"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/rowjay/secret-vault/internal/secure"
	"github.com/rowjay/secret-vault/internal/vaulterr"
)

// fastParams keeps the tests quick while exercising every algorithm.
var fastParams = map[string]map[string]any{
	TypeArgon2id: {"time": 1, "memory": 1024, "threads": 1},
	TypePBKDF2:   {"iterations": 1000},
	TypeScrypt:   {"n": 1024, "r": 8, "p": 1},
}

func derive(t *testing.T, d Deriver, pass string, salt []byte) []byte {
	buf := secure.FromString(pass)
	defer buf.Wipe()
	key, err := d.DeriveKey(buf, salt)
	if err != nil {
		t.Fatalf("%s derive: %v", d.Name(), err)
	}
	return key
}

func TestDeriveDeterministic(t *testing.T) {
	salt, err := NewSalt()
	if err != nil {
		t.Fatalf("salt: %v", err)
	}
	for name, factory := range Builtin() {
		d, err := factory(fastParams[name])
		if err != nil {
			t.Fatalf("new %s: %v", name, err)
		}
		a := derive(t, d, "Passw0rd!", salt)
		b := derive(t, d, "Passw0rd!", salt)
		if len(a) != KeySize {
			t.Fatalf("%s: key length %d", name, len(a))
		}
		if !bytes.Equal(a, b) {
			t.Fatalf("%s: derivation is not deterministic", name)
		}
	}
}

func TestDeriveSaltAndPassphraseSensitive(t *testing.T) {
	saltA, _ := NewSalt()
	saltB, _ := NewSalt()
	for name, factory := range Builtin() {
		d, err := factory(fastParams[name])
		if err != nil {
			t.Fatalf("new %s: %v", name, err)
		}
		base := derive(t, d, "Passw0rd!", saltA)
		if bytes.Equal(base, derive(t, d, "Passw0rd!", saltB)) {
			t.Fatalf("%s: different salts produced the same key", name)
		}
		if bytes.Equal(base, derive(t, d, "Passw0rd?", saltA)) {
			t.Fatalf("%s: different passphrases produced the same key", name)
		}
	}
}

func TestParamsRoundTrip(t *testing.T) {
	salt, _ := NewSalt()
	for name, factory := range Builtin() {
		d, err := factory(fastParams[name])
		if err != nil {
			t.Fatalf("new %s: %v", name, err)
		}
		// params come back from JSON as float64
		stored := map[string]any{}
		for k, v := range d.Params() {
			switch n := v.(type) {
			case uint32:
				stored[k] = float64(n)
			case uint8:
				stored[k] = float64(n)
			case int:
				stored[k] = float64(n)
			}
		}
		again, err := factory(stored)
		if err != nil {
			t.Fatalf("rebuild %s: %v", name, err)
		}
		if !bytes.Equal(derive(t, d, "pw", salt), derive(t, again, "pw", salt)) {
			t.Fatalf("%s: rebuilt deriver disagrees", name)
		}
	}
}

func TestDeriveInvalidInputs(t *testing.T) {
	d, err := newPBKDF2(fastParams[TypePBKDF2])
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	salt, _ := NewSalt()
	empty := secure.NewBuffer(nil)
	if _, err := d.DeriveKey(empty, salt); !errors.Is(err, vaulterr.ErrInvalidArgument) {
		t.Fatalf("empty passphrase: expected ErrInvalidArgument, got %v", err)
	}
	pass := secure.FromString("pw")
	defer pass.Wipe()
	if _, err := d.DeriveKey(pass, []byte("short")); !errors.Is(err, vaulterr.ErrInvalidArgument) {
		t.Fatalf("short salt: expected ErrInvalidArgument, got %v", err)
	}
	if _, err := DecodeSalt("%%%"); !errors.Is(err, vaulterr.ErrInvalidArgument) {
		t.Fatalf("bad base64: expected ErrInvalidArgument, got %v", err)
	}
	if _, err := DecodeSalt(base64.StdEncoding.EncodeToString([]byte("tiny"))); !errors.Is(err, vaulterr.ErrInvalidArgument) {
		t.Fatalf("tiny salt: expected ErrInvalidArgument, got %v", err)
	}
	if _, err := newScrypt( map[string]any{"n": 1000}); !errors.Is(err, vaulterr.ErrInvalidArgument) {
		t.Fatalf("scrypt n not power of two: expected ErrInvalidArgument, got %v", err)
	}
}
