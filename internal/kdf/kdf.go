// Package kdf turns a passphrase and a per-vault salt into a raw symmetric
// key. Algorithms are selected by permanent name so vaults created with an
// older default keep opening.
package kdf

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/spf13/cast"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/scrypt"

	"github.com/rowjay/secret-vault/internal/secure"
	"github.com/rowjay/secret-vault/internal/vaulterr"
)

const (
	TypeArgon2id = "argon2id/1"
	TypePBKDF2   = "pbkdf2-sha256/1"
	TypeScrypt   = "scrypt/1"

	// Default is the memory-hard algorithm used for new vaults.
	Default = TypeArgon2id

	KeySize     = 32
	SaltSize    = 32
	MinSaltSize = 16
)

// Deriver derives a key deterministically from (passphrase, salt) under
// fixed parameters.
type Deriver interface {
	Name() string
	Params() map[string]any
	DeriveKey(pass *secure.Buffer, salt []byte) ([]byte, error)
}

// Factory builds a Deriver from stored parameters; missing parameters take
// the algorithm defaults.
type Factory func(params map[string]any) (Deriver, error)

// Builtin returns the factories shipped with this build keyed by name.
func Builtin() map[string]Factory {
	return map[string]Factory{
		TypeArgon2id: newArgon2id,
		TypePBKDF2:   newPBKDF2,
		TypeScrypt:   newScrypt,
	}
}

// NewSalt returns SaltSize random bytes.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}

// EncodeSalt renders a salt in the base64 form stored in vault info.
func EncodeSalt(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// DecodeSalt parses a base64 salt and enforces the minimum length.
func DecodeSalt(s string) ([]byte, error) {
	salt, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, vaulterr.Invalid("salt is not valid base64: %v", err)
	}
	if len(salt) < MinSaltSize {
		return nil, vaulterr.Invalid("salt must be at least %d bytes, got %d", MinSaltSize, len(salt))
	}
	return salt, nil
}

func checkInputs(pass *secure.Buffer, salt []byte) error {
	if pass.Len() == 0 {
		return vaulterr.Invalid("passphrase is empty")
	}
	if len(salt) < MinSaltSize {
		return vaulterr.Invalid("salt must be at least %d bytes, got %d", MinSaltSize, len(salt))
	}
	return nil
}

type argon2idDeriver struct {
	time    uint32
	memory  uint32
	threads uint8
}

func newArgon2id(params map[string]any) (Deriver, error) {
	d := argon2idDeriver{time: 3, memory: 64 * 1024, threads: 4}
	var err error
	if v, ok := params["time"]; ok {
		if d.time, err = cast.ToUint32E(v); err != nil {
			return nil, vaulterr.Invalid("argon2id time: %v", err)
		}
	}
	if v, ok := params["memory"]; ok {
		if d.memory, err = cast.ToUint32E(v); err != nil {
			return nil, vaulterr.Invalid("argon2id memory: %v", err)
		}
	}
	if v, ok := params["threads"]; ok {
		if d.threads, err = cast.ToUint8E(v); err != nil {
			return nil, vaulterr.Invalid("argon2id threads: %v", err)
		}
	}
	if d.time == 0 || d.threads == 0 || d.memory < 8*uint32(d.threads) {
		return nil, vaulterr.Invalid("argon2id parameters out of range: time=%d memory=%d threads=%d", d.time, d.memory, d.threads)
	}
	return d, nil
}

func (d argon2idDeriver) Name() string { return TypeArgon2id }

func (d argon2idDeriver) Params() map[string]any {
	return map[string]any{"time": d.time, "memory": d.memory, "threads": d.threads}
}

func (d argon2idDeriver) DeriveKey(pass *secure.Buffer, salt []byte) ([]byte, error) {
	if err := checkInputs(pass, salt); err != nil {
		return nil, err
	}
	return argon2.IDKey(pass.Bytes(), salt, d.time, d.memory, d.threads, KeySize), nil
}

type pbkdf2Deriver struct {
	iterations int
}

func newPBKDF2(params map[string]any) (Deriver, error) {
	d := pbkdf2Deriver{iterations: 600000}
	if v, ok := params["iterations"]; ok {
		n, err := cast.ToIntE(v)
		if err != nil {
			return nil, vaulterr.Invalid("pbkdf2 iterations: %v", err)
		}
		d.iterations = n
	}
	if d.iterations < 1 {
		return nil, vaulterr.Invalid("pbkdf2 iterations must be positive")
	}
	return d, nil
}

func (d pbkdf2Deriver) Name() string { return TypePBKDF2 }

func (d pbkdf2Deriver) Params() map[string]any {
	return map[string]any{"iterations": d.iterations}
}

func (d pbkdf2Deriver) DeriveKey(pass *secure.Buffer, salt []byte) ([]byte, error) {
	if err := checkInputs(pass, salt); err != nil {
		return nil, err
	}
	return pbkdf2.Key(pass.Bytes(), salt, d.iterations, KeySize, sha256.New), nil
}

type scryptDeriver struct {
	n, r, p int
}

func newScrypt(params map[string]any) (Deriver, error) {
	d := scryptDeriver{n: 32768, r: 8, p: 1}
	for name, dst := range map[string]*int{"n": &d.n, "r": &d.r, "p": &d.p} {
		v, ok := params[name]
		if !ok {
			continue
		}
		n, err := cast.ToIntE(v)
		if err != nil {
			return nil, vaulterr.Invalid("scrypt %s: %v", name, err)
		}
		*dst = n
	}
	if d.n <= 1 || d.n&(d.n-1) != 0 || d.r < 1 || d.p < 1 {
		return nil, vaulterr.Invalid("scrypt parameters out of range: n=%d r=%d p=%d", d.n, d.r, d.p)
	}
	return d, nil
}

func (d scryptDeriver) Name() string { return TypeScrypt }

func (d scryptDeriver) Params() map[string]any {
	return map[string]any{"n": d.n, "r": d.r, "p": d.p}
}

func (d scryptDeriver) DeriveKey(pass *secure.Buffer, salt []byte) ([]byte, error) {
	if err := checkInputs(pass, salt); err != nil {
		return nil, err
	}
	key, err := scrypt.Key(pass.Bytes(), salt, d.n, d.r, d.p, KeySize)
	if err != nil {
		return nil, vaulterr.Invalid("scrypt: %v", err)
	}
	return key, nil
}
