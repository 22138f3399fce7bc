package cryptoutil

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	configMagic = "SVC1"
	configVer   = uint16(1)
)

// EncryptConfig encrypts a config payload behind a small magic+version header.
func EncryptConfig(plain []byte, key []byte) ([]byte, error) {
	buf := &bytes.Buffer{}
	if _, err := buf.WriteString(configMagic); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.BigEndian, configVer); err != nil {
		return nil, err
	}
	gcm := aeadCipher{name: TypeAESGCM, newAEAD: newGCM}
	if err := gcm.Encrypt(bytes.NewReader(plain), buf, key); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecryptConfig decrypts a config payload.
func DecryptConfig(ciphertext []byte, key []byte) ([]byte, error) {
	if len(ciphertext) < 4+2 {
		return nil, fmt.Errorf("config cipher too short")
	}
	if string(ciphertext[:4]) != configMagic {
		return nil, fmt.Errorf("invalid config header")
	}
	ver := binary.BigEndian.Uint16(ciphertext[4:6])
	if ver != configVer {
		return nil, fmt.Errorf("unsupported config version %d", ver)
	}
	gcm := aeadCipher{name: TypeAESGCM, newAEAD: newGCM}
	out := &bytes.Buffer{}
	if err := gcm.Decrypt(bytes.NewReader(ciphertext[6:]), out, key); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
