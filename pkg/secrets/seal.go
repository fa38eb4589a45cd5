package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	nonceSize = 24
	saltSize  = 16
	keySize   = 32
)

// sealer encrypts values with nacl secretbox. Each value gets its own random salt, the box key derived
// from the master key and the salt with argon2id. Sealed form is base64(nonce|salt|box).
type sealer struct {
	key []byte
}

func (s sealer) seal(plain string) (string, error) {
	out := make([]byte, nonceSize+saltSize, nonceSize+saltSize+len(plain)+secretbox.Overhead)
	if _, err := io.ReadFull(rand.Reader, out); err != nil {
		return "", fmt.Errorf("can't make nonce and salt: %w", err)
	}
	var nonce [nonceSize]byte
	copy(nonce[:], out[:nonceSize])
	boxKey := s.boxKey(out[nonceSize : nonceSize+saltSize])
	sealed := secretbox.Seal(out, []byte(plain), &nonce, boxKey)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (s sealer) open(encoded string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("can't decode sealed value: %w", err)
	}
	if len(data) < nonceSize+saltSize+secretbox.Overhead {
		return "", errors.New("sealed value too short")
	}
	var nonce [nonceSize]byte
	copy(nonce[:], data[:nonceSize])
	boxKey := s.boxKey(data[nonceSize : nonceSize+saltSize])
	plain, ok := secretbox.Open(nil, data[nonceSize+saltSize:], &nonce, boxKey)
	if !ok {
		return "", errors.New("can't open sealed value, wrong key or corrupted data")
	}
	return string(plain), nil
}

// boxKey derives key with argon2id, 1 pass over 64MiB with 4 threads
func (s sealer) boxKey(salt []byte) *[keySize]byte {
	res := new([keySize]byte)
	copy(res[:], argon2.IDKey(s.key, salt, 1, 64*1024, 4, keySize))
	return res
}
