// Package cryptox holds the symmetric and asymmetric primitives used by the
// session channel: AES-256-CBC for payloads and RSA-OAEP(SHA-256) to deliver
// the per-session secret during the handshake.
package cryptox

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/volunteerhub/internal/common"
)

const (
	keySize = 32
	ivSize  = aes.BlockSize
)

var (
	ErrInvalidSecret = errors.New("invalid secret")
	ErrInvalidKey    = errors.New("invalid key")
	ErrDecryption    = errors.New("decryption failed")
)

// GenerateSecret returns a fresh 256-bit key followed by a fresh 128-bit IV,
// hex encoded as one string (<key><iv>, 96 characters).
func GenerateSecret() (string, error) {
	key, err := common.MakeRandHexString(keySize)
	if err != nil {
		return "", err
	}
	iv, err := common.MakeRandHexString(ivSize)
	if err != nil {
		return "", err
	}
	return key + iv, nil
}

// DecodeSecret splits a secret produced by GenerateSecret into key and IV.
func DecodeSecret(secret string) (key, iv []byte, err error) {
	if len(secret) != 2*(keySize+ivSize) {
		return nil, nil, fmt.Errorf("%w: want %d hex chars, got %d", ErrInvalidSecret, 2*(keySize+ivSize), len(secret))
	}
	key, err = hex.DecodeString(secret[:2*keySize])
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidSecret, err)
	}
	iv, err = hex.DecodeString(secret[2*keySize:])
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidSecret, err)
	}
	return key, iv, nil
}

// Encrypt encrypts plaintext with AES-256-CBC and PKCS#7 padding and returns
// standard base64. The output is deterministic for a given secret, so a
// secret must never be shared between sessions.
func Encrypt(plaintext []byte, secret string) (string, error) {
	key, iv, err := DecodeSecret(secret)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSecret, err)
	}

	padded := pad(plaintext, aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)

	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt. Malformed input or a wrong secret yields an
// error wrapping ErrDecryption (or ErrInvalidSecret for a bad secret).
func Decrypt(ciphertext string, secret string) ([]byte, error) {
	key, iv, err := DecodeSecret(secret)
	if err != nil {
		return nil, err
	}

	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	if len(raw) == 0 || len(raw)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext is not a multiple of the block size", ErrDecryption)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSecret, err)
	}

	out := make([]byte, len(raw))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, raw)

	return unpad(out, aes.BlockSize)
}

func pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(bytes.Clone(b), bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(b []byte, size int) ([]byte, error) {
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, fmt.Errorf("%w: bad padding", ErrDecryption)
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, fmt.Errorf("%w: bad padding", ErrDecryption)
		}
	}
	return b[:len(b)-n], nil
}
