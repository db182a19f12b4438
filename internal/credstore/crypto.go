package credstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/hkdf"
)

const (
	// masterSecretLen is the size of the machine-local master secret.
	masterSecretLen = 32

	// hkdfKeyLen is the output length for HKDF-derived subkeys (32 bytes / 256 bits).
	hkdfKeyLen = 32

	// sealInfo is the HKDF info parameter binding the derived key to
	// its purpose. Changing it invalidates every sealed record.
	sealInfo = "GantryCredentialSeal"
)

// sealer encrypts and decrypts credential records with AES-256-GCM
// under a key derived from the master secret via HKDF-SHA256.
// Records are stored as [12-byte IV][ciphertext+GCM tag].
type sealer struct {
	gcm cipher.AEAD
}

// newSealer derives the sealing key from a 32-byte master secret and
// builds the AEAD. The derived key material is zeroed before returning.
func newSealer(masterSecret []byte) (*sealer, error) {
	if len(masterSecret) != masterSecretLen {
		return nil, fmt.Errorf("invalid master secret length %d: expected %d bytes", len(masterSecret), masterSecretLen)
	}

	key, err := hkdfDeriveKey(masterSecret, nil, []byte(sealInfo), hkdfKeyLen)
	if err != nil {
		return nil, fmt.Errorf("deriving sealing key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	// The cipher retains its own copy of the key.
	ZeroKey(key)

	return &sealer{gcm: gcm}, nil
}

// ZeroKey overwrites the key material in the given slice. Call this as
// soon as the bytes have been handed to a cipher to limit the window
// during which raw key bytes are accessible in memory.
func ZeroKey(key []byte) {
	for i := range key {
		key[i] = 0
	}
}

// seal encrypts plaintext with a random IV.
// Returns [12-byte IV][ciphertext+GCM tag].
func (s *sealer) seal(plaintext []byte) ([]byte, error) {
	iv := make([]byte, s.gcm.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("generating IV: %w", err)
	}

	ciphertext := s.gcm.Seal(nil, iv, plaintext, nil)
	result := make([]byte, len(iv)+len(ciphertext))
	copy(result, iv)
	copy(result[len(iv):], ciphertext)

	return result, nil
}

// open decrypts a sealed record.
func (s *sealer) open(data []byte) ([]byte, error) {
	nonceSize := s.gcm.NonceSize()
	if len(data) <= nonceSize {
		return nil, fmt.Errorf("sealed record too short: %d bytes", len(data))
	}

	plaintext, err := s.gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("unsealing: %w", err)
	}

	return plaintext, nil
}

// hkdfDeriveKey derives keyLen bytes using HKDF-SHA256 with the given
// IKM, salt, and info parameters.
func hkdfDeriveKey(ikm, salt, info []byte, keyLen int) ([]byte, error) {
	r := hkdf.New(sha256.New, ikm, salt, info)

	out := make([]byte, keyLen)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}

	return out, nil
}

// loadOrCreateMasterSecret reads the master secret file, generating a
// fresh one on first use. The file is written with owner-only access.
func loadOrCreateMasterSecret(path string) ([]byte, error) {
	secret, err := os.ReadFile(path)

	switch {
	case err == nil:
		if len(secret) != masterSecretLen {
			return nil, fmt.Errorf("master key file holds %d bytes: expected %d", len(secret), masterSecretLen)
		}

		return secret, nil
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("reading master key: %w", err)
	}

	secret = make([]byte, masterSecretLen)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generating master key: %w", err)
	}

	if err := os.WriteFile(path, secret, storeFilePerm); err != nil {
		return nil, fmt.Errorf("writing master key: %w", err)
	}

	return secret, nil
}
