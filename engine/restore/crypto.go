package restore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
)

// DecryptField opens an AES-GCM sealed field with a custody-resolved key
func DecryptField(key, nonce, ciphertext []byte) ([]byte, error) {
	blockCipher, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("invalid key: %w", err)
	}

	gcm, err := cipher.NewGCM(blockCipher)
	if err != nil {
		return nil, fmt.Errorf("failed to build GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open ciphertext: %w", err)
	}
	return plaintext, nil
}

// EncryptField seals a field under AES-GCM. Used by export tooling and
// tests; restore only ever decrypts.
func EncryptField(key, plaintext []byte) (nonce, ciphertext []byte, err error) {
	blockCipher, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid key: %w", err)
	}

	gcm, err := cipher.NewGCM(blockCipher)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build GCM: %w", err)
	}

	nonce = make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return nonce, gcm.Seal(nil, nonce, plaintext, nil), nil
}
