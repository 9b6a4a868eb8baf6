package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	// KeyEnvVar holds the key used to encrypt secrets at rest.
	KeyEnvVar = "ZITADELHOST_SECRETS_KEY"

	encryptedHeader = "# ZITADELHOST_ENCRYPTED\n"
)

// Cipher encrypts stored values with AES-256-GCM. A nil Cipher stores plaintext.
type Cipher struct {
	key []byte
}

// NewCipher derives a 32-byte key from passphrase. Passphrases of exactly 32 bytes are
// used as they are.
func NewCipher(passphrase string) *Cipher {
	if passphrase == "" {
		return nil
	}
	if len(passphrase) == 32 {
		return &Cipher{key: []byte(passphrase)}
	}
	sum := sha256.Sum256([]byte(passphrase))
	return &Cipher{key: sum[:]}
}

// CipherFromEnv returns the Cipher configured through KeyEnvVar, or nil.
func CipherFromEnv() *Cipher {
	return NewCipher(os.Getenv(KeyEnvVar))
}

func (c *Cipher) Encrypt(content []byte) ([]byte, error) {
	if c == nil {
		return content, nil
	}

	gcm, err := c.gcm()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, content, nil)
	return []byte(encryptedHeader + base64.StdEncoding.EncodeToString(sealed) + "\n"), nil
}

// Decrypt returns content unchanged when it carries no encryption header.
func (c *Cipher) Decrypt(content []byte) ([]byte, error) {
	if !IsEncrypted(content) {
		return content, nil
	}
	if c == nil {
		return nil, fmt.Errorf("secret is encrypted but %s is not set", KeyEnvVar)
	}

	encoded := strings.TrimSpace(strings.TrimPrefix(string(content), encryptedHeader))
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode encrypted secret: %w", err)
	}

	gcm, err := c.gcm()
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(sealed) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt secret (wrong key?): %w", err)
	}
	return plaintext, nil
}

func (c *Cipher) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// IsEncrypted reports whether content was written by Encrypt.
func IsEncrypted(content []byte) bool {
	return strings.HasPrefix(string(content), encryptedHeader)
}
