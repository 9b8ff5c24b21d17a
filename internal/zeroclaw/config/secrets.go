package config

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/zverozabr/zeroclaw/common/crypto"
)

// encryptedPrefix marks a field value as already encrypted. isEncrypted
// is a cheap prefix check so callers never attempt to decrypt plaintext
// or double-encrypt an already-encrypted value.
const encryptedPrefix = "zcenc:"

// SecretStore encrypts and decrypts the closed set of credential fields
// on Config at save/load time. Encryption is idempotent: encrypting an
// already-encrypted value or decrypting a plaintext value is a no-op.
type SecretStore struct {
	key []byte
}

// NewSecretStore builds a SecretStore from a 32-byte AES-256 key.
func NewSecretStore(key []byte) (*SecretStore, error) {
	if len(key) != crypto.KeySize {
		return nil, fmt.Errorf("config: secret store key must be %d bytes, got %d", crypto.KeySize, len(key))
	}
	return &SecretStore{key: key}, nil
}

// isEncrypted reports whether s already carries the encrypted-field
// sentinel prefix.
func isEncrypted(s string) bool {
	return strings.HasPrefix(s, encryptedPrefix)
}

// EncryptField encrypts a single plaintext value, returning it unchanged
// if it is empty or already encrypted.
func (s *SecretStore) EncryptField(plaintext string) (string, error) {
	if plaintext == "" || isEncrypted(plaintext) {
		return plaintext, nil
	}
	ciphertext, err := crypto.Encrypt(s.key, []byte(plaintext))
	if err != nil {
		return "", fmt.Errorf("config: encrypt secret: %w", err)
	}
	return encryptedPrefix + base64.StdEncoding.EncodeToString(ciphertext), nil
}

// DecryptField decrypts a single value, returning it unchanged if it is
// empty or not marked as encrypted.
func (s *SecretStore) DecryptField(value string) (string, error) {
	if value == "" || !isEncrypted(value) {
		return value, nil
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, encryptedPrefix))
	if err != nil {
		return "", fmt.Errorf("config: decode secret: %w", err)
	}
	plaintext, err := crypto.Decrypt(s.key, raw)
	if err != nil {
		return "", fmt.Errorf("config: decrypt secret: %w", err)
	}
	return string(plaintext), nil
}

// EncryptSecrets encrypts every field in Config's closed secret set, for
// use immediately before a save.
func (s *SecretStore) EncryptSecrets(c *Config) error {
	for _, field := range c.secretFields() {
		if *field == "" {
			continue
		}
		enc, err := s.EncryptField(*field)
		if err != nil {
			return err
		}
		*field = enc
	}
	return nil
}

// DecryptSecrets decrypts every field in Config's closed secret set, for
// use immediately after a load. Empty fields are skipped; a corrupt
// encrypted value fails the whole load rather than silently leaving an
// undecryptable value in place.
func (s *SecretStore) DecryptSecrets(c *Config) error {
	for _, field := range c.secretFields() {
		if *field == "" {
			continue
		}
		dec, err := s.DecryptField(*field)
		if err != nil {
			return fmt.Errorf("config: decrypt secrets: %w", err)
		}
		*field = dec
	}
	return nil
}
