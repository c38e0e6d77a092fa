package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"

	"sourcekit/internal/domain"
)

const encPrefix = "enc:"

// SaltSize is the length of keychain salts.
const SaltSize = 16

// Keychain seals credential values stored by extensions with AES-256-GCM.
// The key is derived from a passphrase via Argon2id and held only in memory.
// The salt must be persisted by the caller so sealed values survive restarts.
type Keychain struct {
	mu  sync.RWMutex
	key []byte // 32 bytes
}

// NewSalt returns a fresh random salt.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}

// NewKeychain derives the sealing key from passphrase and salt.
// Returns error if passphrase is empty.
func NewKeychain(passphrase string, salt []byte) (*Keychain, error) {
	if passphrase == "" {
		return nil, domain.NewDomainError("NewKeychain", domain.ErrInvalidInput, "passphrase must not be empty")
	}
	if len(salt) != SaltSize {
		return nil, domain.NewDomainError("NewKeychain", domain.ErrInvalidInput, fmt.Sprintf("salt must be %d bytes", SaltSize))
	}
	return &Keychain{key: argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)}, nil
}

func (k *Keychain) aead() (cipher.AEAD, error) {
	k.mu.RLock()
	key := make([]byte, len(k.key))
	copy(key, k.key)
	k.mu.RUnlock()

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

// Seal encrypts plaintext and returns "enc:" + base64(nonce + ciphertext).
// additional binds the ciphertext to its storage slot so a sealed value
// copied under another extension or key fails to open.
func (k *Keychain) Seal(plaintext, additional string) (string, error) {
	gcm, err := k.aead()
	if err != nil {
		return "", domain.NewDomainError("Keychain.Seal", domain.ErrEncryption, err.Error())
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", domain.NewDomainError("Keychain.Seal", domain.ErrEncryption, err.Error())
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), []byte(additional))
	return encPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a sealed value. Values without the "enc:" prefix were stored
// before a passphrase was configured and are returned as-is.
func (k *Keychain) Open(value, additional string) (string, error) {
	if !IsSealed(value) {
		return value, nil
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, encPrefix))
	if err != nil {
		return "", domain.NewDomainError("Keychain.Open", domain.ErrDecryption, "base64: "+err.Error())
	}

	gcm, err := k.aead()
	if err != nil {
		return "", domain.NewDomainError("Keychain.Open", domain.ErrDecryption, err.Error())
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", domain.NewDomainError("Keychain.Open", domain.ErrDecryption, "ciphertext too short")
	}

	plaintext, err := gcm.Open(nil, data[:nonceSize], data[nonceSize:], []byte(additional))
	if err != nil {
		return "", domain.NewDomainError("Keychain.Open", domain.ErrDecryption, err.Error())
	}
	return string(plaintext), nil
}

// IsSealed checks if a string has the "enc:" prefix.
func IsSealed(s string) bool {
	return strings.HasPrefix(s, encPrefix)
}

// Zeroize clears the key bytes from memory. Call on shutdown.
func (k *Keychain) Zeroize() {
	k.mu.Lock()
	defer k.mu.Unlock()
	for i := range k.key {
		k.key[i] = 0
	}
}
