package encryptor

import (
	"crypto/rand"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

const (
	saltSize  = 16
	nonceSize = chacha20poly1305.NonceSize
	keySize   = chacha20poly1305.KeySize
	scryptN   = 32768
	scryptR   = 8
	scryptP   = 1
)

var (
	// ErrEmptyPassword is returned when a sealer is created without a password.
	ErrEmptyPassword = errors.New("encryptor: empty password")
	// ErrTooShort is returned when sealed data cannot hold salt and nonce.
	ErrTooShort = errors.New("encryptor: ciphertext too short")
)

// Encryptor seals and opens part payloads. The additional data is
// authenticated but not encrypted.
type Encryptor interface {
	Seal(plaintext, additional []byte) ([]byte, error)
	Open(sealed, additional []byte) ([]byte, error)
}

// Sealer implements Encryptor with ChaCha20-Poly1305 and a scrypt derived key.
// The key for its own salt is derived once; keys for salts found in sealed
// data written by other sealers are cached.
type Sealer struct {
	password []byte
	salt     []byte

	mu   sync.Mutex
	keys map[string][]byte
}

var _ Encryptor = (*Sealer)(nil)

// NewSealer derives a key from password under a fresh random salt.
func NewSealer(password string) (*Sealer, error) {
	if password == "" {
		return nil, ErrEmptyPassword
	}
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	s := &Sealer{
		password: []byte(password),
		salt:     salt,
		keys:     make(map[string][]byte),
	}
	if _, err := s.key(salt); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Sealer) key(salt []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if key, ok := s.keys[string(salt)]; ok {
		return key, nil
	}
	key, err := scrypt.Key(s.password, salt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	s.keys[string(salt)] = key
	return key, nil
}

// Seal encrypts plaintext. The output is salt || nonce || ciphertext.
func (s *Sealer) Seal(plaintext, additional []byte) ([]byte, error) {
	key, err := s.key(s.salt)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AEAD cipher: %w", err)
	}

	out := make([]byte, saltSize+nonceSize, saltSize+nonceSize+len(plaintext)+aead.Overhead())
	copy(out, s.salt)
	if _, err := rand.Read(out[saltSize:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return aead.Seal(out, out[saltSize:], plaintext, additional), nil
}

// Open decrypts data produced by Seal with the same password.
func (s *Sealer) Open(sealed, additional []byte) ([]byte, error) {
	if len(sealed) < saltSize+nonceSize {
		return nil, ErrTooShort
	}
	salt := sealed[:saltSize]
	nonce := sealed[saltSize : saltSize+nonceSize]

	key, err := s.key(salt)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AEAD cipher: %w", err)
	}
	plaintext, err := aead.Open(nil, nonce, sealed[saltSize+nonceSize:], additional)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}
	return plaintext, nil
}
