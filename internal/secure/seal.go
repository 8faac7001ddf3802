// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package secure

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/crypto/pbkdf2"

	"github.com/moneyrudh/healio/internal/util"
)

// =============================================================================
// CONSTANTS
// =============================================================================

// EncryptedPrefix marks a value as sealed (format: ENC:base64(nonce|ciphertext|tag))
const EncryptedPrefix = "ENC:"

// NonceSize is the size of the nonce/IV for AES-GCM (12 bytes / 96 bits)
const NonceSize = 12

// KeySize is the size of the AES-256 key (32 bytes / 256 bits)
const KeySize = 32

// SaltSize is the size of the salt for key derivation (32 bytes)
const SaltSize = 32

// PBKDF2Iterations is the number of iterations for PBKDF2 key derivation.
// OWASP 2023 recommends 600,000+ for PBKDF2-SHA-256 to provide adequate
// resistance against brute force with modern hardware.
const PBKDF2Iterations = 600000

// maxTrackedNonces bounds the nonce-reuse tracking map.
const maxTrackedNonces = 10000

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotInitialized indicates no sealing key is available
	ErrNotInitialized = errors.New("sealing not initialized: no key available")
	// ErrInvalidCiphertext indicates the ciphertext format is invalid
	ErrInvalidCiphertext = errors.New("invalid ciphertext format")
	// ErrUnsealFailed indicates unsealing failed (wrong key or tampered data)
	ErrUnsealFailed = errors.New("unseal failed: authentication tag mismatch")
	// ErrBadKeyFile indicates the key file exists but is malformed
	ErrBadKeyFile = errors.New("key file is malformed")
)

// =============================================================================
// HELPERS
// =============================================================================

// ZeroBytes securely zeros sensitive byte slices to prevent memory disclosure.
// SECURITY: Zero key material to prevent memory disclosure via crash dumps.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// GenerateKey generates a cryptographically secure random sealing key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate sealing key: %w", err)
	}
	return key, nil
}

// GenerateSalt generates a cryptographically secure random salt.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

// DeriveKey derives a sealing key from a passphrase and salt using
// PBKDF2-SHA-256 (NIST SP 800-132).
func DeriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, PBKDF2Iterations, KeySize, sha256.New)
}

// IsSealed checks if a string value is sealed (has the ENC: prefix).
func IsSealed(value string) bool {
	return strings.HasPrefix(value, EncryptedPrefix)
}

// =============================================================================
// SEALER
// =============================================================================

// SealStatus describes the state of a Sealer for diagnostics.
type SealStatus struct {
	Initialized     bool   `json:"initialized"`
	Algorithm       string `json:"algorithm"`      // "AES-256-GCM"
	KeyDerivation   string `json:"key_derivation"` // "PBKDF2-SHA-256" or "random"
	KeyPath         string `json:"key_path"`
	PassphraseBased bool   `json:"passphrase_based"`
}

// Sealer seals and unseals archive values with AES-256-GCM.
type Sealer struct {
	mu           sync.RWMutex
	aead         cipher.AEAD
	keyPath      string
	passphrase   bool
	nonceCounter uint64
	usedNonces   map[string]bool
}

// NewSealer creates a sealer backed by a key file. If the file exists its
// key is loaded; a present-but-broken key file is a hard error, because
// writing with a fresh key would fork the archive. A missing file leaves
// the sealer uninitialized until Init is called.
func NewSealer(keyPath string) (*Sealer, error) {
	s := &Sealer{
		keyPath:    keyPath,
		usedNonces: make(map[string]bool),
	}

	if _, err := os.Stat(keyPath); err == nil {
		if err := s.loadKey(); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// NewSealerWithPassphrase creates a sealer whose key is derived from a
// passphrase. Only the salt is persisted (at keyPath + ".salt"); the key
// itself never touches disk. A wrong passphrase is not detected here - it
// surfaces as ErrUnsealFailed when reading previously sealed data.
func NewSealerWithPassphrase(keyPath, passphrase string) (*Sealer, error) {
	s := &Sealer{
		keyPath:    keyPath,
		passphrase: true,
		usedNonces: make(map[string]bool),
	}

	saltPath := keyPath + ".salt"
	salt, err := os.ReadFile(saltPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read salt file: %w", err)
		}
		salt, err = GenerateSalt()
		if err != nil {
			return nil, err
		}
		// RELIABILITY: Atomic write with fsync prevents data loss on crash
		if err := util.AtomicWriteFileWithDir(saltPath, salt, 0600, 0700); err != nil {
			return nil, fmt.Errorf("failed to save salt: %w", err)
		}
	}
	if len(salt) != SaltSize {
		return nil, fmt.Errorf("%w: salt is %d bytes, want %d", ErrBadKeyFile, len(salt), SaltSize)
	}

	key := DeriveKey(passphrase, salt)
	// SECURITY: Zero key material to prevent memory disclosure
	defer ZeroBytes(key)

	if err := s.initCipher(key); err != nil {
		return nil, err
	}

	return s, nil
}

// Init generates a fresh random key, persists it to the key file with 0600
// permissions and initializes the cipher. Calling Init on an initialized
// sealer is a no-op.
func (s *Sealer) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.aead != nil {
		return nil
	}

	key, err := GenerateKey()
	if err != nil {
		return err
	}
	// SECURITY: Zero key material to prevent memory disclosure
	defer ZeroBytes(key)

	// RELIABILITY: Atomic write with fsync prevents data loss on crash
	if err := util.AtomicWriteFileWithDir(s.keyPath, key, 0600, 0700); err != nil {
		return fmt.Errorf("failed to store sealing key: %w", err)
	}

	if err := s.initCipherLocked(key); err != nil {
		_ = os.Remove(s.keyPath)
		return err
	}

	return nil
}

// loadKey loads the sealing key from the key file and initializes the cipher.
func (s *Sealer) loadKey() error {
	// SECURITY: Key files should be 0600; fix overly permissive modes.
	if info, err := os.Stat(s.keyPath); err == nil {
		if mode := info.Mode().Perm(); mode != 0600 {
			if err := os.Chmod(s.keyPath, 0600); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: could not fix key file permissions (was %o): %v\n", mode, err)
			}
		}
	}

	key, err := os.ReadFile(s.keyPath)
	if err != nil {
		return fmt.Errorf("failed to read key file: %w", err)
	}
	// SECURITY: Zero key material to prevent memory disclosure
	defer ZeroBytes(key)

	if len(key) != KeySize {
		return fmt.Errorf("%w: key is %d bytes, want %d", ErrBadKeyFile, len(key), KeySize)
	}

	return s.initCipher(key)
}

// initCipher initializes the AES-GCM cipher with the given key.
func (s *Sealer) initCipher(key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initCipherLocked(key)
}

func (s *Sealer) initCipherLocked(key []byte) error {
	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("failed to create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("failed to create GCM cipher: %w", err)
	}

	s.aead = gcm
	return nil
}

// IsInitialized returns true if a sealing key is loaded.
func (s *Sealer) IsInitialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.aead != nil
}

// Status returns the current sealing status for diagnostics.
func (s *Sealer) Status() SealStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	kd := "random"
	if s.passphrase {
		kd = "PBKDF2-SHA-256"
	}
	return SealStatus{
		Initialized:     s.aead != nil,
		Algorithm:       "AES-256-GCM",
		KeyDerivation:   kd,
		KeyPath:         s.keyPath,
		PassphraseBased: s.passphrase,
	}
}

// =============================================================================
// SEAL / UNSEAL
// =============================================================================

// generateUniqueNonce combines a counter with random data so nonces stay
// unique even if rand.Reader misbehaves. The tracking map is defense in
// depth; the counter prefix already guarantees uniqueness, so dropping
// history past the cap is safe.
func (s *Sealer) generateUniqueNonce() ([]byte, error) {
	const maxAttempts = 10

	for attempt := 0; attempt < maxAttempts; attempt++ {
		nonce := make([]byte, NonceSize)

		// First 8 bytes: counter (ensures uniqueness)
		s.nonceCounter++
		for i := 0; i < 8; i++ {
			nonce[i] = byte(s.nonceCounter >> (i * 8))
		}

		// Remaining bytes: random data (ensures unpredictability)
		if _, err := io.ReadFull(rand.Reader, nonce[8:]); err != nil {
			for i := 8; i < NonceSize; i++ {
				nonce[i] = byte((s.nonceCounter >> ((i - 8) * 8)) ^ 0xFF)
			}
		}

		nonceStr := string(nonce)
		if !s.usedNonces[nonceStr] {
			s.usedNonces[nonceStr] = true
			if len(s.usedNonces) > maxTrackedNonces {
				s.usedNonces = make(map[string]bool, maxTrackedNonces/2)
				s.usedNonces[nonceStr] = true
			}
			return nonce, nil
		}
	}

	return nil, fmt.Errorf("failed to generate unique nonce after %d attempts", maxAttempts)
}

// Seal encrypts plaintext using AES-256-GCM.
// Returns: nonce || ciphertext || tag
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.aead == nil {
		return nil, ErrNotInitialized
	}

	nonce, err := s.generateUniqueNonce()
	if err != nil {
		return nil, err
	}

	return s.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Unseal decrypts data produced by Seal.
// Input format: nonce || ciphertext || tag
func (s *Sealer) Unseal(data []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.aead == nil {
		return nil, ErrNotInitialized
	}

	if len(data) < NonceSize {
		return nil, ErrInvalidCiphertext
	}

	nonce := data[:NonceSize]
	ciphertext := data[NonceSize:]

	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrUnsealFailed
	}

	return plaintext, nil
}

// SealString seals a string and returns base64-encoded ciphertext with the
// ENC: prefix. Already-sealed values are returned unchanged.
func (s *Sealer) SealString(plaintext string) (string, error) {
	if IsSealed(plaintext) {
		return plaintext, nil
	}

	ciphertext, err := s.Seal([]byte(plaintext))
	if err != nil {
		return "", err
	}
	return EncryptedPrefix + base64.StdEncoding.EncodeToString(ciphertext), nil
}

// UnsealString unseals a base64-encoded string with the ENC: prefix.
// Values without the prefix are returned as-is, so plaintext written before
// sealing was enabled stays readable.
func (s *Sealer) UnsealString(value string) (string, error) {
	if !IsSealed(value) {
		return value, nil
	}

	encoded := strings.TrimPrefix(value, EncryptedPrefix)
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("invalid base64 encoding: %w", err)
	}

	plaintext, err := s.Unseal(data)
	if err != nil {
		return "", err
	}

	return string(plaintext), nil
}
