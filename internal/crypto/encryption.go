package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// sealedPrefix marks a journal text as encrypted at rest
const sealedPrefix = "enc:v1:"

const keyInfo = "daybook-journal-responses"

// JournalSealer encrypts journal response text with a per-user AES-256-GCM
// key derived from the master key.
type JournalSealer struct {
	masterKey []byte
}

// NewJournalSealer parses a 32-byte hex master key (64 characters)
func NewJournalSealer(masterKeyHex string) (*JournalSealer, error) {
	if masterKeyHex == "" {
		return nil, errors.New("encryption master key is required")
	}

	masterKey, err := hex.DecodeString(masterKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid master key format (must be hex): %w", err)
	}
	if len(masterKey) != 32 {
		return nil, fmt.Errorf("master key must be 32 bytes (64 hex characters), got %d bytes", len(masterKey))
	}

	return &JournalSealer{masterKey: masterKey}, nil
}

func (s *JournalSealer) aead(userID string) (cipher.AEAD, error) {
	if userID == "" {
		return nil, errors.New("user ID is required for key derivation")
	}

	userKey := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, s.masterKey, []byte(userID), []byte(keyInfo)), userKey); err != nil {
		return nil, fmt.Errorf("failed to derive user key: %w", err)
	}

	block, err := aes.NewCipher(userKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// IsSealed reports whether text carries the encrypted marker
func IsSealed(text string) bool {
	return strings.HasPrefix(text, sealedPrefix)
}

// SealAll encrypts each text for userID. Empty texts stay empty.
func (s *JournalSealer) SealAll(userID string, texts []string) ([]string, error) {
	gcm, err := s.aead(userID)
	if err != nil {
		return nil, err
	}

	out := make([]string, len(texts))
	for i, text := range texts {
		if text == "" || IsSealed(text) {
			out[i] = text
			continue
		}

		nonce := make([]byte, gcm.NonceSize())
		if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
			return nil, fmt.Errorf("failed to generate nonce: %w", err)
		}
		// userID is bound as additional data so ciphertexts cannot move between users
		sealed := gcm.Seal(nonce, nonce, []byte(text), []byte(userID))
		out[i] = sealedPrefix + base64.StdEncoding.EncodeToString(sealed)
	}
	return out, nil
}

// OpenAll decrypts texts sealed by SealAll. Unsealed texts pass through.
func (s *JournalSealer) OpenAll(userID string, texts []string) ([]string, error) {
	gcm, err := s.aead(userID)
	if err != nil {
		return nil, err
	}

	out := make([]string, len(texts))
	for i, text := range texts {
		if !IsSealed(text) {
			out[i] = text
			continue
		}

		raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(text, sealedPrefix))
		if err != nil {
			return nil, fmt.Errorf("failed to decode ciphertext: %w", err)
		}
		if len(raw) < gcm.NonceSize() {
			return nil, errors.New("ciphertext too short")
		}

		nonce, ciphertext := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
		plain, err := gcm.Open(nil, nonce, ciphertext, []byte(userID))
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt: %w", err)
		}
		out[i] = string(plain)
	}
	return out, nil
}

// GenerateMasterKey returns a random hex master key for setup
func GenerateMasterKey() (string, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}
	return hex.EncodeToString(key), nil
}
