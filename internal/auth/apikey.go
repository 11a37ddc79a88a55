// Package auth provides API key generation and verification for the
// inventory API server. Keys are handed out once and only their bcrypt
// hashes are kept in configuration.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// API key generation and validation constants
const (
	// APIKeyLength is the length of the random part of an API key
	APIKeyLength = 32
	// APIKeyPrefix is the standard prefix for all API keys
	APIKeyPrefix = "ik"

	// BcryptCost is the bcrypt cost for hashing API keys
	BcryptCost = 12
	// BcryptMaxInputLength is the maximum input length for bcrypt (72 bytes)
	BcryptMaxInputLength = 72

	displayChars = 8
	minKeyLength = 15
	maxKeyLength = 50
)

// GeneratedAPIKey is a new API key together with the hash to configure.
type GeneratedAPIKey struct {
	Key           string `json:"key"`
	Hash          string `json:"hash"`
	DisplayPrefix string `json:"display_prefix"`
}

// GenerateAPIKey creates a random API key and its bcrypt hash.
func GenerateAPIKey() (*GeneratedAPIKey, error) {
	randomBytes := make([]byte, APIKeyLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return nil, fmt.Errorf("failed to generate random key: %w", err)
	}

	// base32 has no ambiguous characters
	randomPart := strings.ToLower(base32.StdEncoding.EncodeToString(randomBytes))
	if len(randomPart) > APIKeyLength {
		randomPart = randomPart[:APIKeyLength]
	}
	key := APIKeyPrefix + "_" + randomPart

	hash, err := HashAPIKey(key)
	if err != nil {
		return nil, err
	}

	return &GeneratedAPIKey{
		Key:           key,
		Hash:          hash,
		DisplayPrefix: CreateDisplayPrefix(key),
	}, nil
}

// HashAPIKey creates a bcrypt hash of an API key.
func HashAPIKey(apiKey string) (string, error) {
	if apiKey == "" {
		return "", fmt.Errorf("API key cannot be empty")
	}

	hash, err := bcrypt.GenerateFromPassword(bcryptInput(apiKey), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash API key: %w", err)
	}
	return string(hash), nil
}

// ValidateAPIKey reports whether apiKey matches storedHash.
func ValidateAPIKey(apiKey, storedHash string) bool {
	if apiKey == "" || storedHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(storedHash), bcryptInput(apiKey)) == nil
}

// bcrypt ignores input past 72 bytes, so longer keys are pre-hashed.
func bcryptInput(apiKey string) []byte {
	b := []byte(apiKey)
	if len(b) > BcryptMaxInputLength {
		sum := sha256.Sum256(b)
		return sum[:]
	}
	return b
}

// IsValidAPIKeyFormat checks if an API key has the correct format.
func IsValidAPIKeyFormat(apiKey string) bool {
	if !strings.HasPrefix(apiKey, APIKeyPrefix+"_") {
		return false
	}
	if len(apiKey) < minKeyLength || len(apiKey) > maxKeyLength {
		return false
	}
	for _, c := range apiKey {
		if (c < 'a' || c > 'z') &&
			(c < 'A' || c > 'Z') &&
			(c < '0' || c > '9') &&
			c != '_' {
			return false
		}
	}
	return true
}

// CreateDisplayPrefix returns a prefix of the key that is safe to log.
func CreateDisplayPrefix(apiKey string) string {
	if !IsValidAPIKeyFormat(apiKey) {
		return "invalid_key"
	}
	random := strings.TrimPrefix(apiKey, APIKeyPrefix+"_")
	if len(random) > displayChars {
		random = random[:displayChars]
	}
	return fmt.Sprintf("%s_%s...", APIKeyPrefix, random)
}

// KeyRing verifies presented keys against a set of configured hashes.
// Keys that verified once are remembered by digest so later requests
// skip bcrypt.
type KeyRing struct {
	hashes []string

	mu       sync.RWMutex
	verified map[[sha256.Size]byte]struct{}
}

// NewKeyRing builds a key ring from bcrypt hashes.
func NewKeyRing(hashes []string) (*KeyRing, error) {
	if len(hashes) == 0 {
		return nil, fmt.Errorf("at least one API key hash is required")
	}
	for i, h := range hashes {
		if _, err := bcrypt.Cost([]byte(h)); err != nil {
			return nil, fmt.Errorf("API key hash %d is not a bcrypt hash: %w", i, err)
		}
	}
	return &KeyRing{
		hashes:   append([]string(nil), hashes...),
		verified: make(map[[sha256.Size]byte]struct{}),
	}, nil
}

// Len returns the number of configured keys.
func (k *KeyRing) Len() int {
	return len(k.hashes)
}

// Verify reports whether apiKey matches one of the configured hashes.
func (k *KeyRing) Verify(apiKey string) bool {
	if !IsValidAPIKeyFormat(apiKey) {
		return false
	}

	digest := sha256.Sum256([]byte(apiKey))
	k.mu.RLock()
	_, ok := k.verified[digest]
	k.mu.RUnlock()
	if ok {
		return true
	}

	for _, h := range k.hashes {
		if ValidateAPIKey(apiKey, h) {
			k.mu.Lock()
			k.verified[digest] = struct{}{}
			k.mu.Unlock()
			return true
		}
	}
	return false
}
