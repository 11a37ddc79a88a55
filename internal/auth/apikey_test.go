package auth

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// fastHash hashes with the minimum cost to keep tests quick.
func fastHash(t *testing.T, key string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword(bcryptInput(key), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

func TestGenerateAPIKey(t *testing.T) {
	generated, err := GenerateAPIKey()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(generated.Key, "ik_"))
	assert.Len(t, generated.Key, len("ik_")+APIKeyLength)
	assert.True(t, IsValidAPIKeyFormat(generated.Key))
	assert.Equal(t, generated.Key[:11]+"...", generated.DisplayPrefix)
	assert.True(t, ValidateAPIKey(generated.Key, generated.Hash))

	other, err := GenerateAPIKey()
	require.NoError(t, err)
	assert.NotEqual(t, generated.Key, other.Key)
}

func TestHashAPIKey(t *testing.T) {
	_, err := HashAPIKey("")
	assert.Error(t, err)

	long := "ik_" + strings.Repeat("a", 100)
	hash, err := HashAPIKey(long)
	require.NoError(t, err)
	assert.True(t, ValidateAPIKey(long, hash))
	// Only the first 72 bytes would count without pre-hashing.
	assert.False(t, ValidateAPIKey(long[:90], hash))
}

func TestValidateAPIKey(t *testing.T) {
	key := "ik_abcdefghijklmnopqrstuvwxyz234567"
	hash := fastHash(t, key)

	tests := []struct {
		name string
		key  string
		hash string
		want bool
	}{
		{"matching key", key, hash, true},
		{"different key", "ik_bbcdefghijklmnopqrstuvwxyz234567", hash, false},
		{"empty key", "", hash, false},
		{"empty hash", key, "", false},
		{"malformed hash", key, "not-a-hash", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidateAPIKey(tt.key, tt.hash))
		})
	}
}

func TestIsValidAPIKeyFormat(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{"ik_abcdefghijklmnopqrstuvwxyz234567", true},
		{"ik_ABC_123_defg", true},
		{"", false},
		{"sk_abcdefghijklmnopqrstuvwxyz234567", false},
		{"ik_short", false},
		{"ik_" + strings.Repeat("a", 60), false},
		{"ik_abcdefghijk-lmnop", false},
		{"ik_abcdefghijk lmnop", false},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, IsValidAPIKeyFormat(tt.key))
		})
	}
}

func TestCreateDisplayPrefix(t *testing.T) {
	assert.Equal(t, "ik_abcdefgh...", CreateDisplayPrefix("ik_abcdefghijklmnopqrstuvwxyz234567"))
	assert.Equal(t, "invalid_key", CreateDisplayPrefix("nope"))
}

func TestNewKeyRing(t *testing.T) {
	_, err := NewKeyRing(nil)
	assert.Error(t, err)

	_, err = NewKeyRing([]string{"plain-text-key"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hash 0")

	ring, err := NewKeyRing([]string{fastHash(t, "ik_abcdefghijklmnop")})
	require.NoError(t, err)
	assert.Equal(t, 1, ring.Len())
}

func TestKeyRingVerify(t *testing.T) {
	first := "ik_abcdefghijklmnopqrstuvwxyz234567"
	second := "ik_234567abcdefghijklmnopqrstuvwxyz"
	ring, err := NewKeyRing([]string{fastHash(t, first), fastHash(t, second)})
	require.NoError(t, err)

	assert.True(t, ring.Verify(first))
	assert.True(t, ring.Verify(second))
	assert.True(t, ring.Verify(first), "cached key verifies again")
	assert.False(t, ring.Verify("ik_zzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzz"))
	assert.False(t, ring.Verify("Bearer "+first))
	assert.False(t, ring.Verify(""))
}

func TestKeyRingVerifyConcurrent(t *testing.T) {
	key := "ik_abcdefghijklmnopqrstuvwxyz234567"
	ring, err := NewKeyRing([]string{fastHash(t, key)})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.True(t, ring.Verify(key))
		}()
	}
	wg.Wait()
}
