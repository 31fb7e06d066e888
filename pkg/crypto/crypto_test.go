package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "0123456789abcdef0123456789abcdef"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	for _, plaintext := range []string{"smtp-password", "", "päss wörd with ümlauts"} {
		sealed, err := Encrypt(plaintext, testKey)
		require.NoError(t, err)
		if plaintext != "" {
			assert.NotContains(t, sealed, plaintext)
		}

		opened, err := Decrypt(sealed, testKey)
		require.NoError(t, err)
		assert.Equal(t, plaintext, opened)
	}
}

func TestEncryptProducesFreshNonce(t *testing.T) {
	a, err := Encrypt("secret", testKey)
	require.NoError(t, err)
	b, err := Encrypt("secret", testKey)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDecryptRejectsWrongKey(t *testing.T) {
	sealed, err := Encrypt("secret", testKey)
	require.NoError(t, err)

	_, err = Decrypt(sealed, "ffffffffffffffffffffffffffffffff")
	assert.EqualError(t, err, "decryption failed")
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	sealed, err := Encrypt("secret", testKey)
	require.NoError(t, err)

	flipped := []byte(sealed)
	last := len(flipped) - 1
	if flipped[last] == '0' {
		flipped[last] = '1'
	} else {
		flipped[last] = '0'
	}
	_, err = Decrypt(string(flipped), testKey)
	assert.Error(t, err)
}

func TestDecryptRejectsMalformedInput(t *testing.T) {
	for _, input := range []string{"", "no-separator", ":", "zz:zz", "abcd:"} {
		_, err := Decrypt(input, testKey)
		assert.Error(t, err, "input %q", input)
	}
}

func TestEncryptRejectsShortKey(t *testing.T) {
	_, err := Encrypt("secret", "too-short")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "invalid encryption key"))
}

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("correct horse", 4)
	require.NoError(t, err)

	assert.True(t, CheckPassword("correct horse", hash))
	assert.False(t, CheckPassword("wrong horse", hash))
}

func TestHashPasswordClampsCost(t *testing.T) {
	hash, err := HashPassword("pw", 99)
	require.NoError(t, err)
	assert.True(t, CheckPassword("pw", hash))
}
