package cryptox

import (
	"testing"

	"github.com/dkurilko/healthvault/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() []byte {
	return common.GenerateRandByteArray(KeySize)
}

func TestSealOpen_RoundTrip(t *testing.T) {
	key := testKey()

	tests := []struct {
		name      string
		plaintext []byte
	}{
		{"empty", []byte{}},
		{"short", []byte("x")},
		{"json", []byte(`{"title":"blood test","value":5.4}`)},
		{"binary", common.GenerateRandByteArray(4096)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env, err := Seal(key, tc.plaintext)
			require.NoError(t, err)
			require.GreaterOrEqual(t, len(env), MinEnvelopeSize)

			got, err := Open(key, env)
			require.NoError(t, err)
			assert.Equal(t, tc.plaintext, got)
		})
	}
}

func TestSeal_FreshNoncePerCall(t *testing.T) {
	key := testKey()

	a, err := Seal(key, []byte("same"))
	require.NoError(t, err)
	b, err := Seal(key, []byte("same"))
	require.NoError(t, err)

	assert.NotEqual(t, a[:NonceSize], b[:NonceSize])
	assert.NotEqual(t, a, b)
}

func TestOpen_WrongKey(t *testing.T) {
	env, err := Seal(testKey(), []byte("secret"))
	require.NoError(t, err)

	_, err = Open(testKey(), env)
	require.ErrorIs(t, err, ErrDecrypt)
}

func TestOpen_TamperedCiphertext(t *testing.T) {
	key := testKey()
	env, err := Seal(key, []byte("secret"))
	require.NoError(t, err)

	env[len(env)-1] ^= 0xFF

	_, err = Open(key, env)
	require.ErrorIs(t, err, ErrDecrypt)
}

func TestParse_TooSmall(t *testing.T) {
	for _, n := range []int{0, 1, 10, MinEnvelopeSize - 1} {
		_, _, err := Parse(make([]byte, n))
		assert.ErrorIs(t, err, ErrEnvelopeTooSmall, "size %d", n)
	}
}

func TestParse_MinimumSizeIsValid(t *testing.T) {
	nonce, ct, err := Parse(make([]byte, MinEnvelopeSize))
	require.NoError(t, err)
	assert.Len(t, nonce, NonceSize)
	assert.Len(t, ct, TagSize)
}

func TestEncryptDecryptJSON(t *testing.T) {
	type payload struct {
		Title string  `json:"title"`
		Value float64 `json:"value"`
	}

	key := testKey()
	in := payload{Title: "cholesterol", Value: 4.9}

	env, err := EncryptJSON(key, in)
	require.NoError(t, err)

	var out payload
	require.NoError(t, DecryptJSON(key, env, &out))
	assert.Equal(t, in, out)
}

func TestSeal_BadKeyLength(t *testing.T) {
	_, err := Seal([]byte("short"), []byte("data"))
	require.Error(t, err)
}
