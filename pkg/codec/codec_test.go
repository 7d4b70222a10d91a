package codec

import (
	"bytes"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("entropy exhausted")
}

func TestRoundTrip(t *testing.T) {
	c := Default()
	for _, secret := range []string{
		"fc-" + strings.Repeat("a1B2", 8),
		"sk_live_" + strings.Repeat("x", 24),
		"ünïcødé-sécret-välue",
		"",
	} {
		blob, err := c.Encrypt(secret, Passphrase("owner-1", "firecrawl"))
		require.NoError(t, err)
		if secret != "" {
			assert.NotContains(t, blob, secret)
		}

		plain, err := c.Decrypt(blob, Passphrase("owner-1", "firecrawl"))
		require.NoError(t, err)
		assert.Equal(t, secret, plain)
	}
}

func TestWrongPassphrase(t *testing.T) {
	c := Default()
	blob, err := c.Encrypt("super-secret-value", Passphrase("owner-1", "openai"))
	require.NoError(t, err)

	_, err = c.Decrypt(blob, Passphrase("owner-2", "openai"))
	assert.Equal(t, ErrDecryption, err)

	_, err = c.Decrypt(blob, Passphrase("owner-1", "stripe"))
	assert.Equal(t, ErrDecryption, err)
}

func TestDecryptCorruptInput(t *testing.T) {
	c := Default()
	pass := Passphrase("owner", "svc")

	_, err := c.Decrypt("not base64 !!!", pass)
	assert.Equal(t, ErrDecryption, err)

	_, err = c.Decrypt(base64.StdEncoding.EncodeToString([]byte("short")), pass)
	assert.Equal(t, ErrDecryption, err)

	blob, err := c.Encrypt("some credential", pass)
	require.NoError(t, err)
	raw, err := base64.StdEncoding.DecodeString(blob)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff
	_, err = c.Decrypt(base64.StdEncoding.EncodeToString(raw), pass)
	assert.Equal(t, ErrDecryption, err)

	// A plain base64 value, as written by insecure legacy fallbacks, never opens.
	_, err = c.Decrypt(base64.StdEncoding.EncodeToString([]byte("sk_live_plaintext_credential")), pass)
	assert.Equal(t, ErrDecryption, err)

	_, err = c.Decrypt(blob, "")
	assert.Equal(t, ErrDecryption, err)
}

func TestNoncePrefix(t *testing.T) {
	nonce := bytes.Repeat([]byte{7}, NonceSize)
	c, err := New(Config{Rand: bytes.NewReader(nonce)})
	require.NoError(t, err)

	blob, err := c.Encrypt("value", "pass")
	require.NoError(t, err)
	raw, err := base64.StdEncoding.DecodeString(blob)
	require.NoError(t, err)
	assert.Equal(t, nonce, raw[:NonceSize])
	assert.Len(t, raw, NonceSize+len("value")+16)
}

func TestFreshNoncePerCall(t *testing.T) {
	c := Default()
	a, err := c.Encrypt("value", "pass")
	require.NoError(t, err)
	b, err := c.Encrypt("value", "pass")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestEncryptFailures(t *testing.T) {
	c, err := New(Config{Rand: failingReader{}})
	require.NoError(t, err)
	_, err = c.Encrypt("value", "pass")
	assert.Equal(t, ErrEncryption, err)

	_, err = Default().Encrypt("value", "")
	assert.Equal(t, ErrEncryption, err)
}

func TestNewConfig(t *testing.T) {
	_, err := New(Config{Iterations: 1000})
	assert.Equal(t, ErrInvalidConfig, err)

	_, err = New(Config{Salt: []byte{}})
	assert.Equal(t, ErrInvalidConfig, err)

	c, err := New(Config{Iterations: 150000, Salt: []byte("tenant-salt")})
	require.NoError(t, err)
	assert.Equal(t, 150000, c.Iterations())
	assert.Equal(t, DefaultIterations, Default().Iterations())
}

func TestReencrypt(t *testing.T) {
	oldCodec, err := New(Config{Salt: []byte("old-salt")})
	require.NoError(t, err)
	newCodec := Default()
	pass := Passphrase("owner", "openai")

	blob, err := oldCodec.Encrypt("rotating-secret", pass)
	require.NoError(t, err)

	_, err = newCodec.Decrypt(blob, pass)
	require.Equal(t, ErrDecryption, err)

	rotated, err := oldCodec.Reencrypt(blob, pass, newCodec)
	require.NoError(t, err)
	plain, err := newCodec.Decrypt(rotated, pass)
	require.NoError(t, err)
	assert.Equal(t, "rotating-secret", plain)

	_, err = newCodec.Reencrypt(blob, pass, oldCodec)
	assert.Equal(t, ErrDecryption, err)
}

func TestFingerprint(t *testing.T) {
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", Fingerprint("abc"))
	assert.NotEqual(t, Fingerprint("a"), Fingerprint("b"))
	assert.Equal(t, "ownersvc", Passphrase("owner", "svc"))
}
