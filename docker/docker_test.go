package docker

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSecret(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(SecretPathKey, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "CREDVAULT_KDF_SALT"), []byte("mounted-salt\n"), 0600))

	v, err := GetSecret("CREDVAULT_KDF_SALT")
	require.NoError(t, err)
	assert.Equal(t, "mounted-salt", v)

	_, err = GetSecret("missing")
	assert.True(t, os.IsNotExist(err))

	for _, id := range []string{"", "..", "../etc/passwd", "a/b"} {
		_, err = GetSecret(id)
		assert.Equal(t, ErrInvalidSecretId, err, id)
	}
}

func TestLookup(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(SecretPathKey, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "present"), []byte("value"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty"), []byte("\n"), 0600))

	v, ok := Lookup("present")
	assert.True(t, ok)
	assert.Equal(t, "value", v)

	_, ok = Lookup("empty")
	assert.False(t, ok)
	_, ok = Lookup("missing")
	assert.False(t, ok)
}
