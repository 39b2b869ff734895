package kms

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpenRoundTrip(t *testing.T) {
	m, err := NewLocalManager(bytes.Repeat([]byte{7}, 32))
	require.NoError(t, err)

	sealed, err := m.Seal([]byte(`{"name":"Jane Smith"}`))
	require.NoError(t, err)
	assert.Equal(t, 1, sealed.KeyVersion)
	assert.NotContains(t, string(sealed.Ciphertext), "Jane")

	plain, err := m.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, `{"name":"Jane Smith"}`, string(plain))
}

func TestRejectsShortKey(t *testing.T) {
	_, err := NewLocalManager([]byte("short"))
	assert.Error(t, err)
}

func TestNilKeyGeneratesRandom(t *testing.T) {
	m, err := NewLocalManager(nil)
	require.NoError(t, err)
	sealed, err := m.Seal([]byte("x"))
	require.NoError(t, err)
	plain, err := m.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "x", string(plain))
}

func TestRotateKeepsOldVersionsReadable(t *testing.T) {
	m, err := NewLocalManager(bytes.Repeat([]byte{7}, 32))
	require.NoError(t, err)

	old, err := m.Seal([]byte("before rotation"))
	require.NoError(t, err)

	v, err := m.Rotate()
	require.NoError(t, err)
	assert.Equal(t, 2, v)
	assert.Equal(t, 2, m.ActiveVersion())

	fresh, err := m.Seal([]byte("after rotation"))
	require.NoError(t, err)
	assert.Equal(t, 2, fresh.KeyVersion)

	plain, err := m.Open(old)
	require.NoError(t, err)
	assert.Equal(t, "before rotation", string(plain))
}

func TestOpenWrongVersionFails(t *testing.T) {
	m, err := NewLocalManager(bytes.Repeat([]byte{7}, 32))
	require.NoError(t, err)
	sealed, err := m.Seal([]byte("x"))
	require.NoError(t, err)

	// The key version is bound into the AEAD; lying about it must fail.
	sealed.KeyVersion = 99
	_, err = m.Open(sealed)
	assert.Error(t, err)
}

func TestOpenTamperedCiphertextFails(t *testing.T) {
	m, err := NewLocalManager(bytes.Repeat([]byte{7}, 32))
	require.NoError(t, err)
	sealed, err := m.Seal([]byte("x"))
	require.NoError(t, err)

	sealed.Ciphertext[len(sealed.Ciphertext)-1] ^= 0xFF
	_, err = m.Open(sealed)
	assert.Error(t, err)
}
