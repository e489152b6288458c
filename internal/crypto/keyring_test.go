package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMaster = "9f2c7e4b1a8d6053e7c9b2f4a1d80e6c3b5a9d7f0e2c4b6a8d1f3e5c7b9a0d2f"

func TestKeyring_RoundTrip(t *testing.T) {
	k, err := NewKeyring(testMaster, 1)
	require.NoError(t, err)

	plain := []byte(`{"state":"approved"}`)
	sealed, err := k.Encrypt(1, plain)
	require.NoError(t, err)
	assert.NotEqual(t, plain, sealed)

	opened, err := k.Decrypt(1, sealed)
	require.NoError(t, err)
	assert.Equal(t, plain, opened)
}

func TestKeyring_WrongVersionFails(t *testing.T) {
	k, err := NewKeyring(testMaster, 2)
	require.NoError(t, err)

	sealed, err := k.Encrypt(1, []byte("secret"))
	require.NoError(t, err)

	_, err = k.Decrypt(2, sealed)
	assert.Error(t, err)
}

func TestKeyring_NilStaysNil(t *testing.T) {
	k, err := NewKeyring(testMaster, 1)
	require.NoError(t, err)

	sealed, err := k.Encrypt(1, nil)
	require.NoError(t, err)
	assert.Nil(t, sealed)

	opened, err := k.Decrypt(1, nil)
	require.NoError(t, err)
	assert.Nil(t, opened)
}

func TestKeyring_VersionDerivationIsStable(t *testing.T) {
	k1, err := NewKeyring(testMaster, 1)
	require.NoError(t, err)
	k2, err := NewKeyring(testMaster, 1)
	require.NoError(t, err)

	sealed, err := k1.Encrypt(3, []byte("cross-instance"))
	require.NoError(t, err)
	opened, err := k2.Decrypt(3, sealed)
	require.NoError(t, err)
	assert.Equal(t, []byte("cross-instance"), opened)
}

func TestNewKeyring_Validation(t *testing.T) {
	_, err := NewKeyring("not-hex", 1)
	assert.Error(t, err)

	_, err = NewKeyring(strings.Repeat("ab", 16), 1)
	assert.Error(t, err, "16-byte master must be rejected")

	_, err = NewKeyring(testMaster, 0)
	assert.Error(t, err)
}
