package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret-0123456789")

func TestSignAndParse(t *testing.T) {
	token, err := Sign(testSecret, "svc-orders", "tenant-a", []Capability{CapWrite}, time.Hour)
	require.NoError(t, err)

	p, err := NewVerifier(testSecret).Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "svc-orders", p.Subject)
	assert.Equal(t, "tenant-a", p.Tenant)
	assert.True(t, p.Has(CapWrite))
	assert.False(t, p.Has(CapRead))
	assert.False(t, p.Has(CapRetention))
}

func TestParse_WrongSecret(t *testing.T) {
	token, err := Sign(testSecret, "svc", "tenant-a", []Capability{CapWrite}, time.Hour)
	require.NoError(t, err)

	_, err = NewVerifier([]byte("other-secret")).Parse(token)
	assert.Error(t, err)
}

func TestParse_Expired(t *testing.T) {
	token, err := Sign(testSecret, "svc", "tenant-a", []Capability{CapWrite}, -time.Minute)
	require.NoError(t, err)

	_, err = NewVerifier(testSecret).Parse(token)
	assert.Error(t, err)
}

func TestCanReadTenant_ScopedToOwnTenant(t *testing.T) {
	token, err := Sign(testSecret, "svc", "tenant-a", []Capability{CapRead}, time.Hour)
	require.NoError(t, err)
	p, err := NewVerifier(testSecret).Parse(token)
	require.NoError(t, err)

	assert.True(t, p.CanReadTenant("tenant-a"))
	assert.False(t, p.CanReadTenant("tenant-b"))
}

func TestCanReadTenant_AdminCrossesTenants(t *testing.T) {
	token, err := Sign(testSecret, "ops", "", []Capability{CapAdmin}, time.Hour)
	require.NoError(t, err)
	p, err := NewVerifier(testSecret).Parse(token)
	require.NoError(t, err)

	assert.True(t, p.CanReadTenant("tenant-a"))
	assert.True(t, p.CanReadTenant("tenant-b"))
}

func TestWriteCapabilityDoesNotImplyRead(t *testing.T) {
	token, err := Sign(testSecret, "svc", "tenant-a", []Capability{CapWrite}, time.Hour)
	require.NoError(t, err)
	p, err := NewVerifier(testSecret).Parse(token)
	require.NoError(t, err)

	assert.False(t, p.CanReadTenant("tenant-a"))
}
