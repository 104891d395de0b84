package identity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthority_IssueAndVerifyRoundTrip(t *testing.T) {
	a := NewAuthority("ops", "shared-secret", time.Hour)
	var key [32]byte
	key[0] = 0x42

	token, err := a.IssueCertificate("edge-router-7", key)
	require.NoError(t, err)

	claims, err := a.VerifyCertificate(token, key)
	require.NoError(t, err)
	assert.Equal(t, "edge-router-7", claims.Subject)
	assert.Equal(t, Fingerprint(key), claims.Fingerprint)
	assert.Equal(t, "ops", claims.Issuer)
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt, time.Minute)
}

func TestAuthority_VerifyRejectsDifferentStaticKey(t *testing.T) {
	a := NewAuthority("ops", "shared-secret", time.Hour)
	var issued, presented [32]byte
	issued[0] = 1
	presented[0] = 2

	token, err := a.IssueCertificate("edge-router-7", issued)
	require.NoError(t, err)

	_, err = a.VerifyCertificate(token, presented)
	assert.Error(t, err)
}

func TestAuthority_VerifyRejectsWrongSecret(t *testing.T) {
	issuer := NewAuthority("ops", "secret-a", time.Hour)
	verifier := NewAuthority("ops", "secret-b", time.Hour)
	var key [32]byte

	token, err := issuer.IssueCertificate("edge-router-7", key)
	require.NoError(t, err)

	_, err = verifier.VerifyCertificate(token, key)
	assert.Error(t, err)
}

func TestAuthority_VerifyRejectsExpiredCertificate(t *testing.T) {
	a := NewAuthority("ops", "shared-secret", -time.Minute)
	var key [32]byte

	token, err := a.IssueCertificate("edge-router-7", key)
	require.NoError(t, err)

	_, err = a.VerifyCertificate(token, key)
	assert.Error(t, err)
}

func TestFingerprint_IsStablePerKey(t *testing.T) {
	var a, b [32]byte
	a[0] = 1
	b[0] = 2

	assert.Equal(t, Fingerprint(a), Fingerprint(a))
	assert.NotEqual(t, Fingerprint(a), Fingerprint(b))
}
