package vault

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSoftwareVault_GenerateX25519KeyIsOnCurve(t *testing.T) {
	v := NewSoftwareVault()
	ctx := context.Background()

	priv, pub, err := v.GenerateX25519Key(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, [32]byte{}, pub)

	attrs, err := v.Attributes(priv)
	require.NoError(t, err)
	assert.Equal(t, SecretTypeCurve25519Private, attrs.Type)
	assert.Equal(t, 32, attrs.Length)
}

func TestSoftwareVault_ECDHIsSymmetric(t *testing.T) {
	v := NewSoftwareVault()
	ctx := context.Background()

	aPriv, aPub, err := v.GenerateX25519Key(ctx)
	require.NoError(t, err)
	bPriv, bPub, err := v.GenerateX25519Key(ctx)
	require.NoError(t, err)

	sharedA, err := v.ECDH(ctx, aPriv, bPub)
	require.NoError(t, err)
	sharedB, err := v.ECDH(ctx, bPriv, aPub)
	require.NoError(t, err)

	bytesA, err := v.Export(ctx, sharedA)
	require.NoError(t, err)
	bytesB, err := v.Export(ctx, sharedB)
	require.NoError(t, err)
	assert.Equal(t, bytesA, bytesB)
}

func TestSoftwareVault_HKDFDeterministicGivenSameInputs(t *testing.T) {
	v := NewSoftwareVault()
	ctx := context.Background()

	salt, err := v.Random(ctx, 32)
	require.NoError(t, err)
	ikm, err := v.Random(ctx, 32)
	require.NoError(t, err)

	out1, err := v.HKDF(ctx, salt, ikm, 2)
	require.NoError(t, err)
	require.Len(t, out1, 2)

	b0, _ := v.Export(ctx, out1[0])
	b1, _ := v.Export(ctx, out1[1])
	assert.Len(t, b0, 32)
	assert.Len(t, b1, 32)
	assert.NotEqual(t, b0, b1)

	out2, err := v.HKDF(ctx, salt, ikm, 2)
	require.NoError(t, err)
	require.Len(t, out2, 2)
	c0, _ := v.Export(ctx, out2[0])
	c1, _ := v.Export(ctx, out2[1])
	assert.Equal(t, b0, c0)
	assert.Equal(t, b1, c1)
}

func TestSoftwareVault_SetTypeAdoptsBufferAsAesKey(t *testing.T) {
	v := NewSoftwareVault()
	ctx := context.Background()

	buf, err := v.Random(ctx, 32)
	require.NoError(t, err)

	require.NoError(t, v.SetType(ctx, buf, SecretTypeAes256Key))
	attrs, err := v.Attributes(buf)
	require.NoError(t, err)
	assert.Equal(t, SecretTypeAes256Key, attrs.Type)

	// And back to a plain buffer.
	require.NoError(t, v.SetType(ctx, buf, SecretTypeBuffer))
	attrs, err = v.Attributes(buf)
	require.NoError(t, err)
	assert.Equal(t, SecretTypeBuffer, attrs.Type)
}

func TestSoftwareVault_SetTypeRejectsWrongLengthAndKind(t *testing.T) {
	v := NewSoftwareVault()
	ctx := context.Background()

	short, err := v.Random(ctx, 32)
	require.NoError(t, err)
	assert.Error(t, v.SetType(ctx, short, SecretTypeAes128Key), "32-byte buffer is not an AES-128 key")

	priv, _, err := v.GenerateX25519Key(ctx)
	require.NoError(t, err)
	assert.Error(t, v.SetType(ctx, priv, SecretTypeAes256Key), "private keys must not be retyped")
}

func TestSoftwareVault_AeadRoundTrip(t *testing.T) {
	v := NewSoftwareVault()
	ctx := context.Background()

	key, err := v.Random(ctx, 32)
	require.NoError(t, err)
	require.NoError(t, v.SetType(ctx, key, SecretTypeAes256Key))

	var nonce [12]byte
	nonce[11] = 1
	ad := []byte("handshake-hash")
	plaintext := []byte("hello noise")

	ct, err := v.AeadEncrypt(ctx, key, nonce, ad, plaintext)
	require.NoError(t, err)

	pt, err := v.AeadDecrypt(ctx, key, nonce, ad, ct)
	require.NoError(t, err)
	assert.Equal(t, plaintext, pt)
}

func TestSoftwareVault_AeadDecryptFailsOnTamperedCiphertext(t *testing.T) {
	v := NewSoftwareVault()
	ctx := context.Background()

	key, err := v.Random(ctx, 32)
	require.NoError(t, err)
	require.NoError(t, v.SetType(ctx, key, SecretTypeAes256Key))

	var nonce [12]byte
	ct, err := v.AeadEncrypt(ctx, key, nonce, nil, []byte("payload"))
	require.NoError(t, err)
	ct[0] ^= 0xFF

	_, err = v.AeadDecrypt(ctx, key, nonce, nil, ct)
	require.Error(t, err)
	var vErr *Error
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, KindAuthenticationFailed, vErr.Kind)
}

func TestSoftwareVault_ExportOnlyAllowsBufferSecrets(t *testing.T) {
	v := NewSoftwareVault()
	ctx := context.Background()

	buf, err := v.Random(ctx, 32)
	require.NoError(t, err)
	_, err = v.Export(ctx, buf)
	assert.NoError(t, err, "buffer secrets are exportable")

	require.NoError(t, v.SetType(ctx, buf, SecretTypeAes256Key))
	_, err = v.Export(ctx, buf)
	assert.Error(t, err, "key-typed secrets must not leave the vault")

	priv, _, err := v.GenerateX25519Key(ctx)
	require.NoError(t, err)
	_, err = v.Export(ctx, priv)
	assert.Error(t, err, "private keys must not leave the vault")
}

func TestSoftwareVault_DestroyZeroesAndReleasesSecret(t *testing.T) {
	v := NewSoftwareVault()
	ctx := context.Background()

	s, err := v.Random(ctx, 16)
	require.NoError(t, err)
	entry, ok := v.lookup(s)
	require.True(t, ok)
	v.Destroy(s)

	assert.Equal(t, make([]byte, 16), entry.bytes)
	_, err = v.Attributes(s)
	require.Error(t, err)

	// Destroying twice must be a no-op, not a panic.
	assert.NotPanics(t, func() { v.Destroy(s) })
}
