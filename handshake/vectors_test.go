package handshake

import (
	"context"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noiselink/noiselink-core/transport"
	"github.com/noiselink/noiselink-core/vault"
)

// Known-answer vectors for the full XX exchange with pinned static and
// ephemeral keys, including the first transport frame in each direction.
const (
	katInitiatorStatic = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
	katResponderStatic = "0102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f20"
	katInitiatorEph    = "202122232425262728292a2b2c2d2e2f303132333435363738393a3b3c3d3e3f"
	katResponderEph    = "4142434445464748494a4b4c4d4e4f505152535455565758595a5b5c5d5e5f60"

	katM1 = "358072d6365880d1aeea329adf9121383851ed21a28e3b75e965d0d2cd166254"
	katM2 = "64b101b1d0be5a8704bd078f9895001fc03e8e9f9522f188dd128d9846d48466" +
		"5393019dbd6f438795da206db0886610b26108e424142c2e9b5fd1f7ea70cde8" +
		"767ce62d7e3c0e9bcefe4ab872c0505b9e824df091b74ffe10a2b32809cab21f"
	katM3 = "e610eadc4b00c17708bf223f29a66f02342fbedf6c0044736544b9271821ae40" +
		"e70144cecd9d265dffdc5bb8e051c3f83db32a425e04d8f510c58a43325fbc56"

	// First transport frame each way, authenticated against the final
	// handshake hash as additional data.
	katResponderFrame = "9ea1da1ec3bfecfffab213e537ed170ed50de782953cb27b4c5c3339c54eca"
	katInitiatorFrame = "217c5111fad7afde33bd28abaff3decc280d054cdfd4784fc51d103a82ff22"
)

func mustHex32(t *testing.T, s string) [32]byte {
	t.Helper()
	raw, err := hex.DecodeString(s)
	require.NoError(t, err)
	require.Len(t, raw, 32)
	var out [32]byte
	copy(out[:], raw)
	return out
}

// pinEphemeral replaces the freshly generated ephemeral key pair with a
// fixed one, so the exchange below is fully deterministic.
func pinEphemeral(t *testing.T, ctx context.Context, v vault.Vault, hs *Handshake, rawPriv [32]byte) {
	t.Helper()
	v.Destroy(hs.localEphemeralPriv)
	priv, pub, err := v.ImportX25519Key(ctx, rawPriv)
	require.NoError(t, err)
	hs.localEphemeralPriv = priv
	hs.localEphemeralPub = pub
}

func TestHandshake_KnownAnswerExchange(t *testing.T) {
	ctx := context.Background()
	v := vault.NewSoftwareVault()

	iPriv, iPub, err := v.ImportX25519Key(ctx, mustHex32(t, katInitiatorStatic))
	require.NoError(t, err)
	rPriv, rPub, err := v.ImportX25519Key(ctx, mustHex32(t, katResponderStatic))
	require.NoError(t, err)

	initiator, err := New(ctx, v, Initiator, iPriv, iPub)
	require.NoError(t, err)
	defer initiator.Close()
	responder, err := New(ctx, v, Responder, rPriv, rPub)
	require.NoError(t, err)
	defer responder.Close()

	pinEphemeral(t, ctx, v, initiator, mustHex32(t, katInitiatorEph))
	pinEphemeral(t, ctx, v, responder, mustHex32(t, katResponderEph))

	m1, err := initiator.WriteMessage(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, katM1, hex.EncodeToString(m1))
	_, err = responder.ReadMessage(ctx, m1)
	require.NoError(t, err)

	m2, err := responder.WriteMessage(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, katM2, hex.EncodeToString(m2))
	_, err = initiator.ReadMessage(ctx, m2)
	require.NoError(t, err)

	m3, err := initiator.WriteMessage(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, katM3, hex.EncodeToString(m3))
	_, err = responder.ReadMessage(ctx, m3)
	require.NoError(t, err)

	hash := initiator.HandshakeHash()
	require.Equal(t, hash, responder.HandshakeHash())

	iSend, iRecv, err := initiator.Split(ctx)
	require.NoError(t, err)
	rSend, rRecv, err := responder.Split(ctx)
	require.NoError(t, err)

	iPair := transport.NewPair(v, iSend, iRecv)
	defer iPair.Close()
	rPair := transport.NewPair(v, rSend, rRecv)
	defer rPair.Close()

	// These vectors bind the first frame to the handshake transcript by
	// passing the final handshake hash as additional data.
	respFrame, err := rPair.Send.Encrypt(ctx, hash[:], []byte("yellowsubmarine"))
	require.NoError(t, err)
	assert.Equal(t, katResponderFrame, hex.EncodeToString(respFrame))

	pt, err := iPair.Recv.Decrypt(ctx, hash[:], respFrame)
	require.NoError(t, err)
	assert.Equal(t, []byte("yellowsubmarine"), pt)

	initFrame, err := iPair.Send.Encrypt(ctx, hash[:], []byte("submarineyellow"))
	require.NoError(t, err)
	assert.Equal(t, katInitiatorFrame, hex.EncodeToString(initFrame))

	pt, err = rPair.Recv.Decrypt(ctx, hash[:], initFrame)
	require.NoError(t, err)
	assert.Equal(t, []byte("submarineyellow"), pt)
}
