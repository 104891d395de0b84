// Package handshake implements the Noise XX handshake pattern:
//
//	-> e
//	<- e, ee, s, es
//	-> s, se
//
// XX gives mutual authentication: both static keys are exchanged during
// the handshake, and the initiator's is hidden from a passive eavesdropper
// because it only travels encrypted, in message 3.
package handshake

import (
	"context"
	"errors"
	"fmt"

	"github.com/noiselink/noiselink-core/internal/symmetric"
	"github.com/noiselink/noiselink-core/vault"
)

// Role identifies which side of the XX pattern a Handshake plays.
type Role int

const (
	Initiator Role = iota
	Responder
)

// ErrOutOfOrder is returned when WriteMessage/ReadMessage is called out of
// the fixed XX sequence for the handshake's role.
var ErrOutOfOrder = errors.New("handshake: message called out of order")

// ErrIncomplete is returned by Split when called before message 3 has been
// processed.
var ErrIncomplete = errors.New("handshake: not yet complete")

// Handshake drives one XX exchange to completion. It is not safe for
// concurrent use; callers serialize Write/Read calls as dictated by the
// transport (typically strict request/response over a single connection).
type Handshake struct {
	v    vault.Vault
	role Role
	step int // 0 before any message, 1/2/3 after each message processed

	sym *symmetric.State

	localStaticPriv vault.Secret
	localStaticPub  [32]byte

	localEphemeralPriv vault.Secret
	localEphemeralPub  [32]byte

	remoteStaticPub    [32]byte
	remoteEphemeralPub [32]byte
	haveRemoteStatic   bool
}

// New starts a fresh XX handshake for the given role using localStaticPriv
// as the long-term identity key. The Handshake borrows localStaticPriv; it
// is not destroyed by Close, since the same identity key is typically
// reused across many handshakes.
func New(ctx context.Context, v vault.Vault, role Role, localStaticPriv vault.Secret, localStaticPub [32]byte) (*Handshake, error) {
	sym, err := symmetric.New(ctx, v)
	if err != nil {
		return nil, fmt.Errorf("handshake: init symmetric state: %w", err)
	}

	ephPriv, ephPub, err := v.GenerateX25519Key(ctx)
	if err != nil {
		sym.Close()
		return nil, fmt.Errorf("handshake: generate ephemeral key: %w", err)
	}

	return &Handshake{
		v:                  v,
		role:               role,
		sym:                sym,
		localStaticPriv:    localStaticPriv,
		localStaticPub:     localStaticPub,
		localEphemeralPriv: ephPriv,
		localEphemeralPub:  ephPub,
	}, nil
}

// IsComplete reports whether all three XX messages have been processed.
func (h *Handshake) IsComplete() bool { return h.step >= 3 }

// RemoteStaticPublicKey returns the peer's static public key, valid once
// message 2 (for the initiator) or message 3 (for the responder) has been
// processed.
func (h *Handshake) RemoteStaticPublicKey() ([32]byte, bool) {
	return h.remoteStaticPub, h.haveRemoteStatic
}

// RemoteEphemeralPublicKey returns the peer's ephemeral public key, valid
// once message 1 (for the responder) or message 2 (for the initiator) has
// been processed. Exposed so a replay ledger can be checked before the
// handshake proceeds further.
func (h *Handshake) RemoteEphemeralPublicKey() ([32]byte, bool) {
	if h.role == Initiator {
		return h.remoteEphemeralPub, h.step >= 2
	}
	return h.remoteEphemeralPub, h.step >= 1
}

// WriteMessage produces the next handshake message this role is due to
// send, mixing payload into the transcript per Noise's EncryptAndHash.
func (h *Handshake) WriteMessage(ctx context.Context, payload []byte) ([]byte, error) {
	switch {
	case h.role == Initiator && h.step == 0:
		return h.writeM1(ctx, payload)
	case h.role == Responder && h.step == 1:
		return h.writeM2(ctx, payload)
	case h.role == Initiator && h.step == 2:
		return h.writeM3(ctx, payload)
	default:
		return nil, ErrOutOfOrder
	}
}

// ReadMessage consumes the next handshake message this role is due to
// receive, returning any payload carried in it.
func (h *Handshake) ReadMessage(ctx context.Context, message []byte) ([]byte, error) {
	switch {
	case h.role == Responder && h.step == 0:
		return h.readM1(ctx, message)
	case h.role == Initiator && h.step == 1:
		return h.readM2(ctx, message)
	case h.role == Responder && h.step == 2:
		return h.readM3(ctx, message)
	default:
		return nil, ErrOutOfOrder
	}
}

// -- message 1: -> e --

func (h *Handshake) writeM1(ctx context.Context, payload []byte) ([]byte, error) {
	if err := h.sym.MixHash(h.localEphemeralPub[:]); err != nil {
		return nil, err
	}
	encPayload, err := h.sym.EncryptAndHash(ctx, payload)
	if err != nil {
		return nil, err
	}
	h.step = 1
	out := make([]byte, 0, 32+len(encPayload))
	out = append(out, h.localEphemeralPub[:]...)
	out = append(out, encPayload...)
	return out, nil
}

func (h *Handshake) readM1(ctx context.Context, message []byte) ([]byte, error) {
	if len(message) < 32 {
		return nil, fmt.Errorf("handshake: message 1 too short")
	}
	copy(h.remoteEphemeralPub[:], message[:32])
	if err := h.sym.MixHash(h.remoteEphemeralPub[:]); err != nil {
		return nil, err
	}
	payload, err := h.sym.DecryptAndHash(ctx, message[32:])
	if err != nil {
		return nil, err
	}
	h.step = 1
	return payload, nil
}

// -- message 2: <- e, ee, s, es --

func (h *Handshake) writeM2(ctx context.Context, payload []byte) ([]byte, error) {
	if err := h.sym.MixHash(h.localEphemeralPub[:]); err != nil {
		return nil, err
	}

	// ee: DH(own ephemeral, remote ephemeral)
	eeShared, err := h.v.ECDH(ctx, h.localEphemeralPriv, h.remoteEphemeralPub)
	if err != nil {
		return nil, fmt.Errorf("handshake: ee: %w", err)
	}
	err = h.sym.MixKey(ctx, eeShared)
	h.v.Destroy(eeShared)
	if err != nil {
		return nil, err
	}

	// s: encrypt own static public key under the key just derived.
	encStatic, err := h.sym.EncryptAndHash(ctx, h.localStaticPub[:])
	if err != nil {
		return nil, err
	}

	// es: DH(own static, remote ephemeral) — responder's half of "es".
	esShared, err := h.v.ECDH(ctx, h.localStaticPriv, h.remoteEphemeralPub)
	if err != nil {
		return nil, fmt.Errorf("handshake: es: %w", err)
	}
	err = h.sym.MixKey(ctx, esShared)
	h.v.Destroy(esShared)
	if err != nil {
		return nil, err
	}

	encPayload, err := h.sym.EncryptAndHash(ctx, payload)
	if err != nil {
		return nil, err
	}

	h.step = 2
	out := make([]byte, 0, 32+len(encStatic)+len(encPayload))
	out = append(out, h.localEphemeralPub[:]...)
	out = append(out, encStatic...)
	out = append(out, encPayload...)
	return out, nil
}

func (h *Handshake) readM2(ctx context.Context, message []byte) ([]byte, error) {
	if len(message) < 32+16+32 {
		return nil, fmt.Errorf("handshake: message 2 too short")
	}
	copy(h.remoteEphemeralPub[:], message[:32])
	if err := h.sym.MixHash(h.remoteEphemeralPub[:]); err != nil {
		return nil, err
	}
	offset := 32

	// ee: DH(own ephemeral, remote ephemeral)
	eeShared, err := h.v.ECDH(ctx, h.localEphemeralPriv, h.remoteEphemeralPub)
	if err != nil {
		return nil, fmt.Errorf("handshake: ee: %w", err)
	}
	err = h.sym.MixKey(ctx, eeShared)
	h.v.Destroy(eeShared)
	if err != nil {
		return nil, err
	}

	staticCiphertext := message[offset : offset+32+16]
	offset += 32 + 16
	staticPlain, err := h.sym.DecryptAndHash(ctx, staticCiphertext)
	if err != nil {
		return nil, fmt.Errorf("handshake: decrypt remote static: %w", err)
	}
	copy(h.remoteStaticPub[:], staticPlain)
	h.haveRemoteStatic = true

	// es: DH(own ephemeral, remote static) — initiator's half of "es".
	esShared, err := h.v.ECDH(ctx, h.localEphemeralPriv, h.remoteStaticPub)
	if err != nil {
		return nil, fmt.Errorf("handshake: es: %w", err)
	}
	err = h.sym.MixKey(ctx, esShared)
	h.v.Destroy(esShared)
	if err != nil {
		return nil, err
	}

	payload, err := h.sym.DecryptAndHash(ctx, message[offset:])
	if err != nil {
		return nil, err
	}
	h.step = 2
	return payload, nil
}

// -- message 3: -> s, se --

func (h *Handshake) writeM3(ctx context.Context, payload []byte) ([]byte, error) {
	encStatic, err := h.sym.EncryptAndHash(ctx, h.localStaticPub[:])
	if err != nil {
		return nil, err
	}

	// se: DH(own static, remote ephemeral) — initiator's half of "se".
	seShared, err := h.v.ECDH(ctx, h.localStaticPriv, h.remoteEphemeralPub)
	if err != nil {
		return nil, fmt.Errorf("handshake: se: %w", err)
	}
	err = h.sym.MixKey(ctx, seShared)
	h.v.Destroy(seShared)
	if err != nil {
		return nil, err
	}

	encPayload, err := h.sym.EncryptAndHash(ctx, payload)
	if err != nil {
		return nil, err
	}

	h.step = 3
	out := make([]byte, 0, len(encStatic)+len(encPayload))
	out = append(out, encStatic...)
	out = append(out, encPayload...)
	return out, nil
}

func (h *Handshake) readM3(ctx context.Context, message []byte) ([]byte, error) {
	if len(message) < 32+16 {
		return nil, fmt.Errorf("handshake: message 3 too short")
	}
	staticCiphertext := message[:32+16]
	staticPlain, err := h.sym.DecryptAndHash(ctx, staticCiphertext)
	if err != nil {
		return nil, fmt.Errorf("handshake: decrypt remote static: %w", err)
	}
	copy(h.remoteStaticPub[:], staticPlain)
	h.haveRemoteStatic = true

	// se: DH(own ephemeral, remote static) — responder's half of "se".
	seShared, err := h.v.ECDH(ctx, h.localEphemeralPriv, h.remoteStaticPub)
	if err != nil {
		return nil, fmt.Errorf("handshake: se: %w", err)
	}
	err = h.sym.MixKey(ctx, seShared)
	h.v.Destroy(seShared)
	if err != nil {
		return nil, err
	}

	payload, err := h.sym.DecryptAndHash(ctx, message[32+16:])
	if err != nil {
		return nil, err
	}
	h.step = 3
	return payload, nil
}

// Split finalizes the handshake and returns the independent send/receive
// transport Secrets, ordered so that both peers agree: the value named
// "send" on one side equals the value named "recv" on the other. The
// initiator receives with the first HKDF output and sends with the second;
// the responder mirrors that.
func (h *Handshake) Split(ctx context.Context) (send, recv vault.Secret, err error) {
	if !h.IsComplete() {
		return vault.Secret{}, vault.Secret{}, ErrIncomplete
	}
	k1, k2, err := h.sym.Split(ctx)
	if err != nil {
		return vault.Secret{}, vault.Secret{}, err
	}
	if h.role == Initiator {
		return k2, k1, nil
	}
	return k1, k2, nil
}

// HandshakeHash returns the final transcript hash, usable as a channel
// binding value once the handshake is complete.
func (h *Handshake) HandshakeHash() [32]byte { return h.sym.HandshakeHash() }

// Close releases any local key material still held by the handshake. Safe
// to call after Split or on an aborted handshake.
func (h *Handshake) Close() {
	h.v.Destroy(h.localEphemeralPriv)
	h.sym.Close()
}
