// Package symmetric implements the Noise symmetric state: the running
// chaining key, handshake hash and per-message nonce that every XX message
// mixes into. All key material is reached through vault.Vault handles, so
// the state itself never holds raw key bytes.
package symmetric

import (
	"context"
	"fmt"

	"github.com/noiselink/noiselink-core/vault"
)

// protocolName is mixed in as the initial chaining key / handshake hash
// seed, the Noise convention for domain-separating protocol variants.
const protocolName = "Noise_XX_25519_AESGCM_SHA256"

// State holds the evolving ck/h/k/n tuple for one handshake. The methods
// that call the vault's key operations take a context so the underlying
// vault call can be cancelled/timed out.
type State struct {
	v vault.Vault

	ck vault.Secret // chaining key, always live
	h  [32]byte     // handshake hash, not secret

	k      vault.Secret // transient AEAD key, zero Secret until first MixKey
	hasKey bool
	n      uint64
}

// New initializes a fresh symmetric state by seeding both ck and h from
// the protocol name, then mixing in the (empty) prologue, per Noise's
// InitializeSymmetric.
func New(ctx context.Context, v vault.Vault) (*State, error) {
	nameBytes := []byte(protocolName)
	var seed [32]byte
	if len(nameBytes) <= 32 {
		copy(seed[:], nameBytes)
	} else {
		var err error
		seed, err = v.SHA256(nameBytes)
		if err != nil {
			return nil, fmt.Errorf("symmetric: hash protocol name: %w", err)
		}
	}

	ck, err := v.ImportBuffer(ctx, seed[:])
	if err != nil {
		return nil, fmt.Errorf("symmetric: seed chaining key: %w", err)
	}

	s := &State{v: v, ck: ck, h: seed}
	if err := s.MixHash(nil); err != nil {
		v.Destroy(ck)
		return nil, err
	}
	return s, nil
}

// MixHash folds data into the running handshake hash: h = SHA256(h || data).
func (s *State) MixHash(data []byte) error {
	buf := make([]byte, 0, len(s.h)+len(data))
	buf = append(buf, s.h[:]...)
	buf = append(buf, data...)
	h, err := s.v.SHA256(buf)
	if err != nil {
		return fmt.Errorf("symmetric: mix hash: %w", err)
	}
	s.h = h
	return nil
}

// MixKey derives a new chaining key and transient AEAD key from the
// existing chaining key and the given input key material (typically an
// ECDH output): ck, k = HKDF(ck, ikm, 2), with k adopted as an AES-256
// key. The previous ck and k Secrets are destroyed.
func (s *State) MixKey(ctx context.Context, ikm vault.Secret) error {
	outs, err := s.v.HKDF(ctx, s.ck, ikm, 2)
	if err != nil {
		return fmt.Errorf("symmetric: hkdf: %w", err)
	}
	newCk, k := outs[0], outs[1]

	if err := s.v.SetType(ctx, k, vault.SecretTypeAes256Key); err != nil {
		s.v.Destroy(newCk)
		s.v.Destroy(k)
		return fmt.Errorf("symmetric: adopt aead key: %w", err)
	}

	s.v.Destroy(s.ck)
	if s.hasKey {
		s.v.Destroy(s.k)
	}
	s.ck = newCk
	s.k = k
	s.hasKey = true
	s.n = 0
	return nil
}

func (s *State) nonceBytes() [12]byte {
	var nonce [12]byte
	n := s.n
	for i := 11; i >= 4; i-- {
		nonce[i] = byte(n & 0xff)
		n >>= 8
	}
	return nonce
}

// EncryptAndHash encrypts plaintext under the current transient key (if one
// has been established; otherwise it is a pass-through per Noise's rule for
// the pre-MixKey case), using h as associated data, then mixes the
// ciphertext into h and advances the nonce.
func (s *State) EncryptAndHash(ctx context.Context, plaintext []byte) ([]byte, error) {
	if !s.hasKey {
		if err := s.MixHash(plaintext); err != nil {
			return nil, err
		}
		out := make([]byte, len(plaintext))
		copy(out, plaintext)
		return out, nil
	}

	nonce := s.nonceBytes()
	ct, err := s.v.AeadEncrypt(ctx, s.k, nonce, s.h[:], plaintext)
	if err != nil {
		return nil, fmt.Errorf("symmetric: encrypt: %w", err)
	}
	s.n++
	if err := s.MixHash(ct); err != nil {
		return nil, err
	}
	return ct, nil
}

// DecryptAndHash is the receive-side mirror of EncryptAndHash.
func (s *State) DecryptAndHash(ctx context.Context, ciphertext []byte) ([]byte, error) {
	if !s.hasKey {
		pt := make([]byte, len(ciphertext))
		copy(pt, ciphertext)
		if err := s.MixHash(ciphertext); err != nil {
			return nil, err
		}
		return pt, nil
	}

	nonce := s.nonceBytes()
	pt, err := s.v.AeadDecrypt(ctx, s.k, nonce, s.h[:], ciphertext)
	if err != nil {
		return nil, fmt.Errorf("symmetric: decrypt: %w", err)
	}
	s.n++
	if err := s.MixHash(ciphertext); err != nil {
		return nil, err
	}
	return pt, nil
}

// Split derives the two independent transport-mode keys from the final
// chaining key: k1, k2 = HKDF(ck, zero-length, 2), each adopted as an
// AES-256 key. The caller assigns send/receive orientation by role; both
// peers must agree which half serves which direction.
func (s *State) Split(ctx context.Context) (k1, k2 vault.Secret, err error) {
	outs, err := s.v.HKDF(ctx, s.ck, vault.Secret{}, 2)
	if err != nil {
		return vault.Secret{}, vault.Secret{}, fmt.Errorf("symmetric: split: %w", err)
	}
	for _, out := range outs {
		if err := s.v.SetType(ctx, out, vault.SecretTypeAes256Key); err != nil {
			s.v.Destroy(outs[0])
			s.v.Destroy(outs[1])
			return vault.Secret{}, vault.Secret{}, fmt.Errorf("symmetric: adopt transport key: %w", err)
		}
	}
	return outs[0], outs[1], nil
}

// HandshakeHash returns the current handshake hash, used post-handshake as
// a channel-binding value (e.g. reported to the channel Observer and
// recorded by the audit sink).
func (s *State) HandshakeHash() [32]byte { return s.h }

// Close destroys any Secrets still owned by the state. Safe to call after
// Split or on an aborted handshake.
func (s *State) Close() {
	s.v.Destroy(s.ck)
	if s.hasKey {
		s.v.Destroy(s.k)
	}
}
