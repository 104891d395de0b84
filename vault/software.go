package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// SoftwareVault is an in-process Vault backed by process memory. One mutex
// guards the secret table, so a single vault can serve many channels at
// once. The mutex is held for each table access (store, lookup, SetType,
// Destroy), not for a whole primitive: ECDH, HKDF and the AEAD calls read
// a secret's bytes after the lookup has released it.
type SoftwareVault struct {
	mu      sync.Mutex
	nextID  uint64
	secrets map[uint64]*secretEntry
}

type secretEntry struct {
	attrs SecretAttributes
	bytes []byte
}

// NewSoftwareVault returns a ready-to-use in-memory Vault.
func NewSoftwareVault() *SoftwareVault {
	return &SoftwareVault{secrets: make(map[uint64]*secretEntry)}
}

func (v *SoftwareVault) store(attrs SecretAttributes, data []byte) Secret {
	id := atomic.AddUint64(&v.nextID, 1)
	cp := make([]byte, len(data))
	copy(cp, data)
	v.mu.Lock()
	v.secrets[id] = &secretEntry{attrs: attrs, bytes: cp}
	v.mu.Unlock()
	return Secret{id: id}
}

func (v *SoftwareVault) lookup(s Secret) (*secretEntry, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	e, ok := v.secrets[s.id]
	return e, ok
}

func (v *SoftwareVault) Random(ctx context.Context, length int) (Secret, error) {
	if length <= 0 {
		return Secret{}, newError(KindInvalidInput, "Random", fmt.Errorf("length must be positive, got %d", length))
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return Secret{}, newError(KindInternal, "Random", err)
	}
	s := v.store(SecretAttributes{Type: SecretTypeBuffer, Length: length}, buf)
	zero(buf)
	return s, nil
}

func (v *SoftwareVault) ImportBuffer(ctx context.Context, data []byte) (Secret, error) {
	return v.store(SecretAttributes{Type: SecretTypeBuffer, Length: len(data)}, data), nil
}

func (v *SoftwareVault) SHA256(data []byte) ([32]byte, error) {
	return sha256.Sum256(data), nil
}

func clampCurve25519(priv [32]byte) [32]byte {
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64
	return priv
}

func (v *SoftwareVault) GenerateX25519Key(ctx context.Context) (Secret, [32]byte, error) {
	var raw [32]byte
	if _, err := io.ReadFull(rand.Reader, raw[:]); err != nil {
		return Secret{}, [32]byte{}, newError(KindInternal, "GenerateX25519Key", err)
	}
	return v.ImportX25519Key(ctx, raw)
}

func (v *SoftwareVault) ImportX25519Key(ctx context.Context, raw [32]byte) (Secret, [32]byte, error) {
	clamped := clampCurve25519(raw)
	var pub [32]byte
	pubSlice, err := curve25519.X25519(clamped[:], curve25519.Basepoint)
	if err != nil {
		return Secret{}, [32]byte{}, newError(KindInternal, "ImportX25519Key", err)
	}
	copy(pub[:], pubSlice)
	s := v.store(SecretAttributes{Type: SecretTypeCurve25519Private, Length: 32}, clamped[:])
	return s, pub, nil
}

func (v *SoftwareVault) ECDH(ctx context.Context, priv Secret, peerPublic [32]byte) (Secret, error) {
	e, ok := v.lookup(priv)
	if !ok {
		return Secret{}, newError(KindNotFound, "ECDH", fmt.Errorf("unknown secret"))
	}
	if e.attrs.Type != SecretTypeCurve25519Private {
		return Secret{}, newError(KindInvalidInput, "ECDH", fmt.Errorf("secret is not a curve25519 private key"))
	}
	shared, err := curve25519.X25519(e.bytes, peerPublic[:])
	if err != nil {
		return Secret{}, newError(KindInternal, "ECDH", err)
	}
	s := v.store(SecretAttributes{Type: SecretTypeBuffer, Length: len(shared)}, shared)
	zero(shared)
	return s, nil
}

// HKDF implements the Noise HKDF(chaining_key, input_key_material,
// num_outputs) convention: RFC 5869 extract with salt=chainingKey, then
// expand into num_outputs 32-byte blocks with an empty info string.
func (v *SoftwareVault) HKDF(ctx context.Context, salt Secret, ikm Secret, numOutputs int) ([]Secret, error) {
	if numOutputs <= 0 || numOutputs > 3 {
		return nil, newError(KindInvalidInput, "HKDF", fmt.Errorf("numOutputs must be 1..3, got %d", numOutputs))
	}
	saltEntry, ok := v.lookup(salt)
	if !ok {
		return nil, newError(KindNotFound, "HKDF", fmt.Errorf("unknown salt secret"))
	}
	var ikmBytes []byte
	if ikm.id != 0 {
		ikmEntry, ok := v.lookup(ikm)
		if !ok {
			return nil, newError(KindNotFound, "HKDF", fmt.Errorf("unknown ikm secret"))
		}
		ikmBytes = ikmEntry.bytes
	}

	reader := hkdf.New(sha256.New, ikmBytes, saltEntry.bytes, nil)
	outs := make([]Secret, numOutputs)
	for i := 0; i < numOutputs; i++ {
		buf := make([]byte, 32)
		if _, err := io.ReadFull(reader, buf); err != nil {
			return nil, newError(KindInternal, "HKDF", err)
		}
		outs[i] = v.store(SecretAttributes{Type: SecretTypeBuffer, Length: 32}, buf)
		zero(buf)
	}
	return outs, nil
}

func keyLenFor(t SecretType) (int, bool) {
	switch t {
	case SecretTypeAes128Key:
		return 16, true
	case SecretTypeAes256Key:
		return 32, true
	default:
		return 0, false
	}
}

func (v *SoftwareVault) SetType(ctx context.Context, s Secret, t SecretType) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	e, ok := v.secrets[s.id]
	if !ok {
		return newError(KindNotFound, "SetType", fmt.Errorf("unknown secret"))
	}
	if t == SecretTypeBuffer {
		if _, isKey := keyLenFor(e.attrs.Type); !isKey {
			return newError(KindInvalidInput, "SetType", fmt.Errorf("cannot convert %s to buffer", e.attrs.Type))
		}
		e.attrs.Type = SecretTypeBuffer
		return nil
	}
	want, isKey := keyLenFor(t)
	if !isKey || e.attrs.Type != SecretTypeBuffer {
		return newError(KindInvalidInput, "SetType", fmt.Errorf("cannot convert %s to %s", e.attrs.Type, t))
	}
	if len(e.bytes) != want {
		return newError(KindInvalidInput, "SetType", fmt.Errorf("%d-byte secret cannot become %s", len(e.bytes), t))
	}
	e.attrs.Type = t
	return nil
}

func (v *SoftwareVault) aeadFor(key Secret) (cipher.AEAD, error) {
	e, ok := v.lookup(key)
	if !ok {
		return nil, newError(KindNotFound, "Aead", fmt.Errorf("unknown secret"))
	}
	want, isKey := keyLenFor(e.attrs.Type)
	if !isKey || len(e.bytes) != want {
		return nil, newError(KindInvalidInput, "Aead", fmt.Errorf("secret is not an AES key"))
	}
	block, err := aes.NewCipher(e.bytes)
	if err != nil {
		return nil, newError(KindInternal, "Aead", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, newError(KindInternal, "Aead", err)
	}
	return aead, nil
}

func (v *SoftwareVault) AeadEncrypt(ctx context.Context, key Secret, nonce [12]byte, ad, plaintext []byte) ([]byte, error) {
	aead, err := v.aeadFor(key)
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, nonce[:], plaintext, ad), nil
}

func (v *SoftwareVault) AeadDecrypt(ctx context.Context, key Secret, nonce [12]byte, ad, ciphertext []byte) ([]byte, error) {
	aead, err := v.aeadFor(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, nonce[:], ciphertext, ad)
	if err != nil {
		return nil, newError(KindAuthenticationFailed, "AeadDecrypt", ErrAuthenticationFailed)
	}
	return plaintext, nil
}

func (v *SoftwareVault) Attributes(s Secret) (SecretAttributes, error) {
	e, ok := v.lookup(s)
	if !ok {
		return SecretAttributes{}, newError(KindNotFound, "Attributes", fmt.Errorf("unknown secret"))
	}
	return e.attrs, nil
}

// Export copies a Secret's raw bytes out of the vault. Per the Vault
// contract, only SecretTypeBuffer secrets are exportable: once material is
// typed as a key it stays behind the vault boundary.
func (v *SoftwareVault) Export(ctx context.Context, s Secret) ([]byte, error) {
	e, ok := v.lookup(s)
	if !ok {
		return nil, newError(KindNotFound, "Export", fmt.Errorf("unknown secret"))
	}
	if e.attrs.Type != SecretTypeBuffer {
		return nil, newError(KindInvalidInput, "Export", fmt.Errorf("cannot export a %s secret", e.attrs.Type))
	}
	out := make([]byte, len(e.bytes))
	copy(out, e.bytes)
	return out, nil
}

func (v *SoftwareVault) Destroy(s Secret) {
	v.mu.Lock()
	defer v.mu.Unlock()
	e, ok := v.secrets[s.id]
	if !ok {
		return
	}
	zero(e.bytes)
	delete(v.secrets, s.id)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
