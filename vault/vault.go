// Package vault defines the capability surface that the handshake,
// symmetric-state and transport layers use to reach key material. Callers
// never see raw private bytes: every secret lives behind an opaque handle
// minted and destroyed by a Vault implementation, so a vault can be backed
// by an in-process software store today and an HSM or secure enclave later
// without touching a single line above this package.
package vault

import (
	"context"
	"errors"
	"fmt"
)

// SecretType describes what a Secret's bytes mean, so a Vault can reject a
// Secret used against the wrong operation (e.g. feeding a Curve25519 private
// key into AES-GCM).
type SecretType int

const (
	SecretTypeBuffer SecretType = iota // opaque byte buffer, e.g. a chaining key
	SecretTypeAes128Key
	SecretTypeAes256Key
	SecretTypeCurve25519Private
)

func (t SecretType) String() string {
	switch t {
	case SecretTypeBuffer:
		return "buffer"
	case SecretTypeAes128Key:
		return "aes128-key"
	case SecretTypeAes256Key:
		return "aes256-key"
	case SecretTypeCurve25519Private:
		return "curve25519-private"
	default:
		return "unknown"
	}
}

// SecretAttributes describes a handle's type and length without exposing
// the underlying bytes.
type SecretAttributes struct {
	Type   SecretType
	Length int
}

// Secret is an opaque reference to key material held by a Vault. The zero
// value is not a valid Secret; only a Vault can mint one.
type Secret struct {
	id uint64
}

// Kind classifies the errors a Vault can return, so callers can branch on
// failure category (e.g. retry on I/O, never retry on AuthenticationFailed)
// without string-matching error text.
type Kind int

const (
	KindInternal Kind = iota
	KindInvalidInput
	KindAuthenticationFailed
	KindNotFound
	KindExhausted
)

// Error wraps a Vault failure with its Kind so callers can use errors.As.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("vault: %s", e.Op)
	}
	return fmt.Sprintf("vault: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// ErrAuthenticationFailed is returned (wrapped in an *Error) by Decrypt when
// the AEAD tag does not verify.
var ErrAuthenticationFailed = errors.New("authentication failed")

// ErrCounterExhausted reports a nonce counter that would wrap. No
// SoftwareVault method returns it; the transport cipher returns its own
// transport.ErrCounterExhausted.
var ErrCounterExhausted = errors.New("nonce counter exhausted")

// Vault is the capability surface required by the symmetric-state,
// handshake and transport layers. Every method that touches key material
// takes and/or returns a Secret handle, never raw bytes, so a caller that
// only has a Vault reference can never exfiltrate private key bytes through
// a type confusion or logging bug.
type Vault interface {
	// Random returns a fresh Secret of SecretTypeBuffer filled with
	// cryptographically secure random bytes of the given length.
	Random(ctx context.Context, length int) (Secret, error)

	// ImportBuffer stores caller-provided bytes as a new SecretTypeBuffer
	// Secret. Used only at protocol boundaries (seeding the chaining key
	// from the fixed protocol name); identity keys are loaded with
	// ImportX25519Key. The handshake/symmetric/transport layers otherwise only ever pass
	// Secrets between vault calls, never raw bytes.
	ImportBuffer(ctx context.Context, data []byte) (Secret, error)

	// SHA256 hashes the given bytes and returns the 32-byte digest
	// directly (hashes are not secret material, so no handle is needed).
	SHA256(data []byte) ([32]byte, error)

	// GenerateX25519Key generates a fresh Curve25519 key pair and returns a
	// Secret referencing the private scalar plus the public key bytes.
	GenerateX25519Key(ctx context.Context) (priv Secret, pub [32]byte, err error)

	// ImportX25519Key loads an existing Curve25519 private scalar into
	// the vault, returning a handle plus the corresponding public key.
	ImportX25519Key(ctx context.Context, raw [32]byte) (priv Secret, pub [32]byte, err error)

	// ECDH performs X25519(priv, peerPublic) and returns the 32-byte
	// shared secret as a new Secret handle.
	ECDH(ctx context.Context, priv Secret, peerPublic [32]byte) (Secret, error)

	// HKDF runs HKDF-SHA256 with the given Secret as IKM (or, if ikm is
	// the zero Secret, with a zero-length IKM, extracting over salt only) and
	// produces numOutputs 32-byte output Secrets, matching the Noise
	// HKDF(ck, input, n) convention.
	HKDF(ctx context.Context, salt Secret, ikm Secret, numOutputs int) ([]Secret, error)

	// SetType reinterprets a Secret's bytes under a new type. Only the
	// Buffer <-> AES-key conversions are permitted, and the Secret's
	// length must match the target key size (16 for AES-128, 32 for
	// AES-256). Used after HKDF to adopt a derived buffer as an AEAD key.
	SetType(ctx context.Context, s Secret, t SecretType) error

	// AeadEncrypt encrypts plaintext with AES-GCM under key, using nonce
	// (which must be exactly 12 bytes) and the given additional
	// authenticated data. The key Secret must have an AES key type.
	AeadEncrypt(ctx context.Context, key Secret, nonce [12]byte, ad, plaintext []byte) (ciphertext []byte, err error)

	// AeadDecrypt verifies and decrypts ciphertext (which must include the
	// trailing 16-byte tag) with AES-GCM under key. Returns an *Error
	// with Kind KindAuthenticationFailed on tag mismatch.
	AeadDecrypt(ctx context.Context, key Secret, nonce [12]byte, ad, ciphertext []byte) (plaintext []byte, err error)

	// Attributes reports the type/length of a live Secret.
	Attributes(s Secret) (SecretAttributes, error)

	// Export copies a Secret's bytes out of the vault. Restricted to
	// SecretTypeBuffer; key-typed secrets, private or symmetric, never
	// leave the vault boundary. The handshake/symmetric/transport layers
	// never call this.
	Export(ctx context.Context, s Secret) ([]byte, error)

	// Destroy zeroes and releases a Secret's storage. Destroying an
	// already-destroyed or unknown Secret is a no-op, so callers can
	// defer Destroy unconditionally along every exit path.
	Destroy(s Secret)
}
