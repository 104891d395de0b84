// Package transport implements the post-handshake transport-mode cipher:
// two independent directional keys and 64-bit counters produced by
// handshake.Handshake.Split. Each direction derives its 12-byte AES-GCM
// nonce from its own counter, big-endian in the trailing 8 bytes.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/noiselink/noiselink-core/vault"
)

// ErrCounterExhausted is returned once a direction's counter would wrap
// past its 64-bit range; the channel must be torn down and re-keyed via a
// fresh handshake.
var ErrCounterExhausted = errors.New("transport: nonce counter exhausted")

// Cipher holds one direction's AEAD key and nonce counter. It is safe for
// concurrent use: every operation holds a single mutex for its duration.
type Cipher struct {
	mu      sync.Mutex
	v       vault.Vault
	key     vault.Secret
	counter uint64

	advanceOnFailure bool
}

// NewCipher wraps a Split key Secret as a directional transport cipher.
// The Cipher takes ownership of key and destroys it on Close.
func NewCipher(v vault.Vault, key vault.Secret) *Cipher {
	return &Cipher{v: v, key: key}
}

// AdvanceOnAuthFailure selects whether Decrypt burns its counter position
// when authentication fails. The default (false) keeps the counter, so a
// corrupted or replayed packet does not desynchronize the nonce space and
// a legitimate retransmission at the same counter still decrypts. Setting
// true makes any forgery permanently poison the position it targeted.
func (c *Cipher) AdvanceOnAuthFailure(advance bool) *Cipher {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.advanceOnFailure = advance
	return c
}

func nonceFor(counter uint64) [12]byte {
	var nonce [12]byte
	n := counter
	for i := 11; i >= 4; i-- {
		nonce[i] = byte(n & 0xff)
		n >>= 8
	}
	return nonce
}

// Encrypt seals plaintext under the current counter and advances it. The
// counter always advances on a successful encrypt, since the sender
// controls its own nonce space and cannot desynchronize with itself.
func (c *Cipher) Encrypt(ctx context.Context, ad, plaintext []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.counter == ^uint64(0) {
		return nil, ErrCounterExhausted
	}
	nonce := nonceFor(c.counter)
	ct, err := c.v.AeadEncrypt(ctx, c.key, nonce, ad, plaintext)
	if err != nil {
		return nil, fmt.Errorf("transport: encrypt: %w", err)
	}
	c.counter++
	return ct, nil
}

// Decrypt opens ciphertext under the current counter. By default, on an
// AEAD authentication failure the counter is left untouched — a corrupted
// or replayed-in-flight packet must not burn a position in the receive
// nonce space, or a legitimate retransmission at the same counter would
// also fail — and the counter only advances after a successful,
// authenticated decrypt. With AdvanceOnAuthFailure(true) a failed decrypt
// advances the counter as well.
func (c *Cipher) Decrypt(ctx context.Context, ad, ciphertext []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.counter == ^uint64(0) {
		return nil, ErrCounterExhausted
	}
	nonce := nonceFor(c.counter)
	pt, err := c.v.AeadDecrypt(ctx, c.key, nonce, ad, ciphertext)
	if err != nil {
		if c.advanceOnFailure {
			c.counter++
		}
		return nil, err
	}
	c.counter++
	return pt, nil
}

// Counter returns the next nonce value that will be used, primarily for
// diagnostics and tests.
func (c *Cipher) Counter() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counter
}

// Close destroys the underlying key Secret.
func (c *Cipher) Close() {
	c.v.Destroy(c.key)
}

// Pair bundles the two directional ciphers produced by one handshake
// Split, as the channel state machine consumes them.
type Pair struct {
	Send *Cipher
	Recv *Cipher
}

// NewPair wraps a (send, recv) Secret pair from handshake.Handshake.Split.
func NewPair(v vault.Vault, send, recv vault.Secret) *Pair {
	return &Pair{Send: NewCipher(v, send), Recv: NewCipher(v, recv)}
}

// Close releases both directional ciphers.
func (p *Pair) Close() {
	p.Send.Close()
	p.Recv.Close()
}
