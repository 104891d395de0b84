// Package channel implements the secure channel's wire framing and
// connection lifecycle state machine on top of the handshake and transport
// packages. It is the only surface an application touches: Connect/Accept
// drive the handshake, Send/Receive carry framed payloads afterwards.
package channel

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/noiselink/noiselink-core/handshake"
	"github.com/noiselink/noiselink-core/transport"
	"github.com/noiselink/noiselink-core/vault"
)

// State enumerates the channel lifecycle: Idle through the three handshake
// messages to Secure, plus a Failed terminal state reached from any step
// on error.
type State int

const (
	StateIdle State = iota
	StateM1Tx       // initiator: M1 sent, awaiting M2
	StateM1Rx       // responder: M1 received, about to send M2
	StateM2Rx       // initiator: M2 received, about to send M3
	StateM2Tx       // responder: M2 sent, awaiting M3
	StateM3Tx       // initiator: M3 sent
	StateM3Rx       // responder: M3 received
	StateSecure
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateM1Tx:
		return "m1-tx"
	case StateM1Rx:
		return "m1-rx"
	case StateM2Rx:
		return "m2-rx"
	case StateM2Tx:
		return "m2-tx"
	case StateM3Tx:
		return "m3-tx"
	case StateM3Rx:
		return "m3-rx"
	case StateSecure:
		return "secure"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrRouteUnsupported is returned when a frame's onward or return route
// byte is non-zero; multi-hop routing is out of scope for this channel.
var ErrRouteUnsupported = errors.New("channel: route hops unsupported")

// ErrProtocolViolation is returned for any structurally invalid frame: bad
// version, unexpected message type for the current state, truncated body.
var ErrProtocolViolation = errors.New("channel: protocol violation")

// Observer receives lifecycle notifications as a channel progresses. All
// methods are optional no-ops on NoopObserver; implementations must not
// block the channel for long, since calls happen inline with the
// handshake/read/write path. Metrics and audit adapters attach here, so
// the channel never imports a metrics or storage backend directly.
type Observer interface {
	OnHandshakeStarted(role handshake.Role)
	OnHandshakeComplete(remoteStatic [32]byte, handshakeHash [32]byte)
	OnHandshakeFailed(err error)
	OnMessageSent(msgType MsgType, bytes int)
	OnMessageReceived(msgType MsgType, bytes int)
	OnClosed()
}

// NoopObserver implements Observer with no-ops; embed it to implement only
// the callbacks a given Observer cares about.
type NoopObserver struct{}

func (NoopObserver) OnHandshakeStarted(handshake.Role)      {}
func (NoopObserver) OnHandshakeComplete([32]byte, [32]byte) {}
func (NoopObserver) OnHandshakeFailed(error)                {}
func (NoopObserver) OnMessageSent(MsgType, int)             {}
func (NoopObserver) OnMessageReceived(MsgType, int)         {}
func (NoopObserver) OnClosed()                              {}

// ReplayChecker flags a previously seen handshake ephemeral public key.
// Wired in as an optional seam so the core handshake/channel state machine
// never imports a storage backend directly.
type ReplayChecker interface {
	CheckAndRecord(ctx context.Context, ephemeralPublicKey [32]byte) (replayed bool, err error)
}

// ErrReplayedEphemeralKey is returned by Accept when the configured
// ReplayChecker reports the initiator's ephemeral key has been seen before.
var ErrReplayedEphemeralKey = errors.New("channel: replayed ephemeral public key")

// Channel drives one secure connection's handshake and framed transport
// over an io.ReadWriter. It is not safe for concurrent Send/Receive from
// multiple goroutines on the same direction; each direction has a single
// owner.
type Channel struct {
	rw       io.ReadWriter
	v        vault.Vault
	hs       *handshake.Handshake
	role     handshake.Role
	state    State
	observer Observer
	replay   ReplayChecker

	pair *transport.Pair
}

// New creates a Channel in StateIdle. localStaticPriv/localStaticPub is the
// long-term identity key pair this side authenticates with during the
// handshake; passing the zero Secret makes the channel generate a fresh
// identity from the vault. observer may be nil, in which case a
// NoopObserver is used.
func New(rw io.ReadWriter, v vault.Vault, role handshake.Role, localStaticPriv vault.Secret, localStaticPub [32]byte, observer Observer) (*Channel, error) {
	if observer == nil {
		observer = NoopObserver{}
	}
	if localStaticPriv == (vault.Secret{}) {
		var err error
		localStaticPriv, localStaticPub, err = v.GenerateX25519Key(context.Background())
		if err != nil {
			return nil, fmt.Errorf("channel: generate identity key: %w", err)
		}
	}
	hs, err := handshake.New(context.Background(), v, role, localStaticPriv, localStaticPub)
	if err != nil {
		return nil, fmt.Errorf("channel: init handshake: %w", err)
	}
	return &Channel{rw: rw, v: v, hs: hs, role: role, state: StateIdle, observer: observer}, nil
}

// WithReplayChecker attaches a ReplayChecker that Accept consults right
// after receiving M1, before any key material is derived from it. Only
// meaningful for responder channels.
func (c *Channel) WithReplayChecker(checker ReplayChecker) *Channel {
	c.replay = checker
	return c
}

// State returns the channel's current lifecycle state.
func (c *Channel) State() State { return c.state }

// RemoteStaticPublicKey returns the peer's static public key once the
// handshake has revealed it (message 2 for an initiator, message 3 for a
// responder). Safe to call after the channel reaches StateSecure.
func (c *Channel) RemoteStaticPublicKey() ([32]byte, bool) {
	return c.hs.RemoteStaticPublicKey()
}

// fail transitions the channel to its terminal Failed state. Every Secret
// the channel holds is destroyed here, on the transition itself, so key
// material never outlives a failed handshake waiting for a Close call
// that may not come.
func (c *Channel) fail(err error) error {
	c.state = StateFailed
	c.hs.Close()
	if c.pair != nil {
		c.pair.Close()
		c.pair = nil
	}
	c.observer.OnHandshakeFailed(err)
	return err
}

// Connect drives the initiator side of the handshake: send M1, receive M2,
// send M3, then derive the transport cipher pair.
func (c *Channel) Connect(ctx context.Context) error {
	if c.role != handshake.Initiator {
		return fmt.Errorf("channel: Connect called on non-initiator channel")
	}
	if c.state != StateIdle {
		return fmt.Errorf("%w: Connect called from state %s", ErrProtocolViolation, c.state)
	}
	c.observer.OnHandshakeStarted(c.role)

	m1, err := c.hs.WriteMessage(ctx, nil)
	if err != nil {
		return c.fail(err)
	}
	if err := c.writeFrame(MsgRequestChannel, m1); err != nil {
		return c.fail(err)
	}
	c.state = StateM1Tx

	msgType, body, err := c.readFrame()
	if err != nil {
		return c.fail(err)
	}
	if msgType != MsgKeyAgreementM2 {
		return c.fail(fmt.Errorf("%w: expected KEY_AGREEMENT_M2, got %s", ErrProtocolViolation, msgType))
	}
	if _, err := c.hs.ReadMessage(ctx, body); err != nil {
		return c.fail(err)
	}
	c.state = StateM2Rx

	m3, err := c.hs.WriteMessage(ctx, nil)
	if err != nil {
		return c.fail(err)
	}
	if err := c.writeFrame(MsgKeyAgreementM3, m3); err != nil {
		return c.fail(err)
	}
	c.state = StateM3Tx

	return c.finishHandshake(ctx)
}

// Accept drives the responder side of the handshake: receive M1, send M2,
// receive M3, then derive the transport cipher pair.
func (c *Channel) Accept(ctx context.Context) error {
	if c.role != handshake.Responder {
		return fmt.Errorf("channel: Accept called on non-responder channel")
	}
	if c.state != StateIdle {
		return fmt.Errorf("%w: Accept called from state %s", ErrProtocolViolation, c.state)
	}
	c.observer.OnHandshakeStarted(c.role)

	msgType, body, err := c.readFrame()
	if err != nil {
		return c.fail(err)
	}
	if msgType != MsgRequestChannel {
		return c.fail(fmt.Errorf("%w: expected REQUEST_CHANNEL, got %s", ErrProtocolViolation, msgType))
	}
	if _, err := c.hs.ReadMessage(ctx, body); err != nil {
		return c.fail(err)
	}
	c.state = StateM1Rx

	if c.replay != nil {
		remoteEphemeral, _ := c.hs.RemoteEphemeralPublicKey()
		replayed, err := c.replay.CheckAndRecord(ctx, remoteEphemeral)
		if err != nil {
			return c.fail(fmt.Errorf("channel: replay check: %w", err))
		}
		if replayed {
			return c.fail(ErrReplayedEphemeralKey)
		}
	}

	m2, err := c.hs.WriteMessage(ctx, nil)
	if err != nil {
		return c.fail(err)
	}
	if err := c.writeFrame(MsgKeyAgreementM2, m2); err != nil {
		return c.fail(err)
	}
	c.state = StateM2Tx

	msgType, body, err = c.readFrame()
	if err != nil {
		return c.fail(err)
	}
	if msgType != MsgKeyAgreementM3 {
		return c.fail(fmt.Errorf("%w: expected KEY_AGREEMENT_M3, got %s", ErrProtocolViolation, msgType))
	}
	if _, err := c.hs.ReadMessage(ctx, body); err != nil {
		return c.fail(err)
	}
	c.state = StateM3Rx

	return c.finishHandshake(ctx)
}

func (c *Channel) finishHandshake(ctx context.Context) error {
	send, recv, err := c.hs.Split(ctx)
	if err != nil {
		return c.fail(err)
	}
	remoteStatic, _ := c.hs.RemoteStaticPublicKey()
	hash := c.hs.HandshakeHash()
	c.pair = transport.NewPair(c.v, send, recv)
	c.hs.Close()
	c.state = StateSecure
	c.observer.OnHandshakeComplete(remoteStatic, hash)
	return nil
}

// Send encrypts and frames payload as a PAYLOAD message. The channel must
// be in StateSecure, and payload must not exceed MaxPayload.
func (c *Channel) Send(ctx context.Context, payload []byte) error {
	if c.state != StateSecure {
		return fmt.Errorf("%w: Send called from state %s", ErrProtocolViolation, c.state)
	}
	if len(payload) > MaxPayload {
		return fmt.Errorf("channel: payload of %d bytes exceeds maximum %d", len(payload), MaxPayload)
	}
	ct, err := c.pair.Send.Encrypt(ctx, nil, payload)
	if err != nil {
		return err
	}
	return c.writeFrame(MsgPayload, ct)
}

// Ping sends an empty PING frame as a liveness probe. Pings are carried
// outside the transport cipher and consume no nonce; the peer's Receive
// skips them silently, so a successful write is the only signal.
func (c *Channel) Ping(ctx context.Context) error {
	if c.state != StateSecure {
		return fmt.Errorf("%w: Ping called from state %s", ErrProtocolViolation, c.state)
	}
	return c.writeFrame(MsgPing, nil)
}

// Receive reads and decrypts the next PAYLOAD message. The channel must be
// in StateSecure. Incoming PING frames are skipped and the call keeps
// waiting for the next PAYLOAD.
func (c *Channel) Receive(ctx context.Context) ([]byte, error) {
	if c.state != StateSecure {
		return nil, fmt.Errorf("%w: Receive called from state %s", ErrProtocolViolation, c.state)
	}
	for {
		msgType, body, err := c.readFrame()
		if err != nil {
			return nil, err
		}
		switch msgType {
		case MsgPing:
			continue
		case MsgPayload:
			return c.pair.Recv.Decrypt(ctx, nil, body)
		default:
			return nil, fmt.Errorf("%w: unexpected message type %s in secure state", ErrProtocolViolation, msgType)
		}
	}
}

// Close releases the channel's transport key material. The underlying
// io.ReadWriter is not closed; callers that wrap a net.Conn close it
// themselves.
func (c *Channel) Close() {
	if c.pair != nil {
		c.pair.Close()
	}
	if c.state != StateSecure {
		c.hs.Close()
	}
	c.observer.OnClosed()
}

func (c *Channel) writeFrame(msgType MsgType, body []byte) error {
	frame := encodeEnvelope(envelope{msgType: msgType, body: body})
	if _, err := c.rw.Write(frame); err != nil {
		return fmt.Errorf("channel: write frame: %w", err)
	}
	c.observer.OnMessageSent(msgType, len(body))
	return nil
}

func (c *Channel) readFrame() (MsgType, []byte, error) {
	header := make([]byte, envelopeHeaderLen)
	if _, err := io.ReadFull(c.rw, header); err != nil {
		return 0, nil, fmt.Errorf("channel: read frame header: %w", err)
	}
	msgType, bodyLen, err := decodeEnvelopeHeader(header)
	if err != nil {
		return 0, nil, err
	}
	body := make([]byte, bodyLen)
	if bodyLen > 0 {
		if _, err := io.ReadFull(c.rw, body); err != nil {
			return 0, nil, fmt.Errorf("channel: read frame body: %w", err)
		}
	}
	c.observer.OnMessageReceived(msgType, len(body))
	return msgType, body, nil
}
