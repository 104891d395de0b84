// Package audit records channel lifecycle events to an append-only sink,
// so handshake failures and completions leave a trail for security
// forensics. The sink is an observer; a failing sink never aborts an
// otherwise healthy channel.
package audit

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"github.com/noiselink/noiselink-core/channel"
	"github.com/noiselink/noiselink-core/handshake"
)

// Event is one audit record. RemoteStatic/HandshakeHash are hex-encoded so
// the sink never needs crypto-library types in its schema.
type Event struct {
	ChannelID     uuid.UUID
	Role          string
	Kind          string // "handshake_started" | "handshake_completed" | "handshake_failed" | "closed"
	RemoteStatic  string
	HandshakeHash string
	Detail        string
	OccurredAt    time.Time
}

// Sink persists Events. Implementations must not block the channel for
// long; a slow sink should buffer internally rather than stall Send/Receive.
type Sink interface {
	RecordEvent(ctx context.Context, event Event) error
	Close() error
}

// NoopSink discards every event. Used when no audit backend is configured.
type NoopSink struct{}

func (NoopSink) RecordEvent(ctx context.Context, event Event) error { return nil }
func (NoopSink) Close() error                                       { return nil }

// ChannelObserver adapts a Sink to channel.Observer. Sink errors are
// logged by the caller-supplied onError hook rather than propagated,
// since an audit-trail failure must never abort an otherwise healthy
// secure channel.
type ChannelObserver struct {
	channel.NoopObserver
	sink      Sink
	channelID uuid.UUID
	role      handshake.Role
	onError   func(error)
}

// NewChannelObserver returns an Observer that writes into sink under a
// fresh channel ID. onError may be nil.
func NewChannelObserver(sink Sink, onError func(error)) *ChannelObserver {
	if onError == nil {
		onError = func(error) {}
	}
	return &ChannelObserver{sink: sink, channelID: uuid.New(), onError: onError}
}

func (o *ChannelObserver) roleLabel() string {
	if o.role == handshake.Initiator {
		return "initiator"
	}
	return "responder"
}

func (o *ChannelObserver) record(ctx context.Context, kind, remoteStatic, handshakeHash, detail string) {
	event := Event{
		ChannelID:     o.channelID,
		Role:          o.roleLabel(),
		Kind:          kind,
		RemoteStatic:  remoteStatic,
		HandshakeHash: handshakeHash,
		Detail:        detail,
		OccurredAt:    time.Now(),
	}
	if err := o.sink.RecordEvent(ctx, event); err != nil {
		o.onError(err)
	}
}

func (o *ChannelObserver) OnHandshakeStarted(role handshake.Role) {
	o.role = role
	o.record(context.Background(), "handshake_started", "", "", "")
}

func (o *ChannelObserver) OnHandshakeComplete(remoteStatic, handshakeHash [32]byte) {
	o.record(context.Background(), "handshake_completed", hex.EncodeToString(remoteStatic[:]), hex.EncodeToString(handshakeHash[:]), "")
}

func (o *ChannelObserver) OnHandshakeFailed(err error) {
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	o.record(context.Background(), "handshake_failed", "", "", detail)
}

func (o *ChannelObserver) OnClosed() {
	o.record(context.Background(), "closed", "", "", "")
}
