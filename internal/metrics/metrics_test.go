package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/noiselink/noiselink-core/channel"
	"github.com/noiselink/noiselink-core/handshake"
)

func TestChannelObserver_CountsHandshakeLifecycle(t *testing.T) {
	c := NewCollector()
	obs := NewChannelObserver(c)

	obs.OnHandshakeStarted(handshake.Initiator)
	obs.OnHandshakeComplete([32]byte{}, [32]byte{})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.handshakesStarted.WithLabelValues("initiator")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.handshakesComplete.WithLabelValues("initiator")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.channelsOpen))

	obs.OnClosed()
	assert.Equal(t, 0.0, testutil.ToFloat64(c.channelsOpen))
}

func TestChannelObserver_CountsFailuresAndBytes(t *testing.T) {
	c := NewCollector()
	obs := NewChannelObserver(c)

	obs.OnHandshakeStarted(handshake.Responder)
	obs.OnHandshakeFailed(assert.AnError)
	obs.OnMessageSent(channel.MsgPayload, 100)
	obs.OnMessageReceived(channel.MsgPayload, 40)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.handshakesFailed.WithLabelValues("responder")))
	assert.Equal(t, 100.0, testutil.ToFloat64(c.bytesSent.WithLabelValues("PAYLOAD")))
	assert.Equal(t, 40.0, testutil.ToFloat64(c.bytesReceived.WithLabelValues("PAYLOAD")))
}
