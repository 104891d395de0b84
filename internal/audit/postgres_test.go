package audit

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockSink(t *testing.T) (*PostgresSink, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &PostgresSink{db: sqlx.NewDb(db, "postgres")}, mock
}

func TestPostgresSink_RecordEventExecutesInsert(t *testing.T) {
	sink, mock := newMockSink(t)
	mock.ExpectExec("INSERT INTO channel_audit_log").WillReturnResult(sqlmock.NewResult(1, 1))

	event := Event{
		ChannelID:     uuid.New(),
		Role:          "initiator",
		Kind:          "handshake_completed",
		RemoteStatic:  "deadbeef",
		HandshakeHash: "cafebabe",
		OccurredAt:    time.Now(),
	}
	err := sink.RecordEvent(context.Background(), event)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestValidateConfig_RejectsMissingFields(t *testing.T) {
	err := validateConfig(&Config{})
	assert.Error(t, err)

	err = validateConfig(&Config{Host: "localhost", Port: 5432, Database: "db", Username: "user"})
	assert.NoError(t, err)
}

func TestChannelObserver_RecordsLifecycleEvents(t *testing.T) {
	sink := &recordingSink{}
	obs := NewChannelObserver(sink, nil)

	obs.OnHandshakeStarted(0)
	obs.OnHandshakeComplete([32]byte{1}, [32]byte{2})
	obs.OnClosed()

	require.Len(t, sink.events, 3)
	assert.Equal(t, "handshake_started", sink.events[0].Kind)
	assert.Equal(t, "handshake_completed", sink.events[1].Kind)
	assert.Equal(t, "closed", sink.events[2].Kind)
	assert.Equal(t, sink.events[0].ChannelID, sink.events[1].ChannelID, "all events for one channel share a channel id")
}

type recordingSink struct {
	events []Event
}

func (s *recordingSink) RecordEvent(ctx context.Context, event Event) error {
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) Close() error { return nil }
