// Package replay rejects reused handshake ephemeral public keys. The Redis
// ledger makes the check survive process restarts, so an attacker cannot
// replay a captured handshake against a freshly started responder.
package replay

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Ledger records first-seen ephemeral public keys and flags reuse.
type Ledger interface {
	// CheckAndRecord returns true if ephemeralPublicKey has been seen
	// before within the ledger's retention window, recording it as seen
	// either way. A true result means the handshake message carrying
	// this key must be rejected as a replay.
	CheckAndRecord(ctx context.Context, ephemeralPublicKey [32]byte) (replayed bool, err error)
	Close() error
}

// Config holds the Redis connection settings for a ledger.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KeyPrefix     string
	Retention     time.Duration
}

// DefaultConfig returns settings for a local Redis, with a retention
// window long enough to outlast any plausible handshake retry storm
// without growing unbounded.
func DefaultConfig() *Config {
	return &Config{
		RedisAddr: "localhost:6379",
		KeyPrefix: "secure-channel:",
		Retention: 24 * time.Hour,
	}
}

// RedisLedger is a Ledger backed by Redis SETNX, so the "first writer wins"
// check is atomic even under concurrent handshakes racing on the same key.
type RedisLedger struct {
	client *redis.Client
	config *Config
}

// NewRedisLedger connects to Redis and verifies connectivity before
// returning, so a misconfigured address fails at startup rather than on
// the first handshake.
func NewRedisLedger(ctx context.Context, config *Config) (*RedisLedger, error) {
	if config == nil {
		config = DefaultConfig()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         config.RedisAddr,
		Password:     config.RedisPassword,
		DB:           config.RedisDB,
		PoolSize:     20,
		MinIdleConns: 5,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("replay: connect to redis: %w", err)
	}

	return &RedisLedger{client: client, config: config}, nil
}

func (l *RedisLedger) key(ephemeralPublicKey [32]byte) string {
	return l.config.KeyPrefix + "ephemeral:" + hex.EncodeToString(ephemeralPublicKey[:])
}

// CheckAndRecord uses SETNX semantics (SetArgs with NX) so the "is this the
// first time we've seen this key" check and the recording of it happen as
// one atomic Redis operation.
func (l *RedisLedger) CheckAndRecord(ctx context.Context, ephemeralPublicKey [32]byte) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key(ephemeralPublicKey), time.Now().Unix(), l.config.Retention).Result()
	if err != nil {
		return false, fmt.Errorf("replay: setnx: %w", err)
	}
	// SetNX returns true when the key was newly set, i.e. never seen
	// before. Replay is the opposite: false to SetNX means the key
	// already existed.
	return !ok, nil
}

// Close closes the underlying Redis connection.
func (l *RedisLedger) Close() error {
	return l.client.Close()
}

// InMemoryLedger is a process-local Ledger for tests and single-process
// demos that don't want a Redis dependency in the loop.
type InMemoryLedger struct {
	mu   sync.Mutex
	seen map[[32]byte]struct{}
}

// NewInMemoryLedger returns a ready-to-use in-memory Ledger.
func NewInMemoryLedger() *InMemoryLedger {
	return &InMemoryLedger{seen: make(map[[32]byte]struct{})}
}

func (l *InMemoryLedger) CheckAndRecord(ctx context.Context, ephemeralPublicKey [32]byte) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.seen[ephemeralPublicKey]; ok {
		return true, nil
	}
	l.seen[ephemeralPublicKey] = struct{}{}
	return false, nil
}

func (l *InMemoryLedger) Close() error { return nil }
