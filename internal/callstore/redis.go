// Package callstore persists per-call dialogue sessions and transcripts
// between telephony webhooks and serialises turns of one call.
package callstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/clinic-voice-booking/internal/dialogue"
)

var (
	ErrSessionNotFound = dialogue.ErrSessionNotFound
	ErrTurnInProgress  = dialogue.ErrTurnInProgress
)

const (
	sessionKeyPrefix    = "voice:session:"
	transcriptKeyPrefix = "voice:transcript:"
	lockKeyPrefix       = "voice:lock:"

	defaultTTL     = 24 * time.Hour
	defaultLockTTL = 30 * time.Second
)

// releaseLock deletes the lock only if this holder still owns it.
var releaseLock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisStore keeps sessions as JSON blobs and transcripts as lists.
type RedisStore struct {
	rdb     *redis.Client
	tracer  trace.Tracer
	ttl     time.Duration
	lockTTL time.Duration
}

type RedisOption func(*RedisStore)

// WithTTL sets how long sessions and transcripts outlive their last write.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithLockTTL bounds how long a crashed turn can hold a call's lock.
func WithLockTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		if ttl > 0 {
			s.lockTTL = ttl
		}
	}
}

func NewRedisStore(rdb *redis.Client, opts ...RedisOption) *RedisStore {
	if rdb == nil {
		return nil
	}
	s := &RedisStore{
		rdb:     rdb,
		tracer:  otel.Tracer("clinicvoice.internal.callstore"),
		ttl:     defaultTTL,
		lockTTL: defaultLockTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func sessionKey(callID string) string    { return sessionKeyPrefix + callID }
func transcriptKey(callID string) string { return transcriptKeyPrefix + callID }
func lockKey(callID string) string       { return lockKeyPrefix + callID }

func (s *RedisStore) Save(ctx context.Context, sess *dialogue.CallSession) error {
	if sess == nil || sess.ID == "" {
		return errors.New("callstore: session id required")
	}
	ctx, span := s.tracer.Start(ctx, "callstore.redis.save")
	defer span.End()
	span.SetAttributes(attribute.String("call.id", sess.ID), attribute.String("call.state", string(sess.State)))

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("callstore: marshal session: %w", err)
	}
	if err := s.rdb.Set(ctx, sessionKey(sess.ID), data, s.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("callstore: save session: %w", err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, callID string) (*dialogue.CallSession, error) {
	ctx, span := s.tracer.Start(ctx, "callstore.redis.load")
	defer span.End()

	data, err := s.rdb.Get(ctx, sessionKey(callID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("callstore: load session: %w", err)
	}
	var sess dialogue.CallSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("callstore: unmarshal session: %w", err)
	}
	return &sess, nil
}

// Lock takes the call's turn lock with SET NX PX. The release func uses a
// compare-and-delete so an expired holder cannot drop a newer lock.
func (s *RedisStore) Lock(ctx context.Context, callID string) (func(), error) {
	token := uuid.NewString()
	ok, err := s.rdb.SetNX(ctx, lockKey(callID), token, s.lockTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("callstore: acquire lock: %w", err)
	}
	if !ok {
		return nil, ErrTurnInProgress
	}
	return func() {
		// The caller's context may already be cancelled when the turn ends.
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseLock.Run(ctx, s.rdb, []string{lockKey(callID)}, token).Err()
	}, nil
}

func (s *RedisStore) AppendTranscript(ctx context.Context, callID string, entries ...dialogue.TranscriptEntry) error {
	if len(entries) == 0 {
		return nil
	}
	ctx, span := s.tracer.Start(ctx, "callstore.redis.append_transcript")
	defer span.End()

	values := make([]any, 0, len(entries))
	for _, e := range entries {
		if e.Timestamp.IsZero() {
			e.Timestamp = time.Now().UTC()
		}
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("callstore: marshal transcript entry: %w", err)
		}
		values = append(values, data)
	}

	key := transcriptKey(callID)
	pipe := s.rdb.TxPipeline()
	pipe.RPush(ctx, key, values...)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("callstore: append transcript: %w", err)
	}
	return nil
}

func (s *RedisStore) Transcript(ctx context.Context, callID string) ([]dialogue.TranscriptEntry, error) {
	ctx, span := s.tracer.Start(ctx, "callstore.redis.transcript")
	defer span.End()

	raw, err := s.rdb.LRange(ctx, transcriptKey(callID), 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		span.RecordError(err)
		return nil, fmt.Errorf("callstore: list transcript: %w", err)
	}
	out := make([]dialogue.TranscriptEntry, 0, len(raw))
	for _, item := range raw {
		var e dialogue.TranscriptEntry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			span.RecordError(err)
			continue
		}
		out = append(out, e)
	}
	return out, nil
}
