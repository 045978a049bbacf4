package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RedisStore keeps sessions in Redis so several API instances can share them.
// The idle timeout is enforced with key TTLs, so SweepExpired has nothing to do.
type RedisStore struct {
	client *redis.Client
	tracer trace.Tracer
	opts   options
}

func NewRedisStore(client *redis.Client, tracer trace.Tracer, opts ...Option) *RedisStore {
	if client == nil {
		panic("session: redis client cannot be nil")
	}
	if tracer == nil {
		tracer = otel.Tracer("clinicbooking.internal.session")
	}
	return &RedisStore{client: client, tracer: tracer, opts: buildOptions(opts)}
}

func (r *RedisStore) Get(ctx context.Context, address string) (*Session, error) {
	ctx, span := r.tracer.Start(ctx, "session.get", trace.WithAttributes(attribute.String("session.address", address)))
	defer span.End()

	sess, err := r.load(ctx, address)
	if errors.Is(err, ErrNotFound) {
		sess = New(address, r.opts.now())
	} else if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := r.save(ctx, sess); err != nil {
		span.RecordError(err)
		return nil, err
	}
	return sess, nil
}

func (r *RedisStore) Lookup(ctx context.Context, address string) (*Session, error) {
	ctx, span := r.tracer.Start(ctx, "session.lookup", trace.WithAttributes(attribute.String("session.address", address)))
	defer span.End()

	sess, err := r.load(ctx, address)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			span.RecordError(err)
		}
		return nil, err
	}
	if err := r.save(ctx, sess); err != nil {
		span.RecordError(err)
		return nil, err
	}
	return sess, nil
}

func (r *RedisStore) Update(ctx context.Context, address string, fn func(*Session)) (*Session, error) {
	ctx, span := r.tracer.Start(ctx, "session.update", trace.WithAttributes(attribute.String("session.address", address)))
	defer span.End()

	sess, err := r.load(ctx, address)
	if errors.Is(err, ErrNotFound) {
		sess = New(address, r.opts.now())
	} else if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if fn != nil {
		fn(sess)
	}
	sess.Address = address
	if err := r.save(ctx, sess); err != nil {
		span.RecordError(err)
		return nil, err
	}
	return sess, nil
}

func (r *RedisStore) Clear(ctx context.Context, address string) error {
	ctx, span := r.tracer.Start(ctx, "session.clear")
	defer span.End()

	if err := r.client.Del(ctx, sessionKey(address)).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("session: failed to clear %s: %w", address, err)
	}
	return nil
}

func (r *RedisStore) SweepExpired(context.Context) (int, error) {
	return 0, nil
}

func (r *RedisStore) load(ctx context.Context, address string) (*Session, error) {
	data, err := r.client.Get(ctx, sessionKey(address)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("session: failed to load %s: %w", address, err)
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("session: failed to decode %s: %w", address, err)
	}
	if sess.Expired(r.opts.now(), r.opts.idle) {
		return nil, ErrNotFound
	}
	return &sess, nil
}

func (r *RedisStore) save(ctx context.Context, sess *Session) error {
	sess.LastActivity = r.opts.now()
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("session: failed to marshal %s: %w", sess.Address, err)
	}
	if err := r.client.Set(ctx, sessionKey(sess.Address), data, r.opts.idle).Err(); err != nil {
		return fmt.Errorf("session: failed to persist %s: %w", sess.Address, err)
	}
	return nil
}

func sessionKey(address string) string {
	return fmt.Sprintf("session:%s", address)
}
