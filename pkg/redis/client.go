package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/flaglink/flaglink-backend/pkg/pickle"
)

// DefaultTimeout bounds every command issued by the client. Average command
// latency against the flag store is well under 10ms; anything slower is
// treated as a failure rather than waited out.
const DefaultTimeout = 10 * time.Millisecond

// Client is the storage interface the evaluation path depends on.
type Client interface {
	// ZRangeByScore returns the members of a sorted set whose score falls
	// within [min, max]. Bounds are passed to the store verbatim, so
	// "-inf", "+inf" and "(x" exclusive forms all work. An empty or absent
	// key yields an empty slice, not an error.
	ZRangeByScore(ctx context.Context, key, min, max string) ([]string, error)

	// HIncrBy increments a hash field. The increment defaults to 1 when
	// omitted.
	HIncrBy(ctx context.Context, key, field string, count ...int64) error

	// Get returns the string value stored under key, unwrapping the legacy
	// pickle envelope. Absent keys and empty payloads yield ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value under key, wrapped in the legacy pickle envelope.
	Set(ctx context.Context, key, value string) error

	// Del removes key.
	Del(ctx context.Context, key string) error

	// HGet returns a hash field as a plain string; hash fields carry no
	// envelope. An absent key or field yields ErrNotFound.
	HGet(ctx context.Context, key, field string) (string, error)

	// Ping checks that the store is reachable.
	Ping(ctx context.Context) error

	// Close releases the underlying connections.
	Close() error
}

// MetricsRecorder receives one measurement per command. internal/metrics
// satisfies this; a nil recorder disables instrumentation.
type MetricsRecorder interface {
	RecordOp(ctx context.Context, op, outcome string, duration time.Duration)
}

type client struct {
	rdb     *redis.Client
	timeout time.Duration
	logger  *zap.SugaredLogger
	metrics MetricsRecorder
}

// Option configures optional client behavior.
type Option func(*client)

// WithTimeout overrides the per-command timeout. The 10ms default matches
// what the rest of the platform assumes; raise it only for tooling.
func WithTimeout(d time.Duration) Option {
	return func(c *client) { c.timeout = d }
}

// WithLogger attaches a logger for command failures.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(c *client) { c.logger = logger }
}

// WithMetrics attaches a per-command metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(c *client) { c.metrics = m }
}

// New creates a client bound to redisURL (redis://host:port/db, optionally
// with credentials). An unparseable URL fails immediately; New does not dial,
// each command independently acquires a connection.
func New(redisURL string, opts ...Option) (Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	c := &client{
		rdb:     redis.NewClient(opt),
		timeout: DefaultTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

type result[T any] struct {
	val T
	err error
}

// await races fn against the timeout. On timeout the in-flight command keeps
// running against the store; its result is dropped and never observed. The
// buffered channel lets the command goroutine finish without leaking.
func await[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	done := make(chan result[T], 1)
	go func() {
		v, err := fn(ctx)
		done <- result[T]{val: v, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-done:
		return r.val, r.err
	case <-timer.C:
		var zero T
		return zero, ErrTimeout
	}
}

// observe records the command outcome and returns err unchanged.
func (c *client) observe(ctx context.Context, op string, start time.Time, err error) error {
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		outcome = "not_found"
	case errors.Is(err, ErrTimeout):
		outcome = "timeout"
	case errors.Is(err, ErrPickle):
		outcome = "pickle"
	default:
		outcome = "error"
	}

	if c.metrics != nil {
		c.metrics.RecordOp(ctx, op, outcome, time.Since(start))
	}
	if c.logger != nil && outcome == "error" {
		c.logger.Errorw("Redis command failed", "op", op, "error", err)
	}
	return err
}

func (c *client) ZRangeByScore(ctx context.Context, key, min, max string) ([]string, error) {
	start := time.Now()
	members, err := await(ctx, c.timeout, func(ctx context.Context) ([]string, error) {
		return c.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: min, Max: max}).Result()
	})
	if err != nil && !errors.Is(err, ErrTimeout) {
		err = wrapStore(err)
	}
	return members, c.observe(ctx, "zrangebyscore", start, err)
}

func (c *client) HIncrBy(ctx context.Context, key, field string, count ...int64) error {
	start := time.Now()

	n := int64(1)
	if len(count) > 0 {
		n = count[0]
	}

	_, err := await(ctx, c.timeout, func(ctx context.Context) (int64, error) {
		return c.rdb.HIncrBy(ctx, key, field, n).Result()
	})
	if err != nil && !errors.Is(err, ErrTimeout) {
		err = wrapStore(err)
	}
	return c.observe(ctx, "hincrby", start, err)
}

func (c *client) Get(ctx context.Context, key string) (string, error) {
	start := time.Now()
	value, err := c.get(ctx, key)
	return value, c.observe(ctx, "get", start, err)
}

func (c *client) get(ctx context.Context, key string) (string, error) {
	raw, err := await(ctx, c.timeout, func(ctx context.Context) ([]byte, error) {
		return c.rdb.Get(ctx, key).Bytes()
	})
	switch {
	case errors.Is(err, redis.Nil):
		return "", ErrNotFound
	case errors.Is(err, ErrTimeout):
		return "", err
	case err != nil:
		return "", wrapStore(err)
	case len(raw) == 0:
		// An empty payload is indistinguishable from an unset key for our
		// callers; report both as absent.
		return "", ErrNotFound
	}

	// The Django side JSON-serialises the value and then pickles it.
	// Unpickle here to recover the JSON string.
	value, err := pickle.Decode(raw)
	if err != nil {
		return "", wrapPickle(err)
	}
	return value, nil
}

func (c *client) Set(ctx context.Context, key, value string) error {
	start := time.Now()
	return c.observe(ctx, "set", start, c.set(ctx, key, value))
}

func (c *client) set(ctx context.Context, key, value string) error {
	// Pickle before touching the store so an encode failure never dials.
	payload, err := pickle.Encode(value)
	if err != nil {
		return wrapPickle(err)
	}

	_, err = await(ctx, c.timeout, func(ctx context.Context) (string, error) {
		return c.rdb.Set(ctx, key, payload, 0).Result()
	})
	switch {
	case errors.Is(err, ErrTimeout):
		return err
	case err != nil:
		return wrapStore(err)
	}
	return nil
}

func (c *client) Del(ctx context.Context, key string) error {
	start := time.Now()

	_, err := await(ctx, c.timeout, func(ctx context.Context) (int64, error) {
		return c.rdb.Del(ctx, key).Result()
	})
	if err != nil && !errors.Is(err, ErrTimeout) {
		err = wrapStore(err)
	}
	return c.observe(ctx, "del", start, err)
}

func (c *client) HGet(ctx context.Context, key, field string) (string, error) {
	start := time.Now()

	value, err := await(ctx, c.timeout, func(ctx context.Context) (string, error) {
		return c.rdb.HGet(ctx, key, field).Result()
	})
	switch {
	case errors.Is(err, redis.Nil):
		err = ErrNotFound
	case err != nil && !errors.Is(err, ErrTimeout):
		err = wrapStore(err)
	}
	// No envelope here: hash fields are written by the newer producers
	// only, so they are stored as plain strings.
	return value, c.observe(ctx, "hget", start, err)
}

func (c *client) Ping(ctx context.Context) error {
	start := time.Now()

	_, err := await(ctx, c.timeout, func(ctx context.Context) (string, error) {
		return c.rdb.Ping(ctx).Result()
	})
	if err != nil && !errors.Is(err, ErrTimeout) {
		err = wrapStore(err)
	}
	return c.observe(ctx, "ping", start, err)
}

func (c *client) Close() error {
	return c.rdb.Close()
}
