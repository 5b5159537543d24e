package redis

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/flaglink/flaglink-backend/pkg/pickle"
)

// Mock is an in-memory Client for tests. It honors the same error taxonomy,
// timeout race, and value envelope as the real client, and exposes knobs to
// inject latency and failures.
type Mock struct {
	// Timeout bounds every command, like the real client's option.
	Timeout time.Duration
	// Latency is applied to every command before it touches the data. Set
	// it above Timeout to force ErrTimeout.
	Latency time.Duration
	// Err, when set, fails every command. Errors outside the package's
	// closed set are wrapped as ErrStore.
	Err error

	mu      sync.RWMutex
	strings map[string][]byte
	hashes  map[string]map[string]string
	zsets   map[string]map[string]float64
}

var _ Client = (*Mock)(nil)

// NewMock returns an empty in-memory client with the default timeout.
func NewMock() *Mock {
	return &Mock{
		Timeout: DefaultTimeout,
		strings: make(map[string][]byte),
		hashes:  make(map[string]map[string]string),
		zsets:   make(map[string]map[string]float64),
	}
}

// ZAdd seeds a sorted-set member for ZRangeByScore tests.
func (m *Mock) ZAdd(key string, score float64, member string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.zsets[key] == nil {
		m.zsets[key] = make(map[string]float64)
	}
	m.zsets[key][member] = score
}

// HSet seeds a hash field. Hash fields are plain strings, no envelope.
func (m *Mock) HSet(key, field, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hashes[key] == nil {
		m.hashes[key] = make(map[string]string)
	}
	m.hashes[key][field] = value
}

// SeedRaw stores raw bytes under key, bypassing the envelope. Useful for
// simulating writers that don't pickle.
func (m *Mock) SeedRaw(key string, raw []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strings[key] = raw
}

// Raw returns the stored bytes for key as they would sit on the wire.
func (m *Mock) Raw(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	raw, ok := m.strings[key]
	return raw, ok
}

func (m *Mock) gate() error {
	if m.Err != nil {
		if errors.Is(m.Err, ErrNotFound) || errors.Is(m.Err, ErrTimeout) ||
			errors.Is(m.Err, ErrPickle) || errors.Is(m.Err, ErrStore) {
			return m.Err
		}
		return wrapStore(m.Err)
	}
	if m.Latency > 0 {
		time.Sleep(m.Latency)
	}
	return nil
}

func (m *Mock) ZRangeByScore(ctx context.Context, key, min, max string) ([]string, error) {
	return await(ctx, m.Timeout, func(ctx context.Context) ([]string, error) {
		if err := m.gate(); err != nil {
			return nil, err
		}

		lo, loIncl, err := parseScoreBound(min)
		if err != nil {
			return nil, wrapStore(err)
		}
		hi, hiIncl, err := parseScoreBound(max)
		if err != nil {
			return nil, wrapStore(err)
		}

		m.mu.RLock()
		defer m.mu.RUnlock()

		type member struct {
			name  string
			score float64
		}
		var in []member
		for name, score := range m.zsets[key] {
			if score < lo || (score == lo && !loIncl) {
				continue
			}
			if score > hi || (score == hi && !hiIncl) {
				continue
			}
			in = append(in, member{name, score})
		}
		sort.Slice(in, func(i, j int) bool {
			if in[i].score != in[j].score {
				return in[i].score < in[j].score
			}
			return in[i].name < in[j].name
		})

		members := make([]string, len(in))
		for i, mem := range in {
			members[i] = mem.name
		}
		return members, nil
	})
}

func (m *Mock) HIncrBy(ctx context.Context, key, field string, count ...int64) error {
	n := int64(1)
	if len(count) > 0 {
		n = count[0]
	}

	_, err := await(ctx, m.Timeout, func(ctx context.Context) (int64, error) {
		if err := m.gate(); err != nil {
			return 0, err
		}

		m.mu.Lock()
		defer m.mu.Unlock()

		if m.hashes[key] == nil {
			m.hashes[key] = make(map[string]string)
		}
		cur := int64(0)
		if existing, ok := m.hashes[key][field]; ok {
			parsed, perr := strconv.ParseInt(existing, 10, 64)
			if perr != nil {
				return 0, wrapStore(fmt.Errorf("hash value is not an integer"))
			}
			cur = parsed
		}
		cur += n
		m.hashes[key][field] = strconv.FormatInt(cur, 10)
		return cur, nil
	})
	return err
}

func (m *Mock) Get(ctx context.Context, key string) (string, error) {
	return await(ctx, m.Timeout, func(ctx context.Context) (string, error) {
		if err := m.gate(); err != nil {
			return "", err
		}

		m.mu.RLock()
		defer m.mu.RUnlock()

		raw, ok := m.strings[key]
		if !ok || len(raw) == 0 {
			return "", ErrNotFound
		}
		value, err := pickle.Decode(raw)
		if err != nil {
			return "", wrapPickle(err)
		}
		return value, nil
	})
}

func (m *Mock) Set(ctx context.Context, key, value string) error {
	payload, err := pickle.Encode(value)
	if err != nil {
		return wrapPickle(err)
	}

	_, err = await(ctx, m.Timeout, func(ctx context.Context) (struct{}, error) {
		if err := m.gate(); err != nil {
			return struct{}{}, err
		}

		m.mu.Lock()
		defer m.mu.Unlock()
		m.strings[key] = payload
		return struct{}{}, nil
	})
	return err
}

func (m *Mock) Del(ctx context.Context, key string) error {
	_, err := await(ctx, m.Timeout, func(ctx context.Context) (struct{}, error) {
		if err := m.gate(); err != nil {
			return struct{}{}, err
		}

		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.strings, key)
		delete(m.hashes, key)
		delete(m.zsets, key)
		return struct{}{}, nil
	})
	return err
}

func (m *Mock) HGet(ctx context.Context, key, field string) (string, error) {
	return await(ctx, m.Timeout, func(ctx context.Context) (string, error) {
		if err := m.gate(); err != nil {
			return "", err
		}

		m.mu.RLock()
		defer m.mu.RUnlock()

		value, ok := m.hashes[key][field]
		if !ok {
			return "", ErrNotFound
		}
		return value, nil
	})
}

func (m *Mock) Ping(ctx context.Context) error {
	_, err := await(ctx, m.Timeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, m.gate()
	})
	return err
}

func (m *Mock) Close() error {
	return nil
}

// parseScoreBound parses a ZRANGEBYSCORE bound: a float, "-inf"/"+inf", or
// the "(x" exclusive form.
func parseScoreBound(s string) (float64, bool, error) {
	inclusive := true
	if strings.HasPrefix(s, "(") {
		inclusive = false
		s = s[1:]
	}
	switch strings.ToLower(s) {
	case "-inf":
		return math.Inf(-1), inclusive, nil
	case "+inf", "inf":
		return math.Inf(1), inclusive, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false, fmt.Errorf("min or max is not a float")
	}
	return v, inclusive, nil
}
