package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store keeps the per-session state that outlives a single request.
type Store interface {
	SetFlags(ctx context.Context, id string, f Flags, ttl time.Duration) error
	Flags(ctx context.Context, id string) (Flags, error)
	SetSection(ctx context.Context, id, section string, ttl time.Duration) error
	Section(ctx context.Context, id string) (string, error)
	Revoke(ctx context.Context, id string, ttl time.Duration) error
	Revoked(ctx context.Context, id string) (bool, error)
	Clear(ctx context.Context, id string) error
}

// RedisStore keeps session state under classlog:session:<id>:* keys.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore builds a store on an existing client.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "classlog:session"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(id, part string) string {
	return s.prefix + ":" + id + ":" + part
}

// SetFlags stores the demo login flags.
func (s *RedisStore) SetFlags(ctx context.Context, id string, f Flags, ttl time.Duration) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(id, "flags"), data, ttl).Err()
}

// Flags returns the stored flags, zero when none were set.
func (s *RedisStore) Flags(ctx context.Context, id string) (Flags, error) {
	value, err := s.client.Get(ctx, s.key(id, "flags")).Bytes()
	if errors.Is(err, redis.Nil) {
		return Flags{}, nil
	}
	if err != nil {
		return Flags{}, err
	}
	var f Flags
	if err := json.Unmarshal(value, &f); err != nil {
		return Flags{}, err
	}
	return f, nil
}

// SetSection records the active dashboard section.
func (s *RedisStore) SetSection(ctx context.Context, id, section string, ttl time.Duration) error {
	return s.client.Set(ctx, s.key(id, "section"), section, ttl).Err()
}

// Section returns the active section or "".
func (s *RedisStore) Section(ctx context.Context, id string) (string, error) {
	value, err := s.client.Get(ctx, s.key(id, "section")).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return value, err
}

// Revoke marks the session id as signed out until ttl elapses.
func (s *RedisStore) Revoke(ctx context.Context, id string, ttl time.Duration) error {
	return s.client.Set(ctx, s.key(id, "revoked"), "1", ttl).Err()
}

// Revoked reports whether the session id was signed out.
func (s *RedisStore) Revoked(ctx context.Context, id string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(id, "revoked")).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Clear drops flags and the active section.
func (s *RedisStore) Clear(ctx context.Context, id string) error {
	return s.client.Del(ctx, s.key(id, "flags"), s.key(id, "section")).Err()
}

// MemoryStore is a process-local Store for dev and tests.
type MemoryStore struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]memoryEntry
}

type memoryEntry struct {
	value   string
	expires time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now, entries: make(map[string]memoryEntry)}
}

func (s *MemoryStore) set(key, value string, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := memoryEntry{value: value}
	if ttl > 0 {
		e.expires = s.now().Add(ttl)
	}
	s.entries[key] = e
}

func (s *MemoryStore) get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return "", false
	}
	if !e.expires.IsZero() && !s.now().Before(e.expires) {
		delete(s.entries, key)
		return "", false
	}
	return e.value, true
}

// SetFlags stores the demo login flags.
func (s *MemoryStore) SetFlags(ctx context.Context, id string, f Flags, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	s.set(id+":flags", string(data), ttl)
	return nil
}

// Flags returns the stored flags, zero when none were set.
func (s *MemoryStore) Flags(ctx context.Context, id string) (Flags, error) {
	if err := ctx.Err(); err != nil {
		return Flags{}, err
	}
	value, ok := s.get(id + ":flags")
	if !ok {
		return Flags{}, nil
	}
	var f Flags
	if err := json.Unmarshal([]byte(value), &f); err != nil {
		return Flags{}, err
	}
	return f, nil
}

// SetSection records the active dashboard section.
func (s *MemoryStore) SetSection(ctx context.Context, id, section string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.set(id+":section", section, ttl)
	return nil
}

// Section returns the active section or "".
func (s *MemoryStore) Section(ctx context.Context, id string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	value, _ := s.get(id + ":section")
	return value, nil
}

// Revoke marks the session id as signed out until ttl elapses.
func (s *MemoryStore) Revoke(ctx context.Context, id string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.set(id+":revoked", "1", ttl)
	return nil
}

// Revoked reports whether the session id was signed out.
func (s *MemoryStore) Revoked(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, ok := s.get(id + ":revoked")
	return ok, nil
}

// Clear drops flags and the active section.
func (s *MemoryStore) Clear(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id+":flags")
	delete(s.entries, id+":section")
	return nil
}
