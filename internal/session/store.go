package session

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store persists at most one session per student. Get returns nil, nil when none exists.
type Store interface {
	Get(ctx context.Context, studentID string) (*Session, error)
	Save(ctx context.Context, s Session) error
	Delete(ctx context.Context, studentID string) error
	List(ctx context.Context) ([]Session, error)
}

// MemoryStore keeps sessions in process; for dev and tests. Retention is not enforced.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]Session)}
}

func (m *MemoryStore) Get(_ context.Context, studentID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[studentID]
	if !ok {
		return nil, nil
	}
	s = s.Clone()
	return &s, nil
}

func (m *MemoryStore) Save(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.StudentID] = s.Clone()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, studentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, studentID)
	return nil
}

func (m *MemoryStore) List(_ context.Context) ([]Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out, nil
}

// RedisStore keeps each session as a JSON value whose TTL is the retention window,
// so abandoned sessions expire without engine involvement.
type RedisStore struct {
	client    *redis.Client
	prefix    string
	retention time.Duration
}

// NewRedisStore creates a store writing keys under prefix.
func NewRedisStore(client *redis.Client, prefix string, retention time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "attendance:session:"
	}
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	return &RedisStore{client: client, prefix: prefix, retention: retention}
}

func (r *RedisStore) key(studentID string) string { return r.prefix + studentID }

func (r *RedisStore) Get(ctx context.Context, studentID string) (*Session, error) {
	data, err := r.client.Get(ctx, r.key(studentID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *RedisStore) Save(ctx context.Context, s Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.key(s.StudentID), data, r.retention).Err()
}

func (r *RedisStore) Delete(ctx context.Context, studentID string) error {
	return r.client.Del(ctx, r.key(studentID)).Err()
}

// List scans every session key. Keys that expire mid-scan are skipped.
func (r *RedisStore) List(ctx context.Context) ([]Session, error) {
	var (
		out    []Session
		cursor uint64
	)
	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.prefix+"*", 200).Result()
		if err != nil {
			return nil, err
		}
		if len(keys) > 0 {
			vals, err := r.client.MGet(ctx, keys...).Result()
			if err != nil {
				return nil, err
			}
			for _, v := range vals {
				str, ok := v.(string)
				if !ok {
					continue
				}
				var s Session
				if err := json.Unmarshal([]byte(str), &s); err != nil {
					return nil, err
				}
				out = append(out, s)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out, nil
}
