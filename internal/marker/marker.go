// Package marker persists the per-user "last rollover date" guard.
package marker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/peterbourgon/diskv/v3"
	"github.com/redis/go-redis/v9"
)

// DateLayout matches the browser's Date.toDateString output.
const DateLayout = "Mon Jan 02 2006"

// Store is a small string key-value store that survives restarts.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// RolloverMarker records the local day a user's rollover last ran.
type RolloverMarker struct {
	UserID string
	Date   string
}

// Key is the storage key for the user's marker.
func Key(userID string) string {
	return "lastRollover_" + userID
}

// DateString formats t the way markers are stored.
func DateString(t time.Time) string {
	return t.Format(DateLayout)
}

// Load reads the user's marker. A missing marker has an empty Date.
func Load(ctx context.Context, s Store, userID string) (RolloverMarker, error) {
	value, ok, err := s.Get(ctx, Key(userID))
	if err != nil {
		return RolloverMarker{}, fmt.Errorf("load rollover marker: %w", err)
	}
	if !ok {
		return RolloverMarker{UserID: userID}, nil
	}
	return RolloverMarker{UserID: userID, Date: value}, nil
}

// Save writes the marker.
func Save(ctx context.Context, s Store, m RolloverMarker) error {
	if err := s.Set(ctx, Key(m.UserID), m.Date); err != nil {
		return fmt.Errorf("save rollover marker: %w", err)
	}
	return nil
}

// DoneOn reports whether the marker covers the local day of now.
func (m RolloverMarker) DoneOn(now time.Time) bool {
	return m.Date != "" && m.Date == DateString(now)
}

// DiskStore keeps one file per key under a base directory.
type DiskStore struct {
	d *diskv.Diskv
}

func NewDiskStore(basePath string) *DiskStore {
	return &DiskStore{d: diskv.New(diskv.Options{
		BasePath:     basePath,
		CacheSizeMax: 64 * 1024,
	})}
}

func (s *DiskStore) Get(_ context.Context, key string) (string, bool, error) {
	if !s.d.Has(key) {
		return "", false, nil
	}
	val, err := s.d.Read(key)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, nil
		}
		return "", false, err
	}
	return string(val), true, nil
}

func (s *DiskStore) Set(_ context.Context, key, value string) error {
	return s.d.Write(key, []byte(value))
}

// RedisStore keeps markers in Redis so several processes can share them.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore connects using a redis:// URL and pings the server.
func NewRedisStore(ctx context.Context, url string) (*RedisStore, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisStore{rdb: rdb}, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	return s.rdb.Set(ctx, key, value, 0).Err()
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

// MemoryStore is a process-local store, used in tests and when persistence is off.
type MemoryStore struct {
	mu   sync.RWMutex
	vals map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{vals: make(map[string]string)}
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vals[key]
	return v, ok, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vals[key] = value
	return nil
}
