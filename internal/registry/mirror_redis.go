package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kapu/llm-chess-arena/pkg/arenadto"
)

const mirrorTTL = 24 * time.Hour

// RedisMirror keeps the latest snapshot of each match in redis with a TTL,
// for inspection and recovery tooling. It is a mirror, not the source of
// truth, and never blocks the writer on failure.
type RedisMirror struct {
	rdb *redis.Client
}

func NewRedisMirror(redisURL string) (*RedisMirror, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL required for snapshot mirror")
	}
	opts, err := parseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisMirror{rdb: rdb}, nil
}

func (m *RedisMirror) Close() error {
	if m == nil || m.rdb == nil {
		return nil
	}
	return m.rdb.Close()
}

func (m *RedisMirror) SaveSnapshot(ctx context.Context, snap *arenadto.MatchSnapshot) error {
	if snap == nil {
		return nil
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return m.rdb.Set(ctx, snapshotKey(snap.ID), raw, mirrorTTL).Err()
}

// LoadSnapshot returns the mirrored snapshot, or nil when absent.
func (m *RedisMirror) LoadSnapshot(ctx context.Context, id string) (*arenadto.MatchSnapshot, error) {
	raw, err := m.rdb.Get(ctx, snapshotKey(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snap arenadto.MatchSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func snapshotKey(id string) string { return "arena:match:" + strings.TrimSpace(id) }

func parseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			db = n
		}
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: u.Host, Password: pass, DB: db}, nil
}
