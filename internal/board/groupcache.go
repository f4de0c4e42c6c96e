package board

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// GroupCache stores the board's group-title -> group-id mapping in Redis,
// keyed by normalized jurisdiction. Board structure changes rarely, so the
// mapping is cached after first lookup; InvalidateBoard drops it when the
// board is reorganized.
type GroupCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewGroupCache(redisURL string) (*GroupCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &GroupCache{
		client: client,
		prefix: "boardgroups:",
		ttl:    24 * time.Hour,
	}, nil
}

func NewGroupCacheWithClient(client *redis.Client) *GroupCache {
	return &GroupCache{client: client, prefix: "boardgroups:", ttl: 24 * time.Hour}
}

func (g *GroupCache) key(boardID string) string {
	return g.prefix + boardID
}

// Get returns the cached jurisdiction->groupID map for a board, or nil on a
// cache miss.
func (g *GroupCache) Get(ctx context.Context, boardID string) (map[string]string, error) {
	raw, err := g.client.Get(ctx, g.key(boardID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read group cache: %w", err)
	}
	var groups map[string]string
	if err := json.Unmarshal([]byte(raw), &groups); err != nil {
		return nil, fmt.Errorf("decode group cache: %w", err)
	}
	return groups, nil
}

func (g *GroupCache) Put(ctx context.Context, boardID string, groups map[string]string) error {
	encoded, err := json.Marshal(groups)
	if err != nil {
		return fmt.Errorf("encode group cache: %w", err)
	}
	if err := g.client.Set(ctx, g.key(boardID), encoded, g.ttl).Err(); err != nil {
		return fmt.Errorf("write group cache: %w", err)
	}
	return nil
}

// InvalidateBoard drops the cached mapping for one board.
func (g *GroupCache) InvalidateBoard(ctx context.Context, boardID string) error {
	if err := g.client.Del(ctx, g.key(boardID)).Err(); err != nil {
		return fmt.Errorf("invalidate group cache: %w", err)
	}
	return nil
}

func (g *GroupCache) Close() error {
	return g.client.Close()
}

func (g *GroupCache) Ping(ctx context.Context) error {
	return g.client.Ping(ctx).Err()
}

// NormalizeJurisdiction converts a group title to the jurisdiction key used
// everywhere locally, e.g. "New Mexico" -> "new_mexico".
func NormalizeJurisdiction(title string) string {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(title)))
	return strings.Join(fields, "_")
}
