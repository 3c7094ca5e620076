package oracle

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"TradingTools/pkg/logger"
)

// FeedCache 缓存符号到价格源 ID 的映射。
type FeedCache interface {
	Get(ctx context.Context, symbol string) (string, bool, error)
	Set(ctx context.Context, symbol, feedID string) error
}

type cacheEntry struct {
	feedID    string
	expiresAt time.Time
}

func (e cacheEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryFeedCache 是进程内的 FeedCache，ttl 为 0 时永不过期。
type MemoryFeedCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryFeedCache 创建内存缓存。
func NewMemoryFeedCache(ttl time.Duration) *MemoryFeedCache {
	return &MemoryFeedCache{entries: make(map[string]cacheEntry), ttl: ttl, now: time.Now}
}

// Get 实现 FeedCache。
func (c *MemoryFeedCache) Get(_ context.Context, symbol string) (string, bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[symbol]
	c.mu.RUnlock()
	if !ok {
		return "", false, nil
	}
	now := c.now()
	if !entry.expired(now) {
		return entry.feedID, true, nil
	}
	c.mu.Lock()
	// 释放读锁期间可能有新的 Set，只删除仍然过期的条目。
	if current, ok := c.entries[symbol]; ok && current.expired(now) {
		delete(c.entries, symbol)
	}
	c.mu.Unlock()
	return "", false, nil
}

// Set 实现 FeedCache。
func (c *MemoryFeedCache) Set(_ context.Context, symbol, feedID string) error {
	entry := cacheEntry{feedID: feedID}
	if c.ttl > 0 {
		entry.expiresAt = c.now().Add(c.ttl)
	}
	c.mu.Lock()
	c.entries[symbol] = entry
	c.mu.Unlock()
	return nil
}

// CachedClient 在 Client 之上缓存 ResolveFeed 的结果，价格本身从不缓存。
type CachedClient struct {
	Client
	cache  FeedCache
	logger *slog.Logger
}

// NewCachedClient 包装预言机客户端。
func NewCachedClient(client Client, cache FeedCache) *CachedClient {
	return &CachedClient{Client: client, cache: cache, logger: logger.Named("oracle")}
}

// ResolveFeed 优先读取缓存，缓存故障只记录日志并回退到上游。
func (c *CachedClient) ResolveFeed(ctx context.Context, symbol string) (string, error) {
	key := strings.ToUpper(strings.TrimSpace(symbol))
	if c.cache != nil {
		feedID, ok, err := c.cache.Get(ctx, key)
		if err != nil {
			c.logger.Warn("读取价格源缓存失败", slog.String("symbol", key), slog.Any("error", err))
		} else if ok {
			return feedID, nil
		}
	}

	feedID, err := c.Client.ResolveFeed(ctx, symbol)
	if err != nil {
		return "", err
	}
	if c.cache != nil {
		if err := c.cache.Set(ctx, key, feedID); err != nil {
			c.logger.Warn("写入价格源缓存失败", slog.String("symbol", key), slog.Any("error", err))
		}
	}
	return feedID, nil
}

var _ Client = (*CachedClient)(nil)
