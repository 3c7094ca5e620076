package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"TradingTools/internal/oracle"
)

// Config 描述 Redis 连接参数。
type Config struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
}

// FeedCache 使用 Redis 字符串键缓存价格源 ID。
type FeedCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewFeedCache 建立连接并校验 Redis 可用。
func NewFeedCache(ctx context.Context, cfg Config) (*FeedCache, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return newFeedCache(client, cfg), nil
}

func newFeedCache(client *redis.Client, cfg Config) *FeedCache {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "tradingtools:feed:"
	}
	return &FeedCache{client: client, prefix: prefix, ttl: cfg.TTL}
}

// Get 实现 oracle.FeedCache。
func (c *FeedCache) Get(ctx context.Context, symbol string) (string, bool, error) {
	value, err := c.client.Get(ctx, c.prefix+symbol).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("读取 Redis 缓存失败: %w", err)
	}
	return value, true, nil
}

// Set 实现 oracle.FeedCache，TTL 为 0 时不过期。
func (c *FeedCache) Set(ctx context.Context, symbol, feedID string) error {
	if err := c.client.Set(ctx, c.prefix+symbol, feedID, c.ttl).Err(); err != nil {
		return fmt.Errorf("写入 Redis 缓存失败: %w", err)
	}
	return nil
}

// Close 释放 Redis 连接。
func (c *FeedCache) Close() error {
	return c.client.Close()
}

var _ oracle.FeedCache = (*FeedCache)(nil)
