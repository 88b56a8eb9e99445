package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"mmcagent/internal/config"
)

// RedisStore 基于Redis哈希的键值存储
// 所有键保存在同一个哈希 <key_prefix>local_store 中
type RedisStore struct {
	client *redis.Client
	hash   string
}

// NewRedisStore 连接Redis并验证可用性
func NewRedisStore(cfg *config.RedisConfig) (*RedisStore, error) {
	if cfg == nil || cfg.Addr == "" {
		return nil, errors.New("redis addr is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password, // 为空时不发送AUTH
		DB:           cfg.DB,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis %s: %w", cfg.Addr, err)
	}

	return &RedisStore{client: client, hash: cfg.KeyPrefix + "local_store"}, nil
}

// Get 读取键值
func (s *RedisStore) Get(ctx context.Context, key string) (interface{}, bool, error) {
	raw, err := s.client.HGet(ctx, s.hash, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %q: %w", key, err)
	}

	v, err := decodeValue(raw)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// Set 写入键值
func (s *RedisStore) Set(ctx context.Context, key string, value interface{}) error {
	raw, err := encodeValue(value)
	if err != nil {
		return err
	}
	if err := s.client.HSet(ctx, s.hash, key, raw).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

// Delete 删除键
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.HDel(ctx, s.hash, key).Err(); err != nil {
		return fmt.Errorf("redis delete %q: %w", key, err)
	}
	return nil
}

// Has 判断键是否存在
func (s *RedisStore) Has(ctx context.Context, key string) (bool, error) {
	ok, err := s.client.HExists(ctx, s.hash, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis has %q: %w", key, err)
	}
	return ok, nil
}

// Close 关闭连接
func (s *RedisStore) Close() error {
	return s.client.Close()
}
