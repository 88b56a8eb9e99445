/**
 * 本地键值存储
 * @date: 2026.10.19
 * @description: Agent本地持久化的键值存储接口及后端选择
 */
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"mmcagent/internal/config"
)

// 已知的存储键
const (
	KeyClientUUID = "mmc_uuid"    // 收集端分配的身份标识
	KeyDeployTime = "deploy_time" // 首次部署时间（只读）
)

// ErrClosed 存储已关闭
var ErrClosed = errors.New("store is closed")

// Store 本地键值存储接口
// 值必须可以JSON编码，数字读取时统一为float64
type Store interface {
	Get(ctx context.Context, key string) (interface{}, bool, error)
	Set(ctx context.Context, key string, value interface{}) error
	Delete(ctx context.Context, key string) error
	Has(ctx context.Context, key string) (bool, error)
	Close() error
}

// New 根据配置创建存储后端
func New(cfg *config.StorageConfig) (Store, error) {
	if cfg == nil {
		return nil, errors.New("storage config cannot be nil")
	}

	switch strings.ToLower(cfg.Type) {
	case config.StorageTypeFile, "":
		return NewFileStore(cfg.FilePath)
	case config.StorageTypeSQLite:
		return NewSQLiteStore(cfg.SQLitePath)
	case config.StorageTypeRedis:
		return NewRedisStore(&cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// GetString 读取字符串值，值不是字符串时返回错误
func GetString(ctx context.Context, s Store, key string) (string, bool, error) {
	v, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return "", ok, err
	}
	str, isStr := v.(string)
	if !isStr {
		return "", true, fmt.Errorf("value of %q is %T, not string", key, v)
	}
	return str, true, nil
}

// encodeValue 编码为JSON文本（sqlite/redis后端使用）
func encodeValue(value interface{}) (string, error) {
	b, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("encode value: %w", err)
	}
	return string(b), nil
}

// decodeValue 解码JSON文本
func decodeValue(raw string) (interface{}, error) {
	var v interface{}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return v, nil
}
