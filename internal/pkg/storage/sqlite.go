package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// storeEntry local_store表记录
type storeEntry struct {
	Key       string `gorm:"primaryKey;size:128"`
	Value     string `gorm:"type:text;not null"` // JSON编码的值
	UpdatedAt time.Time
}

func (storeEntry) TableName() string {
	return "local_store"
}

// SQLiteStore 基于SQLite的键值存储
type SQLiteStore struct {
	db *gorm.DB
}

// NewSQLiteStore 打开SQLite存储并迁移表结构
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite store path is required")
	}

	// 确保数据库目录存在
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	logLevel := gormlogger.Silent
	if os.Getenv("DB_DEBUG") == "true" {
		logLevel = gormlogger.Info
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite store: %w", err)
	}

	if err := db.AutoMigrate(&storeEntry{}); err != nil {
		return nil, fmt.Errorf("failed to migrate sqlite store: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Get 读取键值
func (s *SQLiteStore) Get(ctx context.Context, key string) (interface{}, bool, error) {
	var e storeEntry
	err := s.db.WithContext(ctx).Where("`key` = ?", key).Take(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("sqlite get %q: %w", key, err)
	}

	v, err := decodeValue(e.Value)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// Set 写入键值（存在则覆盖）
func (s *SQLiteStore) Set(ctx context.Context, key string, value interface{}) error {
	raw, err := encodeValue(value)
	if err != nil {
		return err
	}

	e := storeEntry{Key: key, Value: raw, UpdatedAt: time.Now()}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&e).Error
	if err != nil {
		return fmt.Errorf("sqlite set %q: %w", key, err)
	}
	return nil
}

// Delete 删除键
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if err := s.db.WithContext(ctx).Where("`key` = ?", key).Delete(&storeEntry{}).Error; err != nil {
		return fmt.Errorf("sqlite delete %q: %w", key, err)
	}
	return nil
}

// Has 判断键是否存在
func (s *SQLiteStore) Has(ctx context.Context, key string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&storeEntry{}).Where("`key` = ?", key).Count(&count).Error; err != nil {
		return false, fmt.Errorf("sqlite has %q: %w", key, err)
	}
	return count > 0, nil
}

// Close 关闭数据库连接
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
