package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"mmcagent/internal/pkg/logger"
)

// FileStore 基于JSON文件的键值存储
// 每次修改都会整体落盘（先写临时文件再重命名）
type FileStore struct {
	mu     sync.RWMutex
	path   string
	data   map[string]interface{}
	closed bool
}

// NewFileStore 打开JSON文件存储
// 文件不存在时创建，内容损坏时重建为空存储
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("file store path is required")
	}

	s := &FileStore{path: path, data: map[string]interface{}{}}

	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logger.LogSystemEvent("storage", "create", "local store not found, creating", logger.InfoLevel,
			map[string]interface{}{"path": path})
		if err := s.save(); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("read local store: %w", err)
	default:
		if err := json.Unmarshal(b, &s.data); err != nil || s.data == nil {
			logger.LogSystemEvent("storage", "rebuild", "local store is corrupted, rebuilding", logger.WarnLevel,
				map[string]interface{}{"path": path, "error": fmt.Sprint(err)})
			s.data = map[string]interface{}{}
			if err := s.save(); err != nil {
				return nil, err
			}
		}
	}

	return s, nil
}

// Get 读取键值
func (s *FileStore) Get(_ context.Context, key string) (interface{}, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false, ErrClosed
	}
	v, ok := s.data[key]
	return v, ok, nil
}

// Set 写入键值并落盘
func (s *FileStore) Set(_ context.Context, key string, value interface{}) error {
	// 先编码再写入内存，保证读取到的值与文件中一致
	raw, err := encodeValue(value)
	if err != nil {
		return err
	}
	v, err := decodeValue(raw)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	prev, had := s.data[key]
	s.data[key] = v
	if err := s.save(); err != nil {
		if had {
			s.data[key] = prev
		} else {
			delete(s.data, key)
		}
		return err
	}
	return nil
}

// Delete 删除键并落盘，键不存在时仅记录日志
func (s *FileStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	prev, ok := s.data[key]
	if !ok {
		logger.Debugf("local store key %q not found, nothing to delete", key)
		return nil
	}

	delete(s.data, key)
	if err := s.save(); err != nil {
		s.data[key] = prev
		return err
	}
	return nil
}

// Has 判断键是否存在
func (s *FileStore) Has(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false, ErrClosed
	}
	_, ok := s.data[key]
	return ok, nil
}

// Close 关闭存储
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Path 存储文件路径
func (s *FileStore) Path() string {
	return s.path
}

// save 写入文件，调用方持有锁
func (s *FileStore) save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}

	b, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode local store: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("write local store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace local store: %w", err)
	}
	return nil
}
