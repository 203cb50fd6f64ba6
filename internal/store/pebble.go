package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// PebbleKV 基于 Pebble 的键值存储，适合无 SQLite 的嵌入场景。
type PebbleKV struct {
	db *pebble.DB
}

// NewPebble 打开指定目录下的 Pebble 数据库。
func NewPebble(path string) (*PebbleKV, error) {
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("打开 Pebble 数据库失败: %w", err)
	}
	return &PebbleKV{db: db}, nil
}

func kvKey(key string) []byte { return []byte("kv:" + key) }

// Get 读取键值。
func (p *PebbleKV) Get(_ context.Context, key string) (string, bool, error) {
	if p.db == nil {
		return "", false, ErrClosed
	}
	val, closer, err := p.db.Get(kvKey(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("store: 读取键 %q 失败: %w", key, err)
	}
	defer closer.Close()
	return string(val), true, nil
}

// Set 写入键值并同步落盘。
func (p *PebbleKV) Set(_ context.Context, key, value string) error {
	if p.db == nil {
		return ErrClosed
	}
	if err := p.db.Set(kvKey(key), []byte(value), pebble.Sync); err != nil {
		return fmt.Errorf("store: 写入键 %q 失败: %w", key, err)
	}
	return nil
}

// Delete 删除键。
func (p *PebbleKV) Delete(_ context.Context, key string) error {
	if p.db == nil {
		return ErrClosed
	}
	if err := p.db.Delete(kvKey(key), pebble.Sync); err != nil {
		return fmt.Errorf("store: 删除键 %q 失败: %w", key, err)
	}
	return nil
}

// Close 关闭数据库。
func (p *PebbleKV) Close() error {
	if p.db == nil {
		return nil
	}
	err := p.db.Close()
	p.db = nil
	return err
}
