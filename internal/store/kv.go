package store

import (
	"context"
	"errors"
)

// ErrClosed 表示存储已关闭。
var ErrClosed = errors.New("store: 存储已关闭")

// KV 为持久化键值存储，承载订单集合与钱包托管标记。
type KV interface {
	// Get 读取键值，键不存在时 ok=false 且 err=nil。
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

var (
	_ KV = (*Store)(nil)
	_ KV = (*PebbleKV)(nil)
)
