// Package progress 累计用户的进度积分。
package progress

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"trades-companion/internal/store"
)

// StorageKey 为积分在键值存储中的键。
const StorageKey = "progress_points"

// Ledger 以键值存储保存积分总数。
type Ledger struct {
	kv      store.KV
	timeout time.Duration
	logger  *zap.Logger

	mu sync.Mutex
	wg sync.WaitGroup
}

// NewLedger 创建积分账本。
func NewLedger(kv store.KV, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{kv: kv, timeout: 5 * time.Second, logger: logger}
}

// Add 在后台累加积分，失败只记录日志。
func (l *Ledger) Add(points int) {
	if points <= 0 {
		return
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
		defer cancel()
		if _, err := l.Award(ctx, points); err != nil {
			l.logger.Warn("累加积分失败", zap.Int("points", points), zap.Error(err))
		}
	}()
}

// Award 同步累加积分并返回新的总数。
func (l *Ledger) Award(ctx context.Context, points int) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	total, err := l.total(ctx)
	if err != nil {
		return 0, err
	}
	total += points
	if err := l.kv.Set(ctx, StorageKey, strconv.Itoa(total)); err != nil {
		return 0, fmt.Errorf("progress: 保存积分失败: %w", err)
	}
	return total, nil
}

// Total 返回当前积分总数。
func (l *Ledger) Total(ctx context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total(ctx)
}

func (l *Ledger) total(ctx context.Context) (int, error) {
	raw, ok, err := l.kv.Get(ctx, StorageKey)
	if err != nil {
		return 0, fmt.Errorf("progress: 读取积分失败: %w", err)
	}
	if !ok || raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("progress: 积分格式非法 %q: %w", raw, err)
	}
	return n, nil
}

// Wait 等待后台累加完成。
func (l *Ledger) Wait() {
	l.wg.Wait()
}
