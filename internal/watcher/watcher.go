// Package watcher 周期性拉取活动订单涉及的价格并触发订单检查。
package watcher

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"trades-companion/internal/config"
	"trades-companion/internal/order"
	"trades-companion/internal/pricefeed"
)

// Checker 为订单管理器暴露给轮询的能力。
type Checker interface {
	Active(ctx context.Context) ([]order.Order, error)
	CheckOrders(ctx context.Context, prices map[string]float64) ([]order.Order, error)
}

// Cycle 执行一轮价格检查，返回本轮开始时的活动订单数。
// 部分代币取价失败时仍使用已取得的价格继续检查。
func Cycle(ctx context.Context, checker Checker, feed pricefeed.Feed, fetchTimeout time.Duration, logger *zap.Logger) (int, error) {
	active, err := checker.Active(ctx)
	if err != nil {
		return 0, err
	}
	if len(active) == 0 {
		return 0, nil
	}

	symbols := order.WatchedSymbols(active)
	fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	prices, fetchErr := feed.GetPrices(fetchCtx, symbols)
	cancel()
	if fetchErr != nil {
		logger.Warn("部分价格获取失败", zap.Strings("symbols", symbols), zap.Error(fetchErr))
	}
	if len(prices) == 0 {
		return len(active), nil
	}

	triggered, err := checker.CheckOrders(ctx, prices)
	if len(triggered) > 0 {
		logger.Info("本轮触发订单", zap.Int("count", len(triggered)))
	}
	return len(active), err
}

// Watcher 为固定间隔的价格轮询，无活动订单时自行停止。
type Watcher struct {
	checker      Checker
	feed         pricefeed.Feed
	interval     time.Duration
	fetchTimeout time.Duration
	logger       *zap.Logger

	mu      sync.Mutex
	base    context.Context
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	gen     uint64
}

var _ order.Restarter = (*Watcher)(nil)

// New 创建价格轮询。
func New(checker Checker, feed pricefeed.Feed, cfg config.WatcherConfig, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	return &Watcher{
		checker:      checker,
		feed:         feed,
		interval:     cfg.Interval,
		fetchTimeout: cfg.FetchTimeout,
		logger:       logger.With(zap.String("component", "price-watcher")),
		base:         context.Background(),
	}
}

// Start 启动轮询，已在运行时返回 false。ctx 同时作为之后自动重启的父上下文。
func (w *Watcher) Start(ctx context.Context) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.base = ctx
	return w.startLocked()
}

// EnsureRunning 在轮询已自停时重新启动。
func (w *Watcher) EnsureRunning() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.startLocked() {
		w.logger.Info("价格轮询已重新启动")
	}
}

func (w *Watcher) startLocked() bool {
	if w.running || w.base.Err() != nil {
		return false
	}
	ctx, cancel := context.WithCancel(w.base)
	w.running = true
	w.cancel = cancel
	w.done = make(chan struct{})
	w.gen++
	go w.loop(ctx, w.gen, w.done)
	return true
}

// Stop 停止轮询并等待当前一轮结束。
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.cancel()
	done := w.done
	w.mu.Unlock()
	<-done
}

// IsRunning 返回轮询是否在运行。
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Watcher) loop(ctx context.Context, gen uint64, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		active, err := Cycle(ctx, w.checker, w.feed, w.fetchTimeout, w.logger)
		if err != nil {
			w.logger.Error("订单检查失败", zap.Error(err))
		}
		if err == nil && active == 0 && w.stopIdle(ctx, gen) {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// stopIdle 在持锁状态下复查活动订单，确认为空后自停。
// 与 EnsureRunning 共用锁，新建订单不会落在自停与重启之间。
func (w *Watcher) stopIdle(ctx context.Context, gen uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.gen != gen || !w.running {
		return true
	}
	active, err := w.checker.Active(ctx)
	if err != nil || len(active) > 0 {
		return false
	}
	w.running = false
	w.cancel()
	w.logger.Info("无活动订单，价格轮询已停止")
	return true
}
