// Package heartbeat 提供长周期的后台任务调度。
package heartbeat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"trades-companion/internal/config"
)

// TaskFunc 为一次心跳中执行的任务。
type TaskFunc func(ctx context.Context) error

type task struct {
	name string
	fn   TaskFunc
}

// Heartbeat 按固定周期依次执行已注册任务，单个任务失败不影响其他任务。
type Heartbeat struct {
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	tasks   []task
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New 创建心跳调度。
func New(cfg config.HeartbeatConfig, logger *zap.Logger) *Heartbeat {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	return &Heartbeat{
		interval: cfg.Interval,
		timeout:  cfg.Interval,
		logger:   logger.With(zap.String("component", "heartbeat")),
	}
}

// Register 注册任务，按注册顺序执行。
func (h *Heartbeat) Register(name string, fn TaskFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tasks = append(h.tasks, task{name: name, fn: fn})
}

// Beat 立即执行一轮全部任务。
func (h *Heartbeat) Beat(ctx context.Context) error {
	h.mu.Lock()
	tasks := append([]task(nil), h.tasks...)
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	var errs error
	for _, t := range tasks {
		start := time.Now()
		err := runTask(ctx, t)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("heartbeat: 任务 %s 失败: %w", t.name, err))
			continue
		}
		h.logger.Debug("心跳任务完成", zap.String("task", t.name), zap.Duration("latency", time.Since(start)))
	}
	return errs
}

func runTask(ctx context.Context, t task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return t.fn(ctx)
}

// Start 启动心跳循环，首轮在一个周期后执行。
func (h *Heartbeat) Start(ctx context.Context) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return false
	}
	ctx, cancel := context.WithCancel(ctx)
	h.running = true
	h.cancel = cancel
	h.done = make(chan struct{})
	go h.loop(ctx, h.done)
	h.logger.Info("心跳已启动", zap.Duration("interval", h.interval))
	return true
}

// Stop 停止心跳并等待当前一轮结束。
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	h.cancel()
	done := h.done
	h.mu.Unlock()
	<-done
}

// IsRunning 返回心跳是否在运行。
func (h *Heartbeat) IsRunning() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

func (h *Heartbeat) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.Beat(ctx); err != nil {
				h.logger.Error("心跳任务失败", zap.Error(err))
			}
		}
	}
}
