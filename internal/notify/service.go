package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Service 异步向全部通道发送通知，失败只记录日志。
type Service struct {
	sinks   []Dispatcher
	timeout time.Duration
	logger  *zap.Logger
	now     func() time.Time
	wg      sync.WaitGroup
}

// NewService 创建通知服务。
func NewService(timeout time.Duration, logger *zap.Logger, sinks ...Dispatcher) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Service{sinks: sinks, timeout: timeout, logger: logger, now: time.Now}
}

// Notify 立即返回，通知在后台发送。
func (s *Service) Notify(title, body string, metadata map[string]string) {
	n := Notification{Title: title, Body: body, Metadata: metadata, CreatedAt: s.now().UTC()}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		s.Send(ctx, n)
	}()
}

// Send 同步发送到全部通道，返回成功的通道数。
func (s *Service) Send(ctx context.Context, n Notification) int {
	delivered := 0
	for _, sink := range s.sinks {
		if err := sink.Send(ctx, n); err != nil {
			s.logger.Warn("发送通知失败", zap.String("title", n.Title), zap.Error(err))
			continue
		}
		delivered++
	}
	return delivered
}

// Wait 等待后台发送完成。
func (s *Service) Wait() {
	s.wg.Wait()
}
