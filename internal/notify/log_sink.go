package notify

import (
	"context"

	"go.uber.org/zap"
)

// LogSink 将通知写入日志，用于本地开发与兜底。
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink 创建日志通道。
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Send 记录通知。
func (s *LogSink) Send(_ context.Context, n Notification) error {
	fields := []zap.Field{zap.String("title", n.Title), zap.String("body", n.Body)}
	for k, v := range n.Metadata {
		fields = append(fields, zap.String(k, v))
	}
	s.logger.Info("通知", fields...)
	return nil
}
