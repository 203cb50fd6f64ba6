// Package notify 负责把订单事件推送给用户侧的通知通道。
package notify

import (
	"context"
	"time"
)

// Notification 为一条通知。
type Notification struct {
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

// Dispatcher 为通知通道。
type Dispatcher interface {
	Send(ctx context.Context, n Notification) error
}
