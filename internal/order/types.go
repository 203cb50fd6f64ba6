// Package order 管理条件单的生命周期：下单、撤单、触发检查与执行编排。
//
// 价格轮询与心跳两个扫描者会并发调用 CheckOrders，彼此不加锁。执行前订单在存储上
// 由 active 原子切换为 executing（有意的行为变更，取代单纯的“重读后执行”检查），
// 同一订单至多有一个调用者进入报价与签名流程。
package order

import (
	"fmt"
	"strings"
	"time"
)

// Type 为条件单类型。
type Type string

const (
	TypeLimitBuy  Type = "limit_buy"
	TypeLimitSell Type = "limit_sell"
	TypeStopLoss  Type = "stop_loss"
)

// ParseType 解析条件单类型，兼容常见写法。
func ParseType(s string) (Type, error) {
	key := strings.NewReplacer("_", "", "-", "", " ", "").Replace(strings.ToLower(strings.TrimSpace(s)))
	switch key {
	case "limitbuy", "buy":
		return TypeLimitBuy, nil
	case "limitsell", "sell", "takeprofit":
		return TypeLimitSell, nil
	case "stoploss", "stop":
		return TypeStopLoss, nil
	default:
		return "", fmt.Errorf("order: 未知订单类型 %q", s)
	}
}

// Status 为订单状态。
type Status string

const (
	StatusActive    Status = "active"
	StatusExecuting Status = "executing"
	StatusFilled    Status = "filled"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
	StatusFailed    Status = "failed"
)

var transitions = map[Status][]Status{
	StatusActive:    {StatusExecuting, StatusCancelled, StatusExpired},
	StatusExecuting: {StatusFilled, StatusFailed, StatusActive},
}

// Terminal 判断是否为终态。
func (s Status) Terminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusExpired, StatusFailed:
		return true
	default:
		return false
	}
}

// CanTransition 判断状态迁移是否合法。
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Order 为一笔条件单，TxSignature 与 Error 为空表示未设置。
type Order struct {
	ID           string     `json:"id"`
	Type         Type       `json:"type"`
	Token        string     `json:"token"`
	BaseToken    string     `json:"baseToken"`
	Amount       float64    `json:"amount"`
	TriggerPrice float64    `json:"triggerPrice"`
	Status       Status     `json:"status"`
	CreatedAt    time.Time  `json:"createdAt"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
	FilledAt     *time.Time `json:"filledAt,omitempty"`
	FilledPrice  *float64   `json:"filledPrice,omitempty"`
	TxSignature  string     `json:"txSignature,omitempty"`
	Error        string     `json:"error,omitempty"`
}

// Expired 判断订单在 now 时是否已过期。
func (o Order) Expired(now time.Time) bool {
	return o.ExpiresAt != nil && !now.Before(*o.ExpiresAt)
}

// PlaceParams 为下单参数。
type PlaceParams struct {
	Type           Type    `json:"type"`
	Token          string  `json:"token"`
	BaseToken      string  `json:"baseToken,omitempty"`
	Amount         float64 `json:"amount"`
	TriggerPrice   float64 `json:"triggerPrice"`
	ExpiresInHours float64 `json:"expiresInHours,omitempty"`
}

// Trigger 为一次扫描中命中的订单及当时价格。
type Trigger struct {
	Order Order
	Price float64
}

// ValidationError 表示下单参数不合法，不会被持久化。
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("order: 参数 %s 非法: %s", e.Field, e.Reason)
}
