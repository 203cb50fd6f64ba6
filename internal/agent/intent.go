// Package agent 将用户的自然语言指令解析为条件单操作。
package agent

import (
	"errors"
	"fmt"
	"strings"

	"trades-companion/internal/order"
)

// Action 为指令意图。
type Action string

const (
	ActionPlace  Action = "place"
	ActionCancel Action = "cancel"
	ActionList   Action = "list"
	ActionNone   Action = "none"
)

// Intent 表示模型解析出的操作。
type Intent struct {
	Action         Action  `json:"action"`
	Type           string  `json:"type"`
	Token          string  `json:"token"`
	BaseToken      string  `json:"base_token"`
	Amount         float64 `json:"amount"`
	TriggerPrice   float64 `json:"trigger_price"`
	ExpiresInHours float64 `json:"expires_in_hours"`
	OrderID        string  `json:"order_id"`
	Reply          string  `json:"reply"`
}

// Validate 校验意图字段。数值范围由订单管理器在下单时校验。
func (i Intent) Validate() error {
	switch Action(strings.ToLower(strings.TrimSpace(string(i.Action)))) {
	case ActionPlace:
		if strings.TrimSpace(i.Token) == "" {
			return errors.New("agent: token 不能为空")
		}
		if _, err := order.ParseType(i.Type); err != nil {
			return fmt.Errorf("agent: type 字段取值非法: %w", err)
		}
	case ActionCancel:
		if strings.TrimSpace(i.OrderID) == "" {
			return errors.New("agent: cancel 需要 order_id")
		}
	case ActionList, ActionNone:
	default:
		return fmt.Errorf("agent: action 字段取值非法: %q", i.Action)
	}
	return nil
}

// PlaceParams 将下单意图转换为下单参数。
func (i Intent) PlaceParams() (order.PlaceParams, error) {
	if i.Action != ActionPlace {
		return order.PlaceParams{}, fmt.Errorf("agent: 意图 %q 不是下单", i.Action)
	}
	typ, err := order.ParseType(i.Type)
	if err != nil {
		return order.PlaceParams{}, err
	}
	return order.PlaceParams{
		Type:           typ,
		Token:          strings.ToUpper(strings.TrimSpace(i.Token)),
		BaseToken:      strings.ToUpper(strings.TrimSpace(i.BaseToken)),
		Amount:         i.Amount,
		TriggerPrice:   i.TriggerPrice,
		ExpiresInHours: i.ExpiresInHours,
	}, nil
}

func (i Intent) normalized() Intent {
	i.Action = Action(strings.ToLower(strings.TrimSpace(string(i.Action))))
	i.OrderID = strings.TrimSpace(i.OrderID)
	return i
}
