package order

import "time"

// record 为存储格式，时间戳为毫秒，未设置的可选字段写为 null。
// txSignature 与 error 的空字符串与 null 视为同一取值，重新编码后统一写为 null。
type record struct {
	ID           string   `json:"id"`
	Type         Type     `json:"type"`
	Token        string   `json:"token"`
	Amount       float64  `json:"amount"`
	TriggerPrice float64  `json:"triggerPrice"`
	BaseToken    string   `json:"baseToken"`
	Status       Status   `json:"status"`
	CreatedAt    int64    `json:"createdAt"`
	ExpiresAt    *int64   `json:"expiresAt"`
	FilledAt     *int64   `json:"filledAt"`
	FilledPrice  *float64 `json:"filledPrice"`
	TxSignature  *string  `json:"txSignature"`
	Error        *string  `json:"error"`
}

func toRecord(o Order) record {
	return record{
		ID:           o.ID,
		Type:         o.Type,
		Token:        o.Token,
		Amount:       o.Amount,
		TriggerPrice: o.TriggerPrice,
		BaseToken:    o.BaseToken,
		Status:       o.Status,
		CreatedAt:    o.CreatedAt.UnixMilli(),
		ExpiresAt:    millisPtr(o.ExpiresAt),
		FilledAt:     millisPtr(o.FilledAt),
		FilledPrice:  o.FilledPrice,
		TxSignature:  stringPtr(o.TxSignature),
		Error:        stringPtr(o.Error),
	}
}

func (r record) toOrder() Order {
	return Order{
		ID:           r.ID,
		Type:         r.Type,
		Token:        r.Token,
		BaseToken:    r.BaseToken,
		Amount:       r.Amount,
		TriggerPrice: r.TriggerPrice,
		Status:       r.Status,
		CreatedAt:    time.UnixMilli(r.CreatedAt),
		ExpiresAt:    timePtr(r.ExpiresAt),
		FilledAt:     timePtr(r.FilledAt),
		FilledPrice:  r.FilledPrice,
		TxSignature:  deref(r.TxSignature),
		Error:        deref(r.Error),
	}
}

func millisPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	ms := t.UnixMilli()
	return &ms
}

func timePtr(ms *int64) *time.Time {
	if ms == nil {
		return nil
	}
	t := time.UnixMilli(*ms)
	return &t
}

func stringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// truncateMillis 使内存中的时间与存储精度一致。
func truncateMillis(t time.Time) time.Time {
	return time.UnixMilli(t.UnixMilli())
}
