package execution

import (
	"time"

	"github.com/shopspring/decimal"
)

// SwapRequest 描述一次代币兑换。
type SwapRequest struct {
	From   string // 卖出代币符号
	To     string // 买入代币符号
	Amount decimal.Decimal
	Reason string
}

// TransferRequest 描述一次原生 SOL 转账。
type TransferRequest struct {
	To     string
	Amount decimal.Decimal
}

// Result 为执行结果摘要。
type Result struct {
	Reference     string // 链上交易签名，模拟模式下为 mock-<uuid>
	Mock          bool
	Route         string
	InAmount      uint64
	OutAmount     uint64
	ExecutionTime time.Time
}
