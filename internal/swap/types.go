// Package swap 封装链上兑换的报价与交易构建服务。
package swap

import (
	"context"
	"encoding/json"
	"errors"

	"trades-companion/internal/token"
)

// ErrQuoteUnavailable 表示报价暂时不可用，尚未产生任何签名动作。
var ErrQuoteUnavailable = errors.New("swap: 报价暂不可用")

// QuoteRequest 描述一次兑换报价请求。
type QuoteRequest struct {
	From   token.Token
	To     token.Token
	Amount uint64 // From 代币最小单位
}

// Quote 为报价结果。
type Quote struct {
	Route     string
	Rate      float64 // 每 1 个 From 可得的 To 数量
	InAmount  uint64
	OutAmount uint64
	Raw       json.RawMessage
}

// BuildResult 为交易构建结果；Mock 为 true 时没有可签名的交易。
type BuildResult struct {
	Transaction          []byte
	LastValidBlockHeight uint64
	Mock                 bool
}

// Client 抽象报价与构建接口。
type Client interface {
	Quote(ctx context.Context, req QuoteRequest) (Quote, error)
	Build(ctx context.Context, rawQuote json.RawMessage, payer string) (BuildResult, error)
	// Simulated 为 true 时 Build 只返回 mock 哨兵，不需要付款地址。
	Simulated() bool
}
