package swap

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

var _ Client = (*MockClient)(nil)

// MockClient 在模拟模式下返回合成报价，构建结果为 mock 哨兵。
type MockClient struct {
	// Rates 以 "FROM/TO" 为键提供兑换比率，缺省为 1。
	Rates map[string]float64
}

// Quote 返回合成报价。
func (m *MockClient) Quote(_ context.Context, req QuoteRequest) (Quote, error) {
	if req.Amount == 0 {
		return Quote{}, fmt.Errorf("swap: 报价数量必须大于0")
	}
	r := 1.0
	if v, ok := m.Rates[req.From.Symbol+"/"+req.To.Symbol]; ok {
		r = v
	}
	raw, _ := json.Marshal(map[string]any{
		"inputMint":  req.From.Mint,
		"outputMint": req.To.Mint,
		"inAmount":   req.Amount,
		"mock":       true,
	})
	out := uint64(0)
	outUnits := req.From.FromAtomic(req.Amount).Mul(decimal.NewFromFloat(r))
	if atomic, err := req.To.ToAtomic(outUnits); err == nil {
		out = atomic
	}
	return Quote{Route: "mock", Rate: r, InAmount: req.Amount, OutAmount: out, Raw: raw}, nil
}

// Simulated 始终为 true。
func (m *MockClient) Simulated() bool { return true }

// Build 返回 mock 哨兵。
func (m *MockClient) Build(context.Context, json.RawMessage, string) (BuildResult, error) {
	return BuildResult{Mock: true}, nil
}
