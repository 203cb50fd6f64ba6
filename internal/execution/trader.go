package execution

import "context"

// Trader 抽象执行器接口，方便切换真实或模拟执行。
type Trader interface {
	Swap(ctx context.Context, req SwapRequest) (Result, error)
	Transfer(ctx context.Context, req TransferRequest) (Result, error)
}

var _ Trader = (*Executor)(nil)
