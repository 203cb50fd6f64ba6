package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"trades-companion/internal/signer"
	"trades-companion/internal/swap"
	"trades-companion/internal/token"
)

// BlockhashSource 提供最新区块哈希，*rpc.Client 满足该接口。
type BlockhashSource interface {
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
}

// Options 控制执行参数。
type Options struct {
	QuoteTimeout time.Duration
	MaxRetry     int
}

// Executor 将兑换请求转化为报价、构建与签名上链。
type Executor struct {
	swap      swap.Client
	signer    signer.Signer
	tokens    *token.Registry
	blockhash BlockhashSource
	logger    *zap.Logger
	maxRetry  int
	opts      Options
}

// NewExecutor 创建执行器，sg 可为空（仅模拟模式可用）。
func NewExecutor(client swap.Client, sg signer.Signer, tokens *token.Registry, blockhash BlockhashSource, opts Options, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.QuoteTimeout <= 0 {
		opts.QuoteTimeout = 15 * time.Second
	}
	if opts.MaxRetry <= 0 {
		opts.MaxRetry = 2
	}
	if tokens == nil {
		tokens = token.DefaultRegistry()
	}
	return &Executor{
		swap:      client,
		signer:    sg,
		tokens:    tokens,
		blockhash: blockhash,
		logger:    logger,
		maxRetry:  opts.MaxRetry,
		opts:      opts,
	}
}

// Swap 报价、构建并签名提交兑换交易。
func (e *Executor) Swap(ctx context.Context, req SwapRequest) (Result, error) {
	result := Result{ExecutionTime: time.Now().UTC()}

	from, err := e.tokens.MustLookup(req.From)
	if err != nil {
		return result, fmt.Errorf("execution: %w", err)
	}
	to, err := e.tokens.MustLookup(req.To)
	if err != nil {
		return result, fmt.Errorf("execution: %w", err)
	}
	amount, err := from.ToAtomic(req.Amount)
	if err != nil {
		return result, fmt.Errorf("execution: %w", err)
	}

	payer, err := e.payer(ctx)
	if err != nil {
		return result, fmt.Errorf("execution: 签名方未就绪: %w", err)
	}

	quote, built, err := e.prepare(ctx, swap.QuoteRequest{From: from, To: to, Amount: amount}, payer)
	if err != nil {
		return result, err
	}
	result.Route = quote.Route
	result.InAmount = quote.InAmount
	result.OutAmount = quote.OutAmount

	if built.Mock {
		result.Mock = true
		result.Reference = "mock-" + uuid.NewString()
		e.logger.Info("模拟兑换完成",
			zap.String("from", from.Symbol),
			zap.String("to", to.Symbol),
			zap.String("amount", req.Amount.String()),
			zap.String("reference", result.Reference),
		)
		return result, nil
	}

	payload, err := signer.Decode(built.Transaction)
	if err != nil {
		return result, fmt.Errorf("execution: %w", err)
	}
	sig, err := e.signer.SignAndSend(ctx, payload)
	if sig != (solana.Signature{}) {
		result.Reference = sig.String()
	}
	if err != nil {
		return result, fmt.Errorf("execution: 签名提交失败: %w", err)
	}

	e.logger.Info("兑换已上链",
		zap.String("from", from.Symbol),
		zap.String("to", to.Symbol),
		zap.String("amount", req.Amount.String()),
		zap.String("route", quote.Route),
		zap.String("signature", result.Reference),
	)
	return result, nil
}

// payer 在构建前解析付款地址；模拟模式下签名方可缺席。
func (e *Executor) payer(ctx context.Context) (string, error) {
	if e.swap.Simulated() {
		if e.signer == nil {
			return "", nil
		}
		if addr := e.signer.Address(); !addr.IsZero() {
			return addr.String(), nil
		}
		return "", nil
	}
	if e.signer == nil {
		return "", signer.ErrNotConnected
	}
	addr, err := e.signer.Ready(ctx)
	if err != nil {
		return "", err
	}
	if addr.IsZero() {
		return "", signer.ErrNotConnected
	}
	return addr.String(), nil
}

// prepare 获取报价并构建交易，签名前的暂时性失败按次重试。
func (e *Executor) prepare(ctx context.Context, req swap.QuoteRequest, payer string) (swap.Quote, swap.BuildResult, error) {
	var err error
	for attempt := 1; attempt <= e.maxRetry; attempt++ {
		var quote swap.Quote
		var built swap.BuildResult
		quote, built, err = e.quoteAndBuild(ctx, req, payer)
		if err == nil {
			return quote, built, nil
		}
		if !errors.Is(err, swap.ErrQuoteUnavailable) || attempt == e.maxRetry {
			break
		}

		wait := time.Duration(attempt) * time.Second
		e.logger.Warn("报价失败，准备重试",
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return swap.Quote{}, swap.BuildResult{}, fmt.Errorf("%w: %v", swap.ErrQuoteUnavailable, ctx.Err())
		case <-time.After(wait):
		}
	}
	return swap.Quote{}, swap.BuildResult{}, err
}

func (e *Executor) quoteAndBuild(ctx context.Context, req swap.QuoteRequest, payer string) (swap.Quote, swap.BuildResult, error) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.QuoteTimeout)
	defer cancel()

	quote, err := e.swap.Quote(ctx, req)
	if err != nil {
		return swap.Quote{}, swap.BuildResult{}, err
	}

	built, err := e.swap.Build(ctx, quote.Raw, payer)
	if err != nil {
		return swap.Quote{}, swap.BuildResult{}, err
	}
	if !built.Mock && payer == "" {
		return swap.Quote{}, swap.BuildResult{}, signer.ErrNotConnected
	}
	return quote, built, nil
}

// Transfer 构建并签名提交原生 SOL 转账。
func (e *Executor) Transfer(ctx context.Context, req TransferRequest) (Result, error) {
	result := Result{ExecutionTime: time.Now().UTC()}
	if e.signer == nil {
		return result, signer.ErrNotConnected
	}
	from, err := e.signer.Ready(ctx)
	if err != nil {
		return result, fmt.Errorf("execution: 签名方未就绪: %w", err)
	}
	if from.IsZero() {
		return result, signer.ErrNotConnected
	}
	to, err := solana.PublicKeyFromBase58(req.To)
	if err != nil {
		return result, fmt.Errorf("execution: 收款地址非法: %w", err)
	}
	sol, err := e.tokens.MustLookup("SOL")
	if err != nil {
		return result, fmt.Errorf("execution: %w", err)
	}
	lamports, err := sol.ToAtomic(req.Amount)
	if err != nil {
		return result, fmt.Errorf("execution: %w", err)
	}

	var blockhash solana.Hash
	if e.blockhash != nil {
		latest, err := e.blockhash.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
		if err != nil {
			return result, fmt.Errorf("execution: 获取区块哈希失败: %w", err)
		}
		blockhash = latest.Value.Blockhash
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{system.NewTransferInstruction(lamports, from, to).Build()},
		blockhash,
		solana.TransactionPayer(from),
	)
	if err != nil {
		return result, fmt.Errorf("execution: 构建转账失败: %w", err)
	}

	sig, err := e.signer.SignAndSend(ctx, signer.LegacyTx{Tx: tx})
	if sig != (solana.Signature{}) {
		result.Reference = sig.String()
	}
	if err != nil {
		return result, fmt.Errorf("execution: 签名提交失败: %w", err)
	}
	result.InAmount = lamports
	e.logger.Info("转账已上链",
		zap.String("to", to.String()),
		zap.Uint64("lamports", lamports),
		zap.String("signature", result.Reference),
	)
	return result, nil
}
