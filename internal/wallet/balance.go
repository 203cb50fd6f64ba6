package wallet

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
)

// BalanceFetcher 抽象链上余额查询，*rpc.Client 满足该接口。
type BalanceFetcher interface {
	GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error)
}

// AddressSource 提供当前钱包地址。
type AddressSource interface {
	Address() solana.PublicKey
}

// Balance 为缓存的 SOL 余额。
type Balance struct {
	Address   string    `json:"address"`
	Lamports  uint64    `json:"lamports"`
	SOL       float64   `json:"sol"`
	FetchedAt time.Time `json:"fetchedAt"`
}

// BalanceCache 按 TTL 缓存余额。
type BalanceCache struct {
	fetcher BalanceFetcher
	source  AddressSource
	ttl     time.Duration
	timeout time.Duration
	logger  *zap.Logger

	mu     sync.Mutex
	cached *Balance
	wg     sync.WaitGroup
}

// NewBalanceCache 创建余额缓存。
func NewBalanceCache(fetcher BalanceFetcher, source AddressSource, ttl time.Duration, logger *zap.Logger) *BalanceCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &BalanceCache{
		fetcher: fetcher,
		source:  source,
		ttl:     ttl,
		timeout: 10 * time.Second,
		logger:  logger,
	}
}

// Get 返回余额，缓存过期或地址变化时重新查询。
func (c *BalanceCache) Get(ctx context.Context) (Balance, error) {
	address := c.source.Address()
	if address.IsZero() {
		return Balance{}, fmt.Errorf("wallet: 未连接钱包")
	}

	c.mu.Lock()
	if c.cached != nil && c.cached.Address == address.String() && time.Since(c.cached.FetchedAt) < c.ttl {
		b := *c.cached
		c.mu.Unlock()
		return b, nil
	}
	c.mu.Unlock()

	return c.fetch(ctx, address)
}

// Refresh 使缓存失效并异步重新查询。
func (c *BalanceCache) Refresh() {
	c.mu.Lock()
	c.cached = nil
	c.mu.Unlock()

	address := c.source.Address()
	if address.IsZero() {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		if _, err := c.fetch(ctx, address); err != nil {
			c.logger.Warn("刷新余额失败", zap.Error(err))
		}
	}()
}

// Wait 等待后台刷新完成。
func (c *BalanceCache) Wait() {
	c.wg.Wait()
}

func (c *BalanceCache) fetch(ctx context.Context, address solana.PublicKey) (Balance, error) {
	res, err := c.fetcher.GetBalance(ctx, address, rpc.CommitmentConfirmed)
	if err != nil {
		return Balance{}, fmt.Errorf("wallet: 查询余额失败: %w", err)
	}
	b := Balance{
		Address:   address.String(),
		Lamports:  res.Value,
		SOL:       float64(res.Value) / float64(solana.LAMPORTS_PER_SOL),
		FetchedAt: time.Now(),
	}
	c.mu.Lock()
	c.cached = &b
	c.mu.Unlock()
	return b, nil
}
