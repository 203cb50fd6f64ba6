package pricefeed

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"trades-companion/internal/config"
	"trades-companion/internal/token"
)

var _ Feed = (*CCXTFeed)(nil)

type tickerClient interface {
	FetchTicker(symbol string, options ...ccxt.FetchTickerOptions) (ccxt.Ticker, error)
}

// CCXTFeed 使用中心化交易所行情作为备用价格源。
type CCXTFeed struct {
	client  tickerClient
	quote   string
	timeout time.Duration
	logger  *zap.Logger
}

// NewCCXTFeed 根据配置创建交易所行情源。
func NewCCXTFeed(cfg config.PriceFeedConfig, logger *zap.Logger) (*CCXTFeed, error) {
	userConfig := map[string]interface{}{
		"enableRateLimit": true,
	}
	if cfg.APIKey != "" {
		userConfig["apiKey"] = cfg.APIKey
	}

	var client tickerClient
	switch strings.ToLower(cfg.CCXTExchange) {
	case "binance":
		ex := ccxt.NewBinance(userConfig)
		if cfg.UseSandbox {
			ex.SetSandboxMode(true)
		}
		client = ex
	case "bybit":
		ex := ccxt.NewBybit(userConfig)
		if cfg.UseSandbox {
			ex.SetSandboxMode(true)
		}
		client = ex
	case "okx":
		ex := ccxt.NewOkx(userConfig)
		if cfg.UseSandbox {
			ex.SetSandboxMode(true)
		}
		client = ex
	default:
		return nil, fmt.Errorf("pricefeed: 不支持的交易所 %q", cfg.CCXTExchange)
	}

	return newCCXTFeed(client, cfg.CCXTQuote, cfg.Timeout, logger), nil
}

func newCCXTFeed(client tickerClient, quote string, timeout time.Duration, logger *zap.Logger) *CCXTFeed {
	if logger == nil {
		logger = zap.NewNop()
	}
	if quote == "" {
		quote = "USDT"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &CCXTFeed{
		client:  client,
		quote:   token.Normalize(quote),
		timeout: timeout,
		logger:  logger,
	}
}

// GetPrice 返回单个代币现价。
func (f *CCXTFeed) GetPrice(ctx context.Context, symbol string) (Quote, error) {
	return getOne(ctx, f, token.Normalize(symbol))
}

// GetPrices 并发查询各代币行情，单个失败不影响其他代币。
func (f *CCXTFeed) GetPrices(ctx context.Context, symbols []string) (map[string]float64, error) {
	var (
		mu     sync.Mutex
		result = make(map[string]float64, len(symbols))
		errs   error
	)

	group := new(errgroup.Group)
	group.SetLimit(4)

	for _, raw := range symbols {
		symbol := token.Normalize(raw)
		group.Go(func() error {
			price, err := f.fetch(ctx, symbol)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = multierr.Append(errs, err)
				return nil
			}
			result[symbol] = price
			return nil
		})
	}
	_ = group.Wait()

	return result, errs
}

func (f *CCXTFeed) fetch(ctx context.Context, symbol string) (float64, error) {
	// 稳定币按 1 计价，避免查询不存在的 USDT/USDT 交易对
	if symbol == f.quote {
		return 1, nil
	}

	type outcome struct {
		ticker ccxt.Ticker
		err    error
	}
	done := make(chan outcome, 1)
	market := symbol + "/" + f.quote
	go func() {
		ticker, err := f.client.FetchTicker(market)
		done <- outcome{ticker: ticker, err: err}
	}()

	timer := time.NewTimer(f.timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return 0, unavailable(symbol, ctx.Err())
	case <-timer.C:
		return 0, unavailable(symbol, fmt.Errorf("获取 %s 行情超时", market))
	case out := <-done:
		if out.err != nil {
			f.logger.Warn("获取交易所行情失败", zap.String("market", market), zap.Error(out.err))
			return 0, unavailable(symbol, out.err)
		}
		price := 0.0
		switch {
		case out.ticker.Last != nil:
			price = *out.ticker.Last
		case out.ticker.Close != nil:
			price = *out.ticker.Close
		}
		if price <= 0 {
			return 0, unavailable(symbol, nil)
		}
		return price, nil
	}
}
