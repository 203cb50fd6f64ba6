package pricefeed

import (
	"context"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"trades-companion/internal/config"
	"trades-companion/internal/httpclient"
	"trades-companion/internal/token"
)

var _ Feed = (*JupiterFeed)(nil)

// priceResponse 对应 /price?ids=... 的返回结构。
//
//	{"data": {"So111...": {"id": "So111...", "type": "derivedPrice", "price": "147.2"}}}
type priceResponse struct {
	Data map[string]*priceEntry `json:"data"`
}

type priceEntry struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Price string `json:"price"`
}

// JupiterFeed 通过 Jupiter 价格接口批量查询现价。
type JupiterFeed struct {
	baseURL  string
	client   *httpclient.Client
	registry *token.Registry
	logger   *zap.Logger
}

// NewJupiterFeed 创建 Jupiter 行情源。
func NewJupiterFeed(cfg config.PriceFeedConfig, registry *token.Registry, logger *zap.Logger) *JupiterFeed {
	if logger == nil {
		logger = zap.NewNop()
	}
	if registry == nil {
		registry = token.DefaultRegistry()
	}
	headers := map[string]string{}
	if cfg.APIKey != "" {
		headers["x-api-key"] = cfg.APIKey
	}
	return &JupiterFeed{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client: httpclient.New(httpclient.Options{
			Name:       "jupiter-price",
			Timeout:    cfg.Timeout,
			RatePerSec: cfg.RatePerSec,
			Retry:      cfg.Retry,
			Headers:    headers,
		}, logger),
		registry: registry,
		logger:   logger,
	}
}

// GetPrice 返回单个代币现价。
func (f *JupiterFeed) GetPrice(ctx context.Context, symbol string) (Quote, error) {
	return getOne(ctx, f, token.Normalize(symbol))
}

// GetPrices 批量查询价格。
func (f *JupiterFeed) GetPrices(ctx context.Context, symbols []string) (map[string]float64, error) {
	result := make(map[string]float64, len(symbols))
	if len(symbols) == 0 {
		return result, nil
	}

	var errs error
	mintToSymbol := make(map[string]string, len(symbols))
	for _, raw := range symbols {
		symbol := token.Normalize(raw)
		t, ok := f.registry.Lookup(symbol)
		if !ok {
			errs = multierr.Append(errs, unavailable(symbol, nil))
			continue
		}
		mintToSymbol[t.Mint] = symbol
	}
	if len(mintToSymbol) == 0 {
		return result, errs
	}

	mints := make([]string, 0, len(mintToSymbol))
	for mint := range mintToSymbol {
		mints = append(mints, mint)
	}
	sort.Strings(mints)

	query := url.Values{}
	query.Set("ids", strings.Join(mints, ","))

	var resp priceResponse
	if err := f.client.GetJSON(ctx, f.baseURL+"?"+query.Encode(), &resp); err != nil {
		for _, mint := range mints {
			errs = multierr.Append(errs, unavailable(mintToSymbol[mint], err))
		}
		return result, errs
	}

	for _, mint := range mints {
		symbol := mintToSymbol[mint]
		entry := resp.Data[mint]
		if entry == nil {
			errs = multierr.Append(errs, unavailable(symbol, nil))
			continue
		}
		price, err := strconv.ParseFloat(entry.Price, 64)
		if err != nil || price <= 0 {
			errs = multierr.Append(errs, unavailable(symbol, err))
			continue
		}
		result[symbol] = price
	}

	f.logger.Debug("价格查询完成", zap.Int("requested", len(symbols)), zap.Int("resolved", len(result)))
	return result, errs
}
