// Package pricefeed 从外部行情服务获取代币现价。
package pricefeed

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrUnavailable 表示价格暂时不可用，调用方应在下一轮重新评估。
var ErrUnavailable = errors.New("pricefeed: 价格暂不可用")

// Quote 为单个代币的现价。
type Quote struct {
	Symbol      string
	Price       float64
	RetrievedAt time.Time
}

// Feed 抽象行情源。
type Feed interface {
	// GetPrice 返回单个代币现价，不可用时返回包裹 ErrUnavailable 的错误。
	GetPrice(ctx context.Context, symbol string) (Quote, error)
	// GetPrices 批量获取价格；不可用的代币不出现在结果中，并以合并错误返回。
	GetPrices(ctx context.Context, symbols []string) (map[string]float64, error)
}

func unavailable(symbol string, cause error) error {
	if cause == nil {
		return fmt.Errorf("%w: %s", ErrUnavailable, symbol)
	}
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, symbol, cause)
}

func getOne(ctx context.Context, f Feed, symbol string) (Quote, error) {
	prices, err := f.GetPrices(ctx, []string{symbol})
	price, ok := prices[symbol]
	if !ok {
		if err == nil {
			err = unavailable(symbol, nil)
		}
		return Quote{}, err
	}
	return Quote{Symbol: symbol, Price: price, RetrievedAt: time.Now().UTC()}, nil
}
