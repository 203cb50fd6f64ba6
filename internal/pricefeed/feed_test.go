package pricefeed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"

	"trades-companion/internal/config"
	"trades-companion/internal/token"
)

const (
	solMint  = "So11111111111111111111111111111111111111112"
	usdcMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

func newJupiter(t *testing.T, handler http.HandlerFunc) *JupiterFeed {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewJupiterFeed(config.PriceFeedConfig{
		BaseURL: srv.URL,
		Timeout: time.Second,
		Retry:   config.RetryConfig{MaxAttempts: 1, MinDelay: time.Millisecond, MaxDelay: time.Millisecond},
	}, token.DefaultRegistry(), nil)
}

func TestJupiterFeed_GetPrices(t *testing.T) {
	feed := newJupiter(t, func(w http.ResponseWriter, r *http.Request) {
		ids := r.URL.Query().Get("ids")
		if !strings.Contains(ids, solMint) || !strings.Contains(ids, usdcMint) {
			t.Errorf("unexpected ids %q", ids)
		}
		fmt.Fprintf(w, `{"data":{"%s":{"id":"%s","type":"derivedPrice","price":"95.5"},"%s":null}}`, solMint, solMint, usdcMint)
	})

	prices, err := feed.GetPrices(context.Background(), []string{"sol", "USDC", "DOGE"})
	if prices["SOL"] != 95.5 {
		t.Errorf("expected SOL=95.5, got %v", prices)
	}
	if _, ok := prices["USDC"]; ok {
		t.Errorf("USDC was null and must be omitted")
	}
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if !strings.Contains(err.Error(), "DOGE") || !strings.Contains(err.Error(), "USDC") {
		t.Errorf("expected both missing symbols in error, got %v", err)
	}
}

func TestJupiterFeed_ServerFailureIsUnavailable(t *testing.T) {
	feed := newJupiter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := feed.GetPrice(context.Background(), "SOL")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

type fakeTicker struct {
	prices map[string]float64
}

func (f *fakeTicker) FetchTicker(symbol string, _ ...ccxt.FetchTickerOptions) (ccxt.Ticker, error) {
	price, ok := f.prices[symbol]
	if !ok {
		return ccxt.Ticker{}, errors.New("bad symbol")
	}
	return ccxt.Ticker{Last: &price}, nil
}

func TestCCXTFeed_IsolatesFailures(t *testing.T) {
	feed := newCCXTFeed(&fakeTicker{prices: map[string]float64{"SOL/USDT": 101}}, "USDT", time.Second, nil)

	prices, err := feed.GetPrices(context.Background(), []string{"SOL", "BONK", "USDT"})
	if prices["SOL"] != 101 {
		t.Errorf("expected SOL=101, got %v", prices)
	}
	if prices["USDT"] != 1 {
		t.Errorf("expected quote asset priced at 1, got %v", prices["USDT"])
	}
	if _, ok := prices["BONK"]; ok {
		t.Errorf("BONK should be missing")
	}
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestCCXTFeed_GetPrice(t *testing.T) {
	feed := newCCXTFeed(&fakeTicker{prices: map[string]float64{"SOL/USDT": 88}}, "", 0, nil)
	q, err := feed.GetPrice(context.Background(), "sol")
	if err != nil {
		t.Fatalf("GetPrice returned error: %v", err)
	}
	if q.Symbol != "SOL" || q.Price != 88 {
		t.Errorf("unexpected quote %+v", q)
	}
}
