package swap

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"trades-companion/internal/config"
	"trades-companion/internal/token"
)

var (
	sol  = token.Token{Symbol: "SOL", Mint: "So11111111111111111111111111111111111111112", Decimals: 9, Native: true}
	usdc = token.Token{Symbol: "USDC", Mint: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", Decimals: 6}
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *JupiterClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewJupiterClient(config.SwapConfig{
		BaseURL:     srv.URL,
		Timeout:     5 * time.Second,
		SlippageBps: 50,
		Retry:       config.RetryConfig{MaxAttempts: 1},
	}, nil)
}

func TestJupiterClient_Quote(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/quote" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("inputMint") != sol.Mint || q.Get("outputMint") != usdc.Mint {
			t.Errorf("unexpected mints %v", q)
		}
		if q.Get("amount") != "2000000000" || q.Get("slippageBps") != "50" {
			t.Errorf("unexpected amount/slippage %v", q)
		}
		_, _ = w.Write([]byte(`{"inAmount":"2000000000","outAmount":"300000000",
			"routePlan":[{"swapInfo":{"label":"Orca"},"percent":100}]}`))
	})

	quote, err := c.Quote(context.Background(), QuoteRequest{From: sol, To: usdc, Amount: 2_000_000_000})
	if err != nil {
		t.Fatalf("Quote returned error: %v", err)
	}
	if quote.InAmount != 2_000_000_000 || quote.OutAmount != 300_000_000 {
		t.Fatalf("unexpected amounts %+v", quote)
	}
	if quote.Rate != 150 {
		t.Fatalf("expected rate 150, got %v", quote.Rate)
	}
	if quote.Route != "Orca" {
		t.Fatalf("expected route Orca, got %q", quote.Route)
	}
	if len(quote.Raw) == 0 {
		t.Fatalf("expected raw quote to be retained")
	}
}

func TestJupiterClient_QuoteUnavailable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	})

	_, err := c.Quote(context.Background(), QuoteRequest{From: sol, To: usdc, Amount: 1})
	if !errors.Is(err, ErrQuoteUnavailable) {
		t.Fatalf("expected ErrQuoteUnavailable, got %v", err)
	}
}

func TestJupiterClient_QuoteRejectsBadInput(t *testing.T) {
	c := newTestClient(t, func(http.ResponseWriter, *http.Request) {
		t.Errorf("no request expected")
	})
	if _, err := c.Quote(context.Background(), QuoteRequest{From: sol, To: usdc}); err == nil {
		t.Fatalf("expected error for zero amount")
	}
	if _, err := c.Quote(context.Background(), QuoteRequest{From: sol, To: sol, Amount: 1}); err == nil {
		t.Fatalf("expected error for identical tokens")
	}
}

func TestJupiterClient_Build(t *testing.T) {
	tx := []byte{1, 2, 3, 4}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/swap" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body swapRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body.UserPublicKey != "payer" || string(body.QuoteResponse) != `{"q":1}` {
			t.Errorf("unexpected body %+v", body)
		}
		_ = json.NewEncoder(w).Encode(swapResponse{
			SwapTransaction:      base64.StdEncoding.EncodeToString(tx),
			LastValidBlockHeight: 99,
		})
	})

	res, err := c.Build(context.Background(), json.RawMessage(`{"q":1}`), "payer")
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	if res.Mock || string(res.Transaction) != string(tx) || res.LastValidBlockHeight != 99 {
		t.Fatalf("unexpected build result %+v", res)
	}
}

func TestMockClient(t *testing.T) {
	m := &MockClient{Rates: map[string]float64{"SOL/USDC": 150}}
	quote, err := m.Quote(context.Background(), QuoteRequest{From: sol, To: usdc, Amount: 1_000_000_000})
	if err != nil {
		t.Fatalf("Quote returned error: %v", err)
	}
	if quote.OutAmount != 150_000_000 {
		t.Fatalf("expected 150 USDC atomic, got %d", quote.OutAmount)
	}
	res, err := m.Build(context.Background(), quote.Raw, "payer")
	if err != nil || !res.Mock {
		t.Fatalf("expected mock sentinel, got %+v %v", res, err)
	}
	if !m.Simulated() {
		t.Fatalf("expected mock client to be simulated")
	}
}
