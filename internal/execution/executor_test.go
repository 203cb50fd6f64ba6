package execution

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/shopspring/decimal"

	"trades-companion/internal/config"
	"trades-companion/internal/signer"
	"trades-companion/internal/store"
	"trades-companion/internal/swap"
)

type mockSwapClient struct {
	quoteErrs []error
	quotes    []swap.QuoteRequest
	payers    []string
	build     swap.BuildResult
	simulated bool
}

func (m *mockSwapClient) Quote(_ context.Context, req swap.QuoteRequest) (swap.Quote, error) {
	m.quotes = append(m.quotes, req)
	if len(m.quoteErrs) > 0 {
		err := m.quoteErrs[0]
		m.quoteErrs = m.quoteErrs[1:]
		if err != nil {
			return swap.Quote{}, err
		}
	}
	return swap.Quote{Route: "Orca", InAmount: req.Amount, OutAmount: 42, Raw: json.RawMessage(`{}`)}, nil
}

func (m *mockSwapClient) Build(_ context.Context, _ json.RawMessage, payer string) (swap.BuildResult, error) {
	m.payers = append(m.payers, payer)
	return m.build, nil
}

func (m *mockSwapClient) Simulated() bool { return m.simulated }

type mockSigner struct {
	address  solana.PublicKey
	payloads []signer.Payload
	err      error
}

func (m *mockSigner) Kind() signer.Kind         { return signer.KindLocal }
func (m *mockSigner) Address() solana.PublicKey { return m.address }

func (m *mockSigner) Ready(context.Context) (solana.PublicKey, error) {
	if m.address.IsZero() {
		return solana.PublicKey{}, signer.ErrNotConnected
	}
	return m.address, nil
}

func (m *mockSigner) SignAndSend(_ context.Context, p signer.Payload) (solana.Signature, error) {
	m.payloads = append(m.payloads, p)
	if m.err != nil {
		return solana.Signature{1}, m.err
	}
	return solana.Signature{8}, nil
}

func legacyBytes(t *testing.T, payer solana.PublicKey) []byte {
	t.Helper()
	tx, err := solana.NewTransaction(
		[]solana.Instruction{system.NewTransferInstruction(1, payer, solana.NewWallet().PublicKey()).Build()},
		solana.Hash{2},
		solana.TransactionPayer(payer),
	)
	if err != nil {
		t.Fatalf("NewTransaction: %v", err)
	}
	raw, err := tx.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	return raw
}

func TestExecutorSwap_MockSentinel(t *testing.T) {
	client := &mockSwapClient{build: swap.BuildResult{Mock: true}, simulated: true}
	exec := NewExecutor(client, nil, nil, nil, Options{}, nil)

	res, err := exec.Swap(context.Background(), SwapRequest{From: "USDC", To: "SOL", Amount: decimal.RequireFromString("15")})
	if err != nil {
		t.Fatalf("Swap returned error: %v", err)
	}
	if !res.Mock || !strings.HasPrefix(res.Reference, "mock-") {
		t.Fatalf("expected mock reference, got %+v", res)
	}
	if client.quotes[0].Amount != 15_000_000 {
		t.Fatalf("expected atomic amount 15000000, got %d", client.quotes[0].Amount)
	}
	if client.payers[0] != "" {
		t.Fatalf("expected empty payer without signer, got %q", client.payers[0])
	}
}

func TestExecutorSwap_SignsBuiltTransaction(t *testing.T) {
	sg := &mockSigner{address: solana.NewWallet().PublicKey()}
	client := &mockSwapClient{build: swap.BuildResult{Transaction: legacyBytes(t, sg.address)}}
	exec := NewExecutor(client, sg, nil, nil, Options{}, nil)

	res, err := exec.Swap(context.Background(), SwapRequest{From: "SOL", To: "USDC", Amount: decimal.RequireFromString("0.5")})
	if err != nil {
		t.Fatalf("Swap returned error: %v", err)
	}
	if res.Reference != (solana.Signature{8}).String() || res.Route != "Orca" {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(sg.payloads) != 1 {
		t.Fatalf("expected one signing call, got %d", len(sg.payloads))
	}
	if _, ok := sg.payloads[0].(signer.LegacyTx); !ok {
		t.Fatalf("expected LegacyTx payload, got %T", sg.payloads[0])
	}
	if client.payers[0] != sg.address.String() {
		t.Fatalf("expected payer to be signer address")
	}
}

func TestExecutorSwap_RetriesTransientQuote(t *testing.T) {
	client := &mockSwapClient{
		quoteErrs: []error{swap.ErrQuoteUnavailable, nil},
		build:     swap.BuildResult{Mock: true},
		simulated: true,
	}
	exec := NewExecutor(client, nil, nil, nil, Options{MaxRetry: 2}, nil)

	start := time.Now()
	if _, err := exec.Swap(context.Background(), SwapRequest{From: "SOL", To: "USDC", Amount: decimal.NewFromInt(1)}); err != nil {
		t.Fatalf("Swap returned error: %v", err)
	}
	if len(client.quotes) != 2 {
		t.Fatalf("expected 2 quote attempts, got %d", len(client.quotes))
	}
	if time.Since(start) < time.Second {
		t.Fatalf("expected backoff between attempts")
	}
}

func TestExecutorSwap_Errors(t *testing.T) {
	exec := NewExecutor(&mockSwapClient{quoteErrs: []error{swap.ErrQuoteUnavailable}}, nil, nil, nil, Options{MaxRetry: 1}, nil)
	_, err := exec.Swap(context.Background(), SwapRequest{From: "SOL", To: "USDC", Amount: decimal.NewFromInt(1)})
	if !errors.Is(err, swap.ErrQuoteUnavailable) {
		t.Fatalf("expected ErrQuoteUnavailable, got %v", err)
	}

	if _, err := exec.Swap(context.Background(), SwapRequest{From: "NOPE", To: "USDC", Amount: decimal.NewFromInt(1)}); err == nil {
		t.Fatalf("expected unknown token error")
	}

	noSigner := NewExecutor(&mockSwapClient{build: swap.BuildResult{Transaction: []byte{1}}}, nil, nil, nil, Options{}, nil)
	if _, err := noSigner.Swap(context.Background(), SwapRequest{From: "SOL", To: "USDC", Amount: decimal.NewFromInt(1)}); !errors.Is(err, signer.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}

	sg := &mockSigner{address: solana.NewWallet().PublicKey(), err: signer.ErrSettlementTimeout}
	timeout := NewExecutor(&mockSwapClient{build: swap.BuildResult{Transaction: legacyBytes(t, sg.address)}}, sg, nil, nil, Options{}, nil)
	res, err := timeout.Swap(context.Background(), SwapRequest{From: "SOL", To: "USDC", Amount: decimal.NewFromInt(1)})
	if !errors.Is(err, signer.ErrSettlementTimeout) {
		t.Fatalf("expected ErrSettlementTimeout, got %v", err)
	}
	if res.Reference == "" {
		t.Fatalf("expected submitted reference to be kept on settlement timeout")
	}
}

type lateBridge struct {
	address solana.PublicKey
}

func (b *lateBridge) Address() solana.PublicKey { return b.address }

func (b *lateBridge) SignAndSend(context.Context, []byte) (solana.Signature, error) {
	return solana.Signature{7}, nil
}

func TestExecutorSwap_DelegatedSessionNotReady(t *testing.T) {
	client := &mockSwapClient{build: swap.BuildResult{Transaction: []byte{1}}}
	sg := signer.NewDelegatedSigner(signer.NewSessionSlot(), 20*time.Millisecond, nil)
	exec := NewExecutor(client, sg, nil, nil, Options{}, nil)

	_, err := exec.Swap(context.Background(), SwapRequest{From: "SOL", To: "USDC", Amount: decimal.NewFromInt(1)})
	if !errors.Is(err, signer.ErrSessionTimeout) {
		t.Fatalf("expected ErrSessionTimeout, got %v", err)
	}
	if len(client.quotes) != 0 || len(client.payers) != 0 {
		t.Fatalf("expected no quote or build without a session, got %d quotes %d builds", len(client.quotes), len(client.payers))
	}
}

func TestExecutorSwap_WaitsForDelegatedPayer(t *testing.T) {
	slot := signer.NewSessionSlot()
	bridge := &lateBridge{address: solana.NewWallet().PublicKey()}
	client := &mockSwapClient{build: swap.BuildResult{Transaction: legacyBytes(t, bridge.address)}}
	exec := NewExecutor(client, signer.NewDelegatedSigner(slot, time.Second, nil), nil, nil, Options{}, nil)

	go func() {
		time.Sleep(20 * time.Millisecond)
		slot.Attach(bridge)
	}()

	res, err := exec.Swap(context.Background(), SwapRequest{From: "SOL", To: "USDC", Amount: decimal.NewFromInt(1)})
	if err != nil {
		t.Fatalf("Swap returned error: %v", err)
	}
	if len(client.payers) != 1 || client.payers[0] != bridge.address.String() {
		t.Fatalf("expected build with the delegated payer, got %v", client.payers)
	}
	if res.Reference != (solana.Signature{7}).String() {
		t.Fatalf("unexpected reference %q", res.Reference)
	}
}

func TestExecutorSwap_SessionNotReadyWithJupiter(t *testing.T) {
	var builds atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/swap" {
			builds.Add(1)
			http.Error(w, "unexpected build", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"inAmount":"1000000000","outAmount":"150000000",
			"routePlan":[{"swapInfo":{"label":"Orca"},"percent":100}]}`))
	}))
	defer srv.Close()
	jupiter := swap.NewJupiterClient(config.SwapConfig{
		BaseURL:     srv.URL,
		Timeout:     5 * time.Second,
		SlippageBps: 50,
		Retry:       config.RetryConfig{MaxAttempts: 1},
	}, nil)

	kv, err := store.NewSQLite(config.DatabaseConfig{InMemory: true, Path: t.Name()})
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	defer kv.Close()
	ctx := context.Background()
	session := signer.NewSession(kv, nil)
	exec := NewExecutor(jupiter, session, nil, nil, Options{MaxRetry: 1}, nil)

	_, err = exec.Swap(ctx, SwapRequest{From: "SOL", To: "USDC", Amount: decimal.NewFromInt(1)})
	if !errors.Is(err, signer.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected from a disconnected session, got %v", err)
	}

	if err := session.UseDelegated(ctx, signer.NewDelegatedSigner(signer.NewSessionSlot(), 20*time.Millisecond, nil)); err != nil {
		t.Fatalf("UseDelegated: %v", err)
	}
	_, err = exec.Swap(ctx, SwapRequest{From: "SOL", To: "USDC", Amount: decimal.NewFromInt(1)})
	if !errors.Is(err, signer.ErrSessionTimeout) {
		t.Fatalf("expected ErrSessionTimeout from an empty delegated slot, got %v", err)
	}
	if builds.Load() != 0 {
		t.Fatalf("expected no build request without a payer, got %d", builds.Load())
	}
}

func TestExecutorTransfer(t *testing.T) {
	sg := &mockSigner{address: solana.NewWallet().PublicKey()}
	exec := NewExecutor(&mockSwapClient{}, sg, nil, nil, Options{}, nil)

	res, err := exec.Transfer(context.Background(), TransferRequest{
		To:     solana.NewWallet().PublicKey().String(),
		Amount: decimal.RequireFromString("0.25"),
	})
	if err != nil {
		t.Fatalf("Transfer returned error: %v", err)
	}
	if res.InAmount != 250_000_000 {
		t.Fatalf("expected 250000000 lamports, got %d", res.InAmount)
	}
	if _, ok := sg.payloads[0].(signer.LegacyTx); !ok {
		t.Fatalf("expected LegacyTx payload")
	}

	if _, err := exec.Transfer(context.Background(), TransferRequest{To: "bad", Amount: decimal.NewFromInt(1)}); err == nil {
		t.Fatalf("expected invalid address error")
	}

	pending := NewExecutor(&mockSwapClient{}, signer.NewDelegatedSigner(signer.NewSessionSlot(), 20*time.Millisecond, nil), nil, nil, Options{}, nil)
	_, err = pending.Transfer(context.Background(), TransferRequest{To: solana.NewWallet().PublicKey().String(), Amount: decimal.NewFromInt(1)})
	if !errors.Is(err, signer.ErrSessionTimeout) {
		t.Fatalf("expected ErrSessionTimeout, got %v", err)
	}
}
