package signer

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gorilla/websocket"

	"trades-companion/internal/config"
	"trades-companion/internal/store"
)

func newKey(t *testing.T) solana.PrivateKey {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		t.Fatalf("NewRandomPrivateKey: %v", err)
	}
	return key
}

func transferTx(t *testing.T, from solana.PublicKey, blockhash solana.Hash) *solana.Transaction {
	t.Helper()
	to := solana.NewWallet().PublicKey()
	tx, err := solana.NewTransaction(
		[]solana.Instruction{system.NewTransferInstruction(1000, from, to).Build()},
		blockhash,
		solana.TransactionPayer(from),
	)
	if err != nil {
		t.Fatalf("NewTransaction: %v", err)
	}
	return tx
}

type fakeChain struct {
	mu        sync.Mutex
	sent      []*solana.Transaction
	blockhash solana.Hash
	status    *rpc.SignatureStatusesResult
	sendErr   error
}

func (f *fakeChain) GetLatestBlockhash(context.Context, rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
	return &rpc.GetLatestBlockhashResult{Value: &rpc.LatestBlockhashResult{Blockhash: f.blockhash}}, nil
}

func (f *fakeChain) SendTransactionWithOpts(_ context.Context, tx *solana.Transaction, _ rpc.TransactionOpts) (solana.Signature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	if f.sendErr != nil {
		return solana.Signature{}, f.sendErr
	}
	return tx.Signatures[0], nil
}

func (f *fakeChain) GetSignatureStatuses(context.Context, bool, ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
	return &rpc.GetSignatureStatusesResult{Value: []*rpc.SignatureStatusesResult{f.status}}, nil
}

func TestDecode_LegacyAndRaw(t *testing.T) {
	key := newKey(t)
	tx := transferTx(t, key.PublicKey(), solana.Hash{1})
	raw, err := tx.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}

	payload, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	if _, ok := payload.(LegacyTx); !ok {
		t.Fatalf("expected LegacyTx, got %T", payload)
	}

	back, err := toBytes(RawTx(raw))
	if err != nil || string(back) != string(raw) {
		t.Fatalf("RawTx should pass through unchanged")
	}
	if _, err := Decode(nil); err == nil {
		t.Fatalf("expected error for empty transaction")
	}
}

func TestLocalKeySigner_SignsAndConfirms(t *testing.T) {
	key := newKey(t)
	chain := &fakeChain{
		blockhash: solana.Hash{7},
		status:    &rpc.SignatureStatusesResult{ConfirmationStatus: rpc.ConfirmationStatusConfirmed},
	}
	s, err := NewLocalKeySigner(key, chain, LocalOptions{ConfirmTimeout: time.Second, PollInterval: 10 * time.Millisecond}, nil)
	if err != nil {
		t.Fatalf("NewLocalKeySigner: %v", err)
	}

	tx := transferTx(t, key.PublicKey(), solana.Hash{})
	sig, err := s.SignAndSend(context.Background(), LegacyTx{Tx: tx})
	if err != nil {
		t.Fatalf("SignAndSend returned error: %v", err)
	}
	if len(chain.sent) != 1 {
		t.Fatalf("expected one submission, got %d", len(chain.sent))
	}
	sent := chain.sent[0]
	if sent.Message.RecentBlockhash != chain.blockhash {
		t.Fatalf("expected blockhash to be filled in")
	}
	msg, err := sent.Message.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal message: %v", err)
	}
	pub := key.PublicKey()
	if len(sent.Signatures) != 1 || !ed25519.Verify(ed25519.PublicKey(pub[:]), msg, sig[:]) {
		t.Fatalf("expected a valid signature from the local key")
	}
}

func TestLocalKeySigner_SettlementTimeout(t *testing.T) {
	key := newKey(t)
	chain := &fakeChain{status: nil}
	s, _ := NewLocalKeySigner(key, chain, LocalOptions{ConfirmTimeout: 50 * time.Millisecond, PollInterval: 10 * time.Millisecond}, nil)

	sig, err := s.SignAndSend(context.Background(), LegacyTx{Tx: transferTx(t, key.PublicKey(), solana.Hash{3})})
	if !errors.Is(err, ErrSettlementTimeout) {
		t.Fatalf("expected ErrSettlementTimeout, got %v", err)
	}
	if sig == (solana.Signature{}) {
		t.Fatalf("expected submitted signature to be returned with the timeout")
	}
}

func TestLocalKeySigner_SendTimeoutIsUncertain(t *testing.T) {
	key := newKey(t)
	chain := &fakeChain{sendErr: context.DeadlineExceeded}
	s, _ := NewLocalKeySigner(key, chain, LocalOptions{ConfirmTimeout: time.Second, PollInterval: 10 * time.Millisecond}, nil)

	sig, err := s.SignAndSend(context.Background(), LegacyTx{Tx: transferTx(t, key.PublicKey(), solana.Hash{3})})
	if !errors.Is(err, ErrSettlementTimeout) {
		t.Fatalf("expected ErrSettlementTimeout, got %v", err)
	}
	if len(chain.sent) != 1 || sig != chain.sent[0].Signatures[0] {
		t.Fatalf("expected the locally computed signature, got %s", sig)
	}
}

func TestLocalKeySigner_SendRejectedIsFailure(t *testing.T) {
	key := newKey(t)
	chain := &fakeChain{sendErr: errors.New("preflight: insufficient funds")}
	s, _ := NewLocalKeySigner(key, chain, LocalOptions{ConfirmTimeout: time.Second, PollInterval: 10 * time.Millisecond}, nil)

	sig, err := s.SignAndSend(context.Background(), LegacyTx{Tx: transferTx(t, key.PublicKey(), solana.Hash{3})})
	if err == nil || errors.Is(err, ErrSettlementTimeout) {
		t.Fatalf("expected a definite failure, got %v", err)
	}
	if sig != (solana.Signature{}) {
		t.Fatalf("expected no signature, got %s", sig)
	}
}

func TestLocalKeySigner_OnChainFailure(t *testing.T) {
	key := newKey(t)
	chain := &fakeChain{status: &rpc.SignatureStatusesResult{Err: map[string]any{"InstructionError": []any{0, "Custom"}}}}
	s, _ := NewLocalKeySigner(key, chain, LocalOptions{ConfirmTimeout: time.Second, PollInterval: 10 * time.Millisecond}, nil)

	_, err := s.SignAndSend(context.Background(), LegacyTx{Tx: transferTx(t, key.PublicKey(), solana.Hash{3})})
	if !errors.Is(err, ErrTransactionFailed) {
		t.Fatalf("expected ErrTransactionFailed, got %v", err)
	}
}

type fakeBridge struct {
	address solana.PublicKey
	err     error
	got     [][]byte
}

func (b *fakeBridge) Address() solana.PublicKey { return b.address }

func (b *fakeBridge) SignAndSend(_ context.Context, tx []byte) (solana.Signature, error) {
	b.got = append(b.got, tx)
	if b.err != nil {
		return solana.Signature{}, b.err
	}
	return solana.Signature{9}, nil
}

func TestDelegatedSigner_SessionTimeout(t *testing.T) {
	s := NewDelegatedSigner(NewSessionSlot(), 20*time.Millisecond, nil)
	_, err := s.SignAndSend(context.Background(), RawTx{1, 2, 3})
	if !errors.Is(err, ErrSessionTimeout) {
		t.Fatalf("expected ErrSessionTimeout, got %v", err)
	}
	if !s.Address().IsZero() {
		t.Fatalf("expected zero address without a session")
	}
	if _, err := s.Ready(context.Background()); !errors.Is(err, ErrSessionTimeout) {
		t.Fatalf("expected Ready to time out, got %v", err)
	}
}

func TestDelegatedSigner_WaitsForSession(t *testing.T) {
	slot := NewSessionSlot()
	bridge := &fakeBridge{address: solana.NewWallet().PublicKey()}
	s := NewDelegatedSigner(slot, time.Second, nil)

	go func() {
		time.Sleep(20 * time.Millisecond)
		slot.Attach(bridge)
	}()

	sig, err := s.SignAndSend(context.Background(), RawTx{1, 2, 3})
	if err != nil {
		t.Fatalf("SignAndSend returned error: %v", err)
	}
	if sig != (solana.Signature{9}) || len(bridge.got) != 1 {
		t.Fatalf("expected bridge to sign once, got %v", bridge.got)
	}
	if !s.Address().Equals(bridge.address) {
		t.Fatalf("expected delegated address")
	}
	payer, err := s.Ready(context.Background())
	if err != nil || !payer.Equals(bridge.address) {
		t.Fatalf("expected Ready to return the delegated address, got %s, %v", payer, err)
	}
}

func TestDelegatedSigner_Rejected(t *testing.T) {
	slot := NewSessionSlot()
	slot.Attach(&fakeBridge{err: ErrRejected})
	s := NewDelegatedSigner(slot, time.Second, nil)

	if _, err := s.SignAndSend(context.Background(), RawTx{1}); !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
}

func TestSession_SelectsOneBackend(t *testing.T) {
	ctx := context.Background()
	kv, err := store.NewSQLite(config.DatabaseConfig{InMemory: true, Path: t.Name()})
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	defer kv.Close()

	session := NewSession(kv, nil)
	if _, err := session.Current(); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if _, err := session.SignAndSend(ctx, RawTx{1}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected from SignAndSend, got %v", err)
	}
	if _, err := session.Ready(ctx); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected from Ready, got %v", err)
	}

	key := newKey(t)
	local, _ := NewLocalKeySigner(key, &fakeChain{}, LocalOptions{}, nil)
	if err := session.UseLocal(ctx, local); err != nil {
		t.Fatalf("UseLocal: %v", err)
	}
	if mode, ok, _ := session.StoredMode(ctx); !ok || mode != KindLocal {
		t.Fatalf("expected stored mode local, got %q", mode)
	}
	if !session.Address().Equals(key.PublicKey()) {
		t.Fatalf("expected local address")
	}
	if payer, err := session.Ready(ctx); err != nil || !payer.Equals(key.PublicKey()) {
		t.Fatalf("expected Ready to return the local address, got %s, %v", payer, err)
	}

	if err := session.UseDelegated(ctx, NewDelegatedSigner(NewSessionSlot(), time.Second, nil)); err != nil {
		t.Fatalf("UseDelegated: %v", err)
	}
	if session.Kind() != KindDelegated {
		t.Fatalf("expected delegated backend, got %q", session.Kind())
	}

	if err := session.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if _, ok, _ := session.StoredMode(ctx); ok {
		t.Fatalf("expected custody mode to be cleared")
	}
}

func TestWSBridge_RoundTrip(t *testing.T) {
	address := solana.NewWallet().PublicKey()
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		for {
			var req map[string]any
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			id := req["id"]
			switch req["method"] {
			case "getAccount":
				_ = conn.WriteJSON(map[string]any{"id": id, "result": map[string]string{"publicKey": address.String()}})
			case "signAndSendTransaction":
				params := req["params"].(map[string]any)
				raw, _ := base64.StdEncoding.DecodeString(params["transaction"].(string))
				if len(raw) == 1 && raw[0] == 0xff {
					_ = conn.WriteJSON(map[string]any{"id": id, "error": map[string]any{"code": 4001, "message": "user rejected"}})
					continue
				}
				_ = conn.WriteJSON(map[string]any{"id": id, "result": map[string]string{"signature": solana.Signature{5}.String()}})
			}
		}
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	bridge, err := DialBridge(context.Background(), url, time.Second, nil)
	if err != nil {
		t.Fatalf("DialBridge: %v", err)
	}
	defer bridge.Close()

	if !bridge.Address().Equals(address) {
		t.Fatalf("expected bridge address %s, got %s", address, bridge.Address())
	}
	sig, err := bridge.SignAndSend(context.Background(), []byte{1, 2})
	if err != nil {
		t.Fatalf("SignAndSend: %v", err)
	}
	if sig != (solana.Signature{5}) {
		t.Fatalf("unexpected signature %s", sig)
	}
	if _, err := bridge.SignAndSend(context.Background(), []byte{0xff}); !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
}

func TestWSBridge_UnansweredSignIsUncertain(t *testing.T) {
	address := solana.NewWallet().PublicKey()
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		for {
			var req map[string]any
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			if req["method"] == "getAccount" {
				_ = conn.WriteJSON(map[string]any{"id": req["id"], "result": map[string]string{"publicKey": address.String()}})
			}
		}
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	bridge, err := DialBridge(context.Background(), url, 50*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("DialBridge: %v", err)
	}
	defer bridge.Close()

	sig, err := bridge.SignAndSend(context.Background(), []byte{1, 2})
	if !errors.Is(err, ErrSettlementTimeout) {
		t.Fatalf("expected ErrSettlementTimeout, got %v", err)
	}
	if sig != (solana.Signature{}) {
		t.Fatalf("expected no signature, got %s", sig)
	}

	slot := NewSessionSlot()
	slot.Attach(bridge)
	delegated := NewDelegatedSigner(slot, time.Second, nil)
	if _, err := delegated.SignAndSend(context.Background(), RawTx{1}); !errors.Is(err, ErrSettlementTimeout) {
		t.Fatalf("expected delegated signer to keep ErrSettlementTimeout, got %v", err)
	}
}
