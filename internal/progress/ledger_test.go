package progress

import (
	"context"
	"testing"

	"trades-companion/internal/config"
	"trades-companion/internal/store"
)

func newTestLedger(t *testing.T) (*Ledger, store.KV) {
	t.Helper()
	st, err := store.NewSQLite(config.DatabaseConfig{InMemory: true, Path: t.Name(), MaxOpenConns: 2})
	if err != nil {
		t.Fatalf("NewSQLite returned error: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return NewLedger(st, nil), st
}

func TestLedger_AddAccumulates(t *testing.T) {
	l, _ := newTestLedger(t)

	for i := 0; i < 4; i++ {
		l.Add(25)
	}
	l.Add(0)
	l.Add(-5)
	l.Wait()

	total, err := l.Total(context.Background())
	if err != nil {
		t.Fatalf("Total returned error: %v", err)
	}
	if total != 100 {
		t.Fatalf("expected 100 points, got %d", total)
	}
}

func TestLedger_CorruptValue(t *testing.T) {
	l, kv := newTestLedger(t)
	ctx := context.Background()
	if err := kv.Set(ctx, StorageKey, "abc"); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}
	if _, err := l.Award(ctx, 1); err == nil {
		t.Fatalf("expected error for corrupt value")
	}
}
