package activity

import (
	"context"
	"testing"

	"trades-companion/internal/config"
	"trades-companion/internal/store"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	st, err := store.NewSQLite(config.DatabaseConfig{InMemory: true, Path: t.Name(), MaxOpenConns: 2})
	if err != nil {
		t.Fatalf("NewSQLite returned error: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	l, err := NewLog(st, nil)
	if err != nil {
		t.Fatalf("NewLog returned error: %v", err)
	}
	return l
}

func TestLog_AppendAndList(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()

	for _, line := range []string{"设置条件单 SOL", "条件单已成交 SOL", "取消条件单 BONK"} {
		if err := l.Append(ctx, line); err != nil {
			t.Fatalf("Append returned error: %v", err)
		}
	}

	entries, err := l.List(ctx, 2)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Line != "取消条件单 BONK" || entries[1].Line != "条件单已成交 SOL" {
		t.Fatalf("expected newest first, got %+v", entries)
	}
	if entries[0].CreatedAt.IsZero() {
		t.Fatalf("expected created_at to be parsed")
	}
}

func TestLog_RejectsEmptyLine(t *testing.T) {
	l := newTestLog(t)
	if err := l.Append(context.Background(), "   "); err == nil {
		t.Fatalf("expected error for empty line")
	}
}

func TestNewLog_NilStore(t *testing.T) {
	if _, err := NewLog(nil, nil); err == nil {
		t.Fatalf("expected error for nil store")
	}
}
