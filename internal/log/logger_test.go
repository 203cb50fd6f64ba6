package log

import (
	"testing"

	"trades-companion/internal/config"
)

func TestNewLogger_RejectsUnknownLevel(t *testing.T) {
	if _, err := NewLogger(config.LoggingConfig{Level: "loud", Encoding: "console"}); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestNewLogger_JSONEncoding(t *testing.T) {
	logger, err := NewLogger(config.LoggingConfig{Level: "debug", Encoding: "json"})
	if err != nil {
		t.Fatalf("NewLogger returned error: %v", err)
	}
	logger.Debug("ok")
	_ = logger.Sync()
}

func TestNewLogger_RejectsUnknownEncoding(t *testing.T) {
	if _, err := NewLogger(config.LoggingConfig{Level: "info", Encoding: "xml"}); err == nil {
		t.Fatalf("expected error for unknown encoding")
	}
}
