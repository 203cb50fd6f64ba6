package signer

import (
	"context"
	"sync"

	"github.com/gagliardetto/solana-go"
)

// Bridge 为外部托管钱包的签名会话。
type Bridge interface {
	Address() solana.PublicKey
	SignAndSend(ctx context.Context, tx []byte) (solana.Signature, error)
}

// SessionSlot 持有由外部组件注入的托管会话，并提供就绪信号。
type SessionSlot struct {
	mu     sync.Mutex
	bridge Bridge
	ready  chan struct{}
}

// NewSessionSlot 创建空会话槽。
func NewSessionSlot() *SessionSlot {
	return &SessionSlot{ready: make(chan struct{})}
}

// Attach 注入会话并唤醒等待者。
func (s *SessionSlot) Attach(b Bridge) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bridge = b
	select {
	case <-s.ready:
	default:
		close(s.ready)
	}
}

// Detach 移除会话。
func (s *SessionSlot) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bridge = nil
	select {
	case <-s.ready:
		s.ready = make(chan struct{})
	default:
	}
}

// Current 返回当前会话与就绪信号。
func (s *SessionSlot) Current() (Bridge, <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bridge, s.ready
}
