package signer

import (
	"context"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"trades-companion/internal/store"
)

// CustodyModeKey 为托管模式在 KV 中的存储键。
const CustodyModeKey = "wallet_custody_mode"

var _ Signer = (*Session)(nil)

// Session 持有至多一个活动签名后端，仅持久化托管模式标记。
type Session struct {
	kv     store.KV
	logger *zap.Logger

	mu      sync.RWMutex
	current Signer
}

// NewSession 创建签名会话。
func NewSession(kv store.KV, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{kv: kv, logger: logger}
}

// UseLocal 切换为本地密钥签名。
func (s *Session) UseLocal(ctx context.Context, local *LocalKeySigner) error {
	return s.use(ctx, local)
}

// UseDelegated 切换为委托托管签名。
func (s *Session) UseDelegated(ctx context.Context, delegated *DelegatedSigner) error {
	return s.use(ctx, delegated)
}

func (s *Session) use(ctx context.Context, sg Signer) error {
	if sg == nil {
		return fmt.Errorf("signer: 签名后端为空")
	}
	if err := s.kv.Set(ctx, CustodyModeKey, string(sg.Kind())); err != nil {
		return fmt.Errorf("signer: 保存托管模式失败: %w", err)
	}
	s.mu.Lock()
	s.current = sg
	s.mu.Unlock()
	s.logger.Info("签名后端已切换", zap.String("kind", string(sg.Kind())))
	return nil
}

// Disconnect 断开当前后端并清除托管模式标记。
func (s *Session) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()
	if err := s.kv.Delete(ctx, CustodyModeKey); err != nil {
		return fmt.Errorf("signer: 清除托管模式失败: %w", err)
	}
	s.logger.Info("签名后端已断开")
	return nil
}

// Current 返回当前后端。
func (s *Session) Current() (Signer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil, ErrNotConnected
	}
	return s.current, nil
}

// StoredMode 读取上次保存的托管模式。
func (s *Session) StoredMode(ctx context.Context) (Kind, bool, error) {
	v, ok, err := s.kv.Get(ctx, CustodyModeKey)
	if err != nil {
		return "", false, fmt.Errorf("signer: 读取托管模式失败: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	switch Kind(v) {
	case KindLocal, KindDelegated:
		return Kind(v), true, nil
	default:
		return "", false, fmt.Errorf("signer: 托管模式取值非法: %q", v)
	}
}

// Kind 返回当前后端类型，未连接时为空。
func (s *Session) Kind() Kind {
	if sg, err := s.Current(); err == nil {
		return sg.Kind()
	}
	return ""
}

// Address 返回当前钱包地址，未连接时为零值。
func (s *Session) Address() solana.PublicKey {
	if sg, err := s.Current(); err == nil {
		return sg.Address()
	}
	return solana.PublicKey{}
}

// Ready 未连接任何后端时返回 ErrNotConnected，否则交由当前后端判断。
func (s *Session) Ready(ctx context.Context) (solana.PublicKey, error) {
	sg, err := s.Current()
	if err != nil {
		return solana.PublicKey{}, err
	}
	return sg.Ready(ctx)
}

// SignAndSend 交由当前后端签名。
func (s *Session) SignAndSend(ctx context.Context, payload Payload) (solana.Signature, error) {
	sg, err := s.Current()
	if err != nil {
		return solana.Signature{}, err
	}
	return sg.SignAndSend(ctx, payload)
}
