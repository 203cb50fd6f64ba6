package signer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
)

var _ Signer = (*DelegatedSigner)(nil)

// DelegatedSigner 将未签名交易转交外部托管会话完成签名与提交。
type DelegatedSigner struct {
	slot        *SessionSlot
	sessionWait time.Duration
	logger      *zap.Logger
}

// NewDelegatedSigner 创建委托签名器。
func NewDelegatedSigner(slot *SessionSlot, sessionWait time.Duration, logger *zap.Logger) *DelegatedSigner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sessionWait <= 0 {
		sessionWait = 10 * time.Second
	}
	return &DelegatedSigner{slot: slot, sessionWait: sessionWait, logger: logger}
}

// Kind 返回 delegated。
func (s *DelegatedSigner) Kind() Kind { return KindDelegated }

// Address 返回托管账户地址，会话未就绪时为零值。
func (s *DelegatedSigner) Address() solana.PublicKey {
	b, _ := s.slot.Current()
	if b == nil {
		return solana.PublicKey{}
	}
	return b.Address()
}

// Ready 在限定时间内等待会话就绪，返回托管账户地址。
func (s *DelegatedSigner) Ready(ctx context.Context) (solana.PublicKey, error) {
	bridge, err := s.awaitSession(ctx)
	if err != nil {
		return solana.PublicKey{}, err
	}
	return bridge.Address(), nil
}

// SignAndSend 等待会话就绪后转交签名。
func (s *DelegatedSigner) SignAndSend(ctx context.Context, payload Payload) (solana.Signature, error) {
	raw, err := toBytes(payload)
	if err != nil {
		return solana.Signature{}, err
	}

	bridge, err := s.awaitSession(ctx)
	if err != nil {
		return solana.Signature{}, err
	}

	sig, err := bridge.SignAndSend(ctx, raw)
	if err != nil {
		if errors.Is(err, ErrRejected) || errors.Is(err, ErrSettlementTimeout) {
			return solana.Signature{}, err
		}
		return solana.Signature{}, fmt.Errorf("signer: 托管签名失败: %w", err)
	}
	s.logger.Info("托管交易已提交", zap.String("signature", sig.String()))
	return sig, nil
}

func (s *DelegatedSigner) awaitSession(ctx context.Context) (Bridge, error) {
	timer := time.NewTimer(s.sessionWait)
	defer timer.Stop()

	for {
		bridge, ready := s.slot.Current()
		if bridge != nil {
			return bridge, nil
		}
		select {
		case <-ready:
		case <-timer.C:
			return nil, ErrSessionTimeout
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrSessionTimeout, ctx.Err())
		}
	}
}
