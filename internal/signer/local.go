package signer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
)

var _ Signer = (*LocalKeySigner)(nil)

// ChainClient 为本地签名所需的 RPC 能力，*rpc.Client 满足该接口。
type ChainClient interface {
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, signatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
}

// LocalOptions 控制本地签名行为。
type LocalOptions struct {
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
}

// LocalKeySigner 使用进程内私钥签名并通过 RPC 提交。
type LocalKeySigner struct {
	key    solana.PrivateKey
	chain  ChainClient
	opts   LocalOptions
	logger *zap.Logger
}

// NewLocalKeySigner 创建本地签名器。
func NewLocalKeySigner(key solana.PrivateKey, chain ChainClient, opts LocalOptions, logger *zap.Logger) (*LocalKeySigner, error) {
	if len(key) != 64 {
		return nil, fmt.Errorf("signer: 私钥长度非法")
	}
	if chain == nil {
		return nil, fmt.Errorf("signer: 缺少 RPC 客户端")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = 30 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	return &LocalKeySigner{key: key, chain: chain, opts: opts, logger: logger}, nil
}

// Kind 返回 local。
func (s *LocalKeySigner) Kind() Kind { return KindLocal }

// Address 返回签名账户地址。
func (s *LocalKeySigner) Address() solana.PublicKey { return s.key.PublicKey() }

// Ready 本地密钥始终可用。
func (s *LocalKeySigner) Ready(context.Context) (solana.PublicKey, error) {
	return s.Address(), nil
}

// SignAndSend 签名、提交并等待确认。
func (s *LocalKeySigner) SignAndSend(ctx context.Context, payload Payload) (solana.Signature, error) {
	tx, versioned, err := toTransaction(payload)
	if err != nil {
		return solana.Signature{}, err
	}

	// 自行构建的传统交易未携带区块哈希时补齐
	if !versioned && tx.Message.RecentBlockhash == (solana.Hash{}) {
		latest, err := s.chain.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
		if err != nil {
			return solana.Signature{}, fmt.Errorf("signer: 获取区块哈希失败: %w", err)
		}
		tx.Message.RecentBlockhash = latest.Value.Blockhash
	}

	address := s.Address()
	tx.Signatures = nil
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(address) {
			return &s.key
		}
		return nil
	}); err != nil {
		return solana.Signature{}, fmt.Errorf("signer: 签名失败: %w", err)
	}

	sig, err := s.chain.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		if maybeBroadcast(err) && len(tx.Signatures) > 0 {
			pending := tx.Signatures[0]
			s.logger.Warn("提交交易超时，交易可能已广播", zap.String("signature", pending.String()), zap.Error(err))
			return pending, fmt.Errorf("%w: 提交超时 %s: %v", ErrSettlementTimeout, pending.String(), err)
		}
		return solana.Signature{}, fmt.Errorf("signer: 提交交易失败: %w", err)
	}
	s.logger.Info("交易已提交", zap.String("signature", sig.String()))

	if err := s.awaitConfirmation(ctx, sig); err != nil {
		return sig, err
	}
	return sig, nil
}

// maybeBroadcast 判断提交失败时请求是否可能已到达节点。
func maybeBroadcast(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func (s *LocalKeySigner) awaitConfirmation(ctx context.Context, sig solana.Signature) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		res, err := s.chain.GetSignatureStatuses(ctx, false, sig)
		switch {
		case err != nil:
			s.logger.Debug("查询交易状态失败", zap.String("signature", sig.String()), zap.Error(err))
		case res != nil && len(res.Value) > 0 && res.Value[0] != nil:
			status := res.Value[0]
			if status.Err != nil {
				return fmt.Errorf("%w: %v", ErrTransactionFailed, status.Err)
			}
			if status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
				status.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				s.logger.Info("交易已确认", zap.String("signature", sig.String()))
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s", ErrSettlementTimeout, sig.String())
		case <-ticker.C:
		}
	}
}
