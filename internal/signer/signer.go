// Package signer 抽象交易签名与上链，支持本地密钥与委托托管两种后端。
package signer

import (
	"context"
	"errors"

	"github.com/gagliardetto/solana-go"
)

// Kind 标识签名后端。
type Kind string

const (
	KindLocal     Kind = "local"
	KindDelegated Kind = "delegated"
)

var (
	// ErrNotConnected 表示当前没有可用的签名后端。
	ErrNotConnected = errors.New("signer: 钱包未连接")
	// ErrSessionTimeout 表示委托会话在限定时间内未就绪。
	ErrSessionTimeout = errors.New("signer: 等待钱包会话超时")
	// ErrRejected 表示用户或托管方拒绝签名。
	ErrRejected = errors.New("signer: 签名被拒绝")
	// ErrSettlementTimeout 表示交易已提交但未在限定时间内确认，资金可能已转移。
	ErrSettlementTimeout = errors.New("signer: 交易确认超时")
	// ErrTransactionFailed 表示交易已上链但执行失败。
	ErrTransactionFailed = errors.New("signer: 链上执行失败")
)

// Signer 对交易签名并提交上链，返回交易签名。
type Signer interface {
	Kind() Kind
	Address() solana.PublicKey
	// Ready 等待后端可签名并返回付款地址，未就绪时返回 ErrNotConnected 或 ErrSessionTimeout。
	Ready(ctx context.Context) (solana.PublicKey, error)
	SignAndSend(ctx context.Context, payload Payload) (solana.Signature, error)
}
