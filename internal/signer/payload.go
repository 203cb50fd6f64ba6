package signer

import (
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// Payload 为待签名交易，取值限定为 LegacyTx、VersionedTx 与 RawTx。
type Payload interface {
	isPayload()
}

// LegacyTx 为传统格式交易。
type LegacyTx struct {
	Tx *solana.Transaction
}

// VersionedTx 为 v0 版本交易。
type VersionedTx struct {
	Tx *solana.Transaction
}

// RawTx 为已序列化的未签名交易。
type RawTx []byte

func (LegacyTx) isPayload() {}
func (VersionedTx) isPayload() {}
func (RawTx) isPayload() {}

// Decode 将序列化交易解码为带具体格式的 Payload。
func Decode(raw []byte) (Payload, error) {
	tx, err := decodeTransaction(raw)
	if err != nil {
		return nil, err
	}
	if tx.Message.IsVersioned() {
		return VersionedTx{Tx: tx}, nil
	}
	return LegacyTx{Tx: tx}, nil
}

// toTransaction 转为本地签名所需的交易对象。
func toTransaction(p Payload) (*solana.Transaction, bool, error) {
	switch v := p.(type) {
	case LegacyTx:
		if v.Tx == nil {
			return nil, false, fmt.Errorf("signer: 交易为空")
		}
		return v.Tx, false, nil
	case VersionedTx:
		if v.Tx == nil {
			return nil, false, fmt.Errorf("signer: 交易为空")
		}
		return v.Tx, true, nil
	case RawTx:
		tx, err := decodeTransaction(v)
		if err != nil {
			return nil, false, err
		}
		return tx, tx.Message.IsVersioned(), nil
	default:
		return nil, false, fmt.Errorf("signer: 不支持的交易类型 %T", p)
	}
}

// toBytes 转为委托签名所需的序列化交易。
func toBytes(p Payload) ([]byte, error) {
	switch v := p.(type) {
	case RawTx:
		if len(v) == 0 {
			return nil, fmt.Errorf("signer: 交易为空")
		}
		return v, nil
	case LegacyTx, VersionedTx:
		tx, _, err := toTransaction(p)
		if err != nil {
			return nil, err
		}
		raw, err := tx.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("signer: 序列化交易失败: %w", err)
		}
		return raw, nil
	default:
		return nil, fmt.Errorf("signer: 不支持的交易类型 %T", p)
	}
}

func decodeTransaction(raw []byte) (*solana.Transaction, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("signer: 交易为空")
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return nil, fmt.Errorf("signer: 解码交易失败: %w", err)
	}
	return tx, nil
}
