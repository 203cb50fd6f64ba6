// Package wallet 负责助记词、密钥派生、加密存储与余额缓存。
package wallet

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

const hardenedOffset uint32 = 0x80000000

// SolanaPath 为 Solana 账户 0 的标准派生路径。
const SolanaPath = "m/44'/501'/0'/0'"

var ed25519Curve = []byte("ed25519 seed")

// ParsePath 解析 SLIP-0010 路径，ed25519 仅支持硬化索引。
func ParsePath(path string) ([]uint32, error) {
	parts := strings.Split(strings.TrimSpace(path), "/")
	if len(parts) == 0 || parts[0] != "m" {
		return nil, fmt.Errorf("wallet: 派生路径非法 %q", path)
	}
	indexes := make([]uint32, 0, len(parts)-1)
	for _, p := range parts[1:] {
		if !strings.HasSuffix(p, "'") {
			return nil, fmt.Errorf("wallet: ed25519 只支持硬化索引: %q", p)
		}
		n, err := strconv.ParseUint(strings.TrimSuffix(p, "'"), 10, 31)
		if err != nil {
			return nil, fmt.Errorf("wallet: 派生索引非法 %q: %w", p, err)
		}
		indexes = append(indexes, uint32(n)|hardenedOffset)
	}
	return indexes, nil
}

// DeriveKey 按 SLIP-0010 从种子派生 ed25519 私钥种子与链码。
func DeriveKey(seed []byte, indexes []uint32) (key, chainCode []byte) {
	mac := hmac.New(sha512.New, ed25519Curve)
	mac.Write(seed)
	sum := mac.Sum(nil)
	key, chainCode = sum[:32], sum[32:]

	for _, index := range indexes {
		index |= hardenedOffset
		data := make([]byte, 0, 1+32+4)
		data = append(data, 0x00)
		data = append(data, key...)
		data = binary.BigEndian.AppendUint32(data, index)

		mac = hmac.New(sha512.New, chainCode)
		mac.Write(data)
		sum = mac.Sum(nil)
		key, chainCode = sum[:32], sum[32:]
	}
	return key, chainCode
}

// DeriveKeypair 从种子按路径派生 ed25519 密钥对。
func DeriveKeypair(seed []byte, path string) (ed25519.PrivateKey, error) {
	indexes, err := ParsePath(path)
	if err != nil {
		return nil, err
	}
	key, _ := DeriveKey(seed, indexes)
	return ed25519.NewKeyFromSeed(key), nil
}
