package wallet

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

// ImportSecretKey 导入 64 字节私钥，支持 base58 字符串或 JSON 字节数组。
func ImportSecretKey(raw string) (Account, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Account{}, fmt.Errorf("wallet: 私钥不能为空")
	}

	var secret []byte
	if strings.HasPrefix(raw, "[") {
		var ints []int
		if err := json.Unmarshal([]byte(raw), &ints); err != nil {
			return Account{}, fmt.Errorf("wallet: 解析私钥数组失败: %w", err)
		}
		secret = make([]byte, len(ints))
		for i, v := range ints {
			if v < 0 || v > 255 {
				return Account{}, fmt.Errorf("wallet: 私钥数组第 %d 项越界", i)
			}
			secret[i] = byte(v)
		}
	} else {
		decoded, err := base58.Decode(raw)
		if err != nil {
			return Account{}, fmt.Errorf("wallet: 解析 base58 私钥失败: %w", err)
		}
		secret = decoded
	}

	if len(secret) != ed25519.PrivateKeySize {
		return Account{}, fmt.Errorf("wallet: 私钥长度应为 %d 字节，实际 %d", ed25519.PrivateKeySize, len(secret))
	}
	// 后 32 字节必须是前 32 字节种子对应的公钥
	expected := ed25519.NewKeyFromSeed(secret[:32])
	if !ed25519.PublicKey(secret[32:]).Equal(expected.Public()) {
		return Account{}, fmt.Errorf("wallet: 私钥与公钥不匹配")
	}
	return Account{PrivateKey: solana.PrivateKey(secret)}, nil
}

// EncodeSecretKey 将私钥编码为 base58。
func EncodeSecretKey(key solana.PrivateKey) string {
	return base58.Encode(key)
}
